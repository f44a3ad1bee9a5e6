package nodes_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/soe/engine"
	"github.com/lyzr/soe/engine/nodes"
)

func TestChildNodeSpawnsOneChildWithoutFanOut(t *testing.T) {
	rt, mem := newNodeRuntime(t, &scriptedLLM{})
	rt.Tools = mapTools{}

	child := &engine.Workflow{
		ID:           "child_wf",
		EntrySignals: engine.Signals{"child_start"},
		Nodes: engine.NodesInOrder(
			&engine.NodeConfig{
				ID: "router_1", Type: engine.NodeTypeRouter,
				TriggerSignals: engine.Signals{"child_start"},
				SignalEmissions: []engine.SignalEmission{
					{Signals: engine.Signals{"child_done"}},
				},
			},
		),
	}
	require.NoError(t, mem.Workflows().Save(context.Background(), child))

	c := engine.NewContext()
	c.SetField("topic", "widgets")

	n := &engine.NodeConfig{
		ID: "child_1", Type: engine.NodeTypeChild,
		Config: map[string]interface{}{
			"workflow_id":       "child_wf",
			"input_fields":      []interface{}{"topic"},
			"signals_to_parent": []interface{}{"child_done"},
		},
	}

	signals, err := nodes.Child{}.Execute(context.Background(), rt, "parent1", n, c)
	require.NoError(t, err)
	assert.Contains(t, signals, "child_done")
}

func TestChildNodeFansOutOnePerListElement(t *testing.T) {
	rt, mem := newNodeRuntime(t, &scriptedLLM{})
	rt.Tools = mapTools{
		"record": func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
			return params["item"], nil
		},
	}

	child := &engine.Workflow{
		ID:           "child_wf2",
		EntrySignals: engine.Signals{"child_start"},
		Nodes: engine.NodesInOrder(
			&engine.NodeConfig{
				ID: "tool_1", Type: engine.NodeTypeTool,
				TriggerSignals: engine.Signals{"child_start"},
				Config: map[string]interface{}{
					"tool_name":    "record",
					"output_field": "processed",
					"parameters":   map[string]interface{}{"item": "{{ item }}"},
				},
				SignalEmissions: []engine.SignalEmission{{Signals: engine.Signals{"item_done"}}},
			},
		),
	}
	require.NoError(t, mem.Workflows().Save(context.Background(), child))

	c := engine.NewContext()
	c.SetField("items", []interface{}{"a", "b", "c"})

	n := &engine.NodeConfig{
		ID: "child_1", Type: engine.NodeTypeChild,
		Config: map[string]interface{}{
			"workflow_id":               "child_wf2",
			"fan_out_field":             "items",
			"child_input_field":         "item",
			"signals_to_parent":         []interface{}{"item_done"},
			"context_updates_to_parent": []interface{}{"processed"},
		},
	}

	signals, err := nodes.Child{}.Execute(context.Background(), rt, "parent1", n, c)
	require.NoError(t, err)

	count := 0
	for _, s := range signals {
		if s == "item_done" {
			count++
		}
	}
	assert.Equal(t, 3, count)

	processed, ok := c.GetField("processed")
	require.True(t, ok)
	assert.Equal(t, "c", processed)
}

func TestChildNodeMissingWorkflowIDIsOperationalError(t *testing.T) {
	rt, _ := newNodeRuntime(t, &scriptedLLM{})
	c := engine.NewContext()

	n := &engine.NodeConfig{ID: "child_1", Type: engine.NodeTypeChild, Config: map[string]interface{}{}}

	_, err := nodes.Child{}.Execute(context.Background(), rt, "parent1", n, c)
	assert.Error(t, err)
}
