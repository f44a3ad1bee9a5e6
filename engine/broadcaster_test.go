package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/soe/common/logger"
	"github.com/lyzr/soe/engine"
	"github.com/lyzr/soe/engine/backends/memory"
	"github.com/lyzr/soe/engine/expr"
	"github.com/lyzr/soe/engine/nodes"
)

type fakeTools struct {
	funcs map[string]engine.ToolFunc
}

func (f *fakeTools) Lookup(name string) (engine.ToolFunc, bool) {
	fn, ok := f.funcs[name]
	return fn, ok
}

func newTestRuntime(t *testing.T, tools map[string]engine.ToolFunc) (*engine.Runtime, *memory.Store) {
	t.Helper()
	mem := memory.New()
	rt := &engine.Runtime{
		Contexts:   mem,
		Workflows:  mem.Workflows(),
		History:    mem.History(),
		Schemas:    mem.Schemas(),
		Identities: mem.Identities(),
		Telemetry:  mem.Telemetry(),
		Tools:      &fakeTools{funcs: tools},
		Logger:     logger.New("error", "text"),
		Expr:       expr.NewEngine(),
		Executors:  nodes.All(),
		MaxRetries: 2,
	}
	return rt, mem
}

// TestBroadcastRouterToToolChain exercises a two-node cascade: a router
// always emits "go", a tool triggered by "go" runs and emits "done" only
// when its output is truthy.
func TestBroadcastRouterToToolChain(t *testing.T) {
	called := 0
	tools := map[string]engine.ToolFunc{
		"echo": func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
			called++
			return params["value"], nil
		},
	}
	rt, mem := newTestRuntime(t, tools)

	w := &engine.Workflow{
		ID:           "wf1",
		EntrySignals: engine.Signals{"start"},
		Nodes: engine.NodesInOrder(
			&engine.NodeConfig{
				ID: "router_1", Type: engine.NodeTypeRouter,
				TriggerSignals:  engine.Signals{"start"},
				SignalEmissions: []engine.SignalEmission{{Signals: engine.Signals{"go"}}},
			},
			&engine.NodeConfig{
				ID: "tool_1", Type: engine.NodeTypeTool,
				TriggerSignals: engine.Signals{"go"},
				Config: map[string]interface{}{
					"tool_name":    "echo",
					"output_field": "echoed",
					"parameters":   map[string]interface{}{"value": "hello"},
				},
				SignalEmissions: []engine.SignalEmission{
					{Condition: "{{ output }}", Signals: engine.Signals{"done"}},
				},
			},
		),
	}
	require.NoError(t, mem.Workflows().Save(context.Background(), w))

	orch := engine.NewOrchestrator(rt)
	execID, err := orch.Orchestrate(context.Background(), engine.OrchestrateOptions{
		WorkflowID:     "wf1",
		InitialSignals: engine.Signals{"start"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, called)

	c, err := mem.Get(context.Background(), execID)
	require.NoError(t, err)

	echoed, ok := c.GetField("echoed")
	require.True(t, ok)
	assert.Equal(t, "hello", echoed)

	op := c.Operational()
	assert.Equal(t, 1, op.NodeExecutions["router_1"])
	assert.Equal(t, 1, op.NodeExecutions["tool_1"])
	assert.Contains(t, op.Signals, "done")
	assert.Equal(t, 1, op.ToolCalls)
}

// TestBroadcastDeterministicNodeOrder verifies that when multiple nodes
// trigger off the same signal, they run in workflow declaration order every
// time, regardless of node id lexical order.
func TestBroadcastDeterministicNodeOrder(t *testing.T) {
	var order []string
	tools := map[string]engine.ToolFunc{
		"record": func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
			order = append(order, params["id"].(string))
			return "ok", nil
		},
	}
	rt, mem := newTestRuntime(t, tools)

	mkNode := func(id string) *engine.NodeConfig {
		return &engine.NodeConfig{
			ID: id, Type: engine.NodeTypeTool,
			TriggerSignals: engine.Signals{"start"},
			Config: map[string]interface{}{
				"tool_name":  "record",
				"parameters": map[string]interface{}{"id": id},
			},
		}
	}

	w := &engine.Workflow{
		ID:           "wf2",
		EntrySignals: engine.Signals{"start"},
		Nodes: engine.NodesInOrder(
			mkNode("z_node"),
			mkNode("a_node"),
			mkNode("m_node"),
		),
	}
	require.NoError(t, mem.Workflows().Save(context.Background(), w))

	orch := engine.NewOrchestrator(rt)
	for i := 0; i < 3; i++ {
		order = nil
		_, err := orch.Orchestrate(context.Background(), engine.OrchestrateOptions{
			WorkflowID:     "wf2",
			InitialSignals: engine.Signals{"start"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"z_node", "a_node", "m_node"}, order)
	}
}

// TestBroadcastSwallowsConditionErrorAsNonMatch covers the preserved open
// question: a bad condition expression is treated as a non-match, not a
// node failure, and the cascade continues.
func TestBroadcastSwallowsConditionErrorAsNonMatch(t *testing.T) {
	rt, mem := newTestRuntime(t, nil)

	w := &engine.Workflow{
		ID:           "wf3",
		EntrySignals: engine.Signals{"start"},
		Nodes: engine.NodesInOrder(
			&engine.NodeConfig{
				ID: "router_1", Type: engine.NodeTypeRouter,
				TriggerSignals: engine.Signals{"start"},
				SignalEmissions: []engine.SignalEmission{
					{Condition: "{{ totally.broken.path | undefined_filter }}", Signals: engine.Signals{"should_not_fire"}},
					{Signals: engine.Signals{"fallback"}},
				},
			},
		),
	}
	require.NoError(t, mem.Workflows().Save(context.Background(), w))

	orch := engine.NewOrchestrator(rt)
	execID, err := orch.Orchestrate(context.Background(), engine.OrchestrateOptions{
		WorkflowID:     "wf3",
		InitialSignals: engine.Signals{"start"},
	})
	require.NoError(t, err)

	c, err := mem.Get(context.Background(), execID)
	require.NoError(t, err)
	op := c.Operational()
	assert.NotContains(t, op.Signals, "should_not_fire")
	assert.Contains(t, op.Signals, "fallback")
}
