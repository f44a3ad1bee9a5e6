package engine_test

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/lyzr/soe/engine"
)

// TestPropertyHistoryAccumulates is P1: after N successful writes to a
// public field k, len(context[k]) == N, GetField returns the last value,
// and GetAccumulated returns every value in write order.
func TestPropertyHistoryAccumulates(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("SetField N times yields history of length N ending in the last value", prop.ForAll(
		func(values []string) bool {
			c := engine.NewContext()
			for _, v := range values {
				c.SetField("k", v)
			}

			acc := c.GetAccumulated("k")
			if len(values) == 0 {
				return len(acc) == 0
			}
			if len(acc) != len(values) {
				return false
			}
			for i, v := range values {
				if acc[i] != v {
					return false
				}
			}
			current, ok := c.GetField("k")
			return ok && current == values[len(values)-1]
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

// TestPropertyNodeExecutionCountMatchesActualRuns is P3: for every node
// name n, __operational__.node_executions[n] equals the number of times
// that node actually ran.
func TestPropertyNodeExecutionCountMatchesActualRuns(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("a tool node triggered N times records N executions", prop.ForAll(
		func(repeats int) bool {
			calls := 0
			tools := map[string]engine.ToolFunc{"noop": func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
				calls++
				return "ok", nil
			}}
			rt, mem := newTestRuntime(t, tools)

			w := &engine.Workflow{
				ID:           "wf_p3",
				EntrySignals: engine.Signals{"start"},
				Nodes: engine.NodesInOrder(
					&engine.NodeConfig{
						ID: "tool_1", Type: engine.NodeTypeTool,
						TriggerSignals: engine.Signals{"start"},
						Config:         map[string]interface{}{"tool_name": "noop"},
					},
				),
			}
			if err := mem.Workflows().Save(context.Background(), w); err != nil {
				return false
			}
			if err := mem.Save(context.Background(), "exec_p3", engine.NewContext()); err != nil {
				return false
			}

			b := engine.NewBroadcaster(rt)
			for i := 0; i < repeats; i++ {
				if err := b.BroadcastSignals(context.Background(), w, "exec_p3", engine.Signals{"start"}); err != nil {
					return false
				}
			}

			c, err := mem.Get(context.Background(), "exec_p3")
			if err != nil {
				return false
			}
			op := c.Operational()
			return op.NodeExecutions["tool_1"] == repeats && calls == repeats
		},
		gen.IntRange(0, 8),
	))

	properties.TestingRun(t)
}

// TestPropertyUnconditionalEmissionHasNoHiddenDedup is P5: a router with an
// unconditional emission repeatedly triggered produces exactly one emission
// per activation, never fewer.
func TestPropertyUnconditionalEmissionHasNoHiddenDedup(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("N activations of an unconditional router emission produce N signals", prop.ForAll(
		func(repeats int) bool {
			rt, mem := newTestRuntime(t, map[string]engine.ToolFunc{})

			w := &engine.Workflow{
				ID:           "wf_p5",
				EntrySignals: engine.Signals{"start"},
				Nodes: engine.NodesInOrder(
					&engine.NodeConfig{
						ID: "router_1", Type: engine.NodeTypeRouter,
						TriggerSignals:  engine.Signals{"start"},
						SignalEmissions: []engine.SignalEmission{{Signals: engine.Signals{"go"}}},
					},
				),
			}
			if err := mem.Workflows().Save(context.Background(), w); err != nil {
				return false
			}
			if err := mem.Save(context.Background(), "exec_p5", engine.NewContext()); err != nil {
				return false
			}

			b := engine.NewBroadcaster(rt)
			for i := 0; i < repeats; i++ {
				if err := b.BroadcastSignals(context.Background(), w, "exec_p5", engine.Signals{"start"}); err != nil {
					return false
				}
			}

			c, err := mem.Get(context.Background(), "exec_p5")
			if err != nil {
				return false
			}
			op := c.Operational()
			count := 0
			for _, s := range op.Signals {
				if s == "go" {
					count++
				}
			}
			return count == repeats
		},
		gen.IntRange(0, 6),
	))

	properties.TestingRun(t)
}
