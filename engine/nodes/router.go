// Package nodes implements the five node executors (router, tool, llm,
// agent, child) the engine dispatches to by NodeType. Each type satisfies
// engine.NodeExecutor and is wired into a Runtime's Executors map by the
// embedding application (see cmd/orchestrator).
package nodes

import (
	"context"

	"github.com/lyzr/soe/engine"
)

// Router implements the router node (§4.3): it does no work of its own
// beyond evaluating its signal_emissions against the current context and
// emitting whatever matches. A router with no matching emission simply
// ends that branch of the cascade.
type Router struct{}

// Execute satisfies engine.NodeExecutor.
func (Router) Execute(ctx context.Context, rt *engine.Runtime, execID string, n *engine.NodeConfig, c *engine.Context) (engine.Signals, error) {
	vars := engine.BuildVars(c)
	return engine.EvaluateEmissions(ctx, rt, execID, n.ID, n.SignalEmissions, vars)
}
