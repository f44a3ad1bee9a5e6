package ratelimit

import "github.com/lyzr/soe/engine"

// InspectEngineWorkflow is the engine.Workflow-typed counterpart to
// InspectWorkflow, used by cmd/orchestrator to tier-classify a workflow by
// its agent-node count before admitting an orchestrate() call, instead of
// round-tripping the workflow through a generic map first.
func InspectEngineWorkflow(w *engine.Workflow) WorkflowProfile {
	profile := WorkflowProfile{Tier: TierSimple, TotalNodes: w.Nodes.Len()}
	for _, n := range w.Nodes.All() {
		if n.Type == engine.NodeTypeAgent {
			profile.AgentCount++
			profile.HasAgentNodes = true
		}
	}
	profile.Tier = determineTier(profile.AgentCount)
	return profile
}
