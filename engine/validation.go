package engine

import (
	"fmt"

	"github.com/lyzr/soe/engine/expr"
)

// ValidateWorkflow performs the structural, once-at-orchestrator-start
// validation (§4.7): every node references a known type, every signal
// emission's condition names a known dialect (Jinja conditions are also
// test-rendered against an empty context; CEL conditions are not compiled
// until they are evaluated), and the workflow's entry signals actually
// reach at least one node. This engine's
// reentrant, signal-broadcast model has no acyclic-graph requirement — a
// node re-triggering itself (or an ancestor) via signals is a supported
// pattern, not a cycle to reject.
func ValidateWorkflow(w *Workflow, exprEngine *expr.Engine) error {
	if w.ID == "" {
		return NewValidationError("workflow id is required", nil)
	}
	if w.Nodes.Len() == 0 {
		return NewValidationError(fmt.Sprintf("workflow %q has no nodes", w.ID), nil)
	}
	if len(w.EntrySignals) == 0 {
		return NewValidationError(fmt.Sprintf("workflow %q has no entry_signals", w.ID), nil)
	}

	triggered := make(map[string]bool)
	for _, sig := range w.EntrySignals {
		triggered[sig] = false
	}

	for _, id := range w.Nodes.IDs() {
		n, _ := w.Nodes.Get(id)
		if n.ID != id {
			return NewValidationError(fmt.Sprintf("node map key %q does not match node id %q", id, n.ID), nil)
		}
		switch n.Type {
		case NodeTypeRouter, NodeTypeTool, NodeTypeLLM, NodeTypeAgent, NodeTypeChild:
		default:
			return NewValidationError(fmt.Sprintf("node %q has unknown type %q", id, n.Type), nil)
		}
		if len(n.TriggerSignals) == 0 {
			return NewValidationError(fmt.Sprintf("node %q has no trigger_signals", id), nil)
		}
		for _, sig := range n.TriggerSignals {
			if _, ok := triggered[sig]; ok {
				triggered[sig] = true
			}
		}
		for i, em := range n.SignalEmissions {
			if em.Condition == "" {
				continue
			}
			evaluator, err := exprEngine.For(string(em.Language()))
			if err != nil {
				return NewValidationError(fmt.Sprintf("node %q emission %d: %v", id, i, err), nil)
			}
			if _, ok := evaluator.(*expr.Evaluator); ok {
				if _, err := evaluator.(*expr.Evaluator).Render(em.Condition, map[string]interface{}{}); err != nil {
					return NewValidationError(fmt.Sprintf("node %q emission %d: condition does not compile: %v", id, i, err), nil)
				}
			}
			if len(em.Signals) == 0 {
				return NewValidationError(fmt.Sprintf("node %q emission %d emits no signals", id, i), nil)
			}
		}
		if err := validateNodeTypeConfig(n); err != nil {
			return err
		}
	}

	for sig, hit := range triggered {
		if !hit {
			return NewValidationError(fmt.Sprintf("workflow %q entry signal %q triggers no node", w.ID, sig), nil)
		}
	}

	return nil
}

// validateNodeTypeConfig dispatches to the per-node-type structural rules
// spec.md §4.3-§4.11 describe (required config keys for each kind).
func validateNodeTypeConfig(n *NodeConfig) error {
	switch n.Type {
	case NodeTypeTool:
		if _, ok := n.Config["tool_name"]; !ok {
			return NewValidationError(fmt.Sprintf("tool node %q missing config.tool_name", n.ID), nil)
		}
	case NodeTypeLLM:
		if _, ok := n.Config["prompt"]; !ok {
			return NewValidationError(fmt.Sprintf("llm node %q missing config.prompt", n.ID), nil)
		}
	case NodeTypeAgent:
		if _, ok := n.Config["system_prompt"]; !ok {
			return NewValidationError(fmt.Sprintf("agent node %q missing config.system_prompt", n.ID), nil)
		}
	case NodeTypeChild:
		if _, ok := n.Config["workflow_id"]; !ok {
			return NewValidationError(fmt.Sprintf("child node %q missing config.workflow_id", n.ID), nil)
		}
	case NodeTypeRouter:
		// Routers need no config beyond their signal emissions.
	}
	return nil
}

// ValidateOperational performs the cheap, per-execution pre-check done
// before every node execution (§4.7): the context must carry a readable
// __operational__ block, and node-specific required input fields (where
// declared via config.required_fields) must already be set.
func ValidateOperational(c *Context, n *NodeConfig) error {
	if c == nil {
		return NewOperationalError(n.ID, "nil context", nil)
	}
	if _, ok := c.Fields["__operational__"]; !ok {
		return NewOperationalError(n.ID, "context missing __operational__ block", nil)
	}

	required, _ := n.Config["required_fields"].([]interface{})
	for _, rf := range required {
		name, ok := rf.(string)
		if !ok {
			continue
		}
		if _, present := c.GetField(name); !present {
			return NewOperationalError(n.ID, fmt.Sprintf("required field %q not set in context", name), nil)
		}
	}
	return nil
}
