package nodes

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lyzr/soe/engine"
)

// Child implements the child node (§4.11): it spawns one or more
// sub-orchestrations of another workflow, copying input_fields by their
// current value (not history) into each child's fresh context along with
// an injected __parent__ link, runs each child to completion, and
// recursively syncs the signals and context fields the workflow author
// asked for back up to the parent execution via the same broadcaster.
//
// fan_out_field names a parent field whose current value must be a list;
// one child is spawned per element, with child_input_field naming the
// context key that element is bound to in the spawned child. Without
// fan_out_field, exactly one child is spawned.
type Child struct{}

// Execute satisfies engine.NodeExecutor.
func (Child) Execute(ctx context.Context, rt *engine.Runtime, execID string, n *engine.NodeConfig, c *engine.Context) (engine.Signals, error) {
	workflowID, _ := n.Config["workflow_id"].(string)
	if workflowID == "" {
		return nil, engine.NewOperationalError(n.ID, "child node missing config.workflow_id", nil)
	}
	parentWorkflows := engine.ExecutionWorkflows(rt, execID)
	childWorkflow, err := parentWorkflows.Get(ctx, workflowID)
	if err != nil {
		return nil, engine.NewOperationalError(n.ID, fmt.Sprintf("child workflow %q not found", workflowID), err)
	}

	inputFields := toStringSlice(n.Config["input_fields"])
	fanOutField, _ := n.Config["fan_out_field"].(string)
	childInputField, _ := n.Config["child_input_field"].(string)
	signalsToParent := toStringSlice(n.Config["signals_to_parent"])
	contextUpdatesToParent := toStringSlice(n.Config["context_updates_to_parent"])

	var fanOutItems []interface{}
	if fanOutField != "" {
		fanOutItems = c.GetAccumulated(fanOutField)
	} else {
		fanOutItems = []interface{}{nil}
	}

	broadcaster := engine.NewBroadcaster(rt)
	var aggregatedSignals engine.Signals

	for i, item := range fanOutItems {
		childExecID := uuid.NewString()
		childCtx := engine.NewContext()
		childCtx.Operational().MainExecutionID = childExecID
		childCtx.SetField(engine.FieldWorkflowID, workflowID)

		for _, f := range inputFields {
			if v, ok := c.GetField(f); ok {
				childCtx.SetField(f, v)
			}
		}
		if fanOutField != "" && childInputField != "" {
			childCtx.SetField(childInputField, item)
		}

		idx := i
		childCtx.SetField(engine.FieldParent, &engine.ParentLink{
			ExecutionID: execID,
			NodeID:      n.ID,
			FanOutIndex: &idx,
		})

		if err := rt.Contexts.Save(ctx, childExecID, childCtx); err != nil {
			return nil, fmt.Errorf("save child context: %w", err)
		}

		if rt.Registries != nil {
			// A spawned child starts from a deep copy of the parent's
			// current registry view (own injected/removed workflows and
			// nodes included), so its own soe_inject_workflow/soe_inject_node
			// mutations never leak back to the parent or to sibling
			// fan-out children.
			parentReg, err := rt.Registries.GetRegistry(ctx, execID)
			if err != nil {
				return nil, fmt.Errorf("load parent registry: %w", err)
			}
			if err := engine.SeedRegistry(ctx, rt, childExecID, parentReg); err != nil {
				return nil, fmt.Errorf("seed child registry: %w", err)
			}
		}

		if err := broadcaster.BroadcastSignals(ctx, childWorkflow, childExecID, childWorkflow.EntrySignals); err != nil {
			c.Operational().RecordError(fmt.Sprintf("child %s (fan-out %d): %v", workflowID, i, err))
			continue
		}

		finalChildCtx, err := rt.Contexts.Get(ctx, childExecID)
		if err != nil {
			return nil, fmt.Errorf("reload child context: %w", err)
		}

		for _, f := range contextUpdatesToParent {
			// Push the child's full field history, not just its current
			// value: a field written more than once inside the child (a
			// retry loop, a multi-turn tool chain) must not collapse into
			// a single parent entry.
			if hist, ok := finalChildCtx.Fields[f]; ok {
				for _, v := range hist {
					c.SetField(f, v)
				}
			}
		}

		childOp := finalChildCtx.Operational()
		for _, want := range signalsToParent {
			for _, emitted := range childOp.Signals {
				if emitted == want {
					aggregatedSignals = append(aggregatedSignals, emitted)
				}
			}
		}
	}

	vars := engine.BuildVars(c)
	matched, err := engine.EvaluateEmissions(ctx, rt, execID, n.ID, n.SignalEmissions, vars)
	if err != nil {
		return nil, err
	}
	return append(matched, aggregatedSignals...), nil
}
