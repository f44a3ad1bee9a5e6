package engine

import (
	"context"
	"errors"
	"fmt"
)

// Reserved context field names the engine itself writes and reads.
const (
	FieldOperational = "__operational__"
	FieldParent      = "__parent__"
	FieldWorkflowID  = "__workflow_id__"
	FieldIdentityID  = "__identity_id__"
)

// Broadcaster implements broadcast_signals (§4.2): synchronously,
// single-threadedly and reentrantly dispatching a signals list to every
// node in a workflow whose trigger_signals intersect it, in workflow
// declaration order, recursing into whatever signals each triggered node emits
// next. There is no parallel node execution and no queueing across
// process boundaries — this call returns only once the whole reachable
// cascade from the initial signals has settled.
type Broadcaster struct {
	rt *Runtime
}

// NewBroadcaster builds a Broadcaster over the given Runtime.
func NewBroadcaster(rt *Runtime) *Broadcaster {
	return &Broadcaster{rt: rt}
}

// BroadcastSignals dispatches signals to workflow w's matching nodes,
// mutating and persisting execID's context as it goes.
func (b *Broadcaster) BroadcastSignals(ctx context.Context, w *Workflow, execID string, signals Signals) error {
	if len(signals) == 0 {
		return nil
	}

	c, err := b.rt.Contexts.Get(ctx, execID)
	if err != nil {
		return fmt.Errorf("load context for %s: %w", execID, err)
	}
	op := c.Operational()
	op.RecordSignals(signals)
	b.rt.emitTelemetry(ctx, TelemetryEvent{Type: EventSignalsBroadcast, ExecutionID: execID, Attrs: map[string]interface{}{"signals": []string(signals)}})

	matched := matchingNodes(w, signals)
	for _, n := range matched {
		next, execErr := b.runNode(ctx, w, execID, n, c)
		var verr *ValidationError
		var oerr *OperationalError
		if errors.As(execErr, &verr) || errors.As(execErr, &oerr) {
			return execErr
		}
		if execErr != nil {
			// Node-boundary runtime failures are recorded and do not abort
			// the broadcast cascade (§7): the node's own executor has
			// already decided what (if anything) to emit on failure via
			// `next`.
			op.RecordError(fmt.Sprintf("node %s: %v", n.ID, execErr))
			b.rt.emitTelemetry(ctx, TelemetryEvent{Type: EventNodeError, ExecutionID: execID, NodeID: n.ID, Attrs: map[string]interface{}{"error": execErr.Error()}})
		}
		if err := b.rt.Contexts.Save(ctx, execID, c); err != nil {
			return fmt.Errorf("save context after node %s: %w", n.ID, err)
		}
		if len(next) > 0 {
			if err := b.BroadcastSignals(ctx, w, execID, next); err != nil {
				return err
			}
			// Re-fetch in case the recursive call's backend round-tripped
			// through a non-identity (de)serialization (e.g. Redis JSON).
			c, err = b.rt.Contexts.Get(ctx, execID)
			if err != nil {
				return fmt.Errorf("reload context for %s: %w", execID, err)
			}
		}
	}

	return nil
}

// runNode validates, executes, and records bookkeeping for a single node.
// A ValidationError/OperationalError here is fatal to the whole broadcast
// (§7); any other error is a node-boundary failure handled by the return
// contract above.
func (b *Broadcaster) runNode(ctx context.Context, w *Workflow, execID string, n *NodeConfig, c *Context) (Signals, error) {
	if err := ValidateOperational(c, n); err != nil {
		return nil, err
	}

	executor, ok := b.rt.Executors[n.Type]
	if !ok {
		return nil, NewOperationalError(n.ID, fmt.Sprintf("no executor registered for node type %q", n.Type), nil)
	}

	c.Operational().RecordNodeExecution(n.ID)

	signals, err := executor.Execute(ctx, b.rt, execID, n, c)

	b.rt.emitTelemetry(ctx, TelemetryEvent{Type: EventNodeExecution, ExecutionID: execID, NodeID: n.ID, Attrs: map[string]interface{}{"node_name": n.ID, "node_type": string(n.Type)}})
	if err != nil {
		return signals, err
	}
	return signals, nil
}

// matchingNodes returns the nodes whose trigger_signals intersect signals,
// in the workflow's own declaration order — broadcast fan-out order is
// the order nodes were declared in the workflow config, not alphabetical
// or any other derived ordering (§4.2 step 4, §5 Ordering).
func matchingNodes(w *Workflow, signals Signals) []*NodeConfig {
	want := make(map[string]bool, len(signals))
	for _, s := range signals {
		want[s] = true
	}

	out := make([]*NodeConfig, 0, w.Nodes.Len())
	for _, n := range w.Nodes.All() {
		for _, trig := range n.TriggerSignals {
			if want[trig] {
				out = append(out, n)
				break
			}
		}
	}
	return out
}
