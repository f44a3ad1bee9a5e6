package engine

import "context"

// ExecutionWorkflows returns the WorkflowBackend a single execution should
// read/write workflow definitions through (§3, §4.1): when rt.Registries is
// configured, soe_inject_workflow/soe_inject_node/soe_remove_* and anything
// else that mutates "the" workflow registry for executionID is scoped to
// that execution's own private copy. Get falls back to the shared
// rt.Workflows catalog for any id the private copy lacks, and List merges
// both, so an execution that injects nothing still resolves every
// pre-existing workflow normally; Delete removes an id from the private
// copy only, so a workflow held in the shared catalog stays visible
// through Get. A nil rt.Registries falls back to
// the single shared catalog everywhere, matching a backend (Redis,
// Postgres) that hasn't implemented per-execution isolation.
func ExecutionWorkflows(rt *Runtime, executionID string) WorkflowBackend {
	if rt.Registries == nil || executionID == "" {
		return rt.Workflows
	}
	return &executionScopedWorkflows{rt: rt, executionID: executionID}
}

type executionScopedWorkflows struct {
	rt          *Runtime
	executionID string
}

func (e *executionScopedWorkflows) Get(ctx context.Context, workflowID string) (*Workflow, error) {
	reg, err := e.rt.Registries.GetRegistry(ctx, e.executionID)
	if err != nil {
		return nil, err
	}
	if w, ok := reg[workflowID]; ok {
		return w, nil
	}
	return e.rt.Workflows.Get(ctx, workflowID)
}

func (e *executionScopedWorkflows) Save(ctx context.Context, w *Workflow) error {
	reg, err := e.rt.Registries.GetRegistry(ctx, e.executionID)
	if err != nil {
		return err
	}
	reg[w.ID] = w
	return e.rt.Registries.SaveRegistry(ctx, e.executionID, reg)
}

func (e *executionScopedWorkflows) Delete(ctx context.Context, workflowID string) error {
	reg, err := e.rt.Registries.GetRegistry(ctx, e.executionID)
	if err != nil {
		return err
	}
	delete(reg, workflowID)
	return e.rt.Registries.SaveRegistry(ctx, e.executionID, reg)
}

func (e *executionScopedWorkflows) List(ctx context.Context) ([]string, error) {
	reg, err := e.rt.Registries.GetRegistry(ctx, e.executionID)
	if err != nil {
		return nil, err
	}
	shared, err := e.rt.Workflows.List(ctx)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(reg)+len(shared))
	out := make([]string, 0, len(reg)+len(shared))
	for id := range reg {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range shared {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// SeedRegistry copies every workflow from src into executionID's private
// registry, used both by orchestrate()'s inherit_config_from_id/config
// handling (§4.1) and by a child node spawning a sub-execution that should
// start from its parent's current registry view rather than the bare
// shared catalog.
func SeedRegistry(ctx context.Context, rt *Runtime, executionID string, src map[string]*Workflow) error {
	if rt.Registries == nil {
		return nil
	}
	cp := make(map[string]*Workflow, len(src))
	for id, w := range src {
		cp[id] = CloneWorkflow(w)
	}
	return rt.Registries.SaveRegistry(ctx, executionID, cp)
}
