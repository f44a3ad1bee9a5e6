// Package memory implements every engine backend interface with plain
// in-process maps, grounded on the teacher's MemoryCache/MemoryQueue
// pattern (common/cache, common/queue): a mutex-guarded map is sufficient
// because the engine itself is single-threaded and reentrant per
// execution — this backend only needs to protect concurrent top-level
// orchestrate() calls against each other, not against itself.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lyzr/soe/engine"
)

// Store bundles every backend the engine depends on behind in-memory maps.
// It is the default wiring for a single-process embedding of this engine
// and the backend used by the engine's own tests.
type Store struct {
	mu          sync.RWMutex
	contexts    map[string]*engine.Context
	workflows   map[string]*engine.Workflow
	identities  map[string]*engine.Identity
	schemas     map[string]map[string]interface{}
	history     map[string][]engine.ConversationTurn
	telemetry   []engine.TelemetryEvent

	registries       map[string]map[string]*engine.Workflow
	currentWorkflow  map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		contexts:        make(map[string]*engine.Context),
		workflows:       make(map[string]*engine.Workflow),
		identities:      make(map[string]*engine.Identity),
		schemas:         make(map[string]map[string]interface{}),
		history:         make(map[string][]engine.ConversationTurn),
		registries:      make(map[string]map[string]*engine.Workflow),
		currentWorkflow: make(map[string]string),
	}
}

// Get returns a copy of an execution's context: every field's history
// slice is copied, so SetField on the result never changes the stored
// copy. The values inside the histories (such as the *Operational block)
// are not copied and stay shared with the stored context.
func (s *Store) Get(ctx context.Context, executionID string) (*engine.Context, error) {
	s.mu.RLock()
	c, ok := s.contexts[executionID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("context %q not found", executionID)
	}
	return cloneContext(c), nil
}

// Save stores a copy of c under executionID, copied the same way as in Get.
func (s *Store) Save(ctx context.Context, executionID string, c *engine.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[executionID] = cloneContext(c)
	return nil
}

// Delete removes an execution's context.
func (s *Store) Delete(ctx context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, executionID)
	return nil
}

// ListContexts returns every execution id with a stored context. Satisfies
// builtintools' optional contextLister interface for soe_list_contexts.
func (s *Store) ListContexts(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.contexts))
	for id := range s.contexts {
		out = append(out, id)
	}
	return out, nil
}

func cloneContext(c *engine.Context) *engine.Context {
	out := &engine.Context{Fields: make(map[string]engine.FieldHistory, len(c.Fields))}
	for k, v := range c.Fields {
		cp := make(engine.FieldHistory, len(v))
		copy(cp, v)
		out.Fields[k] = cp
	}
	return out
}

// GetWorkflow returns a copy of a stored workflow; engine.WorkflowBackend
// itself is implemented by the WorkflowStore view below.

func (s *Store) GetWorkflow(ctx context.Context, workflowID string) (*engine.Workflow, error) {
	return s.Get2(ctx, workflowID)
}

// Get2 exists only so Store can implement both ContextBackend.Get and
// WorkflowBackend.Get without a name clash; WorkflowBackend is satisfied
// via the *WorkflowStore wrapper below instead.
func (s *Store) Get2(ctx context.Context, workflowID string) (*engine.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("workflow %q not found", workflowID)
	}
	return engine.CloneWorkflow(w), nil
}

// Workflows returns a WorkflowBackend view over this Store.
func (s *Store) Workflows() *WorkflowStore { return &WorkflowStore{s: s} }

// WorkflowStore adapts Store to engine.WorkflowBackend.
type WorkflowStore struct{ s *Store }

func (w *WorkflowStore) Get(ctx context.Context, workflowID string) (*engine.Workflow, error) {
	return w.s.Get2(ctx, workflowID)
}

func (w *WorkflowStore) Save(ctx context.Context, wf *engine.Workflow) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.s.workflows[wf.ID] = engine.CloneWorkflow(wf)
	return nil
}

func (w *WorkflowStore) Delete(ctx context.Context, workflowID string) error {
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	delete(w.s.workflows, workflowID)
	return nil
}

func (w *WorkflowStore) List(ctx context.Context) ([]string, error) {
	w.s.mu.RLock()
	defer w.s.mu.RUnlock()
	out := make([]string, 0, len(w.s.workflows))
	for id := range w.s.workflows {
		out = append(out, id)
	}
	return out, nil
}

// Registries returns a WorkflowRegistryBackend view over this Store,
// giving each execution id its own workflow-definitions map (§3): an
// orchestrate() call seeds one from explicit config or by inheritance, and
// every soe_inject_workflow/soe_inject_node/soe_remove_* mutation made
// during that execution (or a child spawned from it, via its own copy)
// writes only into that copy — never into another execution's view of the
// same registry, and never into the shared rt.Workflows catalog.
func (s *Store) Registries() *WorkflowRegistryStore { return &WorkflowRegistryStore{s: s} }

// WorkflowRegistryStore adapts Store to engine.WorkflowRegistryBackend.
type WorkflowRegistryStore struct{ s *Store }

func (r *WorkflowRegistryStore) GetRegistry(ctx context.Context, executionID string) (map[string]*engine.Workflow, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	reg, ok := r.s.registries[executionID]
	if !ok {
		return map[string]*engine.Workflow{}, nil
	}
	out := make(map[string]*engine.Workflow, len(reg))
	for id, w := range reg {
		out[id] = engine.CloneWorkflow(w)
	}
	return out, nil
}

func (r *WorkflowRegistryStore) SaveRegistry(ctx context.Context, executionID string, reg map[string]*engine.Workflow) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := make(map[string]*engine.Workflow, len(reg))
	for id, w := range reg {
		cp[id] = engine.CloneWorkflow(w)
	}
	r.s.registries[executionID] = cp
	return nil
}

func (r *WorkflowRegistryStore) GetCurrentWorkflowName(ctx context.Context, executionID string) (string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.currentWorkflow[executionID], nil
}

func (r *WorkflowRegistryStore) SaveCurrentWorkflowName(ctx context.Context, executionID, name string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.currentWorkflow[executionID] = name
	return nil
}

// Identities returns an IdentityBackend view over this Store.
func (s *Store) Identities() *IdentityStore { return &IdentityStore{s: s} }

// IdentityStore adapts Store to engine.IdentityBackend.
type IdentityStore struct{ s *Store }

func (i *IdentityStore) Get(ctx context.Context, identityID string) (*engine.Identity, error) {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	id, ok := i.s.identities[identityID]
	if !ok {
		return nil, fmt.Errorf("identity %q not found", identityID)
	}
	return id, nil
}

func (i *IdentityStore) Save(ctx context.Context, id *engine.Identity) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	i.s.identities[id.ID] = id
	return nil
}

func (i *IdentityStore) Delete(ctx context.Context, identityID string) error {
	i.s.mu.Lock()
	defer i.s.mu.Unlock()
	delete(i.s.identities, identityID)
	return nil
}

func (i *IdentityStore) List(ctx context.Context) ([]string, error) {
	i.s.mu.RLock()
	defer i.s.mu.RUnlock()
	out := make([]string, 0, len(i.s.identities))
	for id := range i.s.identities {
		out = append(out, id)
	}
	return out, nil
}

// Schemas returns a ContextSchemaBackend view over this Store.
func (s *Store) Schemas() *SchemaStore { return &SchemaStore{s: s} }

// SchemaStore adapts Store to engine.ContextSchemaBackend.
type SchemaStore struct{ s *Store }

func (sc *SchemaStore) Get(ctx context.Context, workflowID string) (map[string]interface{}, error) {
	sc.s.mu.RLock()
	defer sc.s.mu.RUnlock()
	schema, ok := sc.s.schemas[workflowID]
	if !ok {
		return nil, fmt.Errorf("schema for workflow %q not found", workflowID)
	}
	return schema, nil
}

func (sc *SchemaStore) Save(ctx context.Context, workflowID string, schema map[string]interface{}) error {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	sc.s.schemas[workflowID] = schema
	return nil
}

func (sc *SchemaStore) RemoveField(ctx context.Context, workflowID, field string) error {
	sc.s.mu.Lock()
	defer sc.s.mu.Unlock()
	schema, ok := sc.s.schemas[workflowID]
	if !ok {
		return fmt.Errorf("schema for workflow %q not found", workflowID)
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		delete(props, field)
	}
	return nil
}

// History returns a ConversationHistoryBackend view over this Store.
func (s *Store) History() *HistoryStore { return &HistoryStore{s: s} }

// HistoryStore adapts Store to engine.ConversationHistoryBackend.
type HistoryStore struct{ s *Store }

func (h *HistoryStore) Append(ctx context.Context, turn engine.ConversationTurn) error {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	h.s.history[turn.ExecutionID] = append(h.s.history[turn.ExecutionID], turn)
	return nil
}

func (h *HistoryStore) List(ctx context.Context, executionID string) ([]engine.ConversationTurn, error) {
	h.s.mu.RLock()
	defer h.s.mu.RUnlock()
	return append([]engine.ConversationTurn(nil), h.s.history[executionID]...), nil
}

// Telemetry returns a TelemetryBackend view over this Store that keeps
// every recorded event in memory (useful for tests asserting on the
// emitted event sequence).
func (s *Store) Telemetry() *TelemetryStore { return &TelemetryStore{s: s} }

// TelemetryStore adapts Store to engine.TelemetryBackend.
type TelemetryStore struct{ s *Store }

func (t *TelemetryStore) Record(ctx context.Context, e engine.TelemetryEvent) error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	t.s.telemetry = append(t.s.telemetry, e)
	return nil
}

// Events returns every event recorded so far, in order.
func (t *TelemetryStore) Events() []engine.TelemetryEvent {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return append([]engine.TelemetryEvent(nil), t.s.telemetry...)
}

// MarshalSnapshot is a debugging helper: it JSON-encodes the whole store
// (used by the http front end's inspection endpoint).
func (s *Store) MarshalSnapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return json.MarshalIndent(map[string]interface{}{
		"contexts":  s.contexts,
		"workflows": s.workflows,
	}, "", "  ")
}
