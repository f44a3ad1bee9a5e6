package engine

import "context"

// ContextBackend owns Context storage for executions. The engine never
// holds a Context in memory across broadcast hops without going through
// this interface, so a Redis- or Postgres-backed implementation can share
// state across orchestrator processes embedding this engine as a library.
type ContextBackend interface {
	Get(ctx context.Context, executionID string) (*Context, error)
	Save(ctx context.Context, executionID string, c *Context) error
	Delete(ctx context.Context, executionID string) error
}

// WorkflowBackend resolves and (for built-in tools that mutate the
// registry) persists workflow definitions.
type WorkflowBackend interface {
	Get(ctx context.Context, workflowID string) (*Workflow, error)
	Save(ctx context.Context, w *Workflow) error
	Delete(ctx context.Context, workflowID string) error
	List(ctx context.Context) ([]string, error)
}

// WorkflowRegistryBackend gives each execution its own workflow-definitions
// registry (§3, §4.1): orchestrate() seeds one per execution from explicit
// config and/or inherit_config_from_id, and a child node's spawned
// executions receive a deep copy of their parent's — built-in tools like
// soe_inject_workflow/soe_inject_node mutate only the execution-scoped
// copy, so they never leak into a sibling or ancestor execution's view of
// the same workflow id. Optional: a Runtime with a nil Registries field
// falls back to the single shared WorkflowBackend catalog everywhere.
type WorkflowRegistryBackend interface {
	GetRegistry(ctx context.Context, executionID string) (map[string]*Workflow, error)
	SaveRegistry(ctx context.Context, executionID string, reg map[string]*Workflow) error
	GetCurrentWorkflowName(ctx context.Context, executionID string) (string, error)
	SaveCurrentWorkflowName(ctx context.Context, executionID, name string) error
}

// TelemetryBackend is an optional sink for TelemetryEvent records; a nil
// backend is a valid no-op configuration.
type TelemetryBackend interface {
	Record(ctx context.Context, e TelemetryEvent) error
}

// ConversationHistoryBackend is an optional per-execution transcript store
// consulted by agent nodes when building conversation_history prompts.
type ConversationHistoryBackend interface {
	Append(ctx context.Context, turn ConversationTurn) error
	List(ctx context.Context, executionID string) ([]ConversationTurn, error)
}

// ContextSchemaBackend is an optional registry of per-workflow context
// schemas used to validate LLM structured output and to build the dynamic
// response model (§4.5, §4.9).
type ContextSchemaBackend interface {
	Get(ctx context.Context, workflowID string) (map[string]interface{}, error)
	Save(ctx context.Context, workflowID string, schema map[string]interface{}) error
	RemoveField(ctx context.Context, workflowID, field string) error
}

// IdentityBackend is an optional registry of caller identities.
type IdentityBackend interface {
	Get(ctx context.Context, identityID string) (*Identity, error)
	Save(ctx context.Context, id *Identity) error
	Delete(ctx context.Context, identityID string) error
	List(ctx context.Context) ([]string, error)
}

// ToolFunc is the signature every registered tool (including built-ins)
// implements: it receives resolved parameters and the calling execution's
// id, and returns a JSON-serializable result.
type ToolFunc func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error)

// ToolRegistry resolves a tool by name. Engines are handed a ToolRegistry
// at construction; the builtintools package provides one pre-populated
// with the supplemented built-in tools, wrapping a caller-supplied registry
// so user tools still take priority on name collision.
type ToolRegistry interface {
	Lookup(name string) (ToolFunc, bool)
}

// ToolMetadata is optionally implemented by a ToolRegistry to supply
// per-tool registry defaults (§6 "tool registry": {function, max_retries?,
// failure_signal?, process_accumulated?}) that a tool node's own config
// may still override. A registry that doesn't implement this interface is
// treated as carrying no defaults (retries=0, no failure_signal,
// process_accumulated=false).
type ToolMetadata interface {
	Metadata(name string) (retries int, failureSignal string, processAccumulated bool, ok bool)
}

// LLMCaller is the single external seam to an LLM provider. The engine
// never talks to a provider SDK directly — §6 keeps that swappable and out
// of this module's scope.
type LLMCaller interface {
	Call(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
