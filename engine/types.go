// Package engine implements the signal-driven workflow orchestration core:
// a synchronous, single-threaded, reentrant broadcaster wiring router, tool,
// llm, agent and child nodes together through named signals and an
// append-only per-field context history.
package engine

import (
	"encoding/json"
	"time"
)

// Signals is an ordered set of signal names carried between node executions.
// Duplicates are permitted; nothing in this engine deduplicates a signals
// list, matching the append-only semantics of the operational signals log.
type Signals []string

// FieldHistory is the append-only value history for one context field.
// Index 0 is the oldest value; the last element is the current value.
type FieldHistory []interface{}

// Current returns the most recently set value, or nil if the field has
// never been set.
func (h FieldHistory) Current() interface{} {
	if len(h) == 0 {
		return nil
	}
	return h[len(h)-1]
}

// Context holds the per-execution field histories plus the reserved
// __operational__ and __parent__ entries. A Context is always owned by
// exactly one Execution and is read/written through a ContextBackend.
type Context struct {
	Fields map[string]FieldHistory `json:"fields"`
}

// NewContext returns an empty context with initialized operational counters.
func NewContext() *Context {
	c := &Context{Fields: make(map[string]FieldHistory)}
	c.Fields["__operational__"] = FieldHistory{NewOperational()}
	return c
}

// GetField returns the current value of a field and whether it has ever
// been set.
func (c *Context) GetField(name string) (interface{}, bool) {
	hist, ok := c.Fields[name]
	if !ok || len(hist) == 0 {
		return nil, false
	}
	return hist.Current(), true
}

// GetAccumulated returns the full history of a field, unwrapping the case
// where the field was fanned into a single-element list whose sole element
// is itself a list (fan-out of a single child collapses one nesting level).
func (c *Context) GetAccumulated(name string) []interface{} {
	hist, ok := c.Fields[name]
	if !ok {
		return nil
	}
	if len(hist) == 1 {
		if inner, ok := hist[0].([]interface{}); ok {
			return inner
		}
	}
	return []interface{}(hist)
}

// SetField appends a new value to a field's history, creating the history
// if this is the field's first write.
func (c *Context) SetField(name string, value interface{}) {
	c.Fields[name] = append(c.Fields[name], value)
}

// Operational returns the mutable operational counters block, creating it
// if absent (should not normally happen since NewContext seeds it).
func (c *Context) Operational() *Operational {
	raw, ok := c.GetField("__operational__")
	if !ok {
		op := NewOperational()
		c.SetField("__operational__", op)
		return op
	}
	op, ok := raw.(*Operational)
	if !ok {
		op = NewOperational()
		c.SetField("__operational__", op)
	}
	return op
}

// Operational is the engine's bookkeeping block, one per execution,
// stored under the context's reserved "__operational__" field.
type Operational struct {
	Signals         []string       `json:"signals"`
	NodeExecutions  map[string]int `json:"node_executions"`
	LLMCalls        int            `json:"llm_calls"`
	ToolCalls       int            `json:"tool_calls"`
	Errors          []string       `json:"errors"`
	MainExecutionID string         `json:"main_execution_id"`
}

// NewOperational returns a zeroed operational block.
func NewOperational() *Operational {
	return &Operational{
		NodeExecutions: make(map[string]int),
	}
}

// RecordSignals appends to the operational signals log. No deduplication:
// the log is a record of everything broadcast, duplicates included.
func (o *Operational) RecordSignals(signals Signals) {
	o.Signals = append(o.Signals, signals...)
}

// RecordNodeExecution increments the execution counter for a node.
func (o *Operational) RecordNodeExecution(nodeID string) {
	o.NodeExecutions[nodeID]++
}

// RecordError appends a node-boundary error message to the operational log.
func (o *Operational) RecordError(msg string) {
	o.Errors = append(o.Errors, msg)
}

// ParentLink is injected as the reserved "__parent__" context field of a
// child execution spawned by a child node, so built-in tools and prompts
// inside the child can address the parent.
type ParentLink struct {
	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	FanOutIndex *int   `json:"fan_out_index,omitempty"`
}

// Execution is the runtime record of one orchestrate() invocation: the
// workflow it is running, the context it owns, and (for children) the
// parent it reports back to.
type Execution struct {
	ID         string
	WorkflowID string
	IdentityID string
	StartedAt  time.Time
	ParentID   string // empty for top-level executions
}

// ConditionLanguage selects the expression dialect used to evaluate a
// node's outbound signal conditions.
type ConditionLanguage string

const (
	ConditionLanguageJinja ConditionLanguage = "jinja"
	ConditionLanguageCEL   ConditionLanguage = "cel"
)

// NodeType enumerates the five node kinds a workflow may wire together.
type NodeType string

const (
	NodeTypeRouter NodeType = "router"
	NodeTypeTool   NodeType = "tool"
	NodeTypeLLM    NodeType = "llm"
	NodeTypeAgent  NodeType = "agent"
	NodeTypeChild  NodeType = "child"
)

// SignalEmission binds an outbound signals list to a guarding condition
// (in ConditionLanguage) plus the context fields it writes on match.
type SignalEmission struct {
	Condition         string            `json:"condition,omitempty"`
	ConditionLanguage ConditionLanguage `json:"condition_language,omitempty"`
	Signals           Signals           `json:"signals"`
}

// Language returns the emission's configured dialect, defaulting to Jinja.
func (e SignalEmission) Language() ConditionLanguage {
	if e.ConditionLanguage == "" {
		return ConditionLanguageJinja
	}
	return e.ConditionLanguage
}

// NodeConfig is the declarative description of one node in a workflow: what
// signals trigger it, and how it decides which signals to emit next.
type NodeConfig struct {
	ID               string           `json:"id"`
	Type             NodeType         `json:"type"`
	TriggerSignals   Signals          `json:"trigger_signals"`
	SignalEmissions  []SignalEmission `json:"signal_emissions"`
	Config           map[string]interface{} `json:"config"`
}

// Workflow is a named, validated collection of nodes plus the signals that
// kick it off when orchestrate() is called.
type Workflow struct {
	ID            string                 `json:"id"`
	Nodes         *NodeList              `json:"nodes"`
	EntrySignals  Signals                `json:"entry_signals"`
	ContextSchema map[string]interface{} `json:"context_schema,omitempty"`
}

// CloneWorkflow returns a deep copy of w sharing no backing slices/maps,
// used to seed one execution's private workflow registry from another's
// (§3, §4.1 inherit_config_from_id, §4.11 child workflow inheritance).
func CloneWorkflow(w *Workflow) *Workflow {
	if w == nil {
		return nil
	}
	out := &Workflow{
		ID:           w.ID,
		EntrySignals: append(Signals(nil), w.EntrySignals...),
		Nodes:        w.Nodes.Clone(),
	}
	if w.ContextSchema != nil {
		raw, err := json.Marshal(w.ContextSchema)
		if err == nil {
			var cp map[string]interface{}
			if json.Unmarshal(raw, &cp) == nil {
				out.ContextSchema = cp
			}
		}
	}
	return out
}

// Identity describes the caller-facing identity a workflow executes under
// (e.g. model/provider defaults, permissions); resolved through an optional
// IdentityBackend.
type Identity struct {
	ID     string                 `json:"id"`
	Config map[string]interface{} `json:"config"`
}

// ConversationTurn is one entry in a conversation history backend.
type ConversationTurn struct {
	ExecutionID string    `json:"execution_id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}

// TelemetryEventType enumerates the telemetry events the engine emits,
// using the verbatim event-type strings external consumers key off (§6).
type TelemetryEventType string

const (
	EventOrchestrationStart     TelemetryEventType = "ORCHESTRATION_START"
	EventConfigInheritanceStart TelemetryEventType = "CONFIG_INHERITANCE_START"
	EventSignalsBroadcast       TelemetryEventType = "SIGNALS_BROADCAST"
	EventSignalsToParent        TelemetryEventType = "SIGNALS_TO_PARENT"
	EventNodeExecution          TelemetryEventType = "NODE_EXECUTION"
	EventNodeError              TelemetryEventType = "NODE_ERROR"
	EventContextWarn            TelemetryEventType = "CONTEXT_WARNING"
	EventLLMCall                TelemetryEventType = "LLM_CALL"
	EventToolCall               TelemetryEventType = "TOOL_CALL"
	EventAgentToolsLoaded       TelemetryEventType = "AGENT_TOOLS_LOADED"
	EventAgentToolCall          TelemetryEventType = "AGENT_TOOL_CALL"
	EventAgentToolNotFound      TelemetryEventType = "AGENT_TOOL_NOT_FOUND"
	EventAgentToolResult        TelemetryEventType = "AGENT_TOOL_RESULT"
)

// TelemetryEvent is one record sent to an optional TelemetryBackend.
type TelemetryEvent struct {
	Type        TelemetryEventType     `json:"type"`
	ExecutionID string                 `json:"execution_id"`
	NodeID      string                 `json:"node_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Attrs       map[string]interface{} `json:"attrs,omitempty"`
}
