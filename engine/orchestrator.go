package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Orchestrator implements orchestrate() (§4.1): the single public entry
// point that creates a top-level Execution, seeds its Context and workflow
// registry (explicit config and/or inheritance), and kicks off the
// broadcast cascade from the caller-supplied initial signals.
type Orchestrator struct {
	rt          *Runtime
	broadcaster *Broadcaster
}

// NewOrchestrator builds an Orchestrator over the given Runtime.
func NewOrchestrator(rt *Runtime) *Orchestrator {
	return &Orchestrator{rt: rt, broadcaster: NewBroadcaster(rt)}
}

// OrchestrateOptions is the full orchestrate() argument set (§4.1).
// WorkflowID and InitialSignals are mandatory. Config and
// InheritConfigFromID are both optional and may be combined (Config's
// sections overwrite the inherited ones); when neither is given, the
// workflow is resolved from the shared rt.Workflows catalog instead of a
// per-execution registry, matching a caller that pre-registered it via
// PutWorkflow rather than inlining it into every orchestrate() call.
type OrchestrateOptions struct {
	WorkflowID     string
	IdentityID     string
	InitialSignals Signals
	InitialContext map[string]interface{}

	// Config is a workflow-registry definition, either already-parsed
	// (map[string]interface{}) or a YAML document (string). Accepted
	// shapes: flat (top-level keys are workflow names) or combined
	// ({workflows, context_schema?, identities?}).
	Config interface{}

	// InheritConfigFromID deep-copies a source execution's workflow
	// registry into this execution before Config is applied on top.
	// Identities and context schemas are not copied.
	InheritConfigFromID string

	// InheritContextFromID deep-copies a source execution's context
	// fields (excluding __operational__ and __parent__) before
	// InitialContext is merged on top.
	InheritContextFromID string
}

// Orchestrate validates opts, creates a fresh execution id, seeds its
// workflow registry and context, and runs initial_signals to completion.
// It returns the execution id so the caller can read back the final
// context.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts OrchestrateOptions) (string, error) {
	if opts.WorkflowID == "" {
		return "", NewValidationError("initial_workflow_name is required", nil)
	}
	if len(opts.InitialSignals) == 0 {
		return "", NewValidationError("initial_signals must be a non-empty list", nil)
	}
	execID := uuid.NewString()

	if opts.IdentityID != "" && o.rt.Identities != nil {
		if _, err := o.rt.Identities.Get(ctx, opts.IdentityID); err != nil {
			return "", NewValidationError(fmt.Sprintf("identity %q not found", opts.IdentityID), err)
		}
	}

	inherited := map[string]*Workflow{}
	if opts.InheritConfigFromID != "" {
		o.rt.emitTelemetry(ctx, TelemetryEvent{
			Type:        EventConfigInheritanceStart,
			ExecutionID: execID,
			Timestamp:   time.Now(),
			Attrs:       map[string]interface{}{"source_execution_id": opts.InheritConfigFromID},
		})
		if o.rt.Registries == nil {
			return "", NewValidationError("inherit_config_from_id requires a registry backend", nil)
		}
		src, err := o.rt.Registries.GetRegistry(ctx, opts.InheritConfigFromID)
		if err != nil {
			return "", fmt.Errorf("load source registry: %w", err)
		}
		if len(src) == 0 {
			return "", NewValidationError(fmt.Sprintf("source execution %q has no workflows registry", opts.InheritConfigFromID), nil)
		}
		for id, w := range src {
			inherited[id] = CloneWorkflow(w)
		}
	}

	if opts.Config != nil {
		parsed, err := parseWorkflowConfig(opts.Config)
		if err != nil {
			return "", NewValidationError("invalid config", err)
		}
		for id, w := range parsed.Workflows {
			if err := ValidateWorkflow(w, o.rt.Expr); err != nil {
				return "", NewValidationError(fmt.Sprintf("workflow %q failed validation", id), err)
			}
			inherited[id] = w
		}
	}

	if err := SeedRegistry(ctx, o.rt, execID, inherited); err != nil {
		return "", fmt.Errorf("seed registry: %w", err)
	}
	if o.rt.Registries != nil {
		if err := o.rt.Registries.SaveCurrentWorkflowName(ctx, execID, opts.WorkflowID); err != nil {
			return "", fmt.Errorf("save current workflow name: %w", err)
		}
	}

	registry := ExecutionWorkflows(o.rt, execID)
	w, err := registry.Get(ctx, opts.WorkflowID)
	if err != nil {
		return "", NewValidationError(fmt.Sprintf("workflow %q not found", opts.WorkflowID), err)
	}

	c := NewContext()
	if opts.InheritContextFromID != "" {
		src, err := o.rt.Contexts.Get(ctx, opts.InheritContextFromID)
		if err != nil {
			return "", fmt.Errorf("load source context: %w", err)
		}
		for field, hist := range src.Fields {
			if field == FieldOperational || field == FieldParent {
				continue
			}
			c.Fields[field] = append(FieldHistory(nil), hist...)
		}
	}
	for field, v := range opts.InitialContext {
		if _, alreadyList := v.([]interface{}); alreadyList {
			if _, hasParent := c.GetField(FieldParent); hasParent {
				// The parent already wrapped this value into a list on
				// our behalf; don't double-wrap it again.
				c.Fields[field] = append(FieldHistory(nil), v.([]interface{})...)
				continue
			}
		}
		c.SetField(field, v)
	}
	c.SetField(FieldWorkflowID, opts.WorkflowID)
	if opts.IdentityID != "" {
		c.SetField(FieldIdentityID, opts.IdentityID)
	}

	op := c.Operational()
	if opts.InheritContextFromID != "" {
		if srcCtx, err := o.rt.Contexts.Get(ctx, opts.InheritContextFromID); err == nil {
			op.MainExecutionID = srcCtx.Operational().MainExecutionID
		}
	}
	if op.MainExecutionID == "" {
		op.MainExecutionID = execID
	}

	if err := o.rt.Contexts.Save(ctx, execID, c); err != nil {
		return "", fmt.Errorf("save initial context: %w", err)
	}

	o.rt.emitTelemetry(ctx, TelemetryEvent{
		Type:        EventOrchestrationStart,
		ExecutionID: execID,
		Timestamp:   time.Now(),
		Attrs: map[string]interface{}{
			"workflow_id":     opts.WorkflowID,
			"initial_signals": []string(opts.InitialSignals),
		},
	})

	if err := o.broadcaster.BroadcastSignals(ctx, w, execID, opts.InitialSignals); err != nil {
		return execID, err
	}

	return execID, nil
}

// parsedConfig is the decoded shape of an orchestrate() config argument.
type parsedConfig struct {
	Workflows     map[string]*Workflow
	ContextSchema map[string]interface{}
	Identities    map[string]*Identity
}

// parseWorkflowConfig accepts either a YAML document (string) or an
// already-parsed object and decodes it into workflows/context_schema/
// identities (§4.1). Two shapes are accepted: flat (top-level keys are
// workflow names) and combined ({workflows, context_schema?, identities?}).
func parseWorkflowConfig(raw interface{}) (*parsedConfig, error) {
	var doc map[string]interface{}
	switch v := raw.(type) {
	case string:
		if err := yaml.Unmarshal([]byte(v), &doc); err != nil {
			return nil, fmt.Errorf("parse config yaml: %w", err)
		}
	case map[string]interface{}:
		doc = v
	default:
		return nil, fmt.Errorf("config must be a YAML string or object, got %T", raw)
	}

	out := &parsedConfig{Workflows: map[string]*Workflow{}}

	workflowsRaw, combined := doc["workflows"].(map[string]interface{})
	if !combined {
		workflowsRaw = doc
	} else {
		if cs, ok := doc["context_schema"].(map[string]interface{}); ok {
			out.ContextSchema = cs
		}
		if idsRaw, ok := doc["identities"].(map[string]interface{}); ok {
			out.Identities = map[string]*Identity{}
			for id, idDef := range idsRaw {
				identity, err := decodeInto[Identity](idDef)
				if err != nil {
					return nil, fmt.Errorf("decode identity %q: %w", id, err)
				}
				identity.ID = id
				out.Identities[id] = identity
			}
		}
	}

	for id, wfDef := range workflowsRaw {
		w, err := decodeInto[Workflow](wfDef)
		if err != nil {
			return nil, fmt.Errorf("decode workflow %q: %w", id, err)
		}
		w.ID = id
		if w.Nodes == nil {
			w.Nodes = NewNodeList()
		}
		out.Workflows[id] = w
	}

	return out, nil
}

// decodeInto round-trips v through JSON into a fresh T, matching the
// builtin tools' map[string]interface{}-to-struct decoding convention.
func decodeInto[T any](v interface{}) (*T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewExecution is a small helper retained for backends/tests that need an
// Execution record shape distinct from the Context itself.
func NewExecution(workflowID, identityID, parentID string) *Execution {
	return &Execution{
		ID:         uuid.NewString(),
		WorkflowID: workflowID,
		IdentityID: identityID,
		StartedAt:  time.Now(),
		ParentID:   parentID,
	}
}
