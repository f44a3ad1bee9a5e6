// Package builtintools implements the lazily-instantiated built-in tools an
// agent or tool node can call even when a workflow author never registered
// them explicitly — introspection over the running context, and runtime
// mutation of the workflow/identity/schema registries. Each tool is a
// factory closing over a *engine.Runtime the same way original_source's
// soe/builtin_tools/*.py factories close over (execution_id, backends,
// tools_registry); Go just makes the closure's captured state a struct
// field instead of a function argument tuple.
package builtintools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/lyzr/soe/engine"
)

// maxAgentNodesPerInject mirrors the teacher's patch_validator.go limit on
// how many agent nodes a single runtime mutation may introduce at once.
const maxAgentNodesPerInject = 5

type factory func(rt *engine.Runtime, owner *Registry) engine.ToolFunc

var factories = map[string]factory{
	"soe_get_context":                     newGetContext,
	"soe_list_contexts":                   newListContexts,
	"soe_update_context":                  newUpdateContext,
	"soe_get_available_tools":             newGetAvailableTools,
	"soe_get_workflows":                   newGetWorkflows,
	"soe_get_identities":                  newGetIdentities,
	"soe_get_context_schema":              newGetContextSchema,
	"soe_inject_workflow":                 newInjectWorkflow,
	"soe_remove_workflow":                 newRemoveWorkflow,
	"soe_inject_node":                     newInjectNode,
	"soe_remove_node":                     newRemoveNode,
	"soe_inject_identity":                 newInjectIdentity,
	"soe_remove_identity":                 newRemoveIdentity,
	"soe_inject_context_schema_field":     newInjectContextSchemaField,
	"soe_remove_context_schema_field":     newRemoveContextSchemaField,
	"soe_call_tool":                       newCallTool,
}

// Registry wraps a caller-supplied engine.ToolRegistry (checked first, so a
// workflow author's own "soe_get_context" shadows the built-in) and falls
// back to the lazily-instantiated built-ins, caching each instantiated
// ToolFunc by name.
type Registry struct {
	rt   *engine.Runtime
	user engine.ToolRegistry

	mu    sync.Mutex
	cache map[string]engine.ToolFunc
}

// New returns a Registry backed by rt's backends. user may be nil.
func New(rt *engine.Runtime, user engine.ToolRegistry) *Registry {
	return &Registry{rt: rt, user: user, cache: make(map[string]engine.ToolFunc)}
}

// Lookup satisfies engine.ToolRegistry.
func (r *Registry) Lookup(name string) (engine.ToolFunc, bool) {
	if r.user != nil {
		if fn, ok := r.user.Lookup(name); ok {
			return fn, true
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if fn, ok := r.cache[name]; ok {
		return fn, true
	}

	f, ok := factories[name]
	if !ok {
		return nil, false
	}
	fn := f(r.rt, r)
	r.cache[name] = fn
	return fn, true
}

func newGetContext(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		target := executionID
		if v, ok := params["execution_id"].(string); ok && v != "" {
			target = v
		}
		c, err := rt.Contexts.Get(ctx, target)
		if err != nil {
			return nil, err
		}
		vars := engine.BuildVars(c)

		if field, ok := params["field"].(string); ok && field != "" {
			return map[string]interface{}{field: vars[field]}, nil
		}
		if rawFields, ok := params["fields"].([]interface{}); ok && len(rawFields) > 0 {
			out := make(map[string]interface{}, len(rawFields))
			for _, rf := range rawFields {
				if name, ok := rf.(string); ok {
					out[name] = vars[name]
				}
			}
			return out, nil
		}
		return vars, nil
	}
}

// contextLister is satisfied by backends that can enumerate live execution
// ids (e.g. backends/memory.Store); backends that can't (a pure Redis
// key-value store without a registry) simply fail this assertion and
// soe_list_contexts reports that it isn't supported.
type contextLister interface {
	ListContexts(ctx context.Context) ([]string, error)
}

func newListContexts(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		lister, ok := rt.Contexts.(contextLister)
		if !ok {
			return nil, fmt.Errorf("soe_list_contexts: backend does not support listing executions")
		}
		ids, err := lister.ListContexts(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"execution_ids": ids}, nil
	}
}

func newUpdateContext(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		updates, _ := params["updates"].(map[string]interface{})
		if len(updates) == 0 {
			return map[string]interface{}{"status": "no updates provided"}, nil
		}

		c, err := rt.Contexts.Get(ctx, executionID)
		if err != nil {
			return nil, err
		}

		applied := make([]string, 0, len(updates))
		for field, value := range updates {
			if len(field) >= 2 && field[:2] == "__" {
				continue
			}
			merged, err := mergeFieldValue(c, field, value)
			if err != nil {
				return nil, fmt.Errorf("soe_update_context: merge field %q: %w", field, err)
			}
			c.SetField(field, merged)
			applied = append(applied, field)
		}

		if len(applied) == 0 {
			return map[string]interface{}{"status": "no valid updates (operational fields cannot be updated)"}, nil
		}
		if err := rt.Contexts.Save(ctx, executionID, c); err != nil {
			return nil, err
		}
		return map[string]interface{}{"status": "updated", "fields": applied}, nil
	}
}

// mergeFieldValue merges value into field's current value using RFC 7396
// merge-patch semantics when both sides are JSON objects; otherwise value
// simply replaces the field, matching the original's update_context which
// only does a shallow dict.update() over top-level fields.
func mergeFieldValue(c *engine.Context, field string, value interface{}) (interface{}, error) {
	current, ok := c.GetField(field)
	currentObj, currentIsObj := current.(map[string]interface{})
	newObj, newIsObj := value.(map[string]interface{})
	if !ok || !currentIsObj || !newIsObj {
		return value, nil
	}

	currentJSON, err := json.Marshal(currentObj)
	if err != nil {
		return nil, err
	}
	patchJSON, err := json.Marshal(newObj)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatchMergePatch(currentJSON, patchJSON)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func newGetAvailableTools(rt *engine.Runtime, owner *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		names := make([]string, 0, len(factories))
		for name := range factories {
			names = append(names, name)
		}
		return map[string]interface{}{"built_in_tools": names}, nil
	}
}

func newGetWorkflows(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		ids, err := engine.ExecutionWorkflows(rt, executionID).List(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"workflow_ids": ids}, nil
	}
}

func newGetIdentities(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		if rt.Identities == nil {
			return nil, fmt.Errorf("soe_get_identities: no identity backend configured")
		}
		ids, err := rt.Identities.List(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"identity_ids": ids}, nil
	}
}

func newGetContextSchema(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		if rt.Schemas == nil {
			return nil, fmt.Errorf("soe_get_context_schema: no schema backend configured")
		}
		workflowID, _ := params["workflow_id"].(string)
		if workflowID == "" {
			return nil, fmt.Errorf("soe_get_context_schema: workflow_id is required")
		}
		return rt.Schemas.Get(ctx, workflowID)
	}
}

func newInjectWorkflow(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		workflowID, _ := params["workflow_id"].(string)
		defRaw, _ := params["workflow"].(map[string]interface{})
		if workflowID == "" || defRaw == nil {
			return nil, fmt.Errorf("soe_inject_workflow: workflow_id and workflow are required")
		}

		raw, err := json.Marshal(defRaw)
		if err != nil {
			return nil, err
		}
		var w engine.Workflow
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("soe_inject_workflow: decode workflow: %w", err)
		}
		w.ID = workflowID

		if w.Nodes == nil {
			w.Nodes = engine.NewNodeList()
		}
		if err := validateAgentNodeBudget(w.Nodes); err != nil {
			return nil, err
		}
		if err := engine.ValidateWorkflow(&w, rt.Expr); err != nil {
			return nil, fmt.Errorf("soe_inject_workflow: %w", err)
		}
		if err := engine.ExecutionWorkflows(rt, executionID).Save(ctx, &w); err != nil {
			return nil, err
		}
		return map[string]interface{}{"injected": true, "workflow_id": workflowID}, nil
	}
}

func newRemoveWorkflow(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		workflowID, _ := params["workflow_id"].(string)
		if workflowID == "" {
			return nil, fmt.Errorf("soe_remove_workflow: workflow_id is required")
		}
		if err := engine.ExecutionWorkflows(rt, executionID).Delete(ctx, workflowID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"removed": true, "workflow_id": workflowID}, nil
	}
}

func newInjectNode(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		workflowID, _ := params["workflow_id"].(string)
		nodeRaw, _ := params["node"].(map[string]interface{})
		if workflowID == "" || nodeRaw == nil {
			return nil, fmt.Errorf("soe_inject_node: workflow_id and node are required")
		}

		registry := engine.ExecutionWorkflows(rt, executionID)
		w, err := registry.Get(ctx, workflowID)
		if err != nil {
			return nil, err
		}

		raw, err := json.Marshal(nodeRaw)
		if err != nil {
			return nil, err
		}
		var n engine.NodeConfig
		if err := json.Unmarshal(raw, &n); err != nil {
			return nil, fmt.Errorf("soe_inject_node: decode node: %w", err)
		}
		if n.ID == "" {
			return nil, fmt.Errorf("soe_inject_node: node must have an id")
		}

		if w.Nodes == nil {
			w.Nodes = engine.NewNodeList()
		}
		pending := w.Nodes.Clone()
		pending.Set(n.ID, &n)
		if err := validateAgentNodeBudget(pending); err != nil {
			return nil, err
		}
		w.Nodes.Set(n.ID, &n)

		if err := engine.ValidateWorkflow(w, rt.Expr); err != nil {
			return nil, fmt.Errorf("soe_inject_node: %w", err)
		}
		if err := registry.Save(ctx, w); err != nil {
			return nil, err
		}
		return map[string]interface{}{"injected": true, "node_id": n.ID}, nil
	}
}

func newRemoveNode(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		workflowID, _ := params["workflow_id"].(string)
		nodeID, _ := params["node_id"].(string)
		if workflowID == "" || nodeID == "" {
			return nil, fmt.Errorf("soe_remove_node: workflow_id and node_id are required")
		}
		registry := engine.ExecutionWorkflows(rt, executionID)
		w, err := registry.Get(ctx, workflowID)
		if err != nil {
			return nil, err
		}
		w.Nodes.Delete(nodeID)
		if err := registry.Save(ctx, w); err != nil {
			return nil, err
		}
		return map[string]interface{}{"removed": true, "node_id": nodeID}, nil
	}
}

func newInjectIdentity(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		if rt.Identities == nil {
			return nil, fmt.Errorf("soe_inject_identity: no identity backend configured")
		}
		identityID, _ := params["identity_id"].(string)
		config, _ := params["config"].(map[string]interface{})
		if identityID == "" {
			return nil, fmt.Errorf("soe_inject_identity: identity_id is required")
		}
		id := &engine.Identity{ID: identityID, Config: config}
		if err := rt.Identities.Save(ctx, id); err != nil {
			return nil, err
		}
		return map[string]interface{}{"injected": true, "identity_id": identityID}, nil
	}
}

func newRemoveIdentity(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		if rt.Identities == nil {
			return nil, fmt.Errorf("soe_remove_identity: no identity backend configured")
		}
		identityID, _ := params["identity_id"].(string)
		if identityID == "" {
			return nil, fmt.Errorf("soe_remove_identity: identity_id is required")
		}
		if err := rt.Identities.Delete(ctx, identityID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"removed": true, "identity_id": identityID}, nil
	}
}

func newInjectContextSchemaField(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		if rt.Schemas == nil {
			return nil, fmt.Errorf("soe_inject_context_schema_field: no schema backend configured")
		}
		workflowID, _ := params["workflow_id"].(string)
		field, _ := params["field"].(string)
		fieldSchema, _ := params["field_schema"].(map[string]interface{})
		if workflowID == "" || field == "" || fieldSchema == nil {
			return nil, fmt.Errorf("soe_inject_context_schema_field: workflow_id, field and field_schema are required")
		}

		schema, err := rt.Schemas.Get(ctx, workflowID)
		if err != nil || schema == nil {
			schema = map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
		}
		props, ok := schema["properties"].(map[string]interface{})
		if !ok {
			props = map[string]interface{}{}
			schema["properties"] = props
		}
		props[field] = fieldSchema

		if err := rt.Schemas.Save(ctx, workflowID, schema); err != nil {
			return nil, err
		}
		return map[string]interface{}{"injected": true, "field": field}, nil
	}
}

func newRemoveContextSchemaField(rt *engine.Runtime, _ *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		if rt.Schemas == nil {
			return nil, fmt.Errorf("soe_remove_context_schema_field: no schema backend configured")
		}
		workflowID, _ := params["workflow_id"].(string)
		field, _ := params["field"].(string)
		if workflowID == "" || field == "" {
			return nil, fmt.Errorf("soe_remove_context_schema_field: workflow_id and field are required")
		}
		if err := rt.Schemas.RemoveField(ctx, workflowID, field); err != nil {
			return nil, err
		}
		return map[string]interface{}{"removed": true, "field": field}, nil
	}
}

// newCallTool lets an agent invoke any other registered tool, built-in or
// caller-supplied, by name — grounded on
// original_source/soe/builtin_tools/soe_call_tool.py's meta-tool.
func newCallTool(rt *engine.Runtime, owner *Registry) engine.ToolFunc {
	return func(ctx context.Context, executionID string, params map[string]interface{}) (interface{}, error) {
		toolName, _ := params["tool_name"].(string)
		if toolName == "" {
			return nil, fmt.Errorf("soe_call_tool: tool_name is required")
		}
		if toolName == "soe_call_tool" {
			return nil, fmt.Errorf("soe_call_tool: refusing to call itself")
		}
		args, _ := params["arguments"].(map[string]interface{})

		fn, ok := owner.Lookup(toolName)
		if !ok {
			return map[string]interface{}{"error": fmt.Sprintf("tool %q not found", toolName)}, nil
		}
		result, err := fn(ctx, executionID, args)
		if err != nil {
			return map[string]interface{}{"error": err.Error(), "tool_name": toolName}, nil
		}
		return map[string]interface{}{"success": true, "tool_name": toolName, "result": result}, nil
	}
}

func validateAgentNodeBudget(nodes *engine.NodeList) error {
	count := 0
	for _, n := range nodes.All() {
		if n.Type == engine.NodeTypeAgent {
			count++
		}
	}
	if count > maxAgentNodesPerInject {
		return fmt.Errorf("cannot inject more than %d agent nodes at once (attempted: %d)", maxAgentNodesPerInject, count)
	}
	return nil
}
