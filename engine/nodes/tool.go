package nodes

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/lyzr/soe/engine"
)

// Tool implements the tool node (§4.4): it resolves a tool by name
// (falling back to the built-in registry when the caller-supplied registry
// misses), renders its parameters, invokes it with retries, stores the
// result (or, on final failure, the error text) under config.output_field,
// and evaluates signal_emissions with both `output` and `error` bound so a
// workflow can branch on tool failure without the engine itself deciding
// what "failure" means for that tool. When config.failure_signal (or the
// tool registry's own per-tool default, via ToolMetadata) is set, a
// failure surviving every retry is reported as that signal instead of
// aborting the node.
type Tool struct{}

// Execute satisfies engine.NodeExecutor.
func (Tool) Execute(ctx context.Context, rt *engine.Runtime, execID string, n *engine.NodeConfig, c *engine.Context) (engine.Signals, error) {
	toolName, _ := n.Config["tool_name"].(string)
	if toolName == "" {
		return nil, engine.NewOperationalError(n.ID, "tool node missing config.tool_name", nil)
	}

	toolFunc, ok := rt.Tools.Lookup(toolName)
	if !ok {
		return nil, engine.NewOperationalError(n.ID, fmt.Sprintf("tool %q is not registered", toolName), nil)
	}

	retries, failureSignal, processAccumulated := toolDefaults(rt, toolName)
	if v, ok := n.Config["retries"].(int); ok {
		retries = v
	}
	if v, ok := n.Config["failure_signal"].(string); ok && v != "" {
		failureSignal = v
	}
	if v, ok := n.Config["process_accumulated"].(bool); ok {
		processAccumulated = v
	}

	vars := engine.BuildVars(c)
	params, err := resolveParameters(rt, n, c, vars, processAccumulated)
	if err != nil {
		return nil, fmt.Errorf("resolve parameters: %w", err)
	}

	var result interface{}
	var callErr error
	for attempt := 0; attempt <= retries; attempt++ {
		rt.Logger.WithExecutionID(execID).WithNodeName(n.ID).Debug("invoking tool", "tool", toolName, "attempt", attempt)
		result, callErr = toolFunc(ctx, execID, params)
		c.Operational().ToolCalls++
		engine.EmitTelemetry(ctx, rt, engine.TelemetryEvent{Type: engine.EventToolCall, ExecutionID: execID, NodeID: n.ID, Attrs: map[string]interface{}{"tool": toolName, "attempt": attempt, "error": callErr != nil}})
		if callErr == nil {
			break
		}
	}
	rt.Logger.WithExecutionID(execID).WithNodeName(n.ID).Debug("tool invocation complete", "tool", toolName, "error", callErr)

	emissionVars := engine.WithExtra(vars, map[string]interface{}{"output": result})
	if callErr != nil {
		emissionVars["error"] = callErr.Error()
	} else {
		emissionVars["error"] = nil
	}

	if outputField, ok := n.Config["output_field"].(string); ok && outputField != "" {
		if callErr != nil {
			c.SetField(outputField, callErr.Error())
		} else {
			c.SetField(outputField, result)
		}
	}

	signals, err := engine.EvaluateEmissions(ctx, rt, execID, n.ID, n.SignalEmissions, emissionVars)
	if err != nil {
		return nil, err
	}

	if callErr != nil {
		if failureSignal != "" {
			return append(signals, failureSignal), nil
		}
		return signals, callErr
	}
	return signals, nil
}

// toolDefaults reads a tool's registry-level defaults (§6 "tool registry":
// {function, max_retries?, failure_signal?, process_accumulated?}) when
// rt.Tools implements engine.ToolMetadata; a node's own config always takes
// priority over these.
func toolDefaults(rt *engine.Runtime, toolName string) (retries int, failureSignal string, processAccumulated bool) {
	meta, ok := rt.Tools.(engine.ToolMetadata)
	if !ok {
		return 0, "", false
	}
	r, fs, pa, found := meta.Metadata(toolName)
	if !found {
		return 0, "", false
	}
	return r, fs, pa
}

// resolveParameters builds the tool call's parameters either from
// config.context_parameter_field (the current, or — with
// process_accumulated — the full accumulated history of a context field,
// YAML-parsed when held as a string) or from config.parameters (a map of
// Jinja-template strings, or literal values passed through unchanged).
func resolveParameters(rt *engine.Runtime, n *engine.NodeConfig, c *engine.Context, vars map[string]interface{}, processAccumulated bool) (map[string]interface{}, error) {
	if field, ok := n.Config["context_parameter_field"].(string); ok && field != "" {
		var raw interface{}
		if processAccumulated {
			raw = c.GetAccumulated(field)
		} else {
			raw, _ = c.GetField(field)
		}
		return coerceParameters(raw)
	}

	rawParams, _ := n.Config["parameters"].(map[string]interface{})
	params := make(map[string]interface{}, len(rawParams))

	for name, raw := range rawParams {
		tmpl, ok := raw.(string)
		if !ok {
			params[name] = raw
			continue
		}
		rendered, err := rt.Expr.Jinja.Render(tmpl, vars)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		params[name] = rendered
	}
	return params, nil
}

// coerceParameters normalizes a context field's value into the parameters
// map a ToolFunc expects: a map is used directly, a YAML/JSON-formatted
// string is parsed, and anything else (including an accumulated list) is
// wrapped under an "items" key.
func coerceParameters(raw interface{}) (map[string]interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]interface{}{}, nil
	case map[string]interface{}:
		return v, nil
	case string:
		var parsed map[string]interface{}
		if err := yaml.Unmarshal([]byte(v), &parsed); err != nil {
			return nil, fmt.Errorf("parse context_parameter_field as YAML: %w", err)
		}
		return parsed, nil
	default:
		return map[string]interface{}{"items": v}, nil
	}
}
