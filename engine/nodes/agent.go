package nodes

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/lyzr/soe/engine"
)

// Agent implements the agent node (§4.10): a bounded three-stage loop over
// a router stage (call a tool or finish), a parameter stage (generate that
// tool's arguments), and a response stage (produce the final structured
// output once the router stage decides to finish). Loop state
// (AgentLoopState) is kept on the Go stack for the duration of Execute,
// not persisted to the context — only its final output is written there.
// The tool responses are folded into the response-stage prompt and are
// not stored in the context.
type Agent struct{}

const defaultAgentMaxIterations = 10

// Execute satisfies engine.NodeExecutor.
func (Agent) Execute(ctx context.Context, rt *engine.Runtime, execID string, n *engine.NodeConfig, c *engine.Context) (engine.Signals, error) {
	systemPrompt, _ := n.Config["system_prompt"].(string)
	outputField, _ := n.Config["output_field"].(string)
	if outputField == "" {
		outputField = "output"
	}
	outputSchema, _ := n.Config["output_schema"].(map[string]interface{})
	toolNames := toStringSlice(n.Config["tools"])
	failureSignal, _ := n.Config["llm_failure_signal"].(string)
	contextUpdatesToParent := toStringSlice(n.Config["context_updates_to_parent"])

	maxIterations := defaultAgentMaxIterations
	if v, ok := n.Config["max_iterations"].(int); ok && v > 0 {
		maxIterations = v
	}
	maxRetries := rt.MaxRetries
	if v, ok := n.Config["max_retries"].(int); ok {
		maxRetries = v
	}
	resolver := engine.NewResolver(rt.LLM, maxRetries)

	mainExecID := c.Operational().MainExecutionID
	fullSystemPrompt := conversationHistoryPrefix(ctx, rt, mainExecID) + systemPrompt

	vars := engine.BuildVars(c)
	loop := &AgentLoopState{}

	engine.EmitTelemetry(ctx, rt, engine.TelemetryEvent{Type: engine.EventAgentToolsLoaded, ExecutionID: execID, NodeID: n.ID, Attrs: map[string]interface{}{"tools": toolNames}})

	decisionSchemaDoc := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"action": map[string]interface{}{"type": "string", "enum": []interface{}{"call_tool", "finish"}}, "tool_name": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"action"},
	}
	decisionSchema, err := engine.CompileSchema(decisionSchemaDoc)
	if err != nil {
		return nil, fmt.Errorf("compile agent decision schema: %w", err)
	}

	for iter := 0; iter < maxIterations; iter++ {
		decisionRaw, err := resolver.Resolve(ctx, fullSystemPrompt, routerPrompt(systemPrompt, toolNames, loop), decisionSchema, decisionSchemaDoc)
		c.Operational().LLMCalls++
		engine.EmitTelemetry(ctx, rt, engine.TelemetryEvent{Type: engine.EventLLMCall, ExecutionID: execID, NodeID: n.ID})
		if err != nil {
			if failureSignal != "" {
				c.SetField(outputField, err.Error())
				propagateToParent(ctx, rt, c, contextUpdatesToParent)
				return engine.Signals{failureSignal}, nil
			}
			return nil, fmt.Errorf("agent node %s router stage: %w", n.ID, err)
		}

		var decision AgentDecision
		if err := mapstructure.Decode(decisionRaw, &decision); err != nil {
			return nil, fmt.Errorf("agent node %s: decode router decision: %w", n.ID, err)
		}

		if decision.Action == "finish" {
			return finishAgent(ctx, rt, execID, n, c, vars, loop, fullSystemPrompt, systemPrompt, outputField, outputSchema, failureSignal, contextUpdatesToParent, mainExecID, maxRetries)
		}

		result, callErr := runAgentTool(ctx, rt, execID, n.ID, decision.ToolName, resolver)
		c.Operational().ToolCalls++
		resp := ToolResponse{ToolName: decision.ToolName, Result: result}
		if callErr != nil {
			resp.Error = callErr.Error()
		}
		loop.ToolResponses = append(loop.ToolResponses, resp)
	}

	return nil, fmt.Errorf("agent node %s: exceeded max_iterations (%d) without finishing", n.ID, maxIterations)
}

// runAgentTool runs the parameter stage for toolName, then invokes it,
// emitting the agent-tool-call telemetry trio (§6 AGENT_TOOL_CALL /
// AGENT_TOOL_NOT_FOUND / AGENT_TOOL_RESULT).
func runAgentTool(ctx context.Context, rt *engine.Runtime, execID, nodeID, toolName string, resolver *engine.Resolver) (interface{}, error) {
	toolFunc, ok := rt.Tools.Lookup(toolName)
	if !ok {
		engine.EmitTelemetry(ctx, rt, engine.TelemetryEvent{Type: engine.EventAgentToolNotFound, ExecutionID: execID, NodeID: nodeID, Attrs: map[string]interface{}{"tool": toolName}})
		return nil, fmt.Errorf("tool %q is not registered", toolName)
	}

	engine.EmitTelemetry(ctx, rt, engine.TelemetryEvent{Type: engine.EventAgentToolCall, ExecutionID: execID, NodeID: nodeID, Attrs: map[string]interface{}{"tool": toolName}})

	paramSchemaDoc := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"arguments": map[string]interface{}{"type": "object"}},
		"required":   []interface{}{"arguments"},
	}
	paramSchema, err := engine.CompileSchema(paramSchemaDoc)
	if err != nil {
		return nil, fmt.Errorf("compile parameter schema: %w", err)
	}

	raw, err := resolver.Resolve(ctx, "", parameterPrompt(toolName), paramSchema, paramSchemaDoc)
	if err != nil {
		return nil, fmt.Errorf("parameter stage: %w", err)
	}

	var call AgentToolCall
	if err := mapstructure.Decode(raw, &call); err != nil {
		return nil, fmt.Errorf("decode tool call arguments: %w", err)
	}

	result, callErr := toolFunc(ctx, execID, call.Arguments)
	engine.EmitTelemetry(ctx, rt, engine.TelemetryEvent{Type: engine.EventAgentToolResult, ExecutionID: execID, NodeID: nodeID, Attrs: map[string]interface{}{"tool": toolName, "error": callErr != nil}})
	return result, callErr
}

// finishAgent runs the response stage, evaluates signal_emissions, persists
// the conversation turn, and propagates output_field to a parent execution
// when configured.
func finishAgent(ctx context.Context, rt *engine.Runtime, execID string, n *engine.NodeConfig, c *engine.Context, vars map[string]interface{}, loop *AgentLoopState, fullSystemPrompt, systemPrompt, outputField string, outputSchema map[string]interface{}, failureSignal string, contextUpdatesToParent []string, mainExecID string, maxRetries int) (engine.Signals, error) {
	schemaDoc := engine.BuildDynamicResponseSchema(outputField, outputSchema, n.SignalEmissions)
	compiled, err := engine.CompileSchema(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}

	resolver := engine.NewResolver(rt.LLM, maxRetries)
	responsePrompt := fmt.Sprintf("%s\n\nTool calls made so far: %+v\n\nProduce your final response now.", systemPrompt, loop.ToolResponses)
	decoded, err := resolver.Resolve(ctx, fullSystemPrompt, responsePrompt, compiled, schemaDoc)
	rt.Logger.WithExecutionID(execID).WithNodeName(n.ID).Debug("agent finished", "tool_calls", len(loop.ToolResponses))
	if err != nil {
		if failureSignal != "" {
			c.SetField(outputField, err.Error())
			propagateToParent(ctx, rt, c, contextUpdatesToParent)
			return engine.Signals{failureSignal}, nil
		}
		return nil, fmt.Errorf("response stage: %w", err)
	}

	c.SetField(outputField, decoded[outputField])
	recordConversationTurns(ctx, rt, c, mainExecID, responsePrompt, fmt.Sprintf("%v", decoded[outputField]))

	emissionVars := engine.WithExtra(vars, map[string]interface{}{"output": decoded[outputField]})
	selected, _ := decoded["selected_signal"].(string)
	signals := engine.EvaluateEmissionsWithSelection(ctx, rt, execID, n.ID, n.SignalEmissions, emissionVars, selected)

	propagateToParent(ctx, rt, c, contextUpdatesToParent)

	return signals, nil
}
