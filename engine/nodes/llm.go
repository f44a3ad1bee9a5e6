package nodes

import (
	"context"
	"fmt"

	"github.com/lyzr/soe/engine"
)

// LLM implements the llm node (§4.5): render the configured prompt, resolve
// against the dynamic response schema via the LLM resolver (§4.6), store
// the structured output under config.output_field, and evaluate
// signal_emissions with `output` bound. Plain-text signal emissions are
// automatically offered to the model as a selected_signal choice (§4.9) —
// a workflow author never lists them separately. A resolver failure that
// survives retries broadcasts config.llm_failure_signal (when configured)
// instead of aborting the node, after writing the error text to
// output_field so downstream router conditions can inspect it.
type LLM struct{}

// Execute satisfies engine.NodeExecutor.
func (LLM) Execute(ctx context.Context, rt *engine.Runtime, execID string, n *engine.NodeConfig, c *engine.Context) (engine.Signals, error) {
	promptTmpl, _ := n.Config["prompt"].(string)
	if promptTmpl == "" {
		return nil, engine.NewOperationalError(n.ID, "llm node missing config.prompt", nil)
	}
	systemPrompt, _ := n.Config["system_prompt"].(string)
	outputField, _ := n.Config["output_field"].(string)
	if outputField == "" {
		outputField = "output"
	}
	outputSchema, _ := n.Config["output_schema"].(map[string]interface{})
	failureSignal, _ := n.Config["llm_failure_signal"].(string)
	contextUpdatesToParent := toStringSlice(n.Config["context_updates_to_parent"])

	vars := engine.BuildVars(c)
	prompt, err := rt.Expr.Jinja.Render(promptTmpl, vars)
	if err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	mainExecID := c.Operational().MainExecutionID
	fullSystemPrompt := conversationHistoryPrefix(ctx, rt, mainExecID) + systemPrompt

	schemaDoc := engine.BuildDynamicResponseSchema(outputField, outputSchema, n.SignalEmissions)
	compiled, err := engine.CompileSchema(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("compile dynamic response schema: %w", err)
	}

	maxRetries := rt.MaxRetries
	if v, ok := n.Config["max_retries"].(int); ok {
		maxRetries = v
	}
	resolver := engine.NewResolver(rt.LLM, maxRetries)

	decoded, err := resolver.Resolve(ctx, fullSystemPrompt, prompt, compiled, schemaDoc)
	c.Operational().LLMCalls++
	engine.EmitTelemetry(ctx, rt, engine.TelemetryEvent{Type: engine.EventLLMCall, ExecutionID: execID, NodeID: n.ID})
	if err != nil {
		if failureSignal == "" {
			return nil, fmt.Errorf("llm node %s: %w", n.ID, err)
		}
		c.SetField(outputField, err.Error())
		propagateToParent(ctx, rt, c, contextUpdatesToParent)
		return engine.Signals{failureSignal}, nil
	}

	c.SetField(outputField, decoded[outputField])
	recordConversationTurns(ctx, rt, c, mainExecID, prompt, fmt.Sprintf("%v", decoded[outputField]))

	emissionVars := engine.WithExtra(vars, map[string]interface{}{"output": decoded[outputField]})
	selected, _ := decoded["selected_signal"].(string)
	signals := engine.EvaluateEmissionsWithSelection(ctx, rt, execID, n.ID, n.SignalEmissions, emissionVars, selected)

	propagateToParent(ctx, rt, c, contextUpdatesToParent)

	return signals, nil
}
