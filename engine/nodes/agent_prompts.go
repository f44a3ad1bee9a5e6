package nodes

import "fmt"

// stateInstructions returns the execution_state-specific addendum folded
// into the router-stage prompt (§4.10), mirroring the source's
// lib/prompts.py state-driven instruction blocks.
func stateInstructions(state ExecutionState, loop *AgentLoopState) string {
	switch state {
	case StateInitial:
		return "You have not taken any action yet. Decide whether to call a tool or finish directly."
	case StateToolResponse:
		last := loop.ToolResponses[len(loop.ToolResponses)-1]
		return fmt.Sprintf("Your last tool call (%s) succeeded with result: %v. Decide whether you need another tool or can finish now.", last.ToolName, last.Result)
	case StateToolError:
		last := loop.ToolResponses[len(loop.ToolResponses)-1]
		return fmt.Sprintf("Your last tool call (%s) failed: %s. Decide whether to retry with different arguments, try another tool, or finish.", last.ToolName, last.Error)
	case StateRetry:
		return "Your previous response could not be parsed or validated. Respond again, following the schema exactly."
	default:
		return ""
	}
}

func routerPrompt(systemPrompt string, availableTools []string, loop *AgentLoopState) string {
	state := loop.ExecutionState()
	return fmt.Sprintf(
		"%s\n\nAvailable tools: %v\n\n%s\n\nRespond with a JSON object: {\"action\": \"call_tool\"|\"finish\", \"tool_name\": \"<name, if call_tool>\"}.",
		systemPrompt, availableTools, stateInstructions(state, loop),
	)
}

func parameterPrompt(toolName string) string {
	return fmt.Sprintf("Produce the arguments to call tool %q. Respond with a JSON object: {\"arguments\": {...}}.", toolName)
}
