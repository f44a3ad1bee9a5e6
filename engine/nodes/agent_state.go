package nodes

// ExecutionState names where an agent's loop currently sits, driving which
// state-specific instructions get folded into its router-stage prompt
// (§4.10).
type ExecutionState string

const (
	StateInitial     ExecutionState = "initial"
	StateToolResponse ExecutionState = "tool_response"
	StateToolError    ExecutionState = "tool_error"
	StateRetry        ExecutionState = "retry"
)

// ToolResponse records one completed tool call made during an agent's
// loop, success or failure.
type ToolResponse struct {
	ToolName string                 `json:"tool_name"`
	Params   map[string]interface{} `json:"params"`
	Result   interface{}            `json:"result,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// AgentLoopState holds an agent node's in-flight three-stage loop state
// across iterations. Agent.Execute appends each tool call to
// ToolResponses; it does not write ConversationHistory, Errors or
// RetryCount, so those keep their zero values.
type AgentLoopState struct {
	ToolResponses       []ToolResponse `json:"tool_responses"`
	ConversationHistory []string       `json:"conversation_history"`
	Errors              []string       `json:"errors"`
	RetryCount          int            `json:"retry_count"`
}

// ExecutionState derives the current state label from the loop's history
// (§4.10): initial (no tool call yet), tool_response/tool_error (the most
// recent tool call's outcome), or retry (RetryCount > 0). Agent.Execute
// never raises RetryCount, so during an agent run the state is initial,
// tool_response or tool_error; an unknown tool name counts as a tool_error.
func (s *AgentLoopState) ExecutionState() ExecutionState {
	if s.RetryCount > 0 {
		return StateRetry
	}
	if len(s.ToolResponses) == 0 {
		return StateInitial
	}
	last := s.ToolResponses[len(s.ToolResponses)-1]
	if last.Error != "" {
		return StateToolError
	}
	return StateToolResponse
}

// AgentDecision is the router-stage structured output: whether to call a
// tool or finish with a final response.
type AgentDecision struct {
	Action   string `mapstructure:"action"`
	ToolName string `mapstructure:"tool_name"`
}

// AgentToolCall is the parameter-stage structured output: the arguments to
// invoke ToolName with.
type AgentToolCall struct {
	Arguments map[string]interface{} `mapstructure:"arguments"`
}
