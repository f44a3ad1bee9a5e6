package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/lyzr/soe/engine"
)

// toStringSlice coerces a decoded JSON array config value into a []string,
// dropping any element that isn't itself a string.
func toStringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// conversationHistoryPrefix renders any turns already recorded for
// mainExecutionID as a transcript prepended to an llm/agent node's system
// prompt (§4.5, §4.10 conversation_history), so successive llm/agent nodes
// sharing one execution behave like turns of a single chat thread rather
// than independent, context-free calls.
func conversationHistoryPrefix(ctx context.Context, rt *engine.Runtime, mainExecutionID string) string {
	if rt.History == nil || mainExecutionID == "" {
		return ""
	}
	turns, err := rt.History.List(ctx, mainExecutionID)
	if err != nil || len(turns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Conversation history:\n")
	for _, t := range turns {
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}
	return b.String()
}

// recordConversationTurns appends the prompt/reply pair to the conversation
// history backend keyed by main_execution_id, when a history backend is
// wired and the execution carries an identity — an identity-less execution
// has no caller session for the history to belong to.
func recordConversationTurns(ctx context.Context, rt *engine.Runtime, c *engine.Context, mainExecutionID, userPrompt, assistantReply string) {
	if rt.History == nil || mainExecutionID == "" {
		return
	}
	if _, ok := c.GetField(engine.FieldIdentityID); !ok {
		return
	}
	_ = rt.History.Append(ctx, engine.ConversationTurn{ExecutionID: mainExecutionID, Role: "user", Content: userPrompt})
	_ = rt.History.Append(ctx, engine.ConversationTurn{ExecutionID: mainExecutionID, Role: "assistant", Content: assistantReply})
}

// propagateToParent pushes the current value of each named field up to the
// parent execution's context when c carries a __parent__ link (§4.11):
// an llm/agent node inside a child workflow applies its own
// context_updates_to_parent as soon as it produces output, rather than
// waiting for the whole child execution to finish.
func propagateToParent(ctx context.Context, rt *engine.Runtime, c *engine.Context, fields []string) {
	if len(fields) == 0 {
		return
	}
	raw, ok := c.GetField(engine.FieldParent)
	if !ok {
		return
	}
	link, ok := raw.(*engine.ParentLink)
	if !ok || link.ExecutionID == "" {
		return
	}
	parentCtx, err := rt.Contexts.Get(ctx, link.ExecutionID)
	if err != nil {
		return
	}
	for _, f := range fields {
		if v, ok := c.GetField(f); ok {
			parentCtx.SetField(f, v)
		}
	}
	_ = rt.Contexts.Save(ctx, link.ExecutionID, parentCtx)
}
