package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedCaller struct {
	responses []string
	errs      []error
	calls     int
}

func (s *scriptedCaller) Call(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	i := s.calls
	s.calls++
	var resp string
	var err error
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return resp, err
}

func testSchema(t *testing.T) (*CompiledSchema, map[string]interface{}) {
	t.Helper()
	doc := map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"answer": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"answer"},
	}
	compiled, err := CompileSchema(doc)
	require.NoError(t, err)
	return compiled, doc
}

func TestResolverParsesFencedJSONOnFirstTry(t *testing.T) {
	schema, doc := testSchema(t)
	caller := &scriptedCaller{responses: []string{"```json\n{\"answer\": \"42\"}\n```"}}
	r := NewResolver(caller, 2)

	out, err := r.Resolve(context.Background(), "", "what is it?", schema, doc)
	require.NoError(t, err)
	assert.Equal(t, "42", out["answer"])
	assert.Equal(t, 1, caller.calls)
}

func TestResolverStripsThinkTagsBeforeExtracting(t *testing.T) {
	schema, doc := testSchema(t)
	caller := &scriptedCaller{responses: []string{"<think>reasoning here</think>{\"answer\": \"yes\"}"}}
	r := NewResolver(caller, 0)

	out, err := r.Resolve(context.Background(), "", "q", schema, doc)
	require.NoError(t, err)
	assert.Equal(t, "yes", out["answer"])
}

func TestResolverRetriesOnInvalidJSONThenSucceeds(t *testing.T) {
	schema, doc := testSchema(t)
	caller := &scriptedCaller{responses: []string{
		"not json at all",
		"{\"answer\": \"recovered\"}",
	}}
	r := NewResolver(caller, 2)

	out, err := r.Resolve(context.Background(), "", "q", schema, doc)
	require.NoError(t, err)
	assert.Equal(t, "recovered", out["answer"])
	assert.Equal(t, 2, caller.calls)
}

func TestResolverRetriesOnSchemaViolationThenSucceeds(t *testing.T) {
	schema, doc := testSchema(t)
	caller := &scriptedCaller{responses: []string{
		"{\"wrong_field\": \"oops\"}",
		"{\"answer\": \"fixed\"}",
	}}
	r := NewResolver(caller, 2)

	out, err := r.Resolve(context.Background(), "", "q", schema, doc)
	require.NoError(t, err)
	assert.Equal(t, "fixed", out["answer"])
}

func TestResolverExhaustsRetriesAndReturnsError(t *testing.T) {
	schema, doc := testSchema(t)
	caller := &scriptedCaller{responses: []string{"nope", "still nope", "nope again"}}
	r := NewResolver(caller, 2)

	_, err := r.Resolve(context.Background(), "", "q", schema, doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries (2) exceeded resolving LLM response")
	assert.Equal(t, 3, caller.calls)
}

func TestResolverPropagatesLLMCallError(t *testing.T) {
	schema, doc := testSchema(t)
	caller := &scriptedCaller{errs: []error{errors.New("provider unavailable")}}
	r := NewResolver(caller, 0)

	_, err := r.Resolve(context.Background(), "", "q", schema, doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider unavailable")
}

func TestExtractJSONFindsBalancedObjectAmidProse(t *testing.T) {
	s := extractJSON(`Sure, here you go: {"a": {"nested": 1}, "b": [1,2,3]} hope that helps`)
	assert.Equal(t, `{"a": {"nested": 1}, "b": [1,2,3]}`, s)
}

func TestExtractJSONIgnoresBracesInsideStrings(t *testing.T) {
	s := extractJSON(`{"note": "a { brace } inside a string"}`)
	assert.Equal(t, `{"note": "a { brace } inside a string"}`, s)
}

func TestExtractJSONReturnsEmptyWhenNoObjectPresent(t *testing.T) {
	assert.Equal(t, "", extractJSON("just plain prose, no json here"))
}

func TestStripThinkTagsRemovesMultilineBlock(t *testing.T) {
	in := "<think>\nlots of\nreasoning\n</think>\nfinal answer"
	assert.Equal(t, "\nfinal answer", stripThinkTags(in))
}
