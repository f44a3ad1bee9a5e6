package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDynamicResponseSchemaSingleCandidateOmitsSelectedSignal(t *testing.T) {
	emissions := []SignalEmission{{Condition: "finish up", Signals: Signals{"done"}}}
	doc := BuildDynamicResponseSchema("answer", nil, emissions)
	props := doc["properties"].(map[string]interface{})
	assert.Contains(t, props, "answer")
	assert.NotContains(t, props, "selected_signal")
	assert.Equal(t, []interface{}{"answer"}, doc["required"])
}

func TestBuildDynamicResponseSchemaMultipleCandidatesRequireSelectedSignal(t *testing.T) {
	emissions := []SignalEmission{
		{Condition: "approve the request", Signals: Signals{"approved"}},
		{Condition: "reject the request", Signals: Signals{"rejected"}},
	}
	doc := BuildDynamicResponseSchema("answer", nil, emissions)
	props := doc["properties"].(map[string]interface{})
	require.Contains(t, props, "selected_signal")

	sig := props["selected_signal"].(map[string]interface{})
	assert.Equal(t, []interface{}{"approve the request", "reject the request"}, sig["enum"])
	assert.Equal(t, []interface{}{"answer", "selected_signal"}, doc["required"])
}

func TestBuildDynamicResponseSchemaDefaultsOutputSchemaToString(t *testing.T) {
	doc := BuildDynamicResponseSchema("answer", nil, nil)
	props := doc["properties"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"type": "string"}, props["answer"])
}

func TestBuildDynamicResponseSchemaHonorsCustomOutputSchema(t *testing.T) {
	custom := map[string]interface{}{"type": "integer"}
	doc := BuildDynamicResponseSchema("count", custom, nil)
	props := doc["properties"].(map[string]interface{})
	assert.Equal(t, custom, props["count"])
}

func TestBuildDynamicResponseSchemaIgnoresExpressionAndUnconditionalEmissions(t *testing.T) {
	emissions := []SignalEmission{
		{Signals: Signals{"always"}},
		{Condition: "{{ output }}", Signals: Signals{"matched"}},
		{Condition: "looks good to ship", Signals: Signals{"approve"}},
	}
	doc := BuildDynamicResponseSchema("answer", nil, emissions)
	props := doc["properties"].(map[string]interface{})
	assert.NotContains(t, props, "selected_signal")
}

func TestCompileSchemaValidatesConformingDocument(t *testing.T) {
	schema, err := CompileSchema(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"answer": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"answer"},
	})
	require.NoError(t, err)
	assert.NoError(t, schema.Validate(map[string]interface{}{"answer": "hi"}))
}

func TestCompileSchemaRejectsViolatingDocument(t *testing.T) {
	schema, err := CompileSchema(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"answer": map[string]interface{}{"type": "string"}},
		"required":   []interface{}{"answer"},
	})
	require.NoError(t, err)
	assert.Error(t, schema.Validate(map[string]interface{}{}))
}

func TestCompileSchemaReturnsErrorOnUnmarshalableSchemaDoc(t *testing.T) {
	_, err := CompileSchema(map[string]interface{}{
		"type":    "object",
		"default": make(chan int), // not representable as JSON
	})
	assert.Error(t, err)
}

func TestCompileSchemaReusableAcrossMultipleValidateCalls(t *testing.T) {
	schema, err := CompileSchema(map[string]interface{}{
		"type":       "object",
		"properties": map[string]interface{}{"n": map[string]interface{}{"type": "integer"}},
		"required":   []interface{}{"n"},
	})
	require.NoError(t, err)

	assert.NoError(t, schema.Validate(map[string]interface{}{"n": float64(1)}))
	assert.NoError(t, schema.Validate(map[string]interface{}{"n": float64(2)}))
	assert.Error(t, schema.Validate(map[string]interface{}{"n": "not a number"}))
}
