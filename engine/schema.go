package engine

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// BuildDynamicResponseSchema constructs the JSON Schema document an llm or
// agent node's structured output must satisfy (§4.5 "dynamic response
// model"). outputField/outputSchema describe the node's single declared
// output field; when emissions carries more than one plain-text candidate
// (§4.9 ClassifyEmission/PlainTextCandidates) the schema additionally
// requires a `selected_signal` enum field naming each candidate's condition
// text, matching the source's rule that the LLM must pick among multiple
// plain-text-condition signals itself rather than have the engine guess.
func BuildDynamicResponseSchema(outputField string, outputSchema map[string]interface{}, emissions []SignalEmission) map[string]interface{} {
	if outputSchema == nil {
		outputSchema = map[string]interface{}{"type": "string"}
	}

	properties := map[string]interface{}{
		outputField: outputSchema,
	}
	required := []interface{}{outputField}

	candidates := PlainTextCandidates(emissions)
	if len(candidates) > 1 {
		conditions := make([]string, len(candidates))
		for i, em := range candidates {
			conditions[i] = em.Condition
		}
		properties["selected_signal"] = map[string]interface{}{
			"type": "string",
			"enum": toInterfaceSlice(conditions),
		}
		required = append(required, "selected_signal")
	}

	return map[string]interface{}{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func toInterfaceSlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// CompiledSchema wraps a compiled jsonschema.Schema for reuse across LLM
// resolver retries without recompiling on every attempt.
type CompiledSchema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document (as produced by
// BuildDynamicResponseSchema or loaded from a ContextSchemaBackend).
func CompileSchema(doc map[string]interface{}) (*CompiledSchema, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal schema doc: %w", err)
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode schema doc: %w", err)
	}

	c := jsonschema.NewCompiler()
	const resourceURL = "soe://dynamic-response-schema.json"
	if err := c.AddResource(resourceURL, decoded); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &CompiledSchema{schema: compiled}, nil
}

// Validate checks a decoded JSON value (map[string]interface{}, etc.)
// against the compiled schema, returning a jsonschema.ValidationError (or
// a wrapping error) describing every field mismatch when it fails — the
// LLM resolver feeds that message back to the model on retry (§4.6).
func (s *CompiledSchema) Validate(data interface{}) error {
	return s.schema.Validate(data)
}
