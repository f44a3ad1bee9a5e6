package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkTagRe = regexp.MustCompile(`(?is)<think>.*?</think>`)
var codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// Resolver implements the LLM resolver (§4.6): it renders a request,
// appends schema-derived output instructions, calls the LLM, strips
// reasoning scaffolding, extracts the JSON payload, validates it against
// the dynamic response schema, and retries with field-error feedback on
// mismatch, raising once retries are exhausted.
type Resolver struct {
	llm        LLMCaller
	maxRetries int
}

// NewResolver builds a Resolver around an LLMCaller with the given retry
// budget (0 means "try once, never retry").
func NewResolver(llm LLMCaller, maxRetries int) *Resolver {
	return &Resolver{llm: llm, maxRetries: maxRetries}
}

// Resolve calls the LLM with systemPrompt/userPrompt, appending JSON
// schema instructions derived from schema, and returns the parsed,
// schema-valid response object. On a parse or validation failure it
// retries with the prior attempt's error appended to the user prompt, up
// to maxRetries additional attempts.
func (r *Resolver) Resolve(ctx context.Context, systemPrompt, userPrompt string, schema *CompiledSchema, schemaDoc map[string]interface{}) (map[string]interface{}, error) {
	instructions, err := schemaInstructions(schemaDoc)
	if err != nil {
		return nil, fmt.Errorf("build schema instructions: %w", err)
	}

	prompt := userPrompt + "\n\n" + instructions
	var lastErr error

	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		raw, err := r.llm.Call(ctx, systemPrompt, prompt)
		if err != nil {
			// call_llm exceptions escape immediately (§4.6): only the
			// resolver's own JSON-parse/schema-validation failures are
			// worth retrying, since a provider-level error won't be fixed
			// by appending feedback to the same prompt.
			return nil, fmt.Errorf("llm call failed: %w", err)
		}

		jsonText := extractJSON(stripThinkTags(raw))
		if jsonText == "" {
			lastErr = fmt.Errorf("no JSON object found in response")
			prompt = userPrompt + "\n\n" + instructions + "\n\nYour previous response did not contain a JSON object. Respond with JSON only."
			continue
		}

		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(jsonText), &decoded); err != nil {
			lastErr = fmt.Errorf("invalid JSON: %w", err)
			prompt = userPrompt + "\n\n" + instructions + fmt.Sprintf("\n\nYour previous response was not valid JSON: %v. Try again.", err)
			continue
		}

		if schema != nil {
			if err := schema.Validate(decoded); err != nil {
				lastErr = fmt.Errorf("schema validation failed: %w", err)
				prompt = userPrompt + "\n\n" + instructions + fmt.Sprintf("\n\nYour previous response did not match the required schema: %v. Correct the fields and respond again.", err)
				continue
			}
		}

		return decoded, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded resolving LLM response: %w", r.maxRetries, lastErr)
}

// schemaInstructions renders the schema document as a natural-language
// instruction block appended to the user prompt so a plain-text LLM
// caller (no native structured-output mode) still produces schema-shaped
// JSON.
func schemaInstructions(schemaDoc map[string]interface{}) (string, error) {
	raw, err := json.MarshalIndent(schemaDoc, "", "  ")
	if err != nil {
		return "", err
	}
	return "Respond with a single JSON object matching exactly this JSON Schema (no prose, no markdown fence):\n" + string(raw), nil
}

// stripThinkTags removes <think>...</think> reasoning scaffolding some
// models emit before their answer.
func stripThinkTags(s string) string {
	return thinkTagRe.ReplaceAllString(s, "")
}

// extractJSON pulls the JSON payload out of a raw LLM response: first by
// looking for a ```json fenced block, then by scanning for the first
// balanced {...} object in the text.
func extractJSON(s string) string {
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}

	start := strings.IndexByte(s, '{')
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
