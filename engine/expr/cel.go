package expr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
)

// CELEvaluator implements the opt-in `condition_language: cel` dialect
// (SPEC_FULL.md domain stack) for router/tool signal emissions that prefer
// typed boolean expressions over Jinja truthiness. Variables are exposed
// as `ctx` (the full context view) and `output` (the triggering node's
// most recent result), with a `$.field` JSONPath shorthand rewritten to
// `output.field` for parity with the Jinja dialect's ergonomics.
type CELEvaluator struct {
	cache map[string]cel.Program
	mu    sync.RWMutex
}

// NewCELEvaluator creates a new CEL condition evaluator with caching.
func NewCELEvaluator() *CELEvaluator {
	return &CELEvaluator{
		cache: make(map[string]cel.Program),
	}
}

// EvaluateCondition evaluates a CEL boolean expression against a context
// view and an optional triggering output value.
func (e *CELEvaluator) EvaluateCondition(source string, vars map[string]interface{}) (bool, error) {
	var output interface{}
	if v, ok := vars["output"]; ok {
		output = v
	}
	return e.evaluateCEL(source, output, vars)
}

// evaluateCEL evaluates a CEL expression
func (e *CELEvaluator) evaluateCEL(expr string, output, context interface{}) (bool, error) {
	// Convert JSONPath-style $.field to CEL output.field for compatibility
	// This allows workflows to use $.approved instead of output.approved
	normalizedExpr := strings.ReplaceAll(expr, "$.", "output.")

	// Check cache first
	e.mu.RLock()
	prg, exists := e.cache[normalizedExpr]
	e.mu.RUnlock()

	if !exists {
		// Compile and cache
		var err error
		prg, err = e.compileCEL(normalizedExpr)
		if err != nil {
			return false, err
		}

		e.mu.Lock()
		e.cache[normalizedExpr] = prg
		e.mu.Unlock()
	}

	// Evaluate
	out, _, err := prg.Eval(map[string]interface{}{
		"output": output,
		"ctx":    context,
	})

	if err != nil {
		return false, fmt.Errorf("CEL evaluation error: %w", err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return boolean, got %T", out.Value())
	}

	return result, nil
}

// compileCEL compiles a CEL expression
func (e *CELEvaluator) compileCEL(expr string) (cel.Program, error) {
	// Create CEL environment with variables
	env, err := cel.NewEnv(
		cel.Variable("output", cel.DynType),
		cel.Variable("ctx", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	// Compile expression
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation error: %w", issues.Err())
	}

	// Create program
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return prg, nil
}

// ClearCache clears the compiled expression cache
func (e *CELEvaluator) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cel.Program)
}

// CacheSize returns the number of cached expressions
func (e *CELEvaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
