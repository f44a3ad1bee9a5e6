// Package expr implements the expression layer: Jinja2-compatible prompt
// rendering and condition evaluation (via gonja), with an optional CEL
// dialect for emissions that opt into condition_language: cel.
package expr

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/exec"
	"github.com/tidwall/gjson"
)

// Evaluator renders Jinja templates and evaluates Jinja conditions against
// a context view, caching compiled templates by source text the same way
// the teacher's CEL evaluator caches compiled programs.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*exec.Template
	env   *exec.Environment
}

// NewEvaluator returns an Evaluator with the accumulated filter registered.
func NewEvaluator() *Evaluator {
	env := gonja.DefaultEnv
	env.Filters.Register("accumulated", accumulatedFilter)
	return &Evaluator{
		cache: make(map[string]*exec.Template),
		env:   env,
	}
}

func (e *Evaluator) compile(source string) (*exec.Template, error) {
	e.mu.RLock()
	tpl, ok := e.cache[source]
	e.mu.RUnlock()
	if ok {
		return tpl, nil
	}

	tpl, err := gonja.FromString(source)
	if err != nil {
		return nil, fmt.Errorf("compile template: %w", err)
	}

	e.mu.Lock()
	e.cache[source] = tpl
	e.mu.Unlock()
	return tpl, nil
}

// Render executes a Jinja template against the supplied variable bindings,
// typically built from the current node's context view (§4.8).
func (e *Evaluator) Render(source string, vars map[string]interface{}) (string, error) {
	tpl, err := e.compile(source)
	if err != nil {
		return "", err
	}
	out, err := tpl.Execute(gonja.Context(vars))
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

// EvaluateCondition renders a Jinja expression and interprets its output as
// a boolean the way a router/tool/llm/agent signal condition is evaluated:
// a rendered result is truthy unless, trimmed and lower-cased, it is empty,
// "false", "0", "none" or "null". Evaluation
// errors are returned to the caller rather than swallowed here — callers
// that must treat a condition error as a non-match (the engine's swallow-
// on-error policy) are responsible for doing so at the call site, since
// that policy is a node-execution concern, not an expression-layer one.
func (e *Evaluator) EvaluateCondition(source string, vars map[string]interface{}) (bool, error) {
	rendered, err := e.Render(source, vars)
	if err != nil {
		return false, err
	}
	trimmed := strings.TrimSpace(strings.ToLower(rendered))
	switch trimmed {
	case "", "false", "0", "none", "null":
		return false, nil
	default:
		return true, nil
	}
}

// FlattenJSONPaths walks vars for any string value referenced as a
// "result.some.nested.path" style accessor and makes nested JSON fields
// addressable to gonja by pre-extracting them with gjson, mirroring how
// the teacher's resolver.go flattens "$nodes.id.field" before evaluation.
// raw is typically a tool/LLM result that was serialized to JSON text.
func FlattenJSONPaths(raw string, paths []string) map[string]interface{} {
	out := make(map[string]interface{}, len(paths))
	for _, p := range paths {
		res := gjson.Get(raw, p)
		if res.Exists() {
			out[p] = res.Value()
		}
	}
	return out
}
