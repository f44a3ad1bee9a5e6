package expr

import (
	"fmt"
	"strings"

	"github.com/nikolalohinski/gonja/exec"
)

// accumulatedFilter implements the `accumulated` Jinja filter (§4.8): given
// a field's full history (already resolved into a list by the context
// builder via Context.GetAccumulated), render it as a newline-joined list
// of its elements for use inside a prompt. An optional integer argument
// limits rendering to the last N entries.
//
//	{{ notes | accumulated }}
//	{{ notes | accumulated(3) }}
func accumulatedFilter(in *exec.Value, params *exec.VarArgs) *exec.Value {
	items, ok := in.Interface().([]interface{})
	if !ok {
		// Not a history-shaped value: fall back to treating it as a
		// single-element accumulation so the filter never errors on a
		// plain scalar field.
		items = []interface{}{in.Interface()}
	}

	limit := len(items)
	if len(params.Args) > 0 {
		if n, ok := params.Args[0].Interface().(int); ok && n >= 0 && n < limit {
			limit = n
		}
	}
	start := len(items) - limit

	lines := make([]string, 0, limit)
	for _, v := range items[start:] {
		lines = append(lines, fmt.Sprintf("- %v", v))
	}

	return exec.AsValue(strings.Join(lines, "\n"))
}
