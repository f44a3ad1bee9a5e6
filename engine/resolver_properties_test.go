package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestPropertyResolverRoundTripsValidJSONWithoutRetries is half of P8: any
// value matching schema S parses successfully in exactly one call.
func TestPropertyResolverRoundTripsValidJSONWithoutRetries(t *testing.T) {
	schema, doc := testSchema(t)

	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)

	properties.Property("a schema-conforming response resolves on the first call", prop.ForAll(
		func(answer string) bool {
			caller := &scriptedCaller{responses: []string{fmt.Sprintf(`{"answer": %q}`, answer)}}
			r := NewResolver(caller, 3)

			out, err := r.Resolve(context.Background(), "", "q", schema, doc)
			return err == nil && out["answer"] == answer && caller.calls == 1
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

// TestPropertyResolverExhaustsExactlyConfiguredRetries is the other half of
// P8: a response that always violates schema S causes exactly
// maxRetries+1 calls before raising.
func TestPropertyResolverExhaustsExactlyConfiguredRetries(t *testing.T) {
	schema, doc := testSchema(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("a persistently invalid response is retried exactly maxRetries times", prop.ForAll(
		func(maxRetries int) bool {
			// "missing" never satisfies the required "answer" field, so the
			// resolver must retry until exhaustion every time.
			caller := &scriptedCaller{responses: []string{`{"missing": "field"}`}}
			r := NewResolver(caller, maxRetries)

			_, err := r.Resolve(context.Background(), "", "q", schema, doc)
			return err != nil && caller.calls == maxRetries+1
		},
		gen.IntRange(0, 5),
	))

	properties.TestingRun(t)
}
