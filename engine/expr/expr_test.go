package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluatorRenderSubstitutesVars(t *testing.T) {
	e := NewEvaluator()
	out, err := e.Render("hello {{ name }}", map[string]interface{}{"name": "world"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestEvaluatorCachesCompiledTemplates(t *testing.T) {
	e := NewEvaluator()
	_, err := e.Render("{{ x }}", map[string]interface{}{"x": 1})
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)

	_, err = e.Render("{{ x }}", map[string]interface{}{"x": 2})
	require.NoError(t, err)
	assert.Len(t, e.cache, 1)
}

func TestEvaluatorEvaluateConditionTruthyRules(t *testing.T) {
	e := NewEvaluator()

	cases := []struct {
		tmpl string
		vars map[string]interface{}
		want bool
	}{
		{"{{ flag }}", map[string]interface{}{"flag": true}, true},
		{"{{ flag }}", map[string]interface{}{"flag": false}, false},
		{"{{ missing }}", map[string]interface{}{}, false},
		{"{{ value }}", map[string]interface{}{"value": "0"}, false},
		{"{{ value }}", map[string]interface{}{"value": "something"}, true},
	}
	for _, tc := range cases {
		got, err := e.EvaluateCondition(tc.tmpl, tc.vars)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, "template %q vars %v", tc.tmpl, tc.vars)
	}
}

func TestEvaluatorEvaluateConditionReturnsErrorOnBadFilter(t *testing.T) {
	e := NewEvaluator()
	_, err := e.EvaluateCondition("{{ x | no_such_filter }}", map[string]interface{}{"x": 1})
	assert.Error(t, err)
}

func TestAccumulatedFilterJoinsHistoryWithDashes(t *testing.T) {
	e := NewEvaluator()
	out, err := e.Render("{{ notes | accumulated }}", map[string]interface{}{
		"notes": []interface{}{"first", "second", "third"},
	})
	require.NoError(t, err)
	assert.Equal(t, "- first\n- second\n- third", out)
}

func TestAccumulatedFilterRespectsLimitArgument(t *testing.T) {
	e := NewEvaluator()
	out, err := e.Render("{{ notes | accumulated(2) }}", map[string]interface{}{
		"notes": []interface{}{"first", "second", "third"},
	})
	require.NoError(t, err)
	assert.Equal(t, "- second\n- third", out)
}

func TestAccumulatedFilterFallsBackOnScalar(t *testing.T) {
	e := NewEvaluator()
	out, err := e.Render("{{ note | accumulated }}", map[string]interface{}{"note": "solo"})
	require.NoError(t, err)
	assert.Equal(t, "- solo", out)
}

func TestEngineForResolvesJinjaByDefault(t *testing.T) {
	eng := NewEngine()

	ev, err := eng.For("")
	require.NoError(t, err)
	assert.Same(t, eng.Jinja, ev)

	ev, err = eng.For("jinja")
	require.NoError(t, err)
	assert.Same(t, eng.Jinja, ev)
}

func TestEngineForResolvesCEL(t *testing.T) {
	eng := NewEngine()
	ev, err := eng.For("cel")
	require.NoError(t, err)
	assert.Same(t, eng.CEL, ev)
}

func TestEngineForRejectsUnknownDialect(t *testing.T) {
	eng := NewEngine()
	_, err := eng.For("xslt")
	assert.Error(t, err)
}

func TestCELEvaluatorEvaluatesBooleanExpression(t *testing.T) {
	c := NewCELEvaluator()
	got, err := c.EvaluateCondition("output.approved == true", map[string]interface{}{
		"output": map[string]interface{}{"approved": true},
	})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCELEvaluatorRewritesDollarShorthand(t *testing.T) {
	c := NewCELEvaluator()
	got, err := c.EvaluateCondition("$.score > 5.0", map[string]interface{}{
		"output": map[string]interface{}{"score": 9.0},
	})
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCELEvaluatorErrorsOnNonBooleanResult(t *testing.T) {
	c := NewCELEvaluator()
	_, err := c.EvaluateCondition(`"not a bool"`, map[string]interface{}{})
	assert.Error(t, err)
}

func TestCELEvaluatorCachesCompiledPrograms(t *testing.T) {
	c := NewCELEvaluator()
	_, err := c.EvaluateCondition("true", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, 1, c.CacheSize())

	_, err = c.EvaluateCondition("true", map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, 1, c.CacheSize())

	c.ClearCache()
	assert.Equal(t, 0, c.CacheSize())
}

func TestFlattenJSONPathsExtractsNestedFields(t *testing.T) {
	raw := `{"result": {"nested": {"path": "value"}}, "count": 3}`
	out := FlattenJSONPaths(raw, []string{"result.nested.path", "count", "missing.field"})

	assert.Equal(t, "value", out["result.nested.path"])
	assert.Equal(t, float64(3), out["count"])
	_, ok := out["missing.field"]
	assert.False(t, ok)
}
