package expr

import "fmt"

// ConditionEvaluator is satisfied by both Evaluator (jinja) and
// CELEvaluator (cel); the engine dispatches to whichever dialect a signal
// emission declares.
type ConditionEvaluator interface {
	EvaluateCondition(source string, vars map[string]interface{}) (bool, error)
}

// Engine bundles both dialects so callers resolve one by language without
// caring which concrete evaluator backs it.
type Engine struct {
	Jinja *Evaluator
	CEL   *CELEvaluator
}

// NewEngine returns an Engine with both dialects initialized.
func NewEngine() *Engine {
	return &Engine{
		Jinja: NewEvaluator(),
		CEL:   NewCELEvaluator(),
	}
}

// For resolves the evaluator for a condition_language value ("" and
// "jinja" both mean the default Jinja dialect).
func (e *Engine) For(language string) (ConditionEvaluator, error) {
	switch language {
	case "", "jinja":
		return e.Jinja, nil
	case "cel":
		return e.CEL, nil
	default:
		return nil, fmt.Errorf("unsupported condition_language: %s", language)
	}
}
