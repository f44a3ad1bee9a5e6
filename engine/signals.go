package engine

import (
	"context"
	"fmt"
	"strings"
)

// EmissionKind classifies a signal emission's condition for the automatic
// plain-text-vs-expression detection §4.9 requires: a workflow author never
// declares which signals need LLM-driven selection, the engine infers it
// from whether the condition string looks like an expression at all.
type EmissionKind int

const (
	// EmissionUnconditional has no condition and always fires.
	EmissionUnconditional EmissionKind = iota
	// EmissionExpression has a Jinja/CEL condition evaluated deterministically.
	EmissionExpression
	// EmissionPlainText has a non-empty condition with no expression
	// syntax in it under the Jinja dialect — a human-readable description
	// an LLM chooses among, not something this engine can evaluate itself.
	EmissionPlainText
)

// ClassifyEmission inspects em.Condition to decide how it must be resolved.
// CEL conditions are always expressions (the dialect has no plain-text
// mode); a Jinja condition is an expression only if it actually contains
// "{{" or "{%", otherwise it is free-form text meant for an LLM to pick
// among (§4.9).
func ClassifyEmission(em SignalEmission) EmissionKind {
	if em.Condition == "" {
		return EmissionUnconditional
	}
	if em.Language() == ConditionLanguageCEL {
		return EmissionExpression
	}
	if strings.Contains(em.Condition, "{{") || strings.Contains(em.Condition, "{%") {
		return EmissionExpression
	}
	return EmissionPlainText
}

// PlainTextCandidates returns the subset of emissions classified as plain
// text — the ones an LLM/agent node's dynamic response schema must offer as
// a selected_signal choice (§4.9).
func PlainTextCandidates(emissions []SignalEmission) []SignalEmission {
	var out []SignalEmission
	for _, em := range emissions {
		if ClassifyEmission(em) == EmissionPlainText {
			out = append(out, em)
		}
	}
	return out
}

// evaluateConditional walks every unconditional/expression emission (never
// plain-text ones) and returns the union of signals from every match. A
// condition evaluation error is swallowed and treated as a non-match: it is
// logged as a CONTEXT_WARNING telemetry event and evaluation continues with
// the remaining emissions rather than failing the node (§4.8, §7).
func evaluateConditional(ctx context.Context, rt *Runtime, execID, nodeID string, emissions []SignalEmission, vars map[string]interface{}) Signals {
	var out Signals
	for _, em := range emissions {
		switch ClassifyEmission(em) {
		case EmissionUnconditional:
			out = append(out, em.Signals...)
		case EmissionPlainText:
			continue
		default:
			evaluator, err := rt.Expr.For(string(em.Language()))
			if err != nil {
				rt.emitTelemetry(ctx, TelemetryEvent{
					Type: EventContextWarn, ExecutionID: execID, NodeID: nodeID,
					Attrs: map[string]interface{}{"reason": "unresolvable condition_language", "error": err.Error()},
				})
				continue
			}

			matched, err := evaluator.EvaluateCondition(em.Condition, vars)
			if err != nil {
				rt.emitTelemetry(ctx, TelemetryEvent{
					Type: EventContextWarn, ExecutionID: execID, NodeID: nodeID,
					Attrs: map[string]interface{}{"reason": "condition evaluation failed", "error": err.Error(), "condition": em.Condition},
				})
				continue
			}
			if matched {
				out = append(out, em.Signals...)
			}
		}
	}
	return out
}

// EvaluateEmissions is the signal-emission policy for node kinds with no
// LLM to defer selection to (router, tool, child): every
// unconditional/expression emission is resolved as usual, and a lone
// plain-text emission is simply emitted since there is nothing to choose
// among. More than one plain-text emission with no LLM available to select
// one is a runtime error (§4.9's "multiple plain-text signals without a
// selector" rule).
func EvaluateEmissions(ctx context.Context, rt *Runtime, execID, nodeID string, emissions []SignalEmission, vars map[string]interface{}) (Signals, error) {
	out := evaluateConditional(ctx, rt, execID, nodeID, emissions, vars)

	candidates := PlainTextCandidates(emissions)
	switch len(candidates) {
	case 0:
		return out, nil
	case 1:
		return append(out, candidates[0].Signals...), nil
	default:
		return out, fmt.Errorf("node %q: %d plain-text signal emissions but no LLM to select among them", nodeID, len(candidates))
	}
}

// EvaluateEmissionsWithSelection is the signal-emission policy for llm/agent
// nodes (§4.5, §4.9): unconditional/expression emissions resolve the same
// way, and when the node's structured output names a selected_signal among
// the plain-text candidates, that one emission's signals are added too. A
// selected_signal that names no known candidate is ignored, not an error —
// the conditional/unconditional emissions still stand on their own.
func EvaluateEmissionsWithSelection(ctx context.Context, rt *Runtime, execID, nodeID string, emissions []SignalEmission, vars map[string]interface{}, selected string) Signals {
	out := evaluateConditional(ctx, rt, execID, nodeID, emissions, vars)
	if selected == "" {
		return out
	}
	for _, em := range PlainTextCandidates(emissions) {
		if em.Condition == selected {
			out = append(out, em.Signals...)
			break
		}
	}
	return out
}
