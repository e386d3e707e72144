// Package engine evaluates rules against input records. Interpreter
// failures are reported inside the Result, never as Go errors, so one
// broken rule cannot abort a batch evaluation.
package engine

import (
	"context"
	"fmt"
	"time"

	"rulehub/internal/logger"
	"rulehub/internal/rules"
	"rulehub/pkg/expr"
)

// Result is the outcome of evaluating one rule against one input.
type Result struct {
	RuleID          string      `json:"rule_id"`
	Success         bool        `json:"success"`
	Output          interface{} `json:"output,omitempty"`
	Error           string      `json:"error,omitempty"`
	ExecutionTimeMs float64     `json:"execution_time_ms"`
}

type Engine struct {
	eval *expr.Evaluator
	log  logger.Logger
}

func New(eval *expr.Evaluator, log logger.Logger) *Engine {
	return &Engine{eval: eval, log: log}
}

// Evaluator exposes the underlying expression evaluator, which the rule
// validator shares so save-time compilation and runtime use one cache.
func (e *Engine) Evaluator() *expr.Evaluator {
	return e.eval
}

// Evaluate dispatches on the rule kind. Panics inside an interpreter are
// recovered into a failed Result.
func (e *Engine) Evaluate(ctx context.Context, rule *rules.Rule, input map[string]interface{}) (result *Result) {
	start := time.Now()
	result = &Result{RuleID: rule.ID}

	defer func() {
		result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
		if r := recover(); r != nil {
			result.Success = false
			result.Output = nil
			result.Error = fmt.Sprintf("evaluation panicked: %v", r)
			e.log.ErrorwCtx(ctx, "rule evaluation panicked",
				"rule_id", rule.ID,
				"panic", fmt.Sprintf("%v", r),
			)
		}
	}()

	switch rule.Kind {
	case rules.KindDecisionTree:
		e.evalTree(ctx, rule, input, result)
	case rules.KindDecisionTable:
		e.evalTable(rule, input, result)
	case rules.KindScript:
		e.evalScript(ctx, rule, input, result)
	default:
		result.Error = fmt.Sprintf("unsupported rule kind: %s", rule.Kind)
	}

	return result
}

func (e *Engine) evalScript(ctx context.Context, rule *rules.Rule, input map[string]interface{}, result *Result) {
	if rule.Script == nil {
		result.Error = "script rule has no script payload"
		return
	}
	if rule.Script.Language != rules.ScriptLanguage {
		result.Error = fmt.Sprintf("unsupported script language: %s", rule.Script.Language)
		return
	}

	out, err := e.eval.Evaluate(ctx, rule.Script.Source, input)
	if err != nil {
		result.Error = err.Error()
		return
	}

	result.Success = true
	result.Output = out
}
