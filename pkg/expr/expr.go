// Package expr compiles and evaluates the restricted CEL sublanguage rule
// definitions embed. Compiled programs are cached per source string.
package expr

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/spf13/cast"

	"rulehub/pkg/textnorm"
)

// DefaultCostLimit bounds the number of evaluation steps a single
// expression may consume. Expressions exceeding it fail at runtime.
const DefaultCostLimit = 10000

// InputVar is the single variable rule expressions see.
const InputVar = "input"

// Evaluator compiles and runs rule expressions. The environment declares
// only `input` and a fixed set of pure helpers, so anything else (dynamic
// code, timers, network, host access) fails compilation outright.
type Evaluator struct {
	env       *cel.Env
	costLimit uint64

	mu    sync.RWMutex
	cache map[string]*compiled
}

type compiled struct {
	program cel.Program
	output  *cel.Type
}

func NewEvaluator() (*Evaluator, error) {
	return NewEvaluatorWithCostLimit(DefaultCostLimit)
}

func NewEvaluatorWithCostLimit(costLimit uint64) (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(InputVar, cel.MapType(cel.StringType, cel.DynType)),
		cel.Function("similarity",
			cel.Overload("similarity_string_string",
				[]*cel.Type{cel.StringType, cel.StringType}, cel.DoubleType,
				cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
					a, ok := lhs.Value().(string)
					if !ok {
						return types.NewErr("similarity: expected string, got %T", lhs.Value())
					}
					b, ok := rhs.Value().(string)
					if !ok {
						return types.NewErr("similarity: expected string, got %T", rhs.Value())
					}
					return types.Double(textnorm.Similarity(a, b))
				}))),
		cel.Function("noacc",
			cel.Overload("noacc_string",
				[]*cel.Type{cel.StringType}, cel.StringType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					s, ok := v.Value().(string)
					if !ok {
						return types.NewErr("noacc: expected string, got %T", v.Value())
					}
					return types.String(textnorm.StripAccents(s))
				}))),
		cel.Function("strlen",
			cel.Overload("strlen_string",
				[]*cel.Type{cel.StringType}, cel.IntType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					s, ok := v.Value().(string)
					if !ok {
						return types.NewErr("strlen: expected string, got %T", v.Value())
					}
					return types.Int(int64(len([]rune(s))))
				}))),
		cel.Function("minOf",
			cel.Overload("minof_dyn_dyn",
				[]*cel.Type{cel.DynType, cel.DynType}, cel.DoubleType,
				cel.BinaryBinding(numericBinary(func(a, b float64) float64 {
					if a < b {
						return a
					}
					return b
				})))),
		cel.Function("maxOf",
			cel.Overload("maxof_dyn_dyn",
				[]*cel.Type{cel.DynType, cel.DynType}, cel.DoubleType,
				cel.BinaryBinding(numericBinary(func(a, b float64) float64 {
					if a > b {
						return a
					}
					return b
				})))),
		cel.Function("absOf",
			cel.Overload("absof_dyn",
				[]*cel.Type{cel.DynType}, cel.DoubleType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					f, err := cast.ToFloat64E(v.Value())
					if err != nil {
						return types.NewErr("absOf: not a number: %v", v.Value())
					}
					if f < 0 {
						f = -f
					}
					return types.Double(f)
				}))),
		cel.Function("isEmpty",
			cel.Overload("isempty_dyn",
				[]*cel.Type{cel.DynType}, cel.BoolType,
				cel.UnaryBinding(func(v ref.Val) ref.Val {
					return types.Bool(refValEmpty(v))
				}))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{
		env:       env,
		costLimit: costLimit,
		cache:     make(map[string]*compiled),
	}, nil
}

func numericBinary(op func(a, b float64) float64) func(lhs, rhs ref.Val) ref.Val {
	return func(lhs, rhs ref.Val) ref.Val {
		a, err := cast.ToFloat64E(lhs.Value())
		if err != nil {
			return types.NewErr("not a number: %v", lhs.Value())
		}
		b, err := cast.ToFloat64E(rhs.Value())
		if err != nil {
			return types.NewErr("not a number: %v", rhs.Value())
		}
		return types.Double(op(a, b))
	}
}

func refValEmpty(v ref.Val) bool {
	if v == nil || v == types.NullValue {
		return true
	}
	if s, ok := v.Value().(string); ok {
		return s == ""
	}
	if sizer, ok := v.(traits.Sizer); ok {
		return sizer.Size() == types.IntZero
	}
	return false
}

// ValidateExpression compiles the expression without running it. Compile
// failure means the expression uses something outside the declared
// environment and must be rejected at save time.
func (e *Evaluator) ValidateExpression(expression string) error {
	_, err := e.compile(expression)
	return err
}

// ValidateBoolExpression additionally requires the expression to produce a
// boolean, which tree conditions must.
func (e *Evaluator) ValidateBoolExpression(expression string) error {
	c, err := e.compile(expression)
	if err != nil {
		return err
	}
	if c.output != cel.BoolType && c.output != cel.DynType {
		return fmt.Errorf("condition must return bool, got %v", c.output)
	}
	return nil
}

// EvaluateBool runs a boolean condition against the input. A reference to
// a field the input does not carry evaluates to false rather than failing,
// so draft rules can be previewed against partial inputs.
func (e *Evaluator) EvaluateBool(ctx context.Context, expression string, input map[string]interface{}) (bool, error) {
	out, err := e.Evaluate(ctx, expression, input)
	if err != nil {
		if isMissingFieldErr(err) {
			return false, nil
		}
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition did not return bool, got %T", out)
	}
	return b, nil
}

// Evaluate compiles (or reuses) the expression and runs it against the
// input under the configured cost limit.
func (e *Evaluator) Evaluate(ctx context.Context, expression string, input map[string]interface{}) (interface{}, error) {
	c, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	if input == nil {
		input = map[string]interface{}{}
	}
	result, _, err := c.program.ContextEval(ctx, map[string]interface{}{InputVar: input})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	return nativize(result), nil
}

func (e *Evaluator) compile(expression string) (*compiled, error) {
	e.mu.RLock()
	c, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return c, nil
	}

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast, cel.CostLimit(e.costLimit))
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}

	c = &compiled{program: program, output: ast.OutputType()}
	e.mu.Lock()
	e.cache[expression] = c
	e.mu.Unlock()
	return c, nil
}

func isMissingFieldErr(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "no such key") || strings.Contains(msg, "no such attribute")
}

// nativize converts a CEL result into plain Go values so it can be stored
// and serialized without CEL types leaking out.
func nativize(v ref.Val) interface{} {
	switch val := v.(type) {
	case traits.Lister:
		var out []interface{}
		it := val.Iterator()
		for it.HasNext() == types.True {
			out = append(out, nativize(it.Next()))
		}
		return out
	case traits.Mapper:
		out := make(map[string]interface{})
		it := val.Iterator()
		for it.HasNext() == types.True {
			k := it.Next()
			out[fmt.Sprintf("%v", k.Value())] = nativize(val.Get(k))
		}
		return out
	default:
		if v == types.NullValue {
			return nil
		}
		return v.Value()
	}
}
