package expr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid simple expression",
			expr:      `input.status == "active"`,
			wantError: false,
		},
		{
			name:      "valid numeric comparison",
			expr:      `input.amount > 100.0`,
			wantError: false,
		},
		{
			name:      "valid helper call",
			expr:      `similarity(input.name, "acme corp") > 0.8`,
			wantError: false,
		},
		{
			name:      "invalid expression",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `undefinedVar == "test"`,
			wantError: true,
		},
		{
			name:      "undeclared function",
			expr:      `now() > input.deadline`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateBoolExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid bool expression",
			expr:      `input.status == "active"`,
			wantError: false,
		},
		{
			name:      "dyn field access is allowed",
			expr:      `input.flags.enabled`,
			wantError: false,
		},
		{
			name:      "non-bool expression",
			expr:      `"just a string"`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateBoolExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateBool(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		name  string
		expr  string
		input map[string]interface{}
		want  bool
	}{
		{
			name:  "string equality",
			expr:  `input.status == "active"`,
			input: map[string]interface{}{"status": "active"},
			want:  true,
		},
		{
			name:  "numeric threshold",
			expr:  `input.amount > 100.0`,
			input: map[string]interface{}{"amount": 250.5},
			want:  true,
		},
		{
			name:  "threshold not met",
			expr:  `input.amount > 100.0`,
			input: map[string]interface{}{"amount": 50.0},
			want:  false,
		},
		{
			name:  "missing field evaluates to false",
			expr:  `input.missing == "x"`,
			input: map[string]interface{}{"status": "active"},
			want:  false,
		},
		{
			name:  "nil input evaluates to false",
			expr:  `input.status == "active"`,
			input: nil,
			want:  false,
		},
		{
			name: "compound condition",
			expr: `input.tier == "gold" && input.orders >= 10`,
			input: map[string]interface{}{
				"tier":   "gold",
				"orders": 12,
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eval.EvaluateBool(ctx, tt.expr, tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateHelpers(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("similarity is symmetric", func(t *testing.T) {
		a, err := eval.Evaluate(ctx, `similarity("kitten", "sitting")`, nil)
		require.NoError(t, err)
		b, err := eval.Evaluate(ctx, `similarity("sitting", "kitten")`, nil)
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.InDelta(t, 0.57, a.(float64), 0.02)
	})

	t.Run("noacc strips accents", func(t *testing.T) {
		out, err := eval.Evaluate(ctx, `noacc("café")`, nil)
		require.NoError(t, err)
		assert.Equal(t, "cafe", out)
	})

	t.Run("strlen counts runes", func(t *testing.T) {
		out, err := eval.Evaluate(ctx, `strlen("héllo")`, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(5), out)
	})

	t.Run("minOf and maxOf coerce numerics", func(t *testing.T) {
		out, err := eval.Evaluate(ctx, `minOf(input.a, input.b)`, map[string]interface{}{"a": 3, "b": 1.5})
		require.NoError(t, err)
		assert.Equal(t, 1.5, out)

		out, err = eval.Evaluate(ctx, `maxOf(input.a, input.b)`, map[string]interface{}{"a": 3, "b": 1.5})
		require.NoError(t, err)
		assert.Equal(t, 3.0, out)
	})

	t.Run("absOf", func(t *testing.T) {
		out, err := eval.Evaluate(ctx, `absOf(-4.5)`, nil)
		require.NoError(t, err)
		assert.Equal(t, 4.5, out)
	})

	t.Run("isEmpty", func(t *testing.T) {
		out, err := eval.Evaluate(ctx, `isEmpty(input.tags)`, map[string]interface{}{"tags": []interface{}{}})
		require.NoError(t, err)
		assert.Equal(t, true, out)

		out, err = eval.Evaluate(ctx, `isEmpty("x")`, nil)
		require.NoError(t, err)
		assert.Equal(t, false, out)
	})
}

func TestEvaluateNativizesResults(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	ctx := context.Background()

	out, err := eval.Evaluate(ctx, `{"discount": input.amount * 0.1, "tags": ["vip", "loyal"]}`, map[string]interface{}{"amount": 200.0})
	require.NoError(t, err)

	m, ok := out.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 20.0, m["discount"])
	assert.Equal(t, []interface{}{"vip", "loyal"}, m["tags"])
}

func TestCostLimit(t *testing.T) {
	eval, err := NewEvaluatorWithCostLimit(10)
	require.NoError(t, err)

	input := map[string]interface{}{
		"items": []interface{}{1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
	}
	_, err = eval.Evaluate(context.Background(), `input.items.map(x, x * 2).map(x, x + 1)`, input)
	assert.Error(t, err)
}
