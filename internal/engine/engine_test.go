package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulehub/internal/logger"
	"rulehub/internal/rules"
	"rulehub/pkg/expr"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eval, err := expr.NewEvaluator()
	require.NoError(t, err)
	return New(eval, logger.NopLogger())
}

func scriptRule(id, source string) *rules.Rule {
	return &rules.Rule{
		ID:     id,
		Kind:   rules.KindScript,
		Script: &rules.ScriptSpec{Language: rules.ScriptLanguage, Source: source},
	}
}

func TestEvaluateScript(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		source   string
		input    map[string]interface{}
		expected interface{}
	}{
		{
			name:     "arithmetic",
			source:   `input.amount * 2.0`,
			input:    map[string]interface{}{"amount": 10.5},
			expected: 21.0,
		},
		{
			name:     "boolean condition",
			source:   `input.age >= 18`,
			input:    map[string]interface{}{"age": 21},
			expected: true,
		},
		{
			name:     "ternary",
			source:   `input.vip ? "gold" : "standard"`,
			input:    map[string]interface{}{"vip": true},
			expected: "gold",
		},
		{
			name:     "similarity helper",
			source:   `similarity("portugal", "portugal")`,
			input:    nil,
			expected: 1.0,
		},
		{
			name:     "noacc helper",
			source:   `noacc("São Tomé")`,
			input:    nil,
			expected: "Sao Tome",
		},
		{
			name:     "strlen helper",
			source:   `strlen("hello")`,
			input:    nil,
			expected: int64(5),
		},
		{
			name:     "minOf maxOf",
			source:   `minOf(3, 7.5) + maxOf(1, 2)`,
			input:    nil,
			expected: 5.0,
		},
		{
			name:     "absOf",
			source:   `absOf(-4.25)`,
			input:    nil,
			expected: 4.25,
		},
		{
			name:     "isEmpty on missing-safe value",
			source:   `isEmpty("")`,
			input:    nil,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Evaluate(ctx, scriptRule("r1", tt.source), tt.input)
			require.True(t, result.Success, "error: %s", result.Error)
			assert.Equal(t, tt.expected, result.Output)
		})
	}
}

func TestEvaluateScriptMapOutput(t *testing.T) {
	e := newTestEngine(t)

	result := e.Evaluate(context.Background(),
		scriptRule("r1", `{"discount": input.amount * 0.1, "approved": true}`),
		map[string]interface{}{"amount": 100.0})

	require.True(t, result.Success, "error: %s", result.Error)
	out, ok := result.Output.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 10.0, out["discount"])
	assert.Equal(t, true, out["approved"])
}

func TestEvaluateScriptForbiddenConstructRejected(t *testing.T) {
	eval, err := expr.NewEvaluator()
	require.NoError(t, err)

	// nothing outside the declared environment compiles
	assert.Error(t, eval.ValidateExpression(`eval("1+1")`))
	assert.Error(t, eval.ValidateExpression(`setTimeout(1000)`))
	assert.Error(t, eval.ValidateExpression(`fetch("http://example.com")`))
	assert.NoError(t, eval.ValidateExpression(`input.amount > 10.0`))
}

func TestEvaluateScriptWrongLanguage(t *testing.T) {
	e := newTestEngine(t)

	rule := &rules.Rule{
		ID:     "r1",
		Kind:   rules.KindScript,
		Script: &rules.ScriptSpec{Language: "javascript", Source: "1+1"},
	}
	result := e.Evaluate(context.Background(), rule, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unsupported script language")
}

func TestEvaluateBoolMissingFieldIsFalse(t *testing.T) {
	eval, err := expr.NewEvaluator()
	require.NoError(t, err)

	got, evalErr := eval.EvaluateBool(context.Background(), `input.missing_field == "x"`, map[string]interface{}{"present": 1})
	require.NoError(t, evalErr)
	assert.False(t, got)
}

func TestEvaluateTableFirstMatch(t *testing.T) {
	e := newTestEngine(t)

	rule := &rules.Rule{
		ID:   "shipping",
		Kind: rules.KindDecisionTable,
		Table: &rules.TableSpec{
			Columns:    []string{"country", "weight", "cost"},
			Resolution: rules.FirstMatch,
			Rows: [][]interface{}{
				{"PT", "*", 5},
				{"FR", "*", 10},
				{"*", "*", 20},
			},
		},
	}

	result := e.Evaluate(context.Background(), rule, map[string]interface{}{"country": "PT", "weight": 3})
	require.True(t, result.Success)
	assert.Equal(t, 5, result.Output)

	result = e.Evaluate(context.Background(), rule, map[string]interface{}{"country": "FR", "weight": 1})
	require.True(t, result.Success)
	assert.Equal(t, 10, result.Output)

	result = e.Evaluate(context.Background(), rule, map[string]interface{}{"country": "DE", "weight": 1})
	require.True(t, result.Success)
	assert.Equal(t, 20, result.Output)
}

func TestEvaluateTableAllMatches(t *testing.T) {
	e := newTestEngine(t)

	rule := &rules.Rule{
		ID:   "promos",
		Kind: rules.KindDecisionTable,
		Table: &rules.TableSpec{
			Columns:    []string{"segment", "promo"},
			Resolution: rules.AllMatches,
			Rows: [][]interface{}{
				{"vip", "free_shipping"},
				{"*", "newsletter"},
				{"vip", "lounge"},
			},
		},
	}

	result := e.Evaluate(context.Background(), rule, map[string]interface{}{"segment": "vip"})
	require.True(t, result.Success)
	// row order preserved
	assert.Equal(t, []interface{}{"free_shipping", "newsletter", "lounge"}, result.Output)
}

func TestEvaluateTableNoMatch(t *testing.T) {
	e := newTestEngine(t)

	rule := &rules.Rule{
		ID:   "t",
		Kind: rules.KindDecisionTable,
		Table: &rules.TableSpec{
			Columns:    []string{"tier", "rate"},
			Resolution: rules.FirstMatch,
			Rows:       [][]interface{}{{"gold", 0.1}},
		},
	}

	result := e.Evaluate(context.Background(), rule, map[string]interface{}{"tier": "silver"})
	assert.False(t, result.Success)
	assert.Equal(t, "no matching row found", result.Error)
}

func TestEvaluateTableLooseTyping(t *testing.T) {
	e := newTestEngine(t)

	rule := &rules.Rule{
		ID:   "t",
		Kind: rules.KindDecisionTable,
		Table: &rules.TableSpec{
			Columns:    []string{"age", "allowed"},
			Resolution: rules.FirstMatch,
			Rows:       [][]interface{}{{18, true}},
		},
	}

	// json decoding yields float64, cells may hold int
	result := e.Evaluate(context.Background(), rule, map[string]interface{}{"age": 18.0})
	require.True(t, result.Success)
	assert.Equal(t, true, result.Output)
}

func TestEvaluateTreeWalk(t *testing.T) {
	e := newTestEngine(t)

	rule := &rules.Rule{
		ID:   "credit",
		Kind: rules.KindDecisionTree,
		Tree: &rules.TreeSpec{
			Nodes: map[string]rules.Node{
				"root": {
					Condition: `input.age >= 18`,
					Then:      &rules.Branch{Goto: "adult"},
					Else:      &rules.Branch{Decision: "reject"},
				},
				"adult": {
					Condition: `input.income > 30000.0`,
					Then:      &rules.Branch{Decision: "approve"},
					Else:      &rules.Branch{Decision: "review"},
				},
			},
		},
	}

	ctx := context.Background()

	result := e.Evaluate(ctx, rule, map[string]interface{}{"age": 25, "income": 50000.0})
	require.True(t, result.Success)
	assert.Equal(t, "approve", result.Output)

	result = e.Evaluate(ctx, rule, map[string]interface{}{"age": 25, "income": 10000.0})
	require.True(t, result.Success)
	assert.Equal(t, "review", result.Output)

	result = e.Evaluate(ctx, rule, map[string]interface{}{"age": 15})
	require.True(t, result.Success)
	assert.Equal(t, "reject", result.Output)
}

func TestEvaluateTreeRootTerminal(t *testing.T) {
	e := newTestEngine(t)

	rule := &rules.Rule{
		ID:   "const",
		Kind: rules.KindDecisionTree,
		Tree: &rules.TreeSpec{
			Nodes: map[string]rules.Node{
				"root": {Decision: map[string]interface{}{"result": "always"}},
			},
		},
	}

	// any input yields the same decision
	for _, input := range []map[string]interface{}{nil, {"a": 1}, {"b": "x"}} {
		result := e.Evaluate(context.Background(), rule, input)
		require.True(t, result.Success)
		assert.Equal(t, map[string]interface{}{"result": "always"}, result.Output)
	}
}

func TestEvaluateTreeCycleTerminates(t *testing.T) {
	e := newTestEngine(t)

	rule := &rules.Rule{
		ID:   "loop",
		Kind: rules.KindDecisionTree,
		Tree: &rules.TreeSpec{
			Nodes: map[string]rules.Node{
				"root": {
					Condition: `true`,
					Then:      &rules.Branch{Goto: "a"},
					Else:      &rules.Branch{Decision: "never"},
				},
				"a": {
					Condition: `true`,
					Then:      &rules.Branch{Goto: "root"},
					Else:      &rules.Branch{Decision: "never"},
				},
			},
		},
	}

	result := e.Evaluate(context.Background(), rule, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "exceeded")
}

func TestEvaluateTreeMissingNode(t *testing.T) {
	e := newTestEngine(t)

	rule := &rules.Rule{
		ID:   "dangling",
		Kind: rules.KindDecisionTree,
		Tree: &rules.TreeSpec{
			Nodes: map[string]rules.Node{
				"root": {
					Condition: `true`,
					Then:      &rules.Branch{Goto: "nowhere"},
					Else:      &rules.Branch{Decision: "x"},
				},
			},
		},
	}

	result := e.Evaluate(context.Background(), rule, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, `node "nowhere" not found`)
}

func TestEvaluateUnknownKind(t *testing.T) {
	e := newTestEngine(t)

	result := e.Evaluate(context.Background(), &rules.Rule{ID: "x", Kind: "mystery"}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "unsupported rule kind")
}
