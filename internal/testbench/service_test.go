package testbench

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulehub/internal/engine"
	"rulehub/internal/logger"
	"rulehub/internal/rules"
	pkgerrors "rulehub/pkg/errors"
	"rulehub/pkg/expr"
)

type stubRegistry struct {
	rules map[string]*rules.Rule
}

func (s *stubRegistry) GetRule(_ context.Context, id string) (*rules.Rule, error) {
	if rule, ok := s.rules[id]; ok {
		return rule, nil
	}
	return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
}

func newBench(t *testing.T, known ...*rules.Rule) *Service {
	t.Helper()

	eval, err := expr.NewEvaluator()
	require.NoError(t, err)

	registry := &stubRegistry{rules: map[string]*rules.Rule{}}
	for _, rule := range known {
		registry.rules[rule.ID] = rule
	}
	return NewService(NewMemoryRepository(), registry, engine.New(eval, logger.NopLogger()), logger.NopLogger())
}

func tierTable() *rules.Rule {
	return &rules.Rule{
		ID:    "tiers",
		Name:  "tiers",
		State: rules.StateStaging,
		Kind:  rules.KindDecisionTable,
		Table: &rules.TableSpec{
			Columns:    []string{"country", "tier"},
			Resolution: rules.FirstMatch,
			Rows: [][]interface{}{
				{"PT", "gold"},
				{rules.Wildcard, "standard"},
			},
		},
	}
}

func TestRunCasePassesOnStructuralMatch(t *testing.T) {
	bench := newBench(t, tierTable())
	ctx := context.Background()

	tc, err := bench.CreateCase(ctx, "tiers", CreateCaseRequest{
		Name:     "portuguese customer",
		Input:    map[string]interface{}{"country": "PT"},
		Expected: map[string]interface{}{"tier": "gold"},
	})
	require.NoError(t, err)

	result, err := bench.RunCase(ctx, tc.ID)
	require.NoError(t, err)
	assert.True(t, result.Passed)
	assert.Empty(t, result.Diff)
}

func TestRunCaseReportsDiffOnMismatch(t *testing.T) {
	bench := newBench(t, tierTable())
	ctx := context.Background()

	tc, err := bench.CreateCase(ctx, "tiers", CreateCaseRequest{
		Name:     "expects silver",
		Input:    map[string]interface{}{"country": "PT"},
		Expected: map[string]interface{}{"tier": "silver"},
	})
	require.NoError(t, err)

	result, err := bench.RunCase(ctx, tc.ID)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	require.Len(t, result.Diff, 1)
	assert.Equal(t, "tier", result.Diff[0].Path)
}

func TestRunAllIsolatesFailingCases(t *testing.T) {
	bench := newBench(t, tierTable())
	ctx := context.Background()

	_, err := bench.CreateCase(ctx, "tiers", CreateCaseRequest{
		Name:     "passes",
		Input:    map[string]interface{}{"country": "PT"},
		Expected: map[string]interface{}{"tier": "gold"},
	})
	require.NoError(t, err)
	_, err = bench.CreateCase(ctx, "tiers", CreateCaseRequest{
		Name:     "fails",
		Input:    map[string]interface{}{"country": "FR"},
		Expected: map[string]interface{}{"tier": "gold"},
	})
	require.NoError(t, err)

	report, err := bench.RunAll(ctx, "tiers")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
}

func TestRunCaseSurfacesEngineErrors(t *testing.T) {
	badScript := &rules.Rule{
		ID:    "crash",
		Name:  "crash",
		State: rules.StateStaging,
		Kind:  rules.KindScript,
		Script: &rules.ScriptSpec{
			Language: rules.ScriptLanguage,
			Source:   `input.a / input.b > 1`,
		},
	}
	bench := newBench(t, badScript)
	ctx := context.Background()

	// integer division by zero errors at evaluation time
	tc, err := bench.CreateCase(ctx, "crash", CreateCaseRequest{
		Name:     "division by zero",
		Input:    map[string]interface{}{"a": 1, "b": 0},
		Expected: true,
	})
	require.NoError(t, err)

	result, err := bench.RunCase(ctx, tc.ID)
	require.NoError(t, err)
	assert.False(t, result.Passed)
	assert.NotEmpty(t, result.Error)
}

func TestCreateCaseRequiresExistingRule(t *testing.T) {
	bench := newBench(t)
	_, err := bench.CreateCase(context.Background(), "ghost", CreateCaseRequest{
		Name:  "orphan",
		Input: map[string]interface{}{},
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsNotFound(err))
}
