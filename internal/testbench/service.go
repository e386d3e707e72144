package testbench

import (
	"context"
	"fmt"
	"time"

	"rulehub/internal/engine"
	"rulehub/internal/history"
	"rulehub/internal/logger"
	"rulehub/internal/rules"
	pkgerrors "rulehub/pkg/errors"
	"rulehub/pkg/metrics"
)

// RuleRegistry is the slice of the rule service the bench needs.
type RuleRegistry interface {
	GetRule(ctx context.Context, id string) (*rules.Rule, error)
}

type Service struct {
	repo     Repository
	registry RuleRegistry
	engine   *engine.Engine
	logger   logger.Logger
}

func NewService(repo Repository, registry RuleRegistry, eng *engine.Engine, log logger.Logger) *Service {
	return &Service{
		repo:     repo,
		registry: registry,
		engine:   eng,
		logger:   log,
	}
}

func (s *Service) CreateCase(ctx context.Context, ruleID string, req CreateCaseRequest) (*TestCase, error) {
	if _, err := s.registry.GetRule(ctx, ruleID); err != nil {
		return nil, err
	}

	tc := &TestCase{
		RuleID:      ruleID,
		Name:        req.Name,
		Description: req.Description,
		Input:       req.Input,
		Expected:    req.Expected,
	}
	if err := s.repo.Create(ctx, tc); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return tc, nil
}

func (s *Service) GetCase(ctx context.Context, id string) (*TestCase, error) {
	tc, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if tc == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return tc, nil
}

func (s *Service) ListCases(ctx context.Context, ruleID string) ([]TestCase, error) {
	if _, err := s.registry.GetRule(ctx, ruleID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListByRule(ctx, ruleID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return out, nil
}

func (s *Service) UpdateCase(ctx context.Context, id string, req CreateCaseRequest) (*TestCase, error) {
	tc, err := s.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}

	tc.Name = req.Name
	tc.Description = req.Description
	tc.Input = req.Input
	tc.Expected = req.Expected
	if err := s.repo.Update(ctx, tc); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return tc, nil
}

func (s *Service) DeleteCase(ctx context.Context, id string) error {
	if _, err := s.GetCase(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return nil
}

// RunCase replays a single stored case against the current version of its
// rule.
func (s *Service) RunCase(ctx context.Context, id string) (*CaseResult, error) {
	tc, err := s.GetCase(ctx, id)
	if err != nil {
		return nil, err
	}
	rule, err := s.registry.GetRule(ctx, tc.RuleID)
	if err != nil {
		return nil, err
	}

	result := s.runOne(ctx, rule, tc)
	return &result, nil
}

// RunAll replays every case of a rule. One failing or crashing case never
// stops the rest of the run.
func (s *Service) RunAll(ctx context.Context, ruleID string) (*Report, error) {
	rule, err := s.registry.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	cases, err := s.repo.ListByRule(ctx, ruleID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	report := &Report{
		RuleID:  ruleID,
		Total:   len(cases),
		Results: make([]CaseResult, 0, len(cases)),
		RanAt:   time.Now(),
	}
	for i := range cases {
		result := s.runOne(ctx, rule, &cases[i])
		if result.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.Results = append(report.Results, result)
	}

	metrics.TestBenchRunsTotal.Inc()
	s.logger.InfowCtx(ctx, "test bench run finished",
		"rule_id", ruleID, "total", report.Total, "passed", report.Passed, "failed", report.Failed)
	return report, nil
}

func (s *Service) runOne(ctx context.Context, rule *rules.Rule, tc *TestCase) CaseResult {
	result := CaseResult{
		CaseID:   tc.ID,
		Name:     tc.Name,
		Expected: tc.Expected,
	}

	evalResult := s.engine.Evaluate(ctx, rule, tc.Input)
	result.ExecutionTimeMs = evalResult.ExecutionTimeMs
	if !evalResult.Success {
		result.Error = evalResult.Error
		return result
	}
	result.Actual = evalResult.Output

	diff, err := history.DiffValues(tc.Expected, evalResult.Output)
	if err != nil {
		result.Error = fmt.Sprintf("failed to compare outputs: %v", err)
		return result
	}
	result.Diff = diff
	result.Passed = len(diff) == 0
	return result
}
