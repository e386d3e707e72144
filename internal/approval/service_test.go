package approval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulehub/internal/logger"
	"rulehub/internal/notify"
	"rulehub/internal/rules"
	pkgerrors "rulehub/pkg/errors"
)

type stubRegistry struct {
	rule        *rules.Rule
	canPromote  bool
	blockReason string
	promoted    []string
}

func (s *stubRegistry) GetRule(_ context.Context, id string) (*rules.Rule, error) {
	if s.rule == nil || s.rule.ID != id {
		return nil, pkgerrors.ErrNotFound
	}
	return s.rule, nil
}

func (s *stubRegistry) CanPromote(context.Context, string) (bool, string, error) {
	return s.canPromote, s.blockReason, nil
}

func (s *stubRegistry) PromoteRule(_ context.Context, id, _ string) error {
	s.promoted = append(s.promoted, id)
	s.rule.State = rules.StateProd
	return nil
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Publish(context.Context, notify.Event) error {
	f.calls++
	return errors.New("broker down")
}
func (f *failingNotifier) Close() error { return nil }

func stagingRule() *rules.Rule {
	return &rules.Rule{
		ID:     "r1",
		Name:   "shipping cost",
		State:  rules.StateStaging,
		Kind:   rules.KindScript,
		Script: &rules.ScriptSpec{Language: rules.ScriptLanguage, Source: "input.x"},
	}
}

func newTestService(registry *stubRegistry, notifier notify.Notifier) *Service {
	return NewService(NewMemoryRepository(), registry, notifier, logger.NopLogger())
}

func TestSingleManagerApprovalFlow(t *testing.T) {
	registry := &stubRegistry{rule: stagingRule(), canPromote: true}
	s := newTestService(registry, nil)
	ctx := context.Background()

	req, err := s.CreateRequest(ctx, CreateRequestInput{RuleID: "r1", Reason: "go live"}, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, []string{"manager"}, req.RequiredRoles)

	req, err = s.Approve(ctx, req.ID, DecisionInput{Actor: "bob", Role: "manager", Comment: "lgtm"})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, []string{"r1"}, registry.promoted)

	timeline, err := s.Timeline(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, timeline, 3)
	assert.Equal(t, ActionRequested, timeline[0].Action)
	assert.Equal(t, ActionApproved, timeline[1].Action)
	assert.Equal(t, ActionPromoted, timeline[2].Action)
}

func TestMultiApproverThreshold(t *testing.T) {
	registry := &stubRegistry{rule: stagingRule(), canPromote: true}
	s := newTestService(registry, nil)
	ctx := context.Background()

	req, err := s.CreateRequest(ctx, CreateRequestInput{
		RuleID:        "r1",
		RequiredRoles: []string{"manager", "compliance"},
	}, "alice")
	require.NoError(t, err)

	req, err = s.Approve(ctx, req.ID, DecisionInput{Actor: "bob", Role: "manager"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status, "one of two approvals is not enough")
	assert.Empty(t, registry.promoted)

	req, err = s.Approve(ctx, req.ID, DecisionInput{Actor: "carol", Role: "compliance"})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, req.Status)
	assert.Equal(t, []string{"r1"}, registry.promoted)
}

func TestRejectIsTerminal(t *testing.T) {
	registry := &stubRegistry{rule: stagingRule(), canPromote: true}
	s := newTestService(registry, nil)
	ctx := context.Background()

	req, err := s.CreateRequest(ctx, CreateRequestInput{RuleID: "r1"}, "alice")
	require.NoError(t, err)

	req, err = s.Reject(ctx, req.ID, DecisionInput{Actor: "bob", Comment: "too risky"})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, req.Status)
	assert.Equal(t, "bob", req.RejectedBy)

	_, err = s.Approve(ctx, req.ID, DecisionInput{Actor: "carol", Role: "manager"})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
	assert.Empty(t, registry.promoted)
}

func TestCreateRequestGates(t *testing.T) {
	ctx := context.Background()

	t.Run("conflict gate blocks", func(t *testing.T) {
		registry := &stubRegistry{rule: stagingRule(), canPromote: false, blockReason: "rule has conflicts"}
		s := newTestService(registry, nil)
		_, err := s.CreateRequest(ctx, CreateRequestInput{RuleID: "r1"}, "alice")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsConflict(err))
	})

	t.Run("already prod", func(t *testing.T) {
		rule := stagingRule()
		rule.State = rules.StateProd
		s := newTestService(&stubRegistry{rule: rule, canPromote: true}, nil)
		_, err := s.CreateRequest(ctx, CreateRequestInput{RuleID: "r1"}, "alice")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsValidation(err))
	})

	t.Run("duplicate pending request", func(t *testing.T) {
		registry := &stubRegistry{rule: stagingRule(), canPromote: true}
		s := newTestService(registry, nil)
		_, err := s.CreateRequest(ctx, CreateRequestInput{RuleID: "r1"}, "alice")
		require.NoError(t, err)
		_, err = s.CreateRequest(ctx, CreateRequestInput{RuleID: "r1"}, "dave")
		require.Error(t, err)
		assert.True(t, pkgerrors.IsConflict(err))
	})
}

func TestNotifierFailureDoesNotFailWorkflow(t *testing.T) {
	registry := &stubRegistry{rule: stagingRule(), canPromote: true}
	broken := &failingNotifier{}
	s := newTestService(registry, broken)
	ctx := context.Background()

	req, err := s.CreateRequest(ctx, CreateRequestInput{RuleID: "r1"}, "alice")
	require.NoError(t, err)

	_, err = s.Approve(ctx, req.ID, DecisionInput{Actor: "bob", Role: "manager"})
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, registry.promoted)
	assert.GreaterOrEqual(t, broken.calls, 2)
}
