package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulehub/internal/approval"
	"rulehub/internal/rules"
)

func TestMongoApprovalRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, false, true, false)
	repo := approval.NewRepository(infra.MongoDB)
	ctx := context.Background()

	req := &approval.Request{
		RuleID:        "r1",
		RuleName:      "threshold",
		FromState:     string(rules.StateStaging),
		ToState:       string(rules.StateProd),
		RequestedBy:   "alice",
		RequiredRoles: []string{"manager"},
		Status:        approval.StatusPending,
	}
	require.NoError(t, repo.Create(ctx, req))
	require.NotEmpty(t, req.ID)

	t.Run("get round-trips", func(t *testing.T) {
		got, err := repo.Get(ctx, req.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "r1", got.RuleID)
		assert.Equal(t, approval.StatusPending, got.Status)
	})

	t.Run("list filters by status", func(t *testing.T) {
		pending, err := repo.List(ctx, approval.StatusPending)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		rejected, err := repo.List(ctx, approval.StatusRejected)
		require.NoError(t, err)
		assert.Empty(t, rejected)
	})

	t.Run("update persists decisions", func(t *testing.T) {
		req.Status = approval.StatusApproved
		req.Approvals = append(req.Approvals, approval.Approval{
			Approver: "bob",
			Role:     "manager",
		})
		require.NoError(t, repo.Update(ctx, req))

		got, err := repo.Get(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, approval.StatusApproved, got.Status)
		require.Len(t, got.Approvals, 1)
		assert.Equal(t, "bob", got.Approvals[0].Approver)
	})

	t.Run("timeline is ordered and queryable by rule", func(t *testing.T) {
		for _, action := range []string{approval.ActionRequested, approval.ActionApproved, approval.ActionPromoted} {
			require.NoError(t, repo.AppendTimeline(ctx, &approval.TimelineEvent{
				RequestID: req.ID,
				RuleID:    "r1",
				Action:    action,
				Actor:     "bob",
			}))
		}

		events, err := repo.Timeline(ctx, req.ID)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, approval.ActionRequested, events[0].Action)
		assert.Equal(t, approval.ActionPromoted, events[2].Action)

		byRule, err := repo.RuleTimeline(ctx, "r1")
		require.NoError(t, err)
		assert.Len(t, byRule, 3)
	})
}
