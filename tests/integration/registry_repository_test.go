package integration

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulehub/internal/history"
	"rulehub/internal/registry"
	"rulehub/internal/rules"
)

func TestPostgresRuleRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := registry.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	rule := createScriptRule("it-r1", "threshold", "input.total > 100.0", 50, rules.StateDraft)
	require.NoError(t, repo.Create(ctx, nil, rule))

	t.Run("get round-trips the document", func(t *testing.T) {
		got, err := repo.Get(ctx, "it-r1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "threshold", got.Name)
		require.NotNil(t, got.Script)
		assert.Equal(t, "input.total > 100.0", got.Script.Source)
	})

	t.Run("get missing returns nil", func(t *testing.T) {
		got, err := repo.Get(ctx, "ghost")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("list filters by state and orders by priority", func(t *testing.T) {
		high := createScriptRule("it-r2", "high", "input.a > 1.0", 90, rules.StateStaging)
		low := createScriptRule("it-r3", "low", "input.b > 1.0", 10, rules.StateStaging)
		require.NoError(t, repo.Create(ctx, nil, high))
		require.NoError(t, repo.Create(ctx, nil, low))

		staged, err := repo.List(ctx, rules.StateStaging)
		require.NoError(t, err)
		require.Len(t, staged, 2)
		assert.Equal(t, "it-r2", staged[0].ID)
		assert.Equal(t, "it-r3", staged[1].ID)
	})

	t.Run("update rewrites the document", func(t *testing.T) {
		rule.Name = "renamed"
		rule.State = rules.StateStaging
		require.NoError(t, repo.Update(ctx, nil, rule))

		got, err := repo.Get(ctx, "it-r1")
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.Equal(t, rules.StateStaging, got.State)
	})

	t.Run("update missing rule fails", func(t *testing.T) {
		orphan := createScriptRule("ghost", "ghost", "input.x > 1.0", 0, rules.StateDraft)
		assert.Error(t, repo.Update(ctx, nil, orphan))
	})

	t.Run("delete removes the rule", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, nil, "it-r1"))
		got, err := repo.Get(ctx, "it-r1")
		require.NoError(t, err)
		assert.Nil(t, got)

		assert.Error(t, repo.Delete(ctx, nil, "it-r1"))
	})

	t.Run("create and history share a transaction", func(t *testing.T) {
		historyRepo := history.NewRepository(infra.PostgresDB)

		tx, err := repo.BeginTx(ctx)
		require.NoError(t, err)

		rule := createScriptRule("it-tx", "tx rule", "input.x > 1.0", 0, rules.StateDraft)
		require.NoError(t, repo.Create(ctx, tx, rule))
		require.NoError(t, historyRepo.Append(ctx, tx, &history.Version{
			RuleID:     rule.ID,
			Snapshot:   rule,
			ChangeType: history.ChangeCreated,
			ChangedBy:  "test",
		}))
		require.NoError(t, tx.Commit())

		versions, err := historyRepo.List(ctx, "it-tx")
		require.NoError(t, err)
		require.Len(t, versions, 1)
		assert.Equal(t, 1, versions[0].VersionNumber)
	})
}

func TestPostgresHistoryRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, true, false, false)
	repo := history.NewRepository(infra.PostgresDB)
	ctx := context.Background()

	rule := createScriptRule("hist-r1", "versioned", "input.x > 1.0", 0, rules.StateDraft)

	t.Run("version numbers are monotonic per rule", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			entry := &history.Version{
				RuleID:     rule.ID,
				Snapshot:   rule,
				ChangeType: history.ChangeUpdated,
				ChangedBy:  "test",
			}
			require.NoError(t, repo.Append(ctx, nil, entry))
			assert.Equal(t, i+1, entry.VersionNumber)
		}

		other := &history.Version{
			RuleID:     "hist-other",
			Snapshot:   rule,
			ChangeType: history.ChangeCreated,
			ChangedBy:  "test",
		}
		require.NoError(t, repo.Append(ctx, nil, other))
		assert.Equal(t, 1, other.VersionNumber)
	})

	t.Run("list returns newest first", func(t *testing.T) {
		versions, err := repo.List(ctx, rule.ID)
		require.NoError(t, err)
		require.Len(t, versions, 3)
		assert.Equal(t, 3, versions[0].VersionNumber)
		assert.Equal(t, 1, versions[2].VersionNumber)
	})

	t.Run("get by number", func(t *testing.T) {
		v, err := repo.Get(ctx, rule.ID, 2)
		require.NoError(t, err)
		require.NotNil(t, v)
		assert.Equal(t, 2, v.VersionNumber)

		missing, err := repo.Get(ctx, rule.ID, 99)
		require.NoError(t, err)
		assert.Nil(t, missing)
	})
}
