package integration

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulehub/internal/conflict"
)

func TestRedisReportStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	infra := SetupTestInfraWithOptions(t, false, false, true)
	store := conflict.NewRedisReportStore(infra.RedisClient)
	ctx := context.Background()

	t.Run("load before any scan returns nil", func(t *testing.T) {
		report, err := store.LoadReport(ctx)
		require.NoError(t, err)
		assert.Nil(t, report)
	})

	t.Run("store and load round-trip", func(t *testing.T) {
		report := &conflict.Report{
			Generation: 7,
			ScannedAt:  time.Now().UTC().Truncate(time.Millisecond),
			RuleCount:  12,
			Conflicts: []conflict.Conflict{
				{
					ID:          "c1",
					Type:        conflict.DuplicateLogic,
					Severity:    conflict.SeverityWarning,
					RuleIDs:     [2]string{"r1", "r2"},
					Description: "rules r1 and r2 share identical logic",
				},
			},
		}
		require.NoError(t, store.StoreReport(ctx, report))

		got, err := store.LoadReport(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(7), got.Generation)
		assert.Equal(t, 12, got.RuleCount)
		require.Len(t, got.Conflicts, 1)
		assert.Equal(t, conflict.DuplicateLogic, got.Conflicts[0].Type)
		assert.Equal(t, [2]string{"r1", "r2"}, got.Conflicts[0].RuleIDs)
	})

	t.Run("newer report replaces the cached one", func(t *testing.T) {
		require.NoError(t, store.StoreReport(ctx, &conflict.Report{Generation: 8, RuleCount: 12}))

		got, err := store.LoadReport(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, int64(8), got.Generation)
		assert.Empty(t, got.Conflicts)
	})
}
