package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulehub/internal/rules"
)

func tableRule(rows [][]interface{}) *rules.Rule {
	return &rules.Rule{
		ID:      "ship",
		Name:    "shipping",
		Version: "1.0.0",
		State:   rules.StateDraft,
		Kind:    rules.KindDecisionTable,
		Table: &rules.TableSpec{
			Columns:    []string{"country", "cost"},
			Resolution: rules.FirstMatch,
			Rows:       rows,
		},
	}
}

func findItem(items []DiffItem, path string) *DiffItem {
	for i := range items {
		if items[i].Path == path {
			return &items[i]
		}
	}
	return nil
}

func TestDiffIdenticalRules(t *testing.T) {
	r := tableRule([][]interface{}{{"PT", 5}})
	items, err := DiffRules(r, r)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDiffScalarChange(t *testing.T) {
	a := tableRule([][]interface{}{{"PT", 5}})
	b := a.Clone()
	b.Name = "shipping v2"
	b.Priority = 7

	items, err := DiffRules(a, b)
	require.NoError(t, err)
	require.Len(t, items, 2)

	name := findItem(items, "name")
	require.NotNil(t, name)
	assert.Equal(t, DiffChanged, name.Kind)
	assert.Equal(t, "shipping", name.OldValue)
	assert.Equal(t, "shipping v2", name.NewValue)

	prio := findItem(items, "priority")
	require.NotNil(t, prio)
	assert.Equal(t, float64(7), prio.NewValue)
}

func TestDiffArrayIndexedPaths(t *testing.T) {
	a := tableRule([][]interface{}{{"PT", 5}, {"FR", 10}})
	b := tableRule([][]interface{}{{"PT", 5}, {"FR", 12}, {"DE", 20}})

	items, err := DiffRules(a, b)
	require.NoError(t, err)

	changed := findItem(items, "table.rows.1.1")
	require.NotNil(t, changed)
	assert.Equal(t, DiffChanged, changed.Kind)
	assert.Equal(t, float64(10), changed.OldValue)
	assert.Equal(t, float64(12), changed.NewValue)

	added := findItem(items, "table.rows.2")
	require.NotNil(t, added)
	assert.Equal(t, DiffAdded, added.Kind)
}

func TestDiffAddedAndRemovedFields(t *testing.T) {
	a := tableRule([][]interface{}{{"PT", 5}})
	a.Description = "old desc"
	b := a.Clone()
	b.Description = ""
	b.Tags = []string{"pricing"}

	items, err := DiffRules(a, b)
	require.NoError(t, err)

	// omitempty drops the cleared description from the new document
	removed := findItem(items, "description")
	require.NotNil(t, removed)
	assert.Equal(t, DiffRemoved, removed.Kind)

	added := findItem(items, "tags")
	require.NotNil(t, added)
	assert.Equal(t, DiffAdded, added.Kind)
}

func TestMemoryRepositoryAppendIsMonotonic(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := t.Context()

	r := tableRule([][]interface{}{{"PT", 5}})
	for i := 0; i < 3; i++ {
		entry := &Version{RuleID: r.ID, Snapshot: r, ChangeType: ChangeUpdated, ChangedBy: "tester"}
		require.NoError(t, repo.Append(ctx, nil, entry))
		assert.Equal(t, i+1, entry.VersionNumber)
	}

	versions, err := repo.List(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, versions, 3)
	// newest first
	assert.Equal(t, 3, versions[0].VersionNumber)
	assert.Equal(t, 1, versions[2].VersionNumber)

	v2, err := repo.Get(ctx, r.ID, 2)
	require.NoError(t, err)
	require.NotNil(t, v2)
	assert.Equal(t, 2, v2.VersionNumber)

	missing, err := repo.Get(ctx, r.ID, 99)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
