package conflict

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rulehub/internal/rules"
)

func scriptRule(id, name, source string, state rules.State) *rules.Rule {
	return &rules.Rule{
		ID:     id,
		Name:   name,
		State:  state,
		Kind:   rules.KindScript,
		Script: &rules.ScriptSpec{Language: rules.ScriptLanguage, Source: source},
	}
}

func tableRule(id, name string, columns []string, state rules.State) *rules.Rule {
	row := make([]interface{}, len(columns))
	for i := range row {
		row[i] = "*"
	}
	return &rules.Rule{
		ID:    id,
		Name:  name,
		State: state,
		Kind:  rules.KindDecisionTable,
		Table: &rules.TableSpec{Columns: columns, Rows: [][]interface{}{row}, Resolution: rules.FirstMatch},
	}
}

func conflictsOfType(conflicts []Conflict, typ Type) []Conflict {
	var out []Conflict
	for _, c := range conflicts {
		if c.Type == typ {
			out = append(out, c)
		}
	}
	return out
}

func TestDetectDuplicateLogic(t *testing.T) {
	d := NewDetector()

	a := scriptRule("r1", "discount a", `input.amount * 0.1`, rules.StateProd)
	b := scriptRule("r2", "discount b", `input.amount   *  0.1`, rules.StateStaging)

	conflicts := d.Detect([]*rules.Rule{a, b})
	dupes := conflictsOfType(conflicts, DuplicateLogic)
	require.Len(t, dupes, 1)
	assert.Equal(t, SeverityWarning, dupes[0].Severity)
	// both ids named in the message
	assert.Contains(t, dupes[0].Description, "r1")
	assert.Contains(t, dupes[0].Description, "r2")
}

func TestDetectIgnoresInactiveRules(t *testing.T) {
	d := NewDetector()

	a := scriptRule("r1", "a", `input.x > 1`, rules.StateProd)
	b := scriptRule("r2", "b", `input.x > 1`, rules.StateDraft)
	c := scriptRule("r3", "c", `input.x > 1`, rules.StateArchived)

	assert.Empty(t, d.Detect([]*rules.Rule{a, b, c}))
}

func TestDetectOverlappingTableColumns(t *testing.T) {
	d := NewDetector()

	a := tableRule("t1", "ship a", []string{"country", "weight", "cost"}, rules.StateProd)
	b := tableRule("t2", "ship b", []string{"weight", "country", "fee"}, rules.StateProd)
	c := tableRule("t3", "other", []string{"segment", "promo"}, rules.StateProd)

	conflicts := d.Detect([]*rules.Rule{a, b, c})
	overlaps := conflictsOfType(conflicts, OverlappingConditions)
	require.Len(t, overlaps, 1)
	assert.True(t, overlaps[0].Involves("t1"))
	assert.True(t, overlaps[0].Involves("t2"))
}

func TestDetectContradictoryActions(t *testing.T) {
	d := NewDetector()

	a := scriptRule("r1", "summer discount", `input.total * 0.9`, rules.StateProd)
	a.Tags = []string{"pricing"}
	b := scriptRule("r2", "peak surcharge", `input.total * 1.2`, rules.StateProd)
	b.Tags = []string{"pricing"}

	conflicts := d.Detect([]*rules.Rule{a, b})
	contras := conflictsOfType(conflicts, ContradictoryActions)
	require.Len(t, contras, 1)
	assert.Equal(t, SeverityError, contras[0].Severity)

	// different tag domains do not contradict
	b.Tags = []string{"logistics"}
	assert.Empty(t, conflictsOfType(d.Detect([]*rules.Rule{a, b}), ContradictoryActions))
}

func TestDetectScheduleOverlap(t *testing.T) {
	d := NewDetector()
	day := func(n int) *time.Time {
		t := time.Date(2026, 9, n, 0, 0, 0, 0, time.UTC)
		return &t
	}

	a := scriptRule("r1", "a", `input.x > 1`, rules.StateProd)
	a.Schedule = &rules.Schedule{Enabled: true, ActivationDate: day(1), DeactivationDate: day(10)}
	b := scriptRule("r2", "b", `input.y > 1`, rules.StateProd)
	b.Schedule = &rules.Schedule{Enabled: true, ActivationDate: day(5), DeactivationDate: day(15)}

	overlaps := conflictsOfType(d.Detect([]*rules.Rule{a, b}), ScheduleOverlap)
	require.Len(t, overlaps, 1)
	assert.Equal(t, SeverityWarning, overlaps[0].Severity)

	// disjoint windows
	b.Schedule.ActivationDate = day(11)
	b.Schedule.DeactivationDate = day(20)
	assert.Empty(t, conflictsOfType(d.Detect([]*rules.Rule{a, b}), ScheduleOverlap))

	// missing deactivation extends to the far future
	b.Schedule.DeactivationDate = nil
	b.Schedule.ActivationDate = day(2)
	overlaps = conflictsOfType(d.Detect([]*rules.Rule{a, b}), ScheduleOverlap)
	assert.Len(t, overlaps, 1)
}

func TestDetectForRuleDraftSuppressed(t *testing.T) {
	d := NewDetector()

	candidate := scriptRule("r1", "a", `input.x > 1`, rules.StateDraft)
	other := scriptRule("r2", "b", `input.x > 1`, rules.StateProd)

	assert.Empty(t, d.DetectForRule(candidate, []*rules.Rule{other}))

	candidate.State = rules.StateStaging
	focused := d.DetectForRule(candidate, []*rules.Rule{other})
	require.NotEmpty(t, focused)
	for _, c := range focused {
		assert.True(t, c.Involves("r1"))
	}
}

func TestCanSaveBlocksOnErrorsOnly(t *testing.T) {
	d := NewDetector()

	candidate := scriptRule("r1", "summer discount", `input.total * 0.9`, rules.StateProd)
	candidate.Tags = []string{"pricing"}
	warningOnly := scriptRule("r2", "summer discount copy", `input.total * 0.9`, rules.StateProd)
	warningOnly.Tags = []string{"other"}

	ok, conflicts := d.CanSave(candidate, []*rules.Rule{warningOnly})
	assert.True(t, ok, "duplicate_logic is a warning, save allowed")
	assert.NotEmpty(t, conflicts)

	opposing := scriptRule("r3", "peak surcharge", `input.total * 1.2`, rules.StateProd)
	opposing.Tags = []string{"pricing"}
	ok, conflicts = d.CanSave(candidate, []*rules.Rule{opposing})
	assert.False(t, ok, "contradictory_actions is an error, save blocked")
	assert.NotEmpty(t, conflicts)
}

func TestCanPromoteBlocksOnAnyConflict(t *testing.T) {
	d := NewDetector()

	candidate := scriptRule("r1", "a", `input.total * 0.9`, rules.StateStaging)
	duplicate := scriptRule("r2", "b", `input.total * 0.9`, rules.StateProd)

	ok, conflicts := d.CanPromote(candidate, []*rules.Rule{duplicate})
	assert.False(t, ok, "even warnings block promotion")
	assert.NotEmpty(t, conflicts)

	clean := scriptRule("r3", "c", `input.total * 1.05`, rules.StateProd)
	ok, conflicts = d.CanPromote(candidate, []*rules.Rule{clean})
	assert.True(t, ok)
	assert.Empty(t, conflicts)
}
