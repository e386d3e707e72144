package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"rulehub/internal/rules"
)

// farFuture stands in for a missing deactivation date: a schedule without
// an end overlaps everything after its start.
var farFuture = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// Detector runs the four pairwise analysis passes over active rules.
// Detection is static; no rule is ever executed.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Detect analyzes every unordered pair of active (staging or prod) rules.
// Draft and archived rules are filtered out before pairing.
func (d *Detector) Detect(all []*rules.Rule) []Conflict {
	active := make([]*rules.Rule, 0, len(all))
	for _, r := range all {
		if r.Active() {
			active = append(active, r)
		}
	}

	var conflicts []Conflict
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			conflicts = append(conflicts, d.detectPair(active[i], active[j])...)
		}
	}
	return conflicts
}

// DetectForRule runs detection over others plus the candidate and keeps
// only conflicts involving the candidate. Draft candidates report nothing:
// a rule still being edited should not alarm anyone.
func (d *Detector) DetectForRule(candidate *rules.Rule, others []*rules.Rule) []Conflict {
	if candidate.State == rules.StateDraft {
		return nil
	}

	set := make([]*rules.Rule, 0, len(others)+1)
	for _, r := range others {
		if r.ID != candidate.ID {
			set = append(set, r)
		}
	}
	set = append(set, candidate)

	var focused []Conflict
	for _, c := range d.Detect(set) {
		if c.Involves(candidate.ID) {
			focused = append(focused, c)
		}
	}
	return focused
}

// CanSave gates persistence: error-severity conflicts block, warnings do not.
func (d *Detector) CanSave(candidate *rules.Rule, others []*rules.Rule) (bool, []Conflict) {
	conflicts := d.DetectForRule(candidate, others)
	for _, c := range conflicts {
		if c.Severity == SeverityError {
			return false, conflicts
		}
	}
	return true, conflicts
}

// CanPromote gates promotion to prod: any conflict at all blocks.
func (d *Detector) CanPromote(candidate *rules.Rule, others []*rules.Rule) (bool, []Conflict) {
	promoted := candidate.Clone()
	promoted.State = rules.StateProd
	conflicts := d.DetectForRule(promoted, others)
	return len(conflicts) == 0, conflicts
}

func (d *Detector) detectPair(a, b *rules.Rule) []Conflict {
	var out []Conflict
	if c := d.overlappingConditions(a, b); c != nil {
		out = append(out, *c)
	}
	if c := d.contradictoryActions(a, b); c != nil {
		out = append(out, *c)
	}
	if c := d.duplicateLogic(a, b); c != nil {
		out = append(out, *c)
	}
	if c := d.scheduleOverlap(a, b); c != nil {
		out = append(out, *c)
	}
	return out
}

// overlappingConditions flags same-kind rules that inspect the same input
// surface: tables sharing their condition columns, trees sharing an input
// schema. Scripts are covered by duplicateLogic instead.
func (d *Detector) overlappingConditions(a, b *rules.Rule) *Conflict {
	if a.Kind != b.Kind {
		return nil
	}

	switch a.Kind {
	case rules.KindDecisionTable:
		if a.Table == nil || b.Table == nil {
			return nil
		}
		if !sameConditionColumns(a.Table, b.Table) {
			return nil
		}
		return newConflict(OverlappingConditions, SeverityWarning, a, b,
			fmt.Sprintf("rules %q and %q match on the same decision table columns", a.Name, b.Name),
			"narrow the condition columns of one rule or merge both tables")
	case rules.KindDecisionTree:
		if a.Tree == nil || b.Tree == nil {
			return nil
		}
		if a.Tree.InputSchema == "" || a.Tree.InputSchema != b.Tree.InputSchema {
			return nil
		}
		if treeGuards(a.Tree, b.ID) && treeGuards(b.Tree, a.ID) {
			return nil
		}
		return newConflict(OverlappingConditions, SeverityWarning, a, b,
			fmt.Sprintf("rules %q and %q branch over the same input schema %q", a.Name, b.Name, a.Tree.InputSchema),
			"review both trees for overlapping branches or consolidate them")
	}
	return nil
}

// contradictoryActions uses a name heuristic: a discount rule and a
// surcharge rule over the same tags pull in opposite directions.
func (d *Detector) contradictoryActions(a, b *rules.Rule) *Conflict {
	if !shareTag(a, b) {
		return nil
	}
	aText := strings.ToLower(a.Name + " " + a.Description)
	bText := strings.ToLower(b.Name + " " + b.Description)

	opposed := (strings.Contains(aText, "discount") && strings.Contains(bText, "surcharge")) ||
		(strings.Contains(aText, "surcharge") && strings.Contains(bText, "discount"))
	if !opposed {
		return nil
	}

	return newConflict(ContradictoryActions, SeverityError, a, b,
		fmt.Sprintf("rules %q and %q apply opposing adjustments to the same tagged domain", a.Name, b.Name),
		"decide which adjustment wins and archive or re-scope the other rule")
}

// duplicateLogic flags script rules whose sources are identical after
// whitespace normalization.
func (d *Detector) duplicateLogic(a, b *rules.Rule) *Conflict {
	if a.Kind != rules.KindScript || b.Kind != rules.KindScript {
		return nil
	}
	if a.Script == nil || b.Script == nil {
		return nil
	}
	if normalizeSource(a.Script.Source) != normalizeSource(b.Script.Source) {
		return nil
	}

	return newConflict(DuplicateLogic, SeverityWarning, a, b,
		fmt.Sprintf("rules %s and %s share identical script logic", a.ID, b.ID),
		"merge the duplicates into a single rule")
}

// scheduleOverlap intersects the two activation windows. A rule without an
// enabled schedule has no window and cannot overlap.
func (d *Detector) scheduleOverlap(a, b *rules.Rule) *Conflict {
	aStart, aEnd, ok := scheduleWindow(a)
	if !ok {
		return nil
	}
	bStart, bEnd, ok := scheduleWindow(b)
	if !ok {
		return nil
	}

	if !aStart.Before(bEnd) || !bStart.Before(aEnd) {
		return nil
	}

	return newConflict(ScheduleOverlap, SeverityWarning, a, b,
		fmt.Sprintf("rules %q and %q have overlapping activation windows", a.Name, b.Name),
		"stagger the activation windows or confirm the overlap is intended")
}

func scheduleWindow(r *rules.Rule) (start, end time.Time, ok bool) {
	s := r.Schedule
	if s == nil || !s.Enabled || s.ActivationDate == nil {
		return time.Time{}, time.Time{}, false
	}
	end = farFuture
	if s.DeactivationDate != nil {
		end = *s.DeactivationDate
	}
	return *s.ActivationDate, end, true
}

func sameConditionColumns(a, b *rules.TableSpec) bool {
	if len(a.Columns) < 2 || len(b.Columns) < 2 {
		return false
	}
	ac := append([]string(nil), a.Columns[:len(a.Columns)-1]...)
	bc := append([]string(nil), b.Columns[:len(b.Columns)-1]...)
	if len(ac) != len(bc) {
		return false
	}
	sort.Strings(ac)
	sort.Strings(bc)
	for i := range ac {
		if ac[i] != bc[i] {
			return false
		}
	}
	return true
}

func shareTag(a, b *rules.Rule) bool {
	if len(a.Tags) == 0 || len(b.Tags) == 0 {
		return false
	}
	set := make(map[string]bool, len(a.Tags))
	for _, t := range a.Tags {
		set[t] = true
	}
	for _, t := range b.Tags {
		if set[t] {
			return true
		}
	}
	return false
}

// treeGuards reports whether the tree's root condition excludes the other
// rule's id, the marker an adjust_conditions resolution leaves behind.
// Mutually guarded trees are disjoint even over the same schema.
func treeGuards(t *rules.TreeSpec, otherID string) bool {
	root, ok := t.Nodes[rules.RootNodeID]
	return ok && strings.Contains(root.Condition, fmt.Sprintf("%q", otherID))
}

func normalizeSource(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func newConflict(typ Type, severity Severity, a, b *rules.Rule, description, suggestion string) *Conflict {
	return &Conflict{
		ID:          uuid.New().String(),
		Type:        typ,
		Severity:    severity,
		RuleIDs:     [2]string{a.ID, b.ID},
		Description: description,
		Suggestion:  suggestion,
		DetectedAt:  time.Now(),
	}
}
