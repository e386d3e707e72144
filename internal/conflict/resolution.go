package conflict

import (
	"fmt"
	"time"

	"rulehub/internal/rules"
)

type Strategy string

const (
	StrategyMerge            Strategy = "merge"
	StrategyAdjustConditions Strategy = "adjust_conditions"
	StrategyModifySchedule   Strategy = "modify_schedule"
	StrategyChangePriority   Strategy = "change_priority"
)

// StrategiesFor lists the applicable strategies for a conflict type, most
// recommended first.
func StrategiesFor(typ Type) []Strategy {
	switch typ {
	case DuplicateLogic:
		return []Strategy{StrategyMerge}
	case OverlappingConditions:
		return []Strategy{StrategyAdjustConditions, StrategyMerge}
	case ScheduleOverlap:
		return []Strategy{StrategyModifySchedule}
	case ContradictoryActions, PriorityConflict:
		return []Strategy{StrategyChangePriority}
	}
	return nil
}

// Preview is the dry-run outcome of a resolution. ModifiedRules are
// working copies; nothing is persisted until the preview is applied.
type Preview struct {
	Strategy           Strategy      `json:"strategy"`
	ModifiedRules      []*rules.Rule `json:"modified_rules"`
	ArchivedRuleIDs    []string      `json:"archived_rule_ids,omitempty"`
	RemainingConflicts []Conflict    `json:"remaining_conflicts"`
	Resolved           bool          `json:"resolved"`
}

// Resolver applies resolution strategies to rule copies and re-runs
// detection to show the would-be outcome.
type Resolver struct {
	detector *Detector
}

func NewResolver(detector *Detector) *Resolver {
	return &Resolver{detector: detector}
}

// PreviewResolution applies the strategy to cloned copies of the rule set
// and re-runs full detection over the substituted set. The stored rules
// are never touched.
func (r *Resolver) PreviewResolution(c *Conflict, strategy Strategy, all []*rules.Rule) (*Preview, error) {
	a := findRule(all, c.RuleIDs[0])
	b := findRule(all, c.RuleIDs[1])
	if a == nil || b == nil {
		return nil, fmt.Errorf("conflict references a rule that no longer exists")
	}

	ca, cb := a.Clone(), b.Clone()
	preview := &Preview{Strategy: strategy}

	switch strategy {
	case StrategyMerge:
		// keep the older rule, archive the newer duplicate; the survivor
		// carries the higher priority of the pair
		keep, drop := ca, cb
		if cb.CreatedAt.Before(ca.CreatedAt) {
			keep, drop = cb, ca
		}
		if drop.Priority > keep.Priority {
			keep.Priority = drop.Priority
		}
		drop.State = rules.StateArchived
		preview.ModifiedRules = []*rules.Rule{keep, drop}
		preview.ArchivedRuleIDs = []string{drop.ID}

	case StrategyAdjustConditions:
		// mutual exclusion: each rule's entry condition gains a guard
		// naming the other, and callers steer an input past a rule by
		// setting input.excludeRule to that rule's id. Tables carry no
		// expression to guard, so the lower-priority table is demoted
		// to draft for manual narrowing instead.
		if ca.Kind == rules.KindDecisionTable || cb.Kind == rules.KindDecisionTable {
			demote := cb
			if ca.Priority < cb.Priority {
				demote = ca
			}
			demote.State = rules.StateDraft
		} else {
			if err := addExclusionGuard(ca, cb.ID); err != nil {
				return nil, err
			}
			if err := addExclusionGuard(cb, ca.ID); err != nil {
				return nil, err
			}
		}
		preview.ModifiedRules = []*rules.Rule{ca, cb}

	case StrategyModifySchedule:
		if err := shiftSchedule(ca, cb); err != nil {
			return nil, err
		}
		preview.ModifiedRules = []*rules.Rule{ca, cb}

	case StrategyChangePriority:
		// make the ordering explicit so downstream consumers resolve
		// the contradiction deterministically
		if ca.Priority == cb.Priority {
			cb.Priority = ca.Priority - 1
		}
		preview.ModifiedRules = []*rules.Rule{ca, cb}

	default:
		return nil, fmt.Errorf("unknown resolution strategy: %s", strategy)
	}

	substituted := substitute(all, preview.ModifiedRules)
	for _, rc := range r.detector.Detect(substituted) {
		if rc.Involves(c.RuleIDs[0]) || rc.Involves(c.RuleIDs[1]) {
			preview.RemainingConflicts = append(preview.RemainingConflicts, rc)
		}
	}
	preview.Resolved = !containsType(preview.RemainingConflicts, c.Type, c.RuleIDs)

	return preview, nil
}

// addExclusionGuard prefixes the rule's entry condition so that inputs
// carrying excludeRule set to the other rule's id skip this rule. The
// has() check keeps inputs without the field matching as before.
func addExclusionGuard(r *rules.Rule, otherID string) error {
	guard := fmt.Sprintf("(!has(input.excludeRule) || input.excludeRule != %q)", otherID)
	switch {
	case r.Script != nil:
		r.Script.Source = fmt.Sprintf("%s && (%s)", guard, r.Script.Source)
	case r.Tree != nil:
		root, ok := r.Tree.Nodes[rules.RootNodeID]
		if !ok || root.Condition == "" {
			return fmt.Errorf("rule %s has no root condition to guard", r.ID)
		}
		root.Condition = fmt.Sprintf("%s && (%s)", guard, root.Condition)
		r.Tree.Nodes[rules.RootNodeID] = root
	default:
		return fmt.Errorf("rule %s has no expression to guard", r.ID)
	}
	return nil
}

// shiftSchedule moves the later window to start when the earlier one ends.
func shiftSchedule(a, b *rules.Rule) error {
	aStart, aEnd, aOK := scheduleWindow(a)
	bStart, bEnd, bOK := scheduleWindow(b)
	if !aOK || !bOK {
		return fmt.Errorf("both rules need enabled schedules to shift")
	}

	late, earlyEnd := b, aEnd
	if bStart.Before(aStart) {
		late, earlyEnd = a, bEnd
	}

	if earlyEnd.Equal(farFuture) {
		return fmt.Errorf("the earlier schedule has no deactivation date, nothing to shift behind")
	}

	duration := time.Duration(0)
	if late.Schedule.DeactivationDate != nil {
		duration = late.Schedule.DeactivationDate.Sub(*late.Schedule.ActivationDate)
	}

	newStart := earlyEnd
	late.Schedule.ActivationDate = &newStart
	if duration > 0 {
		newEnd := newStart.Add(duration)
		late.Schedule.DeactivationDate = &newEnd
	}
	return nil
}

func substitute(all []*rules.Rule, modified []*rules.Rule) []*rules.Rule {
	byID := make(map[string]*rules.Rule, len(modified))
	for _, m := range modified {
		byID[m.ID] = m
	}
	out := make([]*rules.Rule, 0, len(all))
	for _, r := range all {
		if m, ok := byID[r.ID]; ok {
			out = append(out, m)
			continue
		}
		out = append(out, r)
	}
	return out
}

func containsType(conflicts []Conflict, typ Type, pair [2]string) bool {
	for _, c := range conflicts {
		if c.Type == typ && c.Involves(pair[0]) && c.Involves(pair[1]) {
			return true
		}
	}
	return false
}

func findRule(all []*rules.Rule, id string) *rules.Rule {
	for _, r := range all {
		if r.ID == id {
			return r
		}
	}
	return nil
}
