// Package conflict analyzes rule sets for pairwise conflicts and proposes
// resolutions.
package conflict

import "time"

type Type string

const (
	OverlappingConditions Type = "overlapping_conditions"
	ContradictoryActions  Type = "contradictory_actions"
	DuplicateLogic        Type = "duplicate_logic"
	ScheduleOverlap       Type = "schedule_overlap"
	PriorityConflict      Type = "priority_conflict"
)

type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Conflict names exactly two rules. The pair is unordered; RuleIDs keeps
// the detection order for stable messages.
type Conflict struct {
	ID          string    `json:"id"`
	Type        Type      `json:"type"`
	Severity    Severity  `json:"severity"`
	RuleIDs     [2]string `json:"rule_ids"`
	Description string    `json:"description"`
	Suggestion  string    `json:"suggestion"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Involves reports whether the conflict names the given rule.
func (c *Conflict) Involves(ruleID string) bool {
	return c.RuleIDs[0] == ruleID || c.RuleIDs[1] == ruleID
}

// Report is the outcome of one full scan over the active rule set.
type Report struct {
	Generation int64      `json:"generation"`
	ScannedAt  time.Time  `json:"scanned_at"`
	RuleCount  int        `json:"rule_count"`
	Conflicts  []Conflict `json:"conflicts"`
}
