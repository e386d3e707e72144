package rules

import (
	"time"
)

type State string

const (
	StateDraft    State = "draft"
	StateStaging  State = "staging"
	StateProd     State = "prod"
	StateArchived State = "archived"
)

func (s State) Valid() bool {
	switch s {
	case StateDraft, StateStaging, StateProd, StateArchived:
		return true
	}
	return false
}

type Kind string

const (
	KindDecisionTree  Kind = "decision_tree"
	KindDecisionTable Kind = "decision_table"
	KindScript        Kind = "script"
)

func (k Kind) Valid() bool {
	switch k {
	case KindDecisionTree, KindDecisionTable, KindScript:
		return true
	}
	return false
}

type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

// Schedule drives autonomous lifecycle transitions. Both timestamps are
// optional; when both are set, ActivationDate must precede DeactivationDate.
// A recurrence rolls the whole window forward at each deactivation instead
// of archiving the rule; it needs both dates to know the window length.
type Schedule struct {
	Enabled          bool       `json:"enabled"`
	ActivationDate   *time.Time `json:"activation_date,omitempty"`
	DeactivationDate *time.Time `json:"deactivation_date,omitempty"`
	Recurrence       Recurrence `json:"recurrence,omitempty"`
	Timezone         string     `json:"timezone,omitempty"`
	NotifyBefore     int        `json:"notify_before,omitempty"` // minutes
}

// Branch is either a goto-reference to another node or a terminal decision.
// Exactly one of the two fields is set.
type Branch struct {
	Goto     string      `json:"goto,omitempty"`
	Decision interface{} `json:"decision,omitempty"`
}

func (b *Branch) IsGoto() bool {
	return b != nil && b.Goto != ""
}

// Node is one entry in the decision tree arena. A node either carries a
// terminal Decision or a Condition with Then/Else branches.
type Node struct {
	Condition string      `json:"if,omitempty"`
	Then      *Branch     `json:"then,omitempty"`
	Else      *Branch     `json:"else,omitempty"`
	Decision  interface{} `json:"decision,omitempty"`
}

// RootNodeID is the fixed entry point of every decision tree.
const RootNodeID = "root"

type TreeSpec struct {
	InputSchema  string          `json:"input_schema"`
	OutputSchema string          `json:"output_schema"`
	Nodes        map[string]Node `json:"nodes"`
}

type TableResolution string

const (
	FirstMatch TableResolution = "first_match"
	AllMatches TableResolution = "all_matches"
)

// Wildcard matches any input value in a decision table condition cell.
const Wildcard = "*"

// TableSpec holds ordered columns and rows. The last column is the output;
// earlier cells are conditions and may be the wildcard token.
type TableSpec struct {
	Columns    []string        `json:"columns"`
	Rows       [][]interface{} `json:"rows"`
	Resolution TableResolution `json:"resolution"`
}

// ScriptLanguage is the only expression language the engine accepts.
const ScriptLanguage = "cel"

type ScriptSpec struct {
	Language string `json:"language"`
	Source   string `json:"source"`
}

// Rule is a tagged union over Kind: exactly one of Tree, Table, Script is
// non-nil, matching the discriminant. The Execution Engine, Conflict
// Detector and Validator all switch exhaustively on Kind.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Version     string    `json:"version"`
	Author      string    `json:"author,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	State       State     `json:"state"`
	Tags        []string  `json:"tags,omitempty"`
	Priority    int       `json:"priority"`
	Schedule    *Schedule `json:"schedule,omitempty"`

	Kind   Kind        `json:"kind"`
	Tree   *TreeSpec   `json:"tree,omitempty"`
	Table  *TableSpec  `json:"table,omitempty"`
	Script *ScriptSpec `json:"script,omitempty"`
}

// Active reports whether the rule participates in conflict analysis.
// Drafts and archived rules are invisible to the detector.
func (r *Rule) Active() bool {
	return r.State == StateStaging || r.State == StateProd
}

// Clone returns a deep copy. Resolution previews mutate working copies and
// must never touch the stored rule.
func (r *Rule) Clone() *Rule {
	cp := *r
	if r.Tags != nil {
		cp.Tags = append([]string(nil), r.Tags...)
	}
	if r.Schedule != nil {
		s := *r.Schedule
		if r.Schedule.ActivationDate != nil {
			t := *r.Schedule.ActivationDate
			s.ActivationDate = &t
		}
		if r.Schedule.DeactivationDate != nil {
			t := *r.Schedule.DeactivationDate
			s.DeactivationDate = &t
		}
		cp.Schedule = &s
	}
	if r.Tree != nil {
		t := *r.Tree
		t.Nodes = make(map[string]Node, len(r.Tree.Nodes))
		for id, n := range r.Tree.Nodes {
			if n.Then != nil {
				b := *n.Then
				n.Then = &b
			}
			if n.Else != nil {
				b := *n.Else
				n.Else = &b
			}
			t.Nodes[id] = n
		}
		cp.Tree = &t
	}
	if r.Table != nil {
		t := *r.Table
		t.Columns = append([]string(nil), r.Table.Columns...)
		t.Rows = make([][]interface{}, len(r.Table.Rows))
		for i, row := range r.Table.Rows {
			t.Rows[i] = append([]interface{}(nil), row...)
		}
		cp.Table = &t
	}
	if r.Script != nil {
		s := *r.Script
		cp.Script = &s
	}
	return &cp
}

type CreateRuleRequest struct {
	ID          string      `json:"id"`
	Name        string      `json:"name" binding:"required"`
	Description string      `json:"description"`
	Version     string      `json:"version"`
	Author      string      `json:"author"`
	State       State       `json:"state"`
	Tags        []string    `json:"tags"`
	Priority    int         `json:"priority"`
	Schedule    *Schedule   `json:"schedule"`
	Kind        Kind        `json:"kind" binding:"required"`
	Tree        *TreeSpec   `json:"tree"`
	Table       *TableSpec  `json:"table"`
	Script      *ScriptSpec `json:"script"`
}

type UpdateRuleRequest struct {
	Name        *string     `json:"name"`
	Description *string     `json:"description"`
	Version     *string     `json:"version"`
	Tags        *[]string   `json:"tags"`
	Priority    *int        `json:"priority"`
	Schedule    *Schedule   `json:"schedule"`
	Tree        *TreeSpec   `json:"tree"`
	Table       *TableSpec  `json:"table"`
	Script      *ScriptSpec `json:"script"`
}

type BulkStateRequest struct {
	RuleIDs []string `json:"rule_ids" binding:"required"`
	ToState State    `json:"to_state" binding:"required"`
	Actor   string   `json:"actor"`
	Reason  string   `json:"reason"`
}

type BulkStateResult struct {
	Succeeded []string          `json:"succeeded"`
	Failed    map[string]string `json:"failed,omitempty"`
}
