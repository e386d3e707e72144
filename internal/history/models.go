// Package history keeps the append-only version log of every rule and
// computes structural diffs between snapshots.
package history

import (
	"time"

	"rulehub/internal/rules"
)

type ChangeType string

const (
	ChangeCreated     ChangeType = "created"
	ChangeUpdated     ChangeType = "updated"
	ChangeStateChange ChangeType = "state_change"
	ChangeRollback    ChangeType = "rollback"
)

// Version is one immutable snapshot of a rule. VersionNumber is 1-based
// and strictly increasing per rule; entries are never updated or deleted.
type Version struct {
	ID            string      `json:"id"`
	RuleID        string      `json:"rule_id"`
	VersionNumber int         `json:"version_number"`
	Snapshot      *rules.Rule `json:"snapshot"`
	ChangeType    ChangeType  `json:"change_type"`
	ChangedBy     string      `json:"changed_by,omitempty"`
	ChangeReason  string      `json:"change_reason,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

type DiffKind string

const (
	DiffAdded   DiffKind = "added"
	DiffRemoved DiffKind = "removed"
	DiffChanged DiffKind = "changed"
)

// DiffItem describes one difference at a dot-separated path, e.g.
// "table.rows.2.1" or "schedule.activation_date".
type DiffItem struct {
	Path     string      `json:"path"`
	Kind     DiffKind    `json:"kind"`
	OldValue interface{} `json:"old_value,omitempty"`
	NewValue interface{} `json:"new_value,omitempty"`
}
