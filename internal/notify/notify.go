// Package notify publishes lifecycle events for rules, approvals and
// schedules. Delivery is best-effort: callers log failures and move on, a
// broken broker never fails the action that produced the event.
package notify

import (
	"context"
	"time"
)

type EventType string

const (
	EventRuleSaved        EventType = "rule_saved"
	EventRuleDeleted      EventType = "rule_deleted"
	EventStateChanged     EventType = "rule_state_changed"
	EventAdminOverride    EventType = "admin_override"
	EventApprovalRequest  EventType = "approval_requested"
	EventApprovalApproved EventType = "approval_approved"
	EventApprovalRejected EventType = "approval_rejected"
	EventScheduleUpcoming EventType = "schedule_upcoming"
	EventSchedulePromoted EventType = "schedule_promoted"
	EventScheduleArchived EventType = "schedule_archived"
	EventScheduleRolled   EventType = "schedule_rolled"
)

type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	RuleID    string                 `json:"rule_id,omitempty"`
	Actor     string                 `json:"actor,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Detail    map[string]interface{} `json:"detail,omitempty"`
}

type Notifier interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Nop discards every event. Used when no broker is configured and in tests.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
