// Package approval implements the multi-approver promotion workflow.
package approval

import (
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Approval is one approver's recorded decision on a request.
type Approval struct {
	Approver   string    `json:"approver" bson:"approver"`
	Role       string    `json:"role" bson:"role"`
	Comment    string    `json:"comment,omitempty" bson:"comment,omitempty"`
	ApprovedAt time.Time `json:"approved_at" bson:"approved_at"`
}

// Request tracks one promotion through the approval gate. Approvals
// accumulate until their count reaches the number of required roles;
// a single rejection is terminal.
type Request struct {
	ID            string     `json:"id" bson:"_id"`
	RuleID        string     `json:"rule_id" bson:"rule_id"`
	RuleName      string     `json:"rule_name" bson:"rule_name"`
	FromState     string     `json:"from_state" bson:"from_state"`
	ToState       string     `json:"to_state" bson:"to_state"`
	RequestedBy   string     `json:"requested_by" bson:"requested_by"`
	Reason        string     `json:"reason,omitempty" bson:"reason,omitempty"`
	RequiredRoles []string   `json:"required_roles" bson:"required_roles"`
	Approvals     []Approval `json:"approvals" bson:"approvals"`
	Status        Status     `json:"status" bson:"status"`
	RejectedBy    string     `json:"rejected_by,omitempty" bson:"rejected_by,omitempty"`
	RejectReason  string     `json:"reject_reason,omitempty" bson:"reject_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at" bson:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" bson:"updated_at"`
}

// TimelineEvent is one append-only audit entry. The timeline lives apart
// from the request document and survives it.
type TimelineEvent struct {
	ID        string                 `json:"id" bson:"_id"`
	RequestID string                 `json:"request_id,omitempty" bson:"request_id,omitempty"`
	RuleID    string                 `json:"rule_id" bson:"rule_id"`
	Action    string                 `json:"action" bson:"action"`
	Actor     string                 `json:"actor" bson:"actor"`
	Detail    map[string]interface{} `json:"detail,omitempty" bson:"detail,omitempty"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
}

const (
	ActionRequested     = "requested"
	ActionApproved      = "approved"
	ActionRejected      = "rejected"
	ActionPromoted      = "promoted"
	ActionAdminOverride = "admin_override"
)

type CreateRequestInput struct {
	RuleID        string   `json:"rule_id" binding:"required"`
	ToState       string   `json:"to_state"`
	Reason        string   `json:"reason"`
	RequiredRoles []string `json:"required_roles"`
}

type DecisionInput struct {
	Actor   string `json:"actor" binding:"required"`
	Role    string `json:"role"`
	Comment string `json:"comment"`
}
