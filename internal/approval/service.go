package approval

import (
	"context"
	"fmt"
	"time"

	"rulehub/internal/logger"
	"rulehub/internal/notify"
	"rulehub/internal/rules"
	pkgerrors "rulehub/pkg/errors"
	"rulehub/pkg/metrics"
)

// RuleRegistry is the slice of the registry the workflow needs: rule
// lookup, the promotion gate, and the actual promotion.
type RuleRegistry interface {
	GetRule(ctx context.Context, id string) (*rules.Rule, error)
	CanPromote(ctx context.Context, id string) (bool, string, error)
	PromoteRule(ctx context.Context, id, actor string) error
}

// DefaultRequiredRoles applies when a request does not name its approvers.
var DefaultRequiredRoles = []string{"manager"}

type Service struct {
	repo     Repository
	registry RuleRegistry
	notifier notify.Notifier
	logger   logger.Logger
}

func NewService(repo Repository, registry RuleRegistry, notifier notify.Notifier, log logger.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{repo: repo, registry: registry, notifier: notifier, logger: log}
}

// CreateRequest opens the approval gate for a promotion. The conflict gate
// runs here too so a request that could never be approved is rejected
// immediately.
func (s *Service) CreateRequest(ctx context.Context, input CreateRequestInput, requester string) (*Request, error) {
	rule, err := s.registry.GetRule(ctx, input.RuleID)
	if err != nil {
		return nil, err
	}

	if rule.State == rules.StateProd {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "rule is already in prod")
	}
	if rule.State == rules.StateArchived {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "archived rules cannot be promoted")
	}

	pending, err := s.repo.ListByRule(ctx, input.RuleID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	for _, p := range pending {
		if p.Status == StatusPending {
			return nil, pkgerrors.ErrConflict.WithDetail("message",
				fmt.Sprintf("rule %s already has a pending approval request", input.RuleID))
		}
	}

	ok, reason, err := s.registry.CanPromote(ctx, input.RuleID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, pkgerrors.ErrConflict.WithDetail("message", reason)
	}

	roles := input.RequiredRoles
	if len(roles) == 0 {
		roles = append([]string(nil), DefaultRequiredRoles...)
	}
	toState := input.ToState
	if toState == "" {
		toState = string(rules.StateProd)
	}

	req := &Request{
		RuleID:        rule.ID,
		RuleName:      rule.Name,
		FromState:     string(rule.State),
		ToState:       toState,
		RequestedBy:   requester,
		Reason:        input.Reason,
		RequiredRoles: roles,
		Approvals:     []Approval{},
		Status:        StatusPending,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.appendTimeline(ctx, req, ActionRequested, requester, map[string]interface{}{
		"from_state": req.FromState,
		"to_state":   req.ToState,
		"reason":     input.Reason,
	})
	s.publish(ctx, notify.EventApprovalRequest, req, requester)
	metrics.ApprovalDecisionsTotal.WithLabelValues("requested").Inc()

	s.logger.InfowCtx(ctx, "approval request created",
		"request_id", req.ID, "rule_id", req.RuleID, "requested_by", requester)
	return req, nil
}

// Approve records one approver's decision. When the approval count reaches
// the required role count the request flips to approved and the rule is
// promoted in the same call.
func (s *Service) Approve(ctx context.Context, id string, decision DecisionInput) (*Request, error) {
	req, err := s.pending(ctx, id)
	if err != nil {
		return nil, err
	}

	req.Approvals = append(req.Approvals, Approval{
		Approver:   decision.Actor,
		Role:       decision.Role,
		Comment:    decision.Comment,
		ApprovedAt: time.Now(),
	})

	if len(req.Approvals) >= len(req.RequiredRoles) {
		req.Status = StatusApproved
	}

	if err := s.repo.Update(ctx, req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.appendTimeline(ctx, req, ActionApproved, decision.Actor, map[string]interface{}{
		"role":      decision.Role,
		"comment":   decision.Comment,
		"approvals": len(req.Approvals),
		"required":  len(req.RequiredRoles),
	})
	s.publish(ctx, notify.EventApprovalApproved, req, decision.Actor)
	metrics.ApprovalDecisionsTotal.WithLabelValues("approved").Inc()

	if req.Status == StatusApproved {
		if err := s.registry.PromoteRule(ctx, req.RuleID, decision.Actor); err != nil {
			return nil, err
		}
		s.appendTimeline(ctx, req, ActionPromoted, decision.Actor, map[string]interface{}{
			"to_state": req.ToState,
		})
		s.logger.InfowCtx(ctx, "rule promoted via approval",
			"request_id", req.ID, "rule_id", req.RuleID)
	}

	return req, nil
}

// Reject is terminal: no further approvals are accepted.
func (s *Service) Reject(ctx context.Context, id string, decision DecisionInput) (*Request, error) {
	req, err := s.pending(ctx, id)
	if err != nil {
		return nil, err
	}

	req.Status = StatusRejected
	req.RejectedBy = decision.Actor
	req.RejectReason = decision.Comment

	if err := s.repo.Update(ctx, req); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.appendTimeline(ctx, req, ActionRejected, decision.Actor, map[string]interface{}{
		"reason": decision.Comment,
	})
	s.publish(ctx, notify.EventApprovalRejected, req, decision.Actor)
	metrics.ApprovalDecisionsTotal.WithLabelValues("rejected").Inc()

	return req, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if req == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", fmt.Sprintf("approval request %s not found", id))
	}
	return req, nil
}

func (s *Service) List(ctx context.Context, status Status) ([]Request, error) {
	requests, err := s.repo.List(ctx, status)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return requests, nil
}

func (s *Service) Timeline(ctx context.Context, requestID string) ([]TimelineEvent, error) {
	events, err := s.repo.Timeline(ctx, requestID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return events, nil
}

// RuleTimeline returns every workflow event ever recorded for a rule,
// across all of its requests and admin overrides.
func (s *Service) RuleTimeline(ctx context.Context, ruleID string) ([]TimelineEvent, error) {
	events, err := s.repo.RuleTimeline(ctx, ruleID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return events, nil
}

// RecordOverride writes an admin_override event into the rule's timeline.
// Called by the registry when an admin bulk state change bypasses the
// workflow.
func (s *Service) RecordOverride(ctx context.Context, ruleID, actor string, detail map[string]interface{}) error {
	event := &TimelineEvent{
		RuleID: ruleID,
		Action: ActionAdminOverride,
		Actor:  actor,
		Detail: detail,
	}
	if err := s.repo.AppendTimeline(ctx, event); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return nil
}

func (s *Service) pending(ctx context.Context, id string) (*Request, error) {
	req, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, pkgerrors.ErrConflict.WithDetail("message",
			fmt.Sprintf("approval request is %s, only pending requests accept decisions", req.Status))
	}
	return req, nil
}

func (s *Service) appendTimeline(ctx context.Context, req *Request, action, actor string, detail map[string]interface{}) {
	event := &TimelineEvent{
		RequestID: req.ID,
		RuleID:    req.RuleID,
		Action:    action,
		Actor:     actor,
		Detail:    detail,
	}
	if err := s.repo.AppendTimeline(ctx, event); err != nil {
		s.logger.ErrorwCtx(ctx, "failed to append timeline event",
			"request_id", req.ID, "action", action, "error", err)
	}
}

// publish is best-effort: the workflow action already succeeded.
func (s *Service) publish(ctx context.Context, eventType notify.EventType, req *Request, actor string) {
	err := s.notifier.Publish(ctx, notify.Event{
		Type:   eventType,
		RuleID: req.RuleID,
		Actor:  actor,
		Detail: map[string]interface{}{
			"request_id": req.ID,
			"rule_name":  req.RuleName,
			"status":     req.Status,
		},
	})
	if err != nil {
		s.logger.WarnwCtx(ctx, "failed to publish approval event",
			"request_id", req.ID, "event", eventType, "error", err)
	}
}
