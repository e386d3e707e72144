package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"rulehub/internal/conflict"
	"rulehub/internal/engine"
	"rulehub/internal/history"
	"rulehub/internal/logger"
	"rulehub/internal/notify"
	"rulehub/internal/rules"
	pkgerrors "rulehub/pkg/errors"
	"rulehub/pkg/metrics"
)

// DefaultVersion is assumed when a rule arrives without one.
const DefaultVersion = "1.0.0"

// OverrideAudit records admin bypasses of the approval workflow. The
// approval package implements it over the timeline collection.
type OverrideAudit interface {
	RecordOverride(ctx context.Context, ruleID, actor string, detail map[string]interface{}) error
}

// SaveResult carries the persisted rule plus the advisory findings of the
// save: validator warnings and non-blocking conflicts.
type SaveResult struct {
	Rule      *rules.Rule         `json:"rule"`
	Warnings  []string            `json:"warnings,omitempty"`
	Conflicts []conflict.Conflict `json:"conflicts,omitempty"`
}

type Service struct {
	repo      Repository
	history   history.Repository
	validator *rules.Validator
	engine    *engine.Engine
	detector  *conflict.Detector
	resolver  *conflict.Resolver
	scanner   *conflict.Scanner
	notifier  notify.Notifier
	audit     OverrideAudit
	logger    logger.Logger
}

type ServiceOption func(*Service)

func WithScanner(scanner *conflict.Scanner) ServiceOption {
	return func(s *Service) { s.scanner = scanner }
}

func WithNotifier(notifier notify.Notifier) ServiceOption {
	return func(s *Service) { s.notifier = notifier }
}

func WithOverrideAudit(audit OverrideAudit) ServiceOption {
	return func(s *Service) { s.audit = audit }
}

func NewService(repo Repository, historyRepo history.Repository, validator *rules.Validator,
	eng *engine.Engine, detector *conflict.Detector, log logger.Logger, opts ...ServiceOption) *Service {

	s := &Service{
		repo:      repo,
		history:   historyRepo,
		validator: validator,
		engine:    eng,
		detector:  detector,
		resolver:  conflict.NewResolver(detector),
		notifier:  notify.Nop{},
		logger:    log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates, gates on error conflicts, persists the rule together
// with its first history entry, and kicks a background conflict scan.
func (s *Service) Create(ctx context.Context, req rules.CreateRuleRequest) (*SaveResult, error) {
	rule := &rules.Rule{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Version:     req.Version,
		Author:      req.Author,
		State:       req.State,
		Tags:        req.Tags,
		Priority:    req.Priority,
		Schedule:    req.Schedule,
		Kind:        req.Kind,
		Tree:        req.Tree,
		Table:       req.Table,
		Script:      req.Script,
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Version == "" {
		rule.Version = DefaultVersion
	}
	if rule.State == "" {
		rule.State = rules.StateDraft
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	warnings, err := s.validator.Validate(rule)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	existing, err := s.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	ok, conflicts := s.detector.CanSave(rule, existing)
	if !ok {
		return nil, conflictError("rule cannot be saved", conflicts)
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.repo.Create(ctx, tx, rule); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, rule, history.ChangeCreated, getActor(ctx), "rule created")
	}); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.mutated(ctx)
	s.publish(ctx, notify.EventRuleSaved, rule.ID, getActor(ctx), nil)
	s.logger.InfowCtx(ctx, "rule created", "rule_id", rule.ID, "kind", rule.Kind, "state", rule.State)

	return &SaveResult{Rule: rule, Warnings: warnings, Conflicts: conflicts}, nil
}

// Update applies the partial request, revalidates, regates and appends an
// updated history entry in the same transaction.
func (s *Service) Update(ctx context.Context, id string, req rules.UpdateRuleRequest) (*SaveResult, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	applyUpdate(rule, req)
	rule.UpdatedAt = time.Now()

	warnings, err := s.validator.Validate(rule)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}

	existing, err := s.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	ok, conflicts := s.detector.CanSave(rule, existing)
	if !ok {
		return nil, conflictError("rule cannot be saved", conflicts)
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.repo.Update(ctx, tx, rule); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, rule, history.ChangeUpdated, getActor(ctx), "rule updated")
	}); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.mutated(ctx)
	s.publish(ctx, notify.EventRuleSaved, rule.ID, getActor(ctx), nil)

	return &SaveResult{Rule: rule, Warnings: warnings, Conflicts: conflicts}, nil
}

func (s *Service) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	rule, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if rule == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("id", id)
	}
	return rule, nil
}

func (s *Service) List(ctx context.Context, state rules.State) ([]*rules.Rule, error) {
	if state != "" && !state.Valid() {
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("invalid state filter: %s", state))
	}
	out, err := s.repo.List(ctx, state)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return out, nil
}

// ListRules returns every rule regardless of state. Satisfies the conflict
// scanner's and the scheduler's source interfaces.
func (s *Service) ListRules(ctx context.Context) ([]*rules.Rule, error) {
	return s.List(ctx, "")
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.GetRule(ctx, id); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, nil, id); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.mutated(ctx)
	s.publish(ctx, notify.EventRuleDeleted, id, getActor(ctx), nil)
	return nil
}

// Evaluate runs a single rule against an input record. Interpreter
// failures come back inside the result, not as an error.
func (s *Service) Evaluate(ctx context.Context, id string, input map[string]interface{}) (*engine.Result, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result := s.engine.Evaluate(ctx, rule, input)

	outcome := "success"
	if !result.Success {
		outcome = "failure"
	}
	metrics.EvaluationsTotal.WithLabelValues(string(rule.Kind), outcome).Inc()
	metrics.ObserveEvaluationDuration(string(rule.Kind), time.Since(start))

	return result, nil
}

// FocusedConflicts reports conflicts involving one rule against the rest
// of the registry. Draft rules report nothing.
func (s *Service) FocusedConflicts(ctx context.Context, id string) ([]conflict.Conflict, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	others, err := s.ListRules(ctx)
	if err != nil {
		return nil, err
	}
	return s.detector.DetectForRule(rule, others), nil
}

// ChangeState performs one lifecycle transition, recording it in history.
func (s *Service) ChangeState(ctx context.Context, id string, to rules.State, actor, reason string) error {
	if !to.Valid() {
		return pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("invalid state: %s", to))
	}

	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if rule.State == to {
		return nil
	}

	from := rule.State
	rule.State = to

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.repo.Update(ctx, tx, rule); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, rule, history.ChangeStateChange, actor,
			fmt.Sprintf("state %s -> %s: %s", from, to, reason))
	}); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.mutated(ctx)
	s.publish(ctx, notify.EventStateChanged, id, actor, map[string]interface{}{
		"from_state": from,
		"to_state":   to,
		"reason":     reason,
	})
	s.logger.InfowCtx(ctx, "rule state changed",
		"rule_id", id, "from_state", from, "to_state", to, "actor", actor)
	return nil
}

// Reschedule moves a rule's activation window, dropping the rule from
// prod to staging so the new activation date promotes it again.
func (s *Service) Reschedule(ctx context.Context, id string, activation, deactivation time.Time, actor, reason string) error {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if rule.Schedule == nil {
		return pkgerrors.ErrValidation.WithDetail("message", "rule has no schedule to move")
	}
	if !activation.Before(deactivation) {
		return pkgerrors.ErrValidation.WithDetail("message", "activation_date must be before deactivation_date")
	}

	rule.Schedule.ActivationDate = &activation
	rule.Schedule.DeactivationDate = &deactivation
	if rule.State == rules.StateProd {
		rule.State = rules.StateStaging
	}
	rule.UpdatedAt = time.Now()

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.repo.Update(ctx, tx, rule); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, rule, history.ChangeUpdated, actor, reason)
	}); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.mutated(ctx)
	s.publish(ctx, notify.EventRuleSaved, id, actor, map[string]interface{}{
		"activation_date":   activation,
		"deactivation_date": deactivation,
		"reason":            reason,
	})
	s.logger.InfowCtx(ctx, "rule window rescheduled",
		"rule_id", id, "activation_date", activation, "deactivation_date", deactivation, "actor", actor)
	return nil
}

// CanPromote is the promotion gate: any conflict at all blocks.
func (s *Service) CanPromote(ctx context.Context, id string) (bool, string, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return false, "", err
	}
	others, err := s.ListRules(ctx)
	if err != nil {
		return false, "", err
	}

	ok, conflicts := s.detector.CanPromote(rule, others)
	if ok {
		return true, "", nil
	}
	return false, fmt.Sprintf("rule has %d unresolved conflict(s), resolve them before promotion", len(conflicts)), nil
}

// PromoteRule moves a rule to prod on behalf of an approved request.
func (s *Service) PromoteRule(ctx context.Context, id, actor string) error {
	ok, reason, err := s.CanPromote(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return pkgerrors.ErrConflict.WithDetail("message", reason)
	}
	return s.ChangeState(ctx, id, rules.StateProd, actor, "approved promotion")
}

// BulkChangeState applies one transition to many rules in a single
// transaction. Bypassing the approval workflow is allowed for admins, but
// every bypass leaves a state_change history entry and an admin_override
// audit event.
func (s *Service) BulkChangeState(ctx context.Context, req rules.BulkStateRequest) (*rules.BulkStateResult, error) {
	if !req.ToState.Valid() {
		return nil, pkgerrors.ErrValidation.WithDetail("message", fmt.Sprintf("invalid state: %s", req.ToState))
	}
	if len(req.RuleIDs) == 0 {
		return nil, pkgerrors.ErrValidation.WithDetail("message", "rule_ids is empty")
	}

	actor := req.Actor
	if actor == "" {
		actor = getActor(ctx)
	}

	result := &rules.BulkStateResult{Failed: map[string]string{}}
	var changed []*rules.Rule

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range req.RuleIDs {
			rule, err := s.repo.Get(ctx, id)
			if err != nil {
				return err
			}
			if rule == nil {
				result.Failed[id] = "rule not found"
				continue
			}
			if rule.State == req.ToState {
				result.Succeeded = append(result.Succeeded, id)
				continue
			}

			from := rule.State
			rule.State = req.ToState
			if err := s.repo.Update(ctx, tx, rule); err != nil {
				return err
			}
			if err := s.appendHistory(ctx, tx, rule, history.ChangeStateChange, actor,
				fmt.Sprintf("admin bulk state %s -> %s: %s", from, req.ToState, req.Reason)); err != nil {
				return err
			}
			result.Succeeded = append(result.Succeeded, id)
			changed = append(changed, rule)
		}
		return nil
	})
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	for _, rule := range changed {
		if s.audit != nil {
			if err := s.audit.RecordOverride(ctx, rule.ID, actor, map[string]interface{}{
				"to_state": req.ToState,
				"reason":   req.Reason,
			}); err != nil {
				s.logger.ErrorwCtx(ctx, "failed to record admin override", "rule_id", rule.ID, "error", err)
			}
		}
		s.publish(ctx, notify.EventAdminOverride, rule.ID, actor, map[string]interface{}{
			"to_state": req.ToState,
			"reason":   req.Reason,
		})
	}

	if len(changed) > 0 {
		s.mutated(ctx)
	}
	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	return result, nil
}

// Versions lists the full history of a rule, newest first.
func (s *Service) Versions(ctx context.Context, id string) ([]history.Version, error) {
	if _, err := s.GetRule(ctx, id); err != nil {
		return nil, err
	}
	versions, err := s.history.List(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return versions, nil
}

func (s *Service) GetVersion(ctx context.Context, id string, number int) (*history.Version, error) {
	v, err := s.history.Get(ctx, id, number)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if v == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("message",
			fmt.Sprintf("rule %s has no version %d", id, number))
	}
	return v, nil
}

// Diff compares two stored versions of a rule.
func (s *Service) Diff(ctx context.Context, id string, from, to int) ([]history.DiffItem, error) {
	a, err := s.GetVersion(ctx, id, from)
	if err != nil {
		return nil, err
	}
	b, err := s.GetVersion(ctx, id, to)
	if err != nil {
		return nil, err
	}

	items, err := history.DiffRules(a.Snapshot, b.Snapshot)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	return items, nil
}

// Rollback restores the content of an earlier version as a brand-new
// version. The target version itself is never modified.
func (s *Service) Rollback(ctx context.Context, id string, toVersion int, actor string) (*SaveResult, error) {
	current, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	target, err := s.GetVersion(ctx, id, toVersion)
	if err != nil {
		return nil, err
	}

	restored := target.Snapshot.Clone()
	restored.ID = current.ID
	restored.CreatedAt = current.CreatedAt
	restored.UpdatedAt = time.Now()

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := s.repo.Update(ctx, tx, restored); err != nil {
			return err
		}
		return s.appendHistory(ctx, tx, restored, history.ChangeRollback, actor,
			fmt.Sprintf("rollback to version %d", toVersion))
	}); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.mutated(ctx)
	s.publish(ctx, notify.EventRuleSaved, id, actor, map[string]interface{}{
		"rollback_to": toVersion,
	})
	return &SaveResult{Rule: restored}, nil
}

// LatestConflictReport serves the newest completed scan.
func (s *Service) LatestConflictReport(ctx context.Context) (*conflict.Report, error) {
	if s.scanner == nil {
		return nil, pkgerrors.ErrServiceUnavailable.WithDetail("message", "conflict scanner not configured")
	}
	report, err := s.scanner.Latest(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}
	if report == nil {
		return nil, pkgerrors.ErrNotFound.WithDetail("message", "no conflict scan has completed yet")
	}
	return report, nil
}

// TriggerScan starts a background scan and returns immediately.
func (s *Service) TriggerScan(ctx context.Context) error {
	if s.scanner == nil {
		return pkgerrors.ErrServiceUnavailable.WithDetail("message", "conflict scanner not configured")
	}
	s.scanner.Trigger(ctx)
	metrics.ConflictScansTotal.Inc()
	return nil
}

// PreviewResolution dry-runs a strategy against cloned rules.
func (s *Service) PreviewResolution(ctx context.Context, conflictID string, strategy conflict.Strategy) (*conflict.Preview, error) {
	c, all, err := s.findConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	preview, err := s.resolver.PreviewResolution(c, strategy, all)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}
	return preview, nil
}

// ApplyResolution re-previews the strategy and persists every modified
// rule in one transaction, each with its own history entry. A preview
// that still leaves conflicts open is refused before anything lands.
func (s *Service) ApplyResolution(ctx context.Context, conflictID string, strategy conflict.Strategy, actor string) (*conflict.Preview, error) {
	c, all, err := s.findConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}

	preview, err := s.resolver.PreviewResolution(c, strategy, all)
	if err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrValidation)
	}
	if len(preview.RemainingConflicts) > 0 {
		return nil, pkgerrors.ErrConflict.WithDetail("message",
			fmt.Sprintf("resolution %s leaves %d conflicts open; preview strategies and pick one that clears them", strategy, len(preview.RemainingConflicts)))
	}

	if err := s.inTx(ctx, func(tx *sql.Tx) error {
		for _, rule := range preview.ModifiedRules {
			if err := s.repo.Update(ctx, tx, rule); err != nil {
				return err
			}
			if err := s.appendHistory(ctx, tx, rule, history.ChangeUpdated, actor,
				fmt.Sprintf("conflict resolution %s applied", strategy)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, pkgerrors.Wrap(err, pkgerrors.ErrInternal)
	}

	s.mutated(ctx)
	for _, rule := range preview.ModifiedRules {
		s.publish(ctx, notify.EventRuleSaved, rule.ID, actor, map[string]interface{}{
			"resolution": strategy,
		})
	}
	metrics.ConflictResolutionsTotal.WithLabelValues(string(strategy)).Inc()

	s.logger.InfowCtx(ctx, "conflict resolution applied",
		"conflict_id", conflictID, "strategy", strategy, "modified", len(preview.ModifiedRules))
	return preview, nil
}

func (s *Service) findConflict(ctx context.Context, conflictID string) (*conflict.Conflict, []*rules.Rule, error) {
	report, err := s.LatestConflictReport(ctx)
	if err != nil {
		return nil, nil, err
	}

	var found *conflict.Conflict
	for i := range report.Conflicts {
		if report.Conflicts[i].ID == conflictID {
			found = &report.Conflicts[i]
			break
		}
	}
	if found == nil {
		return nil, nil, pkgerrors.ErrNotFound.WithDetail("message",
			fmt.Sprintf("conflict %s not found in the latest report; rescan and retry", conflictID))
	}

	all, err := s.ListRules(ctx)
	if err != nil {
		return nil, nil, err
	}
	return found, all, nil
}

// inTx wraps fn in a transaction when the repository supports one.
func (s *Service) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	if tx == nil {
		return fn(nil)
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Service) appendHistory(ctx context.Context, tx *sql.Tx, rule *rules.Rule, changeType history.ChangeType, actor, reason string) error {
	return s.history.Append(ctx, tx, &history.Version{
		RuleID:       rule.ID,
		Snapshot:     rule.Clone(),
		ChangeType:   changeType,
		ChangedBy:    actor,
		ChangeReason: reason,
	})
}

func (s *Service) mutated(ctx context.Context) {
	if s.scanner != nil {
		s.scanner.Invalidate()
		s.scanner.Trigger(ctx)
	}
}

// publish is best-effort.
func (s *Service) publish(ctx context.Context, eventType notify.EventType, ruleID, actor string, detail map[string]interface{}) {
	err := s.notifier.Publish(ctx, notify.Event{
		Type:   eventType,
		RuleID: ruleID,
		Actor:  actor,
		Detail: detail,
	})
	if err != nil {
		s.logger.WarnwCtx(ctx, "failed to publish rule event",
			"rule_id", ruleID, "event", eventType, "error", err)
	}
}

func conflictError(message string, conflicts []conflict.Conflict) error {
	descriptions := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		if c.Severity == conflict.SeverityError {
			descriptions = append(descriptions, c.Description)
		}
	}
	return pkgerrors.ErrConflict.
		WithDetail("message", message).
		WithDetail("conflicts", descriptions)
}

func applyUpdate(rule *rules.Rule, req rules.UpdateRuleRequest) {
	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Description != nil {
		rule.Description = *req.Description
	}
	if req.Version != nil {
		rule.Version = *req.Version
	}
	if req.Tags != nil {
		rule.Tags = *req.Tags
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Schedule != nil {
		rule.Schedule = req.Schedule
	}
	if req.Tree != nil {
		rule.Tree = req.Tree
		rule.Table = nil
		rule.Script = nil
		rule.Kind = rules.KindDecisionTree
	}
	if req.Table != nil {
		rule.Table = req.Table
		rule.Tree = nil
		rule.Script = nil
		rule.Kind = rules.KindDecisionTable
	}
	if req.Script != nil {
		rule.Script = req.Script
		rule.Tree = nil
		rule.Table = nil
		rule.Kind = rules.KindScript
	}
}

func getActor(ctx context.Context) string {
	if userID := ctx.Value("user_id"); userID != nil {
		if id, ok := userID.(string); ok {
			return id
		}
	}
	return "system"
}
