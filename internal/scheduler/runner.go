package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"rulehub/internal/logger"
	"rulehub/internal/notify"
	"rulehub/internal/rules"
	pkgerrors "rulehub/pkg/errors"
	"rulehub/pkg/metrics"
)

// Actor is the identity recorded on history entries the scheduler writes.
const Actor = "scheduler"

// Registry is the slice of the rule registry the runner needs.
type Registry interface {
	ListRules(ctx context.Context) ([]*rules.Rule, error)
	ChangeState(ctx context.Context, id string, to rules.State, actor, reason string) error
	Reschedule(ctx context.Context, id string, activation, deactivation time.Time, actor, reason string) error
}

type Runner struct {
	registry Registry
	notifier notify.Notifier
	log      logger.Logger
	spec     string

	cron *cron.Cron

	mu       sync.Mutex
	notified map[string]time.Time
}

// NewRunner wires the tick loop. spec is a cron spec, "@every 1m" by
// convention; a tick still in flight makes the next one skip, not queue.
func NewRunner(registry Registry, notifier notify.Notifier, log logger.Logger, spec string) *Runner {
	if spec == "" {
		spec = "@every 1m"
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Runner{
		registry: registry,
		notifier: notifier,
		log:      log,
		spec:     spec,
		notified: make(map[string]time.Time),
	}
}

func (r *Runner) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DiscardLogger),
	))

	_, err := c.AddFunc(r.spec, func() {
		tickCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
		defer cancel()
		r.RunOnce(tickCtx, time.Now())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule lifecycle tick: %w", err)
	}

	c.Start()
	r.cron = c
	r.log.Infow("lifecycle scheduler started", "spec", r.spec)
	return nil
}

func (r *Runner) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// RunOnce evaluates every rule against now and applies the decisions.
// Failures on one rule never stop the sweep; a panic here must not take
// down the cron goroutine.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) {
	defer func() {
		if err := pkgerrors.RecoverPanic(recover()); err != nil {
			r.log.ErrorwCtx(ctx, "scheduler tick panicked", "error", err)
		}
	}()

	metrics.SchedulerTicksTotal.Inc()

	all, err := r.registry.ListRules(ctx)
	if err != nil {
		r.log.ErrorwCtx(ctx, "scheduler tick failed to list rules", "error", err)
		return
	}

	for _, rule := range all {
		decision := Tick(rule, now)
		switch decision.Action {
		case ActionPromote:
			r.apply(ctx, rule, rules.StateProd, decision.Reason, notify.EventSchedulePromoted)
		case ActionArchive:
			r.apply(ctx, rule, rules.StateArchived, decision.Reason, notify.EventScheduleArchived)
		case ActionReschedule:
			r.reschedule(ctx, rule, decision)
		case ActionNotice:
			r.notice(ctx, rule)
		}
	}
}

func (r *Runner) apply(ctx context.Context, rule *rules.Rule, to rules.State, reason string, event notify.EventType) {
	if err := r.registry.ChangeState(ctx, rule.ID, to, Actor, reason); err != nil {
		r.log.ErrorwCtx(ctx, "scheduled state change failed",
			"rule_id", rule.ID, "to_state", to, "error", err)
		return
	}

	metrics.SchedulerTransitionsTotal.WithLabelValues(string(to)).Inc()
	r.log.InfowCtx(ctx, "scheduled state change applied",
		"rule_id", rule.ID, "to_state", to, "reason", reason)

	if err := r.notifier.Publish(ctx, notify.Event{
		Type:   event,
		RuleID: rule.ID,
		Actor:  Actor,
		Detail: map[string]interface{}{"to_state": to, "reason": reason},
	}); err != nil {
		r.log.WarnwCtx(ctx, "failed to publish schedule event", "rule_id", rule.ID, "error", err)
	}
}

// reschedule rolls a recurring rule's window forward. The registry drops
// the rule out of prod as part of the roll; the next activation promotes
// it again.
func (r *Runner) reschedule(ctx context.Context, rule *rules.Rule, decision Decision) {
	activation, deactivation := *decision.NextActivation, *decision.NextDeactivation
	if err := r.registry.Reschedule(ctx, rule.ID, activation, deactivation, Actor, decision.Reason); err != nil {
		r.log.ErrorwCtx(ctx, "recurring reschedule failed", "rule_id", rule.ID, "error", err)
		return
	}

	r.log.InfowCtx(ctx, "recurring window rolled forward",
		"rule_id", rule.ID, "activation_date", activation, "deactivation_date", deactivation)

	if err := r.notifier.Publish(ctx, notify.Event{
		Type:   notify.EventScheduleRolled,
		RuleID: rule.ID,
		Actor:  Actor,
		Detail: map[string]interface{}{
			"activation_date":   activation,
			"deactivation_date": deactivation,
			"reason":            decision.Reason,
		},
	}); err != nil {
		r.log.WarnwCtx(ctx, "failed to publish schedule event", "rule_id", rule.ID, "error", err)
	}
}

// notice warns about an upcoming activation once per activation date.
func (r *Runner) notice(ctx context.Context, rule *rules.Rule) {
	activation := *rule.Schedule.ActivationDate

	r.mu.Lock()
	if last, ok := r.notified[rule.ID]; ok && last.Equal(activation) {
		r.mu.Unlock()
		return
	}
	r.notified[rule.ID] = activation
	r.mu.Unlock()

	if err := r.notifier.Publish(ctx, notify.Event{
		Type:   notify.EventScheduleUpcoming,
		RuleID: rule.ID,
		Actor:  Actor,
		Detail: map[string]interface{}{"activation_date": activation},
	}); err != nil {
		r.log.WarnwCtx(ctx, "failed to publish upcoming-activation notice",
			"rule_id", rule.ID, "error", err)
	}
}
