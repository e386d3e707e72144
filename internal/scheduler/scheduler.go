// Package scheduler drives time-based rule lifecycle transitions. The
// decision logic is a pure function of (rule, now); the cron runner only
// applies what Tick decides, so repeated ticks are idempotent.
package scheduler

import (
	"fmt"
	"time"

	"rulehub/internal/rules"
)

type Action string

const (
	ActionNone       Action = "none"
	ActionPromote    Action = "promote"
	ActionArchive    Action = "archive"
	ActionNotice     Action = "notice"
	ActionReschedule Action = "reschedule"
)

// Decision is what a single tick wants to do with a rule.
type Decision struct {
	Action Action
	// Reason is a human-readable explanation recorded in history.
	Reason string
	// Next window for ActionReschedule.
	NextActivation   *time.Time
	NextDeactivation *time.Time
}

// Tick inspects one rule at one instant. Guards compare against the
// current state, so applying the decision and ticking again yields
// ActionNone: the scheduler can fire as often as it likes.
func Tick(rule *rules.Rule, now time.Time) Decision {
	s := rule.Schedule
	if s == nil || !s.Enabled {
		return Decision{Action: ActionNone}
	}

	// deactivation wins over activation when both have passed. A
	// recurring rule rolls its window forward instead of archiving.
	if s.DeactivationDate != nil && !now.Before(*s.DeactivationDate) {
		if rule.State == rules.StateArchived {
			return Decision{Action: ActionNone}
		}
		if activation, deactivation, ok := nextWindow(s, now); ok {
			return Decision{
				Action:           ActionReschedule,
				Reason:           fmt.Sprintf("%s recurrence, window rolled forward", s.Recurrence),
				NextActivation:   &activation,
				NextDeactivation: &deactivation,
			}
		}
		return Decision{
			Action: ActionArchive,
			Reason: "deactivation date passed",
		}
	}

	if s.ActivationDate != nil && !now.Before(*s.ActivationDate) {
		if rule.State != rules.StateProd && rule.State != rules.StateArchived {
			return Decision{
				Action: ActionPromote,
				Reason: "activation date passed",
			}
		}
		return Decision{Action: ActionNone}
	}

	if s.ActivationDate != nil && s.NotifyBefore > 0 && rule.State != rules.StateProd {
		window := time.Duration(s.NotifyBefore) * time.Minute
		until := s.ActivationDate.Sub(now)
		if until > 0 && until <= window {
			return Decision{
				Action: ActionNotice,
				Reason: "activation upcoming",
			}
		}
	}

	return Decision{Action: ActionNone}
}

// nextWindow advances a recurring window until its deactivation is in the
// future. Both dates are required; an open-ended window cannot recur.
func nextWindow(s *rules.Schedule, now time.Time) (activation, deactivation time.Time, ok bool) {
	if s.ActivationDate == nil || s.DeactivationDate == nil {
		return time.Time{}, time.Time{}, false
	}

	var step func(time.Time) time.Time
	switch s.Recurrence {
	case rules.RecurrenceDaily:
		step = func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	case rules.RecurrenceWeekly:
		step = func(t time.Time) time.Time { return t.AddDate(0, 0, 7) }
	case rules.RecurrenceMonthly:
		step = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	default:
		return time.Time{}, time.Time{}, false
	}

	activation, deactivation = *s.ActivationDate, *s.DeactivationDate
	for !now.Before(deactivation) {
		activation, deactivation = step(activation), step(deactivation)
	}
	return activation, deactivation, true
}
