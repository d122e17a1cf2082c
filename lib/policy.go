package lib

import (
	"time"

	"github.com/Steven-matos/petscan-engage/lib/models"
)

// ReminderInput is everything the reminder policy is allowed to see. The
// policy is a pure function of this input.
type ReminderInput struct {
	LastQualifyingActionAt *time.Time
	LastShortFiredAt       *time.Time
	LastLongFiredAt        *time.Time
	Now                    time.Time
}

// ReminderRule holds the fixed tier offsets and fire time-of-day.
type ReminderRule struct {
	ShortAfter time.Duration
	LongAfter  time.Duration
	FireHour   int
}

// Evaluate returns the highest-priority tier whose threshold has elapsed and
// which has not fired since the last qualifying action. The long tier
// supersedes the short tier; only one reminder is ever live at a time.
//
// A user with no recorded action at all is due immediately: the onboarding
// reminder must not be deferred forever.
func (r ReminderRule) Evaluate(in ReminderInput) (models.ReminderTier, bool) {
	if in.LastQualifyingActionAt == nil {
		if in.LastShortFiredAt == nil && in.LastLongFiredAt == nil {
			return models.TierShort, true
		}
		return "", false
	}

	last := *in.LastQualifyingActionAt
	elapsed := in.Now.Sub(last)

	if elapsed >= r.LongAfter && !firedSince(in.LastLongFiredAt, last) {
		return models.TierLong, true
	}
	if elapsed >= r.ShortAfter && elapsed < r.LongAfter && !firedSince(in.LastShortFiredAt, last) {
		return models.TierShort, true
	}
	return "", false
}

// Next projects the reminder that should currently be pending, so the local
// channel is armed before the app goes quiet: the due tier if one is due now,
// otherwise the next unfired tier with its future fire time. Returns false
// when nothing should be pending (fresh activity, or every tier already
// fired since the last action).
func (r ReminderRule) Next(in ReminderInput) (models.ReminderTier, time.Time, bool) {
	if tier, due := r.Evaluate(in); due {
		return tier, r.FireTime(in, tier), true
	}
	if in.LastQualifyingActionAt == nil {
		return "", time.Time{}, false
	}

	last := *in.LastQualifyingActionAt
	elapsed := in.Now.Sub(last)
	if firedSince(in.LastLongFiredAt, last) {
		return "", time.Time{}, false
	}
	if !firedSince(in.LastShortFiredAt, last) && elapsed < r.ShortAfter {
		return models.TierShort, r.FireTime(in, models.TierShort), true
	}
	if elapsed < r.LongAfter {
		return models.TierLong, r.FireTime(in, models.TierLong), true
	}
	return "", time.Time{}, false
}

// FireTime computes when the reminder for tier should fire: the tier offset
// past the last action, adjusted to the fixed hour, never in the past.
func (r ReminderRule) FireTime(in ReminderInput, tier models.ReminderTier) time.Time {
	offset := r.ShortAfter
	if tier == models.TierLong {
		offset = r.LongAfter
	}

	base := in.Now
	if in.LastQualifyingActionAt != nil {
		base = in.LastQualifyingActionAt.Add(offset)
	}

	t := atHour(base, r.FireHour)
	if t.Before(base) {
		t = t.Add(24 * time.Hour)
	}
	for !t.After(in.Now) {
		t = t.Add(24 * time.Hour)
	}
	return t
}

func firedSince(fired *time.Time, since time.Time) bool {
	return fired != nil && fired.After(since)
}

// CelebrationInput is everything the celebration policy is allowed to see.
type CelebrationInput struct {
	EntityID  uint
	Recurring time.Time
	Record    *models.CelebrationRecord // existing row for {entity, period}, nil if none
	Now       time.Time
}

// CelebrationRule holds the fixed celebration fire hour.
type CelebrationRule struct {
	FireHour int
}

// CelebrationPlan is a fire decision: the period key, the chosen day of
// month, and the concrete fire time.
type CelebrationPlan struct {
	EntityID uint
	PeriodID int
	Day      int
	FiresAt  time.Time
}

// Evaluate decides whether an entity's celebration should fire this period.
// Only the month of the recurring date is compared, not the day; a known
// approximation carried over deliberately, not a bug to fix here.
//
// The chosen day is picked once per period and cached on the record row, so
// re-evaluating later in the same period returns the same day. An unopened
// celebration keeps refiring on later days of the month until it is opened
// or the month ends.
func (r CelebrationRule) Evaluate(in CelebrationInput, pickDay func(n int) int) (CelebrationPlan, bool) {
	if in.Recurring.Month() != in.Now.Month() {
		return CelebrationPlan{}, false
	}
	if in.Record != nil && in.Record.FiredAt.Valid {
		return CelebrationPlan{}, false
	}

	period := in.Now.Year()
	days := daysInMonth(in.Now)

	day := 0
	if in.Record != nil && in.Record.ChosenDay > 0 {
		day = in.Record.ChosenDay
	} else {
		day = 1 + pickDay(days)
	}

	firesAt := time.Date(in.Now.Year(), in.Now.Month(), day, r.FireHour, 0, 0, 0, in.Now.Location())
	for !firesAt.After(in.Now) {
		firesAt = firesAt.Add(24 * time.Hour)
		if firesAt.Month() != in.Now.Month() {
			return CelebrationPlan{}, false
		}
	}

	return CelebrationPlan{
		EntityID: in.EntityID,
		PeriodID: period,
		Day:      day,
		FiresAt:  firesAt,
	}, true
}

func atHour(t time.Time, hour int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, t.Location())
}

func daysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
