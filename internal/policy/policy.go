package policy

import (
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/subscription"
	"github.com/goodtune/lockbox/internal/usage"
)

// CurrentActiveSlot returns the premium slot whose window contains now.
// It only reports a slot in slot mode; the first match wins.
func CurrentActiveSlot(settings subscription.Settings, now time.Time) (subscription.TimeSlot, bool) {
	if settings.Tier != subscription.Premium || settings.Premium == nil || !settings.Premium.UseTimeSlotMode {
		return subscription.TimeSlot{}, false
	}
	for _, slot := range settings.Premium.TimeSlots {
		if slot.Contains(now) {
			return slot, true
		}
	}
	return subscription.TimeSlot{}, false
}

// ShouldLock decides whether the device should be locked. It is false
// whenever no budget is configured.
func ShouldLock(settings subscription.Settings, record usage.Record, now time.Time) bool {
	return Evaluate(settings, record, now).Lock
}

// Evaluate is ShouldLock with the reason and the active slot attached.
func Evaluate(settings subscription.Settings, record usage.Record, now time.Time) Decision {
	switch settings.Tier {
	case subscription.Free:
		if settings.Free == nil || settings.Free.DailyLimitSeconds <= 0 {
			return Decision{Reason: ReasonNoBudget}
		}
		return Decision{
			Lock:   record.Total() >= settings.Free.DailyLimit(),
			Reason: ReasonDailyLimit,
		}

	case subscription.Premium:
		if settings.Premium == nil || !settings.Premium.UseTimeSlotMode {
			// Daily mode has no enforced cap.
			return Decision{Reason: ReasonNoCap}
		}
		slot, ok := CurrentActiveSlot(settings, now)
		if !ok {
			return Decision{Reason: ReasonOutsideSlots}
		}
		return Decision{
			Lock:       record.SlotUsage(slot.ID) >= slot.Allowed(),
			Reason:     ReasonTimeSlot,
			ActiveSlot: slot.ID,
		}
	}
	return Decision{Reason: ReasonNoBudget}
}

// ComputeScheduledUnlock returns when a lock engaged at lockStart is
// released automatically. Free unlocks at the next occurrence of its
// auto-unlock time; premium at next midnight unless an override is set.
func ComputeScheduledUnlock(settings subscription.Settings, lockStart time.Time) time.Time {
	switch {
	case settings.Tier == subscription.Free && settings.Free != nil:
		at := settings.Free.AutoUnlock
		return clock.NextOccurrence(lockStart, at.Hour, at.Minute)
	case settings.Tier == subscription.Premium && settings.Premium != nil && settings.Premium.AutoUnlock != nil:
		at := settings.Premium.AutoUnlock
		return clock.NextOccurrence(lockStart, at.Hour, at.Minute)
	}
	return clock.NextMidnight(lockStart)
}

// GoalAchieved reports whether a finished day stayed within its budget.
// Free: total usage below the daily limit. Premium slot mode: every
// slot stayed below its allowance. Days without a goal are not achieved.
func GoalAchieved(settings subscription.Settings, record usage.Record) bool {
	if !settings.HasGoalSet() {
		return false
	}
	if settings.Tier == subscription.Free {
		return record.Total() < settings.Free.DailyLimit()
	}
	for _, slot := range settings.Premium.TimeSlots {
		if record.SlotUsage(slot.ID) >= slot.Allowed() {
			return false
		}
	}
	return true
}

// Remaining returns how much budget is left at now, or -1 when the
// active configuration imposes no cap at this moment.
func Remaining(settings subscription.Settings, record usage.Record, now time.Time) time.Duration {
	d := Evaluate(settings, record, now)
	switch d.Reason {
	case ReasonDailyLimit:
		return max(0, settings.Free.DailyLimit()-record.Total())
	case ReasonTimeSlot:
		slot, _ := CurrentActiveSlot(settings, now)
		return max(0, slot.Allowed()-record.SlotUsage(slot.ID))
	}
	return -1
}
