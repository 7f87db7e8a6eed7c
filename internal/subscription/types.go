package subscription

import (
	"fmt"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/google/uuid"
)

// Tier is the subscription level
type Tier string

const (
	Free    Tier = "free"
	Premium Tier = "premium"
)

// MaxTimeSlots is the number of slots a premium user may configure.
const MaxTimeSlots = 3

// MinSlotSpan is the shortest allowed time slot.
const MinSlotSpan = time.Hour

// Bounds for the free-tier daily limit; zero means no limit is set.
const (
	MinDailyLimit = time.Hour
	MaxDailyLimit = 8 * time.Hour
)

// ParseTier parses "free" or "premium".
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case Free, Premium:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// TimeSlot is a premium time-of-day window with its own usage budget.
// Slots never cross midnight.
type TimeSlot struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Start          clock.TimeOfDay `json:"start"`
	End            clock.TimeOfDay `json:"end"`
	AllowedSeconds int64           `json:"allowed_seconds"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewTimeSlot returns a slot with a fresh id.
func NewTimeSlot(name string, start, end clock.TimeOfDay, allowed time.Duration, now time.Time) TimeSlot {
	return TimeSlot{
		ID:             uuid.NewString(),
		Name:           name,
		Start:          start,
		End:            end,
		AllowedSeconds: int64(allowed / time.Second),
		CreatedAt:      now,
	}
}

// Allowed returns the usage budget of the slot.
func (s TimeSlot) Allowed() time.Duration {
	return time.Duration(s.AllowedSeconds) * time.Second
}

// Span returns the length of the slot's window.
func (s TimeSlot) Span() time.Duration {
	return time.Duration(s.End.Minutes()-s.Start.Minutes()) * time.Minute
}

// Contains reports whether t's time of day falls in [Start, End).
func (s TimeSlot) Contains(t time.Time) bool {
	m := clock.MinuteOfDay(t)
	return m >= s.Start.Minutes() && m < s.End.Minutes()
}

// Overlaps reports whether the half-open windows of s and o intersect.
// Touching endpoints do not overlap.
func (s TimeSlot) Overlaps(o TimeSlot) bool {
	s1, e1 := s.Start.Minutes(), s.End.Minutes()
	s2, e2 := o.Start.Minutes(), o.End.Minutes()
	return !(e1 <= s2 || s1 >= e2)
}

// Validate checks the slot's own shape.
func (s TimeSlot) Validate() error {
	switch {
	case !s.Start.Valid() || !s.End.Valid():
		return fmt.Errorf("%w: time of day out of range", ErrInvalidSlot)
	case s.Start.Minutes() >= s.End.Minutes():
		return fmt.Errorf("%w: start %s is not before end %s", ErrInvalidSlot, s.Start, s.End)
	case s.Span() < MinSlotSpan:
		return fmt.Errorf("%w: slot must span at least %v", ErrInvalidSlot, MinSlotSpan)
	case s.AllowedSeconds < 0:
		return fmt.Errorf("%w: negative allowed duration", ErrInvalidSlot)
	case s.Allowed() > s.Span():
		return fmt.Errorf("%w: allowed %v exceeds slot span %v", ErrInvalidSlot, s.Allowed(), s.Span())
	}
	return nil
}

func (s TimeSlot) String() string {
	return fmt.Sprintf("%s %s-%s (%v)", s.Name, s.Start, s.End, s.Allowed())
}

// FreeSettings configures the free tier
type FreeSettings struct {
	DailyLimitSeconds int64           `json:"daily_limit_seconds"`
	AutoUnlock        clock.TimeOfDay `json:"auto_unlock"`
}

// DailyLimit returns the daily budget; zero when none is set.
func (f FreeSettings) DailyLimit() time.Duration {
	return time.Duration(f.DailyLimitSeconds) * time.Second
}

// PremiumSettings configures the premium tier
type PremiumSettings struct {
	TimeSlots       []TimeSlot `json:"time_slots"`
	UseTimeSlotMode bool       `json:"use_time_slot_mode"`
	// AutoUnlock overrides the next-midnight unlock when set.
	AutoUnlock *clock.TimeOfDay `json:"auto_unlock,omitempty"`
}

// DefaultPremiumSettings returns the settings a fresh premium user starts with.
func DefaultPremiumSettings() PremiumSettings {
	return PremiumSettings{TimeSlots: []TimeSlot{}, UseTimeSlotMode: true}
}

func (p PremiumSettings) clone() PremiumSettings {
	out := p
	out.TimeSlots = append([]TimeSlot{}, p.TimeSlots...)
	if p.AutoUnlock != nil {
		tod := *p.AutoUnlock
		out.AutoUnlock = &tod
	}
	return out
}

// Settings is the active tier's configuration. Exactly one of Free and
// Premium is set, selected by Tier.
type Settings struct {
	Tier    Tier             `json:"tier"`
	Free    *FreeSettings    `json:"free,omitempty"`
	Premium *PremiumSettings `json:"premium,omitempty"`
}

// HasGoalSet reports whether a budget is configured for the active tier.
func (s Settings) HasGoalSet() bool {
	switch s.Tier {
	case Free:
		return s.Free != nil && s.Free.DailyLimitSeconds > 0
	case Premium:
		return s.Premium != nil && s.Premium.UseTimeSlotMode && len(s.Premium.TimeSlots) > 0
	}
	return false
}
