package quota

import (
	"context"
	"errors"
	"sync"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/goodtune/lockbox/internal/subscription"
	"github.com/rs/zerolog"
)

// Unlimited is the no-cap sentinel returned for premium maxima.
const Unlimited = -1

// Errors returned when a daily counter is exhausted.
var (
	ErrNoAttemptsRemaining  = errors.New("quota: no attempts remaining today")
	ErrNoRefreshesRemaining = errors.New("quota: no refreshes remaining today")
)

// Limits returns the daily maxima for tier.
func Limits(tier subscription.Tier) (attempts, refreshes int) {
	if tier == subscription.Premium {
		return Unlimited, Unlimited
	}
	return 3, 1
}

// Counters are the per-day usage of the challenge quotas
type Counters struct {
	Day           string `json:"day"`
	AttemptsUsed  int    `json:"attempts_used"`
	RefreshesUsed int    `json:"refreshes_used"`
}

// TierFunc reports the currently active tier.
type TierFunc func() subscription.Tier

// Tracker enforces the daily attempt and refresh quotas. Check and
// consume happen under one lock so two callers can never both take the
// last unit.
type Tracker struct {
	kv       storage.KV
	clock    clock.Clock
	tier     TierFunc
	counters Counters
	logger   zerolog.Logger
	mu       sync.Mutex
}

// NewTracker loads the persisted counters.
func NewTracker(ctx context.Context, kv storage.KV, clk clock.Clock, tier TierFunc, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		kv:     kv,
		clock:  clk,
		tier:   tier,
		logger: logger.With().Str("component", "quota").Logger(),
	}

	today := clock.DayKey(clk.Now())
	counters, err := storage.LoadOr(ctx, kv, storage.KeyQuotaCounters, Counters{Day: today})
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to load quota counters, starting at zero")
		counters = Counters{Day: today}
	}
	t.counters = counters
	t.resetIfStale(ctx)

	return t
}

// TryConsumeAttempt takes one challenge attempt if any remain today.
func (t *Tracker) TryConsumeAttempt(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfStale(ctx)
	max, _ := Limits(t.tier())
	if max != Unlimited && t.counters.AttemptsUsed >= max {
		return ErrNoAttemptsRemaining
	}
	t.counters.AttemptsUsed++
	t.persist(ctx)
	return nil
}

// TryConsumeRefresh takes one word refresh if any remain today.
func (t *Tracker) TryConsumeRefresh(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfStale(ctx)
	_, max := Limits(t.tier())
	if max != Unlimited && t.counters.RefreshesUsed >= max {
		return ErrNoRefreshesRemaining
	}
	t.counters.RefreshesUsed++
	t.persist(ctx)
	return nil
}

// RemainingAttempts returns the attempts left today, or Unlimited.
func (t *Tracker) RemainingAttempts(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfStale(ctx)
	max, _ := Limits(t.tier())
	if max == Unlimited {
		return Unlimited
	}
	return max - min(max, t.counters.AttemptsUsed)
}

// RemainingRefreshes returns the refreshes left today, or Unlimited.
func (t *Tracker) RemainingRefreshes(ctx context.Context) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfStale(ctx)
	_, max := Limits(t.tier())
	if max == Unlimited {
		return Unlimited
	}
	return max - min(max, t.counters.RefreshesUsed)
}

// Counters returns a copy of today's counters.
func (t *Tracker) Counters(ctx context.Context) Counters {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfStale(ctx)
	return t.counters
}

// Rollover zeroes the counters for the new day. Calling it twice for the
// same day boundary has no further effect.
func (t *Tracker) Rollover(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.resetIfStale(ctx)
}

// resetIfStale must be called with t.mu held.
func (t *Tracker) resetIfStale(ctx context.Context) {
	today := clock.DayKey(t.clock.Now())
	if t.counters.Day == today {
		return
	}
	t.logger.Info().
		Str("finished_day", t.counters.Day).
		Int("attempts_used", t.counters.AttemptsUsed).
		Int("refreshes_used", t.counters.RefreshesUsed).
		Msg("Challenge quotas reset")
	t.counters = Counters{Day: today}
	t.persist(ctx)
}

func (t *Tracker) persist(ctx context.Context) {
	if err := storage.PutJSON(ctx, t.kv, storage.KeyQuotaCounters, t.counters); err != nil {
		t.logger.Error().Err(err).Msg("Failed to persist quota counters")
	}
}
