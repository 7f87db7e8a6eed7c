// Package streak tracks consecutive days on which the usage goal was met.
package streak

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/rs/zerolog"
)

// State is the persisted streak bookkeeping.
type State struct {
	TotalDays         int             `json:"total_days"`
	ConsecutiveDays   int             `json:"consecutive_days"`
	YesterdayAchieved bool            `json:"yesterday_achieved"`
	LastLoginDay      string          `json:"last_login_day"`
	History           map[string]bool `json:"history"`
}

func (s State) clone() State {
	out := s
	out.History = make(map[string]bool, len(s.History))
	for k, v := range s.History {
		out.History[k] = v
	}
	return out
}

// Tracker maintains State across day boundaries.
type Tracker struct {
	kv     storage.KV
	clock  clock.Clock
	state  State
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewTracker loads the persisted state. The first run counts as day one.
func NewTracker(ctx context.Context, kv storage.KV, clk clock.Clock, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		kv:     kv,
		clock:  clk,
		logger: logger.With().Str("component", "streak").Logger(),
	}

	state, err := storage.LoadOr(ctx, kv, storage.KeyStreakState, State{})
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to load streak state, starting over")
		state = State{}
	}
	if state.History == nil {
		state.History = make(map[string]bool)
	}
	t.state = state

	if t.state.LastLoginDay == "" {
		t.state.TotalDays = 1
		t.state.LastLoginDay = clock.DayKey(clk.Now())
		t.persist(ctx)
	} else {
		t.OnDailyRollover(ctx)
	}
	return t
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.clone()
}

// OnDailyRollover counts a new day of use and re-evaluates the streak from
// yesterday's record. A missing record breaks the streak. It does nothing
// when called again on the same day.
func (t *Tracker) OnDailyRollover(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	today := clock.DayKey(now)
	if t.state.LastLoginDay >= today {
		return
	}

	t.state.TotalDays++
	t.state.LastLoginDay = today
	t.refresh(now)
	t.persist(ctx)

	t.logger.Info().
		Int("total_days", t.state.TotalDays).
		Int("consecutive_days", t.state.ConsecutiveDays).
		Bool("yesterday_achieved", t.state.YesterdayAchieved).
		Msg("Streak updated for new day")
}

// RecordAchievement records whether today's goal was met.
func (t *Tracker) RecordAchievement(ctx context.Context, achieved bool) {
	t.RecordAchievementOn(ctx, clock.DayKey(t.clock.Now()), achieved)
}

// RecordAchievementOn records the outcome of day (YYYY-MM-DD) and
// recomputes the streak.
func (t *Tracker) RecordAchievementOn(ctx context.Context, day string, achieved bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.state.History[day] = achieved
	t.refresh(t.clock.Now())
	t.persist(ctx)

	t.logger.Debug().Str("day", day).Bool("achieved", achieved).Msg("Achievement recorded")
}

// Motivation returns the message for the current state.
func (t *Tracker) Motivation() Motivation {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Message(t.state.TotalDays, t.state.ConsecutiveDays, t.state.YesterdayAchieved)
}

// refresh must be called with t.mu held. The streak counts back from
// today when today is already recorded, otherwise from yesterday.
func (t *Tracker) refresh(now time.Time) {
	today := clock.StartOfDay(now)
	yesterday := clock.DayKey(today.AddDate(0, 0, -1))
	t.state.YesterdayAchieved = t.state.History[yesterday]

	anchor := today
	if _, ok := t.state.History[clock.DayKey(today)]; !ok {
		anchor = today.AddDate(0, 0, -1)
	}
	count := 0
	for d := anchor; t.state.History[clock.DayKey(d)]; d = d.AddDate(0, 0, -1) {
		count++
	}
	t.state.ConsecutiveDays = count
	metrics.StreakDays.Set(float64(count))
}

func (t *Tracker) persist(ctx context.Context) {
	if err := storage.PutJSON(ctx, t.kv, storage.KeyStreakState, t.state); err != nil {
		t.logger.Error().Err(err).Msg("Failed to persist streak state")
	}
}
