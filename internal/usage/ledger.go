package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/rs/zerolog"
)

// ErrNegativeTick is returned when a tick reports negative elapsed time.
var ErrNegativeTick = errors.New("usage: negative tick")

type degrader interface {
	Degraded() bool
}

// Ledger accumulates usage time into the current day's Record
type Ledger struct {
	kv     storage.KV
	clock  clock.Clock
	record Record
	// carry holds the sub-second remainder of each counter, keyed by slot
	// ID with "" for the day total.
	carry    map[string]time.Duration
	degraded bool
	logger   zerolog.Logger
	mu       sync.Mutex
}

// NewLedger loads today's record from kv, starting a fresh one when the
// stored record belongs to another day.
func NewLedger(ctx context.Context, kv storage.KV, clk clock.Clock, logger zerolog.Logger) *Ledger {
	l := &Ledger{
		kv:     kv,
		clock:  clk,
		carry:  map[string]time.Duration{},
		logger: logger.With().Str("component", "usage-ledger").Logger(),
	}

	today := clock.DayKey(clk.Now())
	record, err := storage.LoadOr(ctx, kv, storage.KeyUsageToday, NewRecord(today))
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to load usage record, starting empty")
		l.degraded = true
		record = NewRecord(today)
	}
	if record.SlotSeconds == nil {
		record.SlotSeconds = map[string]int64{}
	}
	l.record = record
	l.rollIfStale(ctx)
	metrics.UsageTodaySeconds.Set(float64(l.record.TotalSeconds))

	return l
}

// RecordTick adds elapsed to today's total and, when activeSlot is not
// empty, to that slot's counter. Fractions of a second carry over to the
// next tick.
func (l *Ledger) RecordTick(ctx context.Context, elapsed time.Duration, activeSlot string) error {
	if elapsed < 0 {
		return fmt.Errorf("%w: %v", ErrNegativeTick, elapsed)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollIfStale(ctx)

	seconds := l.whole("", elapsed)
	l.record.TotalSeconds += seconds
	if activeSlot != "" {
		l.record.SlotSeconds[activeSlot] += l.whole(activeSlot, elapsed)
	}
	l.persist(ctx)

	metrics.UsageSecondsTotal.Add(float64(seconds))
	metrics.UsageTodaySeconds.Set(float64(l.record.TotalSeconds))

	l.logger.Debug().
		Str("day", l.record.Day).
		Str("slot", activeSlot).
		Int64("total_seconds", l.record.TotalSeconds).
		Msg("Usage tick recorded")

	return nil
}

// Today returns a copy of the current day's record. A record left over
// from an earlier day is replaced by a fresh one first.
func (l *Ledger) Today(ctx context.Context) Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollIfStale(ctx)
	return l.record.clone()
}

// Rollover archives the finished day and starts a zeroed record for the
// current day. It reports the archived record and whether a rollover
// happened; a second call for the same boundary is a no-op.
func (l *Ledger) Rollover(ctx context.Context) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.rollIfStale(ctx)
}

// Day returns the archived record for day, if one exists.
func (l *Ledger) Day(ctx context.Context, day string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.record.Day == day {
		return l.record.clone(), true
	}
	record, err := storage.GetJSON[Record](ctx, l.kv, storage.UsageDayKey(day))
	if err != nil {
		return Record{}, false
	}
	return *record, true
}

// Restart zeroes today's counters after a successful unlock challenge so
// the budget counts again from the moment of unlock.
func (l *Ledger) Restart(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.rollIfStale(ctx)
	l.record.TotalSeconds = 0
	l.record.SlotSeconds = map[string]int64{}
	l.record.Restarts++
	l.carry = map[string]time.Duration{}
	l.persist(ctx)
	metrics.UsageTodaySeconds.Set(0)

	l.logger.Info().
		Str("day", l.record.Day).
		Int("restarts", l.record.Restarts).
		Msg("Usage budget restarted")
}

// Degraded reports whether usage is only held in memory.
func (l *Ledger) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if d, ok := l.kv.(degrader); ok && d.Degraded() {
		return true
	}
	return l.degraded
}

// rollIfStale must be called with l.mu held.
func (l *Ledger) rollIfStale(ctx context.Context) (Record, bool) {
	today := clock.DayKey(l.clock.Now())
	if l.record.Day == today {
		return Record{}, false
	}

	finished := l.record
	if finished.Day != "" {
		if err := storage.PutJSON(ctx, l.kv, storage.UsageDayKey(finished.Day), finished); err != nil {
			l.markDegraded(err)
		}
	}

	l.record = NewRecord(today)
	l.carry = map[string]time.Duration{}
	l.persist(ctx)
	metrics.UsageTodaySeconds.Set(0)

	l.logger.Info().
		Str("finished_day", finished.Day).
		Int64("finished_seconds", finished.TotalSeconds).
		Str("day", today).
		Msg("Usage day rolled over")

	return finished, finished.Day != ""
}

// whole adds elapsed to the remainder of counter key and returns the
// whole seconds it now holds.
func (l *Ledger) whole(key string, elapsed time.Duration) int64 {
	d := l.carry[key] + elapsed
	l.carry[key] = d % time.Second
	return int64(d / time.Second)
}

func (l *Ledger) persist(ctx context.Context) {
	if err := storage.PutJSON(ctx, l.kv, storage.KeyUsageToday, l.record); err != nil {
		l.markDegraded(err)
	}
}

func (l *Ledger) markDegraded(err error) {
	if !l.degraded {
		l.logger.Warn().Err(err).Msg("Failed to persist usage, keeping it in memory")
	}
	l.degraded = true
}
