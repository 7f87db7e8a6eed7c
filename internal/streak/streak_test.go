package streak

import (
	"context"
	"testing"
	"time"

	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2025, 3, d, 0, 0, 5, 0, time.UTC)
}

func TestFirstRunIsDayOne(t *testing.T) {
	fc := clock.NewFake(day(1))
	tr := NewTracker(context.Background(), storage.NewMemory(), fc, zerolog.Nop())

	s := tr.State()
	assert.Equal(t, 1, s.TotalDays)
	assert.Equal(t, "2025-03-01", s.LastLoginDay)
	assert.Equal(t, KindWelcome, tr.Motivation().Kind)
}

func TestStreakBuildsAndBreaks(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(day(1))
	tr := NewTracker(ctx, storage.NewMemory(), fc, zerolog.Nop())

	for d := 1; d <= 3; d++ {
		// The finished day is recorded after midnight, as rollover does.
		fc.Set(day(d + 1))
		tr.RecordAchievementOn(ctx, clock.DayKey(day(d)), true)
		tr.OnDailyRollover(ctx)
	}

	s := tr.State()
	assert.Equal(t, 4, s.TotalDays)
	assert.Equal(t, 3, s.ConsecutiveDays)
	assert.True(t, s.YesterdayAchieved)
	m := tr.Motivation()
	assert.Equal(t, KindStreak, m.Kind)
	assert.Equal(t, 3, m.StreakDays)

	// Day 4 has no record at all.
	fc.Set(day(5))
	tr.OnDailyRollover(ctx)
	s = tr.State()
	assert.Equal(t, 0, s.ConsecutiveDays)
	assert.False(t, s.YesterdayAchieved)
	assert.Equal(t, KindRetry, tr.Motivation().Kind)
}

func TestRolloverIdempotent(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(day(1))
	tr := NewTracker(ctx, storage.NewMemory(), fc, zerolog.Nop())

	fc.Set(day(2))
	tr.RecordAchievementOn(ctx, "2025-03-01", true)
	tr.OnDailyRollover(ctx)
	first := tr.State()
	tr.OnDailyRollover(ctx)
	assert.Equal(t, first, tr.State())
}

func TestRecordAchievementRecomputesImmediately(t *testing.T) {
	ctx := context.Background()
	fc := clock.NewFake(day(3))
	tr := NewTracker(ctx, storage.NewMemory(), fc, zerolog.Nop())

	tr.RecordAchievementOn(ctx, "2025-03-01", true)
	tr.RecordAchievementOn(ctx, "2025-03-02", true)
	assert.Equal(t, 2, tr.State().ConsecutiveDays)

	tr.RecordAchievement(ctx, true)
	assert.Equal(t, 3, tr.State().ConsecutiveDays)

	tr.RecordAchievementOn(ctx, "2025-03-02", false)
	assert.Equal(t, 1, tr.State().ConsecutiveDays)
}

func TestStatePersists(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	fc := clock.NewFake(day(2))
	tr := NewTracker(ctx, kv, fc, zerolog.Nop())
	tr.RecordAchievementOn(ctx, "2025-03-01", true)

	reloaded := NewTracker(ctx, kv, fc, zerolog.Nop())
	require.Equal(t, tr.State(), reloaded.State())
	assert.True(t, reloaded.State().History["2025-03-01"])
}

func TestMessagePrecedence(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		streak    int
		yesterday bool
		kind      Kind
		text      string
	}{
		{"welcome beats everything", 1, 5, true, KindWelcome, ""},
		{"streak beats success", 10, 3, true, KindStreak, "3 days in a row. You're on fire!"},
		{"week milestone", 10, 7, true, KindStreak, "A full week! 7 days in a row."},
		{"month milestone", 40, 30, true, KindStreak, "A whole month! 30 days in a row."},
		{"hundred milestone", 120, 100, true, KindStreak, "Incredible, 100 days in a row!"},
		{"success", 5, 2, true, KindSuccess, ""},
		{"retry", 5, 0, false, KindRetry, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := Message(tt.total, tt.streak, tt.yesterday)
			assert.Equal(t, tt.kind, m.Kind)
			if tt.text != "" {
				assert.Equal(t, tt.text, m.Text)
			}
		})
	}
}
