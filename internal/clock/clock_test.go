package clock

import (
	"testing"
	"time"
)

func TestNextOccurrence(t *testing.T) {
	loc := time.UTC
	tests := []struct {
		name   string
		now    time.Time
		hour   int
		minute int
		want   time.Time
	}{
		{
			name: "midnight target after evening lock",
			now:  time.Date(2025, 3, 10, 22, 0, 0, 0, loc),
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, loc),
		},
		{
			name: "midnight target just before midnight",
			now:  time.Date(2025, 3, 10, 23, 59, 30, 0, loc),
			want: time.Date(2025, 3, 11, 0, 0, 0, 0, loc),
		},
		{
			name:   "later the same day",
			now:    time.Date(2025, 3, 10, 14, 0, 0, 0, loc),
			hour:   21,
			minute: 30,
			want:   time.Date(2025, 3, 10, 21, 30, 0, 0, loc),
		},
		{
			name:   "exactly now rolls to tomorrow",
			now:    time.Date(2025, 3, 10, 7, 0, 0, 0, loc),
			hour:   7,
			minute: 0,
			want:   time.Date(2025, 3, 11, 7, 0, 0, 0, loc),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextOccurrence(tt.now, tt.hour, tt.minute)
			if !got.Equal(tt.want) {
				t.Errorf("NextOccurrence() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDayHelpers(t *testing.T) {
	now := time.Date(2025, 12, 31, 18, 45, 10, 0, time.UTC)

	if got := DayKey(now); got != "2025-12-31" {
		t.Errorf("DayKey() = %s", got)
	}
	if got := NextMidnight(now); !got.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("NextMidnight() = %v", got)
	}
	if got := MinuteOfDay(now); got != 18*60+45 {
		t.Errorf("MinuteOfDay() = %d", got)
	}
}

func TestParseTimeOfDay(t *testing.T) {
	tod, err := ParseTimeOfDay("09:05")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if tod.Hour != 9 || tod.Minute != 5 || tod.String() != "09:05" {
		t.Errorf("unexpected time of day: %+v", tod)
	}
	if _, err := ParseTimeOfDay("25:00"); err == nil {
		t.Error("expected error for 25:00")
	}
}

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2025, 3, 10, 23, 58, 0, 0, time.UTC)
	fc := NewFake(start)

	var fired []string
	fc.ScheduleRepeating(time.Minute, func() {
		fired = append(fired, "tick@"+fc.Now().Format("15:04"))
	})
	fc.ScheduleAt(NextMidnight(start), func() {
		fired = append(fired, "midnight@"+fc.Now().Format("15:04"))
	})

	fc.Advance(3 * time.Minute)

	want := []string{"tick@23:59", "tick@00:00", "midnight@00:00", "tick@00:01"}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("fired[%d] = %s, want %s", i, fired[i], want[i])
		}
	}
	if got := fc.Now(); !got.Equal(start.Add(3 * time.Minute)) {
		t.Errorf("Now() = %v", got)
	}
	if fc.Pending() != 1 {
		t.Errorf("expected only the repeating timer to remain, got %d", fc.Pending())
	}
}

func TestFakeCancel(t *testing.T) {
	fc := NewFake(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	calls := 0
	cancel := fc.ScheduleRepeating(time.Minute, func() { calls++ })

	fc.Advance(2 * time.Minute)
	cancel()
	fc.Advance(5 * time.Minute)

	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
