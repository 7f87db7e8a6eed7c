package clock

import (
	"sync"
	"time"
)

// Fake is a manually driven clock for tests. Scheduled callbacks fire
// only from Advance, in due order, on the caller's goroutine.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	at        time.Time
	interval  time.Duration
	fn        func()
	cancelled bool
}

// NewFake creates a fake clock set to now.
func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to t without firing any callback.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// ScheduleRepeating registers fn to fire every interval.
func (f *Fake) ScheduleRepeating(interval time.Duration, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{at: f.now.Add(interval), interval: interval, fn: fn}
	f.timers = append(f.timers, t)
	return f.canceller(t)
}

// ScheduleAt registers fn to fire once at the given instant.
func (f *Fake) ScheduleAt(at time.Time, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTimer{at: at, fn: fn}
	f.timers = append(f.timers, t)
	return f.canceller(t)
}

func (f *Fake) canceller(t *fakeTimer) func() {
	return func() {
		f.mu.Lock()
		t.cancelled = true
		f.mu.Unlock()
	}
}

// Pending returns the number of live scheduled callbacks.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Advance moves the clock forward by d, firing every callback that
// falls due on the way. Time is set to each callback's due instant
// before it runs.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDue(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		f.now = next.at
		if next.interval > 0 {
			next.at = next.at.Add(next.interval)
		} else {
			next.cancelled = true
		}
		fn := next.fn
		f.mu.Unlock()

		fn()
	}
}

// nextDue must be called with f.mu held.
func (f *Fake) nextDue(target time.Time) *fakeTimer {
	var next *fakeTimer
	live := f.timers[:0]
	for _, t := range f.timers {
		if t.cancelled {
			continue
		}
		live = append(live, t)
		if t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	f.timers = live
	return next
}
