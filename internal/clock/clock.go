package clock

import (
	"sync"
	"time"
)

// Clock provides time information and time-based callbacks.
// Everything in lockbox reads the time through this interface so that
// it can be replaced by a Fake in tests.
type Clock interface {
	Now() time.Time
	// ScheduleRepeating calls fn every interval until the returned cancel
	// function is called.
	ScheduleRepeating(interval time.Duration, fn func()) (cancel func())
	// ScheduleAt calls fn once at the given instant.
	ScheduleAt(at time.Time, fn func()) (cancel func())
}

// Real provides actual system time, optionally in a fixed location.
type Real struct {
	Location *time.Location
}

// Now returns the current system time.
func (r Real) Now() time.Time {
	if r.Location != nil {
		return time.Now().In(r.Location)
	}
	return time.Now()
}

// ScheduleRepeating runs fn on a ticker goroutine.
func (r Real) ScheduleRepeating(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fn()
			case <-stop:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }
}

// ScheduleAt runs fn once when the wall clock reaches at.
func (r Real) ScheduleAt(at time.Time, fn func()) func() {
	t := time.AfterFunc(time.Until(at), fn)
	return func() { t.Stop() }
}
