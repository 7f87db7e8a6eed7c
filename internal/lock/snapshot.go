package lock

import (
	"context"

	"github.com/goodtune/lockbox/internal/policy"
)

// Snapshot returns the current state for display.
func (m *Machine) Snapshot(ctx context.Context) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked(ctx)
}

// Subscribe returns a channel receiving a snapshot after every change.
// Only the latest snapshot is kept for a slow reader. Call the returned
// function to unsubscribe.
func (m *Machine) Subscribe() (<-chan Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan Snapshot, 1)
	m.subscribers[id] = ch

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(ch)
		}
	}
}

func (m *Machine) snapshotLocked(ctx context.Context) Snapshot {
	now := m.deps.Clock.Now()
	settings := m.deps.Store.CurrentSettings()
	record := m.deps.Ledger.Today(ctx)

	snap := Snapshot{
		State:              m.state,
		At:                 now,
		Tier:               settings.Tier,
		Decision:           m.decision,
		Usage:              record,
		Remaining:          policy.Remaining(settings, record, now),
		AttemptsRemaining:  m.deps.Quota.RemainingAttempts(ctx),
		RefreshesRemaining: m.deps.Quota.RemainingRefreshes(ctx),
		LastResult:         m.lastResult,
		Degraded:           m.deps.Ledger.Degraded(),
	}
	if m.state == Locked {
		start, unlock := m.lockStart, m.scheduledUnlock
		snap.LockStart = &start
		snap.ScheduledUnlock = &unlock
	}
	if c, ok := m.deps.Challenges.Current(); ok {
		snap.Challenge = &c
	}
	return snap
}

// notifyLocked must be called with m.mu held.
func (m *Machine) notifyLocked(ctx context.Context) {
	if len(m.subscribers) == 0 {
		return
	}
	snap := m.snapshotLocked(ctx)
	for _, ch := range m.subscribers {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
