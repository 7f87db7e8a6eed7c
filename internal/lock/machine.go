// Package lock owns the device lock state and applies policy decisions.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goodtune/lockbox/internal/challenge"
	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/enforce"
	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/quota"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/goodtune/lockbox/internal/subscription"
	"github.com/goodtune/lockbox/internal/usage"
	"github.com/rs/zerolog"
)

// Deps are the collaborators of a Machine.
type Deps struct {
	KV          storage.KV
	Clock       clock.Clock
	Store       *subscription.Store
	Ledger      *usage.Ledger
	Policy      *policy.Engine
	Quota       *quota.Tracker
	Challenges  *challenge.Engine
	Agent       enforce.Agent
	Restriction enforce.Restriction
}

// Machine serializes every usage tick, lock transition and challenge
// step behind one mutex. It calls into the other components while
// holding it; they never call back into the machine.
type Machine struct {
	deps   Deps
	logger zerolog.Logger

	mu              sync.Mutex
	state           State
	prior           State
	lockStart       time.Time
	scheduledUnlock time.Time
	decision        policy.Decision
	lastResult      *challenge.Result
	subscribers     map[int]chan Snapshot
	nextSub         int
}

// NewMachine restores the persisted lock state and subscribes to settings
// changes. A challenge cannot survive a restart, so one that was active
// resumes the state it was started from.
func NewMachine(ctx context.Context, deps Deps, logger zerolog.Logger) *Machine {
	m := &Machine{
		deps:        deps,
		logger:      logger.With().Str("component", "lock").Logger(),
		state:       Unlocked,
		subscribers: make(map[int]chan Snapshot),
	}

	saved, err := storage.LoadOr(ctx, deps.KV, storage.KeyLockState, persisted{State: Unlocked})
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to load lock state, starting unlocked")
	}
	m.restore(ctx, saved)
	deps.Store.OnChange(m.settingsChanged)

	return m
}

func (m *Machine) restore(ctx context.Context, saved persisted) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := saved.State
	if state == ChallengeActive {
		state = saved.Prior
	}
	if saved.LockStart != nil {
		m.lockStart = *saved.LockStart
	}
	if saved.ScheduledUnlock != nil {
		m.scheduledUnlock = *saved.ScheduledUnlock
	}

	if state == Locked && !m.lockStart.IsZero() {
		m.state = Locked
		if m.scheduledUnlock.IsZero() {
			m.scheduledUnlock = policy.ComputeScheduledUnlock(m.deps.Store.CurrentSettings(), m.lockStart)
		}
		m.engage(ctx)
		m.logger.Info().
			Time("lock_start", m.lockStart).
			Time("scheduled_unlock", m.scheduledUnlock).
			Msg("Restored locked state")
	} else {
		m.state = Unlocked
		m.lockStart = time.Time{}
		m.scheduledUnlock = time.Time{}
	}
	m.setStateGauge()
	m.persist(ctx)
}

// State returns the current lock state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Tick accounts elapsed usage and re-evaluates the lock in one step, so a
// tick that exhausts the budget locks before the next one is processed.
// Usage only accrues while unlocked.
func (m *Machine) Tick(ctx context.Context, elapsed time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.deps.Clock.Now()
	if m.state == Unlocked {
		settings := m.deps.Store.CurrentSettings()
		slotID := ""
		if slot, ok := policy.CurrentActiveSlot(settings, now); ok {
			slotID = slot.ID
		}
		if err := m.deps.Ledger.RecordTick(ctx, elapsed, slotID); err != nil {
			return err
		}
	}

	m.checkAutoUnlockLocked(ctx, now)
	m.evaluateLocked(ctx, now)
	m.notifyLocked(ctx)
	return nil
}

// Evaluate applies the current policy decision without recording usage.
func (m *Machine) Evaluate(ctx context.Context) policy.Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.evaluateLocked(ctx, m.deps.Clock.Now())
	m.notifyLocked(ctx)
	return m.decision
}

// evaluateLocked must be called with m.mu held.
func (m *Machine) evaluateLocked(ctx context.Context, now time.Time) {
	settings := m.deps.Store.CurrentSettings()
	record := m.deps.Ledger.Today(ctx)
	m.decision = m.deps.Policy.Decide(ctx, settings, record, now)

	if m.decision.Lock && m.state == Unlocked {
		m.enableLocked(ctx, settings, now, ReasonPolicy)
	}
}

// EnableLock engages the lock. It does nothing when already locked or
// when no budget is configured.
func (m *Machine) EnableLock(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.enableLocked(ctx, m.deps.Store.CurrentSettings(), m.deps.Clock.Now(), ReasonManual)
	m.notifyLocked(ctx)
}

func (m *Machine) enableLocked(ctx context.Context, settings subscription.Settings, now time.Time, reason string) {
	// A challenge only runs from Locked, so anything but Unlocked is engaged.
	if m.state != Unlocked || !settings.HasGoalSet() {
		return
	}

	m.lockStart = now
	m.scheduledUnlock = policy.ComputeScheduledUnlock(settings, now)
	m.transition(ctx, Locked, reason)
	m.engage(ctx)

	m.logger.Info().
		Str("reason", m.decision.Reason).
		Str("slot", m.decision.ActiveSlot).
		Time("scheduled_unlock", m.scheduledUnlock).
		Msg("Lock engaged")
}

// DisableLock releases the lock. It is idempotent.
func (m *Machine) DisableLock(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disableLocked(ctx, ReasonManual)
	m.notifyLocked(ctx)
}

func (m *Machine) disableLocked(ctx context.Context, reason string) {
	if m.state == Unlocked && m.lockStart.IsZero() {
		return
	}
	if m.state == ChallengeActive {
		m.deps.Challenges.Cancel()
	}

	m.lockStart = time.Time{}
	m.scheduledUnlock = time.Time{}
	m.prior = ""
	if err := m.deps.Agent.Clear(ctx); err != nil {
		metrics.EnforcementErrorsTotal.WithLabelValues("clear").Inc()
		m.logger.Error().Err(err).Msg("Enforcement agent failed to clear restrictions")
	}
	m.transition(ctx, Unlocked, reason)

	m.logger.Info().Str("reason", reason).Msg("Lock released")
}

// CheckAutoUnlock releases the lock once its scheduled unlock time has
// passed. A challenge still open at that time is cancelled.
func (m *Machine) CheckAutoUnlock(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	unlocked := m.checkAutoUnlockLocked(ctx, m.deps.Clock.Now())
	if unlocked {
		m.notifyLocked(ctx)
	}
	return unlocked
}

func (m *Machine) checkAutoUnlockLocked(ctx context.Context, now time.Time) bool {
	if m.lockStart.IsZero() || now.Before(m.scheduledUnlock) {
		return false
	}

	// A budget still exhausted at unlock time would lock again on the
	// next tick, so counting restarts here.
	settings := m.deps.Store.CurrentSettings()
	if m.deps.Policy.Decide(ctx, settings, m.deps.Ledger.Today(ctx), now).Lock {
		m.deps.Ledger.Restart(ctx)
	}
	m.disableLocked(ctx, ReasonAutoUnlock)
	m.decision = m.deps.Policy.Decide(ctx, settings, m.deps.Ledger.Today(ctx), now)
	return true
}

// StartChallenge consumes one daily attempt and opens a challenge. Only a
// locked device can start one. The attempt stays consumed even if the
// challenge is later cancelled.
func (m *Machine) StartChallenge(ctx context.Context) (challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case ChallengeActive:
		return challenge.Challenge{}, ErrAlreadyActive
	case Unlocked:
		return challenge.Challenge{}, ErrNotLocked
	}
	if err := m.deps.Quota.TryConsumeAttempt(ctx); err != nil {
		if errors.Is(err, quota.ErrNoAttemptsRemaining) {
			m.logger.Warn().Msg("Challenge rejected, no attempts remaining")
			return challenge.Challenge{}, ErrNoAttemptsRemaining
		}
		return challenge.Challenge{}, err
	}

	m.prior = m.state
	m.lastResult = nil
	c := m.deps.Challenges.NewChallenge()
	m.transition(ctx, ChallengeActive, ReasonChallenge)
	m.notifyLocked(ctx)
	return c, nil
}

// RefreshWords swaps the active challenge's word pair.
func (m *Machine) RefreshWords(ctx context.Context) (challenge.Challenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != ChallengeActive {
		return challenge.Challenge{}, ErrNoActiveChallenge
	}
	if _, err := m.deps.Challenges.RefreshWords(ctx); err != nil {
		return challenge.Challenge{}, err
	}
	c, _ := m.deps.Challenges.Current()
	m.notifyLocked(ctx)
	return c, nil
}

// SubmitChallenge has the active challenge judged and applies the
// outcome. The machine stays in ChallengeActive and remains readable
// while the judges run. A result arriving after the challenge was
// cancelled is discarded.
func (m *Machine) SubmitChallenge(ctx context.Context, sentence string) (challenge.Result, error) {
	m.mu.Lock()
	if m.state != ChallengeActive {
		m.mu.Unlock()
		return challenge.Result{}, ErrNoActiveChallenge
	}
	current, ok := m.deps.Challenges.Current()
	m.mu.Unlock()
	if !ok {
		return challenge.Result{}, ErrNoActiveChallenge
	}

	result, err := m.deps.Challenges.Submit(ctx, sentence)
	if err != nil {
		return challenge.Result{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active, ok := m.deps.Challenges.Current()
	if m.state != ChallengeActive || !ok || active.ID != current.ID {
		m.logger.Info().Str("challenge", current.ID).Msg("Discarding result of an abandoned challenge")
		return challenge.Result{}, challenge.ErrCancelled
	}
	m.lastResult = &result
	m.endLocked(ctx, result.Success)
	m.notifyLocked(ctx)
	return result, nil
}

// EndChallenge applies a challenge outcome. Success unlocks and restarts
// the budget; failure returns to the state the challenge started from and
// never unlocks a locked device.
func (m *Machine) EndChallenge(ctx context.Context, success bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != ChallengeActive {
		return ErrNoActiveChallenge
	}
	m.endLocked(ctx, success)
	m.notifyLocked(ctx)
	return nil
}

func (m *Machine) endLocked(ctx context.Context, success bool) {
	m.deps.Challenges.Finish()

	if success {
		m.deps.Ledger.Restart(ctx)
		m.disableLocked(ctx, ReasonChallenge)
		m.decision = m.deps.Policy.Decide(ctx, m.deps.Store.CurrentSettings(), m.deps.Ledger.Today(ctx), m.deps.Clock.Now())
		return
	}

	m.transition(ctx, m.prior, ReasonFailure)
	m.prior = ""
}

// CancelChallenge abandons the active challenge and returns to the state
// it was started from. The consumed attempt is not restored.
func (m *Machine) CancelChallenge(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != ChallengeActive {
		return ErrNoActiveChallenge
	}
	m.deps.Challenges.Cancel()
	m.transition(ctx, m.prior, ReasonCancel)
	m.prior = ""

	m.evaluateLocked(ctx, m.deps.Clock.Now())
	m.notifyLocked(ctx)
	return nil
}

// settingsChanged recomputes the unlock schedule of an engaged lock and
// re-checks both auto-unlock and the lock rule.
func (m *Machine) settingsChanged(settings subscription.Settings) {
	ctx := context.Background()

	m.mu.Lock()
	defer m.mu.Unlock()

	recomputed := !m.lockStart.IsZero()
	if recomputed {
		m.scheduledUnlock = policy.ComputeScheduledUnlock(settings, m.lockStart)
		m.persist(ctx)
		m.logger.Info().Time("scheduled_unlock", m.scheduledUnlock).Msg("Unlock schedule recomputed")
	}

	now := m.deps.Clock.Now()
	if !m.checkAutoUnlockLocked(ctx, now) && recomputed {
		// The agent learns the new unlock time.
		m.engage(ctx)
	}
	m.evaluateLocked(ctx, now)
	m.notifyLocked(ctx)
}

// transition must be called with m.mu held.
func (m *Machine) transition(ctx context.Context, to State, reason string) {
	from := m.state
	m.state = to
	if to != Locked && to != ChallengeActive {
		m.lockStart = time.Time{}
		m.scheduledUnlock = time.Time{}
	}
	m.persist(ctx)
	m.setStateGauge()
	if from != to {
		metrics.LockTransitionsTotal.WithLabelValues(string(from), string(to), reason).Inc()
		m.logger.Debug().Str("from", string(from)).Str("to", string(to)).Str("reason", reason).Msg("Lock state transition")
	}
}

func (m *Machine) engage(ctx context.Context) {
	r := m.deps.Restriction
	r.Until = m.scheduledUnlock
	if err := m.deps.Agent.Engage(ctx, r); err != nil {
		metrics.EnforcementErrorsTotal.WithLabelValues("engage").Inc()
		m.logger.Error().Err(err).Msg("Enforcement agent failed to engage restrictions")
	}
}

func (m *Machine) persist(ctx context.Context) {
	saved := persisted{State: m.state, Prior: m.prior}
	if !m.lockStart.IsZero() {
		start, unlock := m.lockStart, m.scheduledUnlock
		saved.LockStart = &start
		saved.ScheduledUnlock = &unlock
	}
	if err := storage.PutJSON(ctx, m.deps.KV, storage.KeyLockState, saved); err != nil {
		m.logger.Error().Err(err).Msg("Failed to persist lock state")
	}
}

func (m *Machine) setStateGauge() {
	for _, s := range states {
		v := 0.0
		if s == m.state {
			v = 1
		}
		metrics.LockState.WithLabelValues(string(s)).Set(v)
	}
}
