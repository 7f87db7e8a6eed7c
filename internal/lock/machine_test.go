package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodtune/lockbox/internal/challenge"
	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/enforce"
	"github.com/goodtune/lockbox/internal/judge"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/quota"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/goodtune/lockbox/internal/subscription"
	"github.com/goodtune/lockbox/internal/usage"
	"github.com/goodtune/lockbox/internal/words"
	"github.com/rs/zerolog"
)

const sentence = "바다에서 꿈같은 일몰"

type switchJudge struct {
	name string
	pass atomic.Bool
}

func (j *switchJudge) Name() string { return j.name }

func (j *switchJudge) Evaluate(ctx context.Context, _, _, _ string) (judge.Verdict, error) {
	return judge.Verdict{Pass: j.pass.Load(), Feedback: "stub"}, ctx.Err()
}

type recordingAgent struct {
	mu      sync.Mutex
	engaged int
	cleared int
	until   time.Time
}

func (a *recordingAgent) Engage(_ context.Context, r enforce.Restriction) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.engaged++
	a.until = r.Until
	return nil
}

func (a *recordingAgent) Clear(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cleared++
	return nil
}

type harness struct {
	kv      *storage.Memory
	clock   *clock.Fake
	store   *subscription.Store
	ledger  *usage.Ledger
	agent   *recordingAgent
	judgeA  *switchJudge
	judgeB  *switchJudge
	machine *Machine
}

// newHarness wires a machine over kv. Settings start at first-run
// defaults: free tier, no budget.
func newHarness(t *testing.T, kv *storage.Memory, now time.Time) *harness {
	t.Helper()
	ctx := context.Background()

	h := &harness{
		kv:     kv,
		clock:  clock.NewFake(now),
		agent:  &recordingAgent{},
		judgeA: &switchJudge{name: "a"},
		judgeB: &switchJudge{name: "b"},
	}
	h.store = subscription.NewStore(ctx, kv, zerolog.Nop())
	h.ledger = usage.NewLedger(ctx, kv, h.clock, zerolog.Nop())

	picker, err := words.NewPicker([]words.Word{{Korean: "바다"}, {Korean: "꿈"}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	quotas := quota.NewTracker(ctx, kv, h.clock, h.store.Tier, zerolog.Nop())
	challenges := challenge.NewEngine(picker, quotas, h.judgeA, h.judgeB, h.clock, challenge.Options{Timeout: time.Second}, zerolog.Nop())

	h.machine = NewMachine(ctx, Deps{
		KV:         kv,
		Clock:      h.clock,
		Store:      h.store,
		Ledger:     h.ledger,
		Policy:     policy.NewEngine(policy.Native{}, zerolog.Nop()),
		Quota:      quotas,
		Challenges: challenges,
		Agent:      h.agent,
	}, zerolog.Nop())
	return h
}

func evening() time.Time {
	return time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
}

// setFreeLimit sets the free budget with auto unlock at 07:00.
func (h *harness) setFreeLimit(t *testing.T, limit time.Duration) {
	t.Helper()
	if err := h.store.UpdateFreeSettings(context.Background(), limit, 7, 0); err != nil {
		t.Fatalf("update free settings: %v", err)
	}
}

func (h *harness) tick(t *testing.T, d time.Duration) {
	t.Helper()
	h.clock.Set(h.clock.Now().Add(d))
	if err := h.machine.Tick(context.Background(), d); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

func TestBudgetExhaustionLocks(t *testing.T) {
	h := newHarness(t, storage.NewMemory(), evening())
	h.setFreeLimit(t, time.Hour)

	h.tick(t, 59*time.Minute)
	if h.machine.State() != Unlocked {
		t.Fatal("locked before budget was used")
	}

	h.tick(t, time.Minute)
	snap := h.machine.Snapshot(context.Background())
	if snap.State != Locked {
		t.Fatalf("state = %s, want locked", snap.State)
	}
	want := time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC)
	if snap.ScheduledUnlock == nil || !snap.ScheduledUnlock.Equal(want) {
		t.Errorf("scheduled unlock = %v, want %v", snap.ScheduledUnlock, want)
	}
	if h.agent.engaged != 1 || !h.agent.until.Equal(want) {
		t.Errorf("agent engaged %d times until %v", h.agent.engaged, h.agent.until)
	}

	// Usage does not accrue while locked.
	h.tick(t, 10*time.Minute)
	if total := h.ledger.Today(context.Background()).Total(); total != time.Hour {
		t.Errorf("usage while locked = %v, want 1h", total)
	}
}

func TestNoGoalNeverLocks(t *testing.T) {
	h := newHarness(t, storage.NewMemory(), evening())

	h.tick(t, 5*time.Hour)
	h.machine.EnableLock(context.Background())
	if h.machine.State() != Unlocked {
		t.Fatal("lock engaged without a configured budget")
	}
	if h.agent.engaged != 0 {
		t.Error("agent signalled without a budget")
	}
}

func TestAutoUnlockRestartsBudget(t *testing.T) {
	h := newHarness(t, storage.NewMemory(), evening())
	h.setFreeLimit(t, time.Hour)
	h.tick(t, time.Hour)

	h.clock.Set(time.Date(2025, 3, 11, 6, 59, 0, 0, time.UTC))
	if h.machine.CheckAutoUnlock(context.Background()) {
		t.Fatal("unlocked before the scheduled time")
	}

	h.clock.Set(time.Date(2025, 3, 11, 7, 0, 0, 0, time.UTC))
	if !h.machine.CheckAutoUnlock(context.Background()) {
		t.Fatal("expected auto unlock")
	}
	snap := h.machine.Snapshot(context.Background())
	if snap.State != Unlocked || snap.ScheduledUnlock != nil || snap.LockStart != nil {
		t.Errorf("unexpected snapshot after unlock: %+v", snap)
	}
	if h.agent.cleared != 1 {
		t.Errorf("agent cleared %d times", h.agent.cleared)
	}
}

func TestChallengeCancelKeepsAttemptConsumed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), evening())
	h.setFreeLimit(t, time.Hour)
	h.tick(t, time.Hour)

	if _, err := h.machine.StartChallenge(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.machine.StartChallenge(ctx); !errors.Is(err, ErrAlreadyActive) {
		t.Fatalf("expected ErrAlreadyActive, got %v", err)
	}
	if err := h.machine.CancelChallenge(ctx); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	snap := h.machine.Snapshot(ctx)
	if snap.State != Locked {
		t.Errorf("cancel returned to %s, want locked", snap.State)
	}
	if snap.AttemptsRemaining != 2 {
		t.Errorf("attempts remaining = %d, want 2", snap.AttemptsRemaining)
	}
	if snap.ScheduledUnlock == nil {
		t.Error("lock context lost across the challenge")
	}
}

func TestChallengeRequiresLock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), evening())
	h.setFreeLimit(t, time.Hour)

	if _, err := h.machine.StartChallenge(ctx); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked, got %v", err)
	}
	if got := h.machine.Snapshot(ctx).AttemptsRemaining; got != 3 {
		t.Errorf("attempts remaining = %d, want 3", got)
	}

	for i := 0; i < 180; i++ {
		h.tick(t, time.Minute)
		if _, err := h.machine.StartChallenge(ctx); err == nil {
			break
		}
	}
	if h.machine.State() != ChallengeActive {
		t.Fatalf("state = %s, want a challenge once locked", h.machine.State())
	}
	if total := h.ledger.Today(ctx).Total(); total != time.Hour {
		t.Errorf("usage = %v, want 1h", total)
	}
	if h.agent.engaged != 1 {
		t.Errorf("agent engaged %d times, want 1", h.agent.engaged)
	}
}

func TestAutoUnlockCancelsOpenChallenge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), evening())
	h.setFreeLimit(t, time.Hour)
	h.tick(t, time.Hour)

	if _, err := h.machine.StartChallenge(ctx); err != nil {
		t.Fatal(err)
	}

	h.clock.Set(time.Date(2025, 3, 11, 6, 59, 0, 0, time.UTC))
	h.tick(t, time.Minute)

	snap := h.machine.Snapshot(ctx)
	if snap.State != Unlocked {
		t.Fatalf("state = %s, want unlocked at the scheduled time", snap.State)
	}
	if snap.Challenge != nil {
		t.Error("challenge still open after auto unlock")
	}
	if h.agent.cleared != 1 {
		t.Errorf("agent cleared %d times", h.agent.cleared)
	}
	if _, err := h.machine.SubmitChallenge(ctx, sentence); !errors.Is(err, ErrNoActiveChallenge) {
		t.Errorf("expected ErrNoActiveChallenge, got %v", err)
	}
}

func TestChallengeFailureStaysLocked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), evening())
	h.setFreeLimit(t, time.Hour)
	h.tick(t, time.Hour)

	h.judgeA.pass.Store(true)
	if _, err := h.machine.StartChallenge(ctx); err != nil {
		t.Fatal(err)
	}
	result, err := h.machine.SubmitChallenge(ctx, sentence)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if result.Success {
		t.Fatal("one failing judge must fail the challenge")
	}
	if h.machine.State() != Locked {
		t.Errorf("state = %s after failure, want locked", h.machine.State())
	}
	if _, err := h.machine.SubmitChallenge(ctx, sentence); !errors.Is(err, ErrNoActiveChallenge) {
		t.Errorf("expected ErrNoActiveChallenge, got %v", err)
	}
}

func TestChallengeSuccessUnlocksAndRestarts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), evening())
	h.setFreeLimit(t, time.Hour)
	h.tick(t, time.Hour)

	h.judgeA.pass.Store(true)
	h.judgeB.pass.Store(true)
	if _, err := h.machine.StartChallenge(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := h.machine.SubmitChallenge(ctx, "바다꿈"); !errors.Is(err, challenge.ErrInvalidAttempt) {
		t.Fatalf("expected ErrInvalidAttempt, got %v", err)
	}
	result, err := h.machine.SubmitChallenge(ctx, sentence)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !result.Success {
		t.Fatal("expected success")
	}

	snap := h.machine.Snapshot(ctx)
	if snap.State != Unlocked {
		t.Fatalf("state = %s, want unlocked", snap.State)
	}
	if snap.Usage.Total() != 0 || snap.Usage.Restarts != 1 {
		t.Errorf("budget not restarted: %+v", snap.Usage)
	}

	// The next tick must not re-lock immediately.
	h.tick(t, time.Minute)
	if h.machine.State() != Unlocked {
		t.Error("re-locked right after a successful challenge")
	}
}

func TestAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), evening())
	h.setFreeLimit(t, time.Hour)
	h.tick(t, time.Hour)

	for i := 0; i < 3; i++ {
		if _, err := h.machine.StartChallenge(ctx); err != nil {
			t.Fatalf("start %d: %v", i+1, err)
		}
		if err := h.machine.EndChallenge(ctx, false); err != nil {
			t.Fatalf("end %d: %v", i+1, err)
		}
	}
	if _, err := h.machine.StartChallenge(ctx); !errors.Is(err, ErrNoAttemptsRemaining) {
		t.Fatalf("expected ErrNoAttemptsRemaining, got %v", err)
	}
	if h.machine.State() != Locked {
		t.Error("failed challenges must leave the device locked")
	}
}

func TestConcurrentStartChallenge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), evening())
	h.setFreeLimit(t, time.Hour)
	h.tick(t, time.Hour)

	var wg sync.WaitGroup
	var started atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.machine.StartChallenge(ctx); err == nil {
				started.Add(1)
			}
		}()
	}
	wg.Wait()

	if started.Load() != 1 {
		t.Fatalf("%d challenges started concurrently, want 1", started.Load())
	}
	if got := h.machine.Snapshot(ctx).AttemptsRemaining; got != 2 {
		t.Errorf("attempts remaining = %d, want 2", got)
	}
}

func TestAutoUnlockChangeWhileLocked(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), evening())
	h.setFreeLimit(t, time.Hour)
	h.tick(t, time.Hour)

	// Move the unlock time to 21:30 the same evening.
	if err := h.store.UpdateFreeSettings(ctx, time.Hour, 21, 30); err != nil {
		t.Fatal(err)
	}
	snap := h.machine.Snapshot(ctx)
	want := time.Date(2025, 3, 10, 21, 30, 0, 0, time.UTC)
	if snap.ScheduledUnlock == nil || !snap.ScheduledUnlock.Equal(want) {
		t.Fatalf("scheduled unlock = %v, want %v", snap.ScheduledUnlock, want)
	}
	if h.agent.engaged != 2 || !h.agent.until.Equal(want) {
		t.Errorf("agent engaged %d times until %v, want the new unlock time", h.agent.engaged, h.agent.until)
	}

	h.tick(t, 30*time.Minute)
	if h.machine.State() != Unlocked {
		t.Fatalf("state = %s, want unlocked at the new time", h.machine.State())
	}
	// The exhausted budget restarts and time spent locked is not counted.
	if total := h.ledger.Today(ctx).Total(); total != 0 {
		t.Errorf("usage after auto unlock = %v, want 0", total)
	}
}

func TestPremiumSlotLocking(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory(), time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC))
	if err := h.store.SetTier(ctx, subscription.Premium); err != nil {
		t.Fatal(err)
	}
	slot := subscription.NewTimeSlot("morning",
		clock.TimeOfDay{Hour: 10}, clock.TimeOfDay{Hour: 12}, 30*time.Minute, h.clock.Now())
	if err := h.store.AddTimeSlot(ctx, slot); err != nil {
		t.Fatal(err)
	}

	// Outside every slot usage is counted but never locks.
	h.tick(t, 50*time.Minute)
	if h.machine.State() != Unlocked {
		t.Fatal("locked outside a slot")
	}

	h.clock.Set(time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	h.tick(t, 30*time.Minute)
	snap := h.machine.Snapshot(ctx)
	if snap.State != Locked || snap.Decision.ActiveSlot != slot.ID {
		t.Fatalf("expected slot lock, got %+v", snap.Decision)
	}
	if want := time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC); !snap.ScheduledUnlock.Equal(want) {
		t.Errorf("premium unlock = %v, want next midnight", snap.ScheduledUnlock)
	}
}

func TestRestoreLockedState(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	h := newHarness(t, kv, evening())
	h.setFreeLimit(t, time.Hour)
	h.tick(t, time.Hour)
	if _, err := h.machine.StartChallenge(ctx); err != nil {
		t.Fatal(err)
	}

	restarted := newHarness(t, kv, h.clock.Now())
	snap := restarted.machine.Snapshot(ctx)
	if snap.State != Locked {
		t.Fatalf("restored state = %s, want locked", snap.State)
	}
	if snap.Challenge != nil {
		t.Error("challenge survived a restart")
	}
	if restarted.agent.engaged != 1 {
		t.Error("restrictions not re-engaged after restart")
	}
	if snap.AttemptsRemaining != 2 {
		t.Errorf("attempts remaining = %d, want 2", snap.AttemptsRemaining)
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	h := newHarness(t, storage.NewMemory(), evening())
	h.setFreeLimit(t, time.Hour)

	updates, cancel := h.machine.Subscribe()
	defer cancel()

	h.tick(t, 30*time.Minute)
	h.tick(t, 30*time.Minute)

	select {
	case snap := <-updates:
		if snap.State != Locked {
			t.Errorf("latest snapshot state = %s, want locked", snap.State)
		}
	default:
		t.Fatal("no snapshot delivered")
	}
}
