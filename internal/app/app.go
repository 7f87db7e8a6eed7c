// Package app wires the lockbox components together and drives them from
// the clock.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goodtune/lockbox/internal/challenge"
	"github.com/goodtune/lockbox/internal/clock"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/enforce"
	"github.com/goodtune/lockbox/internal/judge"
	"github.com/goodtune/lockbox/internal/lock"
	"github.com/goodtune/lockbox/internal/policy"
	"github.com/goodtune/lockbox/internal/policy/opa"
	"github.com/goodtune/lockbox/internal/quota"
	"github.com/goodtune/lockbox/internal/storage"
	"github.com/goodtune/lockbox/internal/storage/bolt"
	"github.com/goodtune/lockbox/internal/storage/redis"
	"github.com/goodtune/lockbox/internal/storage/sqlite"
	"github.com/goodtune/lockbox/internal/streak"
	"github.com/goodtune/lockbox/internal/subscription"
	"github.com/goodtune/lockbox/internal/usage"
	"github.com/goodtune/lockbox/internal/words"
	"github.com/rs/zerolog"
)

// Options overrides collaborators that are normally built from config.
type Options struct {
	Clock  clock.Clock
	KV     storage.KV
	Agent  enforce.Agent
	JudgeA judge.Evaluator
	JudgeB judge.Evaluator
}

// App owns every component of a running lockbox.
type App struct {
	cfg    *config.Config
	clock  clock.Clock
	kv     storage.KV
	logger zerolog.Logger

	Store      *subscription.Store
	Ledger     *usage.Ledger
	Quota      *quota.Tracker
	Streak     *streak.Tracker
	Challenges *challenge.Engine
	Machine    *lock.Machine
	policy     *policy.Engine
	opa        *opa.Engine

	// mu serializes the scheduled jobs.
	mu       sync.Mutex
	lastTick time.Time
	stops    []func()
}

// OpenStorage opens the backend selected by cfg.
func OpenStorage(cfg config.StorageConfig) (storage.KV, error) {
	switch cfg.Type {
	case "bolt", "":
		return bolt.Open(cfg.Path)
	case "sqlite":
		return sqlite.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// New builds an App from cfg. Collaborators set in opts are used as given.
func New(ctx context.Context, cfg *config.Config, opts Options, logger zerolog.Logger) (*App, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{Location: cfg.Clock.Location()}
	}

	kv := opts.KV
	if kv == nil {
		backend, err := OpenStorage(cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		kv = storage.NewResilient(backend, logger)
	}

	a := &App{
		cfg:    cfg,
		clock:  clk,
		kv:     kv,
		logger: logger.With().Str("component", "app").Logger(),
	}

	a.Store = subscription.NewStore(ctx, kv, logger)
	a.Ledger = usage.NewLedger(ctx, kv, clk, logger)
	a.Quota = quota.NewTracker(ctx, kv, clk, a.Store.Tier, logger)
	a.Streak = streak.NewTracker(ctx, kv, clk, logger)

	decider, err := a.buildDecider(logger)
	if err != nil {
		return nil, err
	}

	list, err := words.Load(cfg.Challenge.WordsFile)
	if err != nil {
		return nil, err
	}
	picker, err := words.NewPicker(list, cfg.Challenge.RecentPairs)
	if err != nil {
		return nil, err
	}

	judgeA, judgeB := opts.JudgeA, opts.JudgeB
	client := &http.Client{}
	if judgeA == nil {
		if judgeA, err = judge.New("a", cfg.Judges.A, client, logger); err != nil {
			return nil, err
		}
	}
	if judgeB == nil {
		if judgeB, err = judge.New("b", cfg.Judges.B, client, logger); err != nil {
			return nil, err
		}
	}
	a.Challenges = challenge.NewEngine(picker, a.Quota, judgeA, judgeB, clk, challenge.Options{
		MinLength: cfg.Challenge.MinLength,
		Timeout:   cfg.Challenge.Timeout(),
	}, logger)

	agent := opts.Agent
	if agent == nil {
		if agent, err = enforce.New(cfg.Enforcement, logger); err != nil {
			return nil, err
		}
	}

	a.policy = policy.NewEngine(decider, logger)
	a.Machine = lock.NewMachine(ctx, lock.Deps{
		KV:          kv,
		Clock:       clk,
		Store:       a.Store,
		Ledger:      a.Ledger,
		Policy:      a.policy,
		Quota:       a.Quota,
		Challenges:  a.Challenges,
		Agent:       agent,
		Restriction: enforce.RestrictionFrom(cfg.Enforcement),
	}, logger)

	a.logger.Info().
		Str("storage", cfg.Storage.Type).
		Str("policy", cfg.Policy.Engine).
		Str("tier", string(a.Store.Tier())).
		Msg("Lockbox initialized")

	return a, nil
}

func (a *App) buildDecider(logger zerolog.Logger) (policy.Decider, error) {
	if a.cfg.Policy.Engine != "opa" {
		return policy.Native{}, nil
	}
	engine, err := opa.NewEngine(a.cfg.Policy.PolicyDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OPA policy engine: %w", err)
	}
	a.opa = engine
	return engine, nil
}

// Start evaluates the persisted state once and schedules the usage tick
// and the daily rollover.
func (a *App) Start(ctx context.Context) {
	a.mu.Lock()
	a.lastTick = a.clock.Now()
	a.mu.Unlock()

	a.Rollover(ctx)

	interval := a.cfg.Clock.Interval()
	stop := a.clock.ScheduleRepeating(interval, func() { a.tick(ctx) })
	a.mu.Lock()
	a.stops = append(a.stops, stop)
	a.mu.Unlock()
	a.scheduleRollover(ctx)

	a.logger.Info().Dur("tick_interval", interval).Msg("Schedules started")
}

// Stop cancels the schedules.
func (a *App) Stop() {
	a.mu.Lock()
	stops := a.stops
	a.stops = nil
	a.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
}

// Close releases storage.
func (a *App) Close() error {
	return a.kv.Close()
}

// ReloadPolicy re-reads the Rego policies when the OPA engine is in use.
func (a *App) ReloadPolicy() error {
	if a.opa == nil {
		return nil
	}
	if err := a.opa.Reload(); err != nil {
		return err
	}
	a.Machine.Evaluate(context.Background())
	return nil
}

func (a *App) tick(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	elapsed := now.Sub(a.lastTick)
	a.lastTick = now

	// A suspended process must not bill the whole gap as usage.
	if limit := 2 * a.cfg.Clock.Interval(); elapsed > limit {
		elapsed = limit
	}
	if elapsed < 0 {
		elapsed = 0
	}

	if err := a.Machine.Tick(ctx, elapsed); err != nil {
		a.logger.Error().Err(err).Msg("Usage tick failed")
	}
}

func (a *App) scheduleRollover(ctx context.Context) {
	at := clock.NextMidnight(a.clock.Now())
	stop := a.clock.ScheduleAt(at, func() {
		a.Rollover(ctx)
		a.scheduleRollover(ctx)
	})

	a.mu.Lock()
	a.stops = append(a.stops, stop)
	a.mu.Unlock()
}

// Rollover closes the previous day: its goal outcome goes to the streak,
// then the ledger, quotas and streak move to the new day and old usage
// archives are pruned. Running it again on the same day is harmless.
func (a *App) Rollover(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.clock.Now()
	finished := clock.DayKey(clock.StartOfDay(now).AddDate(0, 0, -1))

	a.Ledger.Rollover(ctx)
	if record, ok := a.Ledger.Day(ctx, finished); ok {
		if _, recorded := a.Streak.State().History[finished]; !recorded {
			achieved := policy.GoalAchieved(a.Store.CurrentSettings(), record)
			a.Streak.RecordAchievementOn(ctx, finished, achieved)
		}
	}
	a.Quota.Rollover(ctx)
	a.Streak.OnDailyRollover(ctx)
	a.prune(ctx, now)

	a.Machine.CheckAutoUnlock(ctx)
	a.Machine.Evaluate(ctx)
}

func (a *App) prune(ctx context.Context, now time.Time) {
	pruner, ok := a.kv.(storage.Pruner)
	if !ok || a.cfg.Storage.UsageRetentionDays <= 0 {
		return
	}
	cutoff := clock.DayKey(clock.StartOfDay(now).AddDate(0, 0, -a.cfg.Storage.UsageRetentionDays))
	deleted, err := pruner.DeleteDailyUsageBefore(ctx, cutoff)
	if err != nil {
		a.logger.Error().Err(err).Msg("Failed to prune usage history")
		return
	}
	if deleted > 0 {
		a.logger.Info().Int("deleted", deleted).Str("before", cutoff).Msg("Pruned usage history")
	}
}

// Check asks the configured policy engine for the decision it would
// make at now with the given usage and the current settings.
func (a *App) Check(ctx context.Context, record usage.Record, now time.Time) policy.Decision {
	return a.policy.Decide(ctx, a.Store.CurrentSettings(), record, now)
}

// Status is the combined view shown by the CLI.
type Status struct {
	Lock       lock.Snapshot         `json:"lock"`
	Settings   subscription.Settings `json:"settings"`
	Streak     streak.State          `json:"streak"`
	Motivation streak.Motivation     `json:"motivation"`
}

// Status returns the current state of every component.
func (a *App) Status(ctx context.Context) Status {
	return Status{
		Lock:       a.Machine.Snapshot(ctx),
		Settings:   a.Store.CurrentSettings(),
		Streak:     a.Streak.State(),
		Motivation: a.Streak.Motivation(),
	}
}
