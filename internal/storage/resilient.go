package storage

import (
	"context"
	"errors"
	"sync"

	"github.com/goodtune/lockbox/internal/metrics"
	"github.com/rs/zerolog"
)

// Resilient wraps a durable backend. The first backend failure switches
// it to in-memory operation for the rest of the process lifetime and
// raises the degraded flag; no write is ever reported as failed.
type Resilient struct {
	mu       sync.Mutex
	backend  KV
	mem      *Memory
	deleted  map[string]struct{}
	degraded bool
	logger   zerolog.Logger
}

// NewResilient wraps backend.
func NewResilient(backend KV, logger zerolog.Logger) *Resilient {
	return &Resilient{
		backend: backend,
		mem:     NewMemory(),
		deleted: make(map[string]struct{}),
		logger:  logger.With().Str("component", "storage").Logger(),
	}
}

// Degraded reports whether the backend has failed during this session.
func (r *Resilient) Degraded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.degraded
}

func (r *Resilient) Get(ctx context.Context, key string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.degraded {
		if _, gone := r.deleted[key]; gone {
			return nil, ErrNotFound
		}
		if value, err := r.mem.Get(ctx, key); err == nil {
			return value, nil
		}
	}

	value, err := r.backend.Get(ctx, key)
	if err == nil || errors.Is(err, ErrNotFound) {
		return value, err
	}
	r.degrade(err, "get", key)
	return nil, ErrNotFound
}

func (r *Resilient) Set(ctx context.Context, key string, value []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.degraded {
		err := r.backend.Set(ctx, key, value)
		if err == nil {
			return nil
		}
		r.degrade(err, "set", key)
	}
	delete(r.deleted, key)
	return r.mem.Set(context.WithoutCancel(ctx), key, value)
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.degraded {
		err := r.backend.Delete(ctx, key)
		if err == nil || errors.Is(err, ErrNotFound) {
			return nil
		}
		r.degrade(err, "delete", key)
	}
	r.deleted[key] = struct{}{}
	return r.mem.Delete(context.WithoutCancel(ctx), key)
}

// DeleteDailyUsageBefore prunes archived records when the backend
// supports it and the store is healthy.
func (r *Resilient) DeleteDailyUsageBefore(ctx context.Context, day string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pruner, ok := r.backend.(Pruner)
	if !ok || r.degraded {
		return 0, nil
	}
	deleted, err := pruner.DeleteDailyUsageBefore(ctx, day)
	if err != nil {
		r.degrade(err, "prune", UsageDayKey(day))
		return 0, nil
	}
	return deleted, nil
}

func (r *Resilient) Close() error {
	return r.backend.Close()
}

// degrade must be called with r.mu held.
func (r *Resilient) degrade(err error, op, key string) {
	if r.degraded {
		return
	}
	r.degraded = true
	metrics.PersistenceDegraded.Set(1)
	r.logger.Warn().
		Err(err).
		Str("op", op).
		Str("key", key).
		Msg("Storage backend failed, continuing in memory for this session")
}
