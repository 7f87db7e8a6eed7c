package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

// flakyKV fails every call once broken is set.
type flakyKV struct {
	*Memory
	broken bool
	pruned int
}

var errDisk = errors.New("disk full")

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.broken {
		return nil, errDisk
	}
	return f.Memory.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	if f.broken {
		return errDisk
	}
	return f.Memory.Set(ctx, key, value)
}

func (f *flakyKV) Delete(ctx context.Context, key string) error {
	if f.broken {
		return errDisk
	}
	return f.Memory.Delete(ctx, key)
}

func (f *flakyKV) DeleteDailyUsageBefore(ctx context.Context, day string) (int, error) {
	f.pruned++
	return 1, nil
}

func TestResilientPassThrough(t *testing.T) {
	backend := &flakyKV{Memory: NewMemory()}
	r := NewResilient(backend, zerolog.Nop())
	ctx := context.Background()

	if err := PutJSON(ctx, r, KeyTier, "premium"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if backend.Len() != 1 {
		t.Fatalf("expected write to reach the backend")
	}
	tier, err := LoadOr(ctx, r, KeyTier, "free")
	if err != nil || tier != "premium" {
		t.Fatalf("LoadOr = %q, %v", tier, err)
	}
	if r.Degraded() {
		t.Fatal("store must not be degraded")
	}
	if n, _ := r.DeleteDailyUsageBefore(ctx, "2025-01-01"); n != 1 || backend.pruned != 1 {
		t.Fatalf("expected prune to reach the backend")
	}
}

func TestResilientDegradesOnWriteFailure(t *testing.T) {
	backend := &flakyKV{Memory: NewMemory()}
	r := NewResilient(backend, zerolog.Nop())
	ctx := context.Background()

	if err := r.Set(ctx, KeyTier, []byte(`"free"`)); err != nil {
		t.Fatalf("set: %v", err)
	}

	backend.broken = true
	if err := r.Set(ctx, KeyTier, []byte(`"premium"`)); err != nil {
		t.Fatalf("write failures must not surface, got %v", err)
	}
	if !r.Degraded() {
		t.Fatal("expected degraded flag")
	}

	value, err := r.Get(ctx, KeyTier)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(value) != `"premium"` {
		t.Fatalf("expected in-memory value, got %s", value)
	}

	if err := r.Delete(ctx, KeyTier); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := r.Get(ctx, KeyTier); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted key to stay deleted, got %v", err)
	}

	// Later recovery of the backend does not flip the session back.
	backend.broken = false
	if !r.Degraded() {
		t.Fatal("degraded flag must persist for the session")
	}
}

func TestResilientReadFailureIsNotFound(t *testing.T) {
	backend := &flakyKV{Memory: NewMemory(), broken: true}
	r := NewResilient(backend, zerolog.Nop())

	got, err := LoadOr(context.Background(), r, KeyUsageToday, 42)
	if err != nil {
		t.Fatalf("LoadOr: %v", err)
	}
	if got != 42 {
		t.Fatalf("expected fallback, got %d", got)
	}
	if !r.Degraded() {
		t.Fatal("expected degraded flag after read failure")
	}
}
