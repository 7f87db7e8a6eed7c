package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/lockbox/internal/config"
	"github.com/goodtune/lockbox/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays 0
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 1,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestStoreRoundTrip(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	if _, err := store.Get(ctx, storage.KeyTier); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Set(ctx, storage.KeyTier, []byte(`"premium"`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	value, err := store.Get(ctx, storage.KeyTier)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(value) != `"premium"` {
		t.Errorf("Expected premium, got %s", value)
	}

	if !mr.Exists("lockbox:tier") {
		t.Error("Expected key to be stored with the lockbox: prefix")
	}
	if ttl := mr.TTL("lockbox:tier"); ttl != 0 {
		t.Errorf("Expected no TTL on state keys, got %v", ttl)
	}

	if err := store.Delete(ctx, storage.KeyTier); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, storage.KeyTier); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestStoreDailyUsageExpires(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	key := storage.UsageDayKey("2025-03-10")

	if err := store.Set(ctx, key, []byte(`{"day":"2025-03-10"}`)); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if ttl := mr.TTL("lockbox:" + key); ttl != dailyUsageTTL {
		t.Errorf("Expected TTL %v, got %v", dailyUsageTTL, ttl)
	}

	mr.FastForward(dailyUsageTTL + time.Second)

	if _, err := store.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected archived day to expire, got %v", err)
	}
}

func TestStoreConnectionFailure(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	mr.Close()

	err := store.Set(context.Background(), storage.KeyTier, []byte(`"free"`))
	if err == nil {
		t.Fatal("Expected error after server shutdown")
	}
	if errors.Is(err, storage.ErrNotFound) {
		t.Error("Transport errors must not look like missing keys")
	}
}
