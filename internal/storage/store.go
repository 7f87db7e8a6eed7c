package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// KV is the key-value persistence interface every lockbox component
// stores its state through. Values are opaque bytes; see codec.go.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Pruner is implemented by backends that can drop old archived day
// records on demand. Backends that expire them natively do not need it.
type Pruner interface {
	DeleteDailyUsageBefore(ctx context.Context, day string) (int, error)
}

// Keys used by the lockbox components.
const (
	KeyTier            = "tier"
	KeyFreeSettings    = "settings/free"
	KeyPremiumSettings = "settings/premium"
	KeyUsageToday      = "usage/today"
	KeyQuotaCounters   = "quota/counters"
	KeyLockState       = "lock/state"
	KeyStreakState     = "streak/state"
)

// UsageDayKey returns the archive key for a finished day's usage record.
func UsageDayKey(day string) string {
	return "usage/day/" + day
}
