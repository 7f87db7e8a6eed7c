package bolt

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/goodtune/lockbox/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketState      = "state"
	bucketDailyUsage = "usage_daily"

	dailyUsagePrefix = "usage/day/"
)

// Store implements storage.KV using bbolt.
// Archived day records live in their own bucket so they can be pruned.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketState, bucketDailyUsage} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// route maps a storage key to its bucket and in-bucket key.
func route(key string) (string, string) {
	if day, ok := strings.CutPrefix(key, dailyUsagePrefix); ok {
		return bucketDailyUsage, day
	}
	return bucketState, key
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	bucket, k := route(key)
	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		value := b.Get([]byte(k))
		if value == nil {
			return storage.ErrNotFound
		}
		// bbolt values are only valid for the life of the transaction.
		out = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	bucket, k := route(key)
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket missing: %s", bucket)
		}
		return b.Put([]byte(k), value)
	})
}

func (s *Store) Delete(ctx context.Context, key string) error {
	bucket, k := route(key)
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return storage.ErrNotFound
		}
		if b.Get([]byte(k)) == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(k))
	})
}

// DeleteDailyUsageBefore removes archived day records older than day
// (YYYY-MM-DD) and returns how many were deleted.
func (s *Store) DeleteDailyUsageBefore(ctx context.Context, day string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketDailyUsage))
		if b == nil {
			return nil
		}
		var keys [][]byte
		c := b.Cursor()
		// Day keys sort lexically in calendar order.
		for k, _ := c.First(); k != nil && string(k) < day; k, _ = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}
