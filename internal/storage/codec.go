package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

// GetJSON loads and decodes the value stored under key.
// It returns ErrNotFound when the key is absent.
func GetJSON[T any](ctx context.Context, kv KV, key string) (*T, error) {
	data, err := kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	var item T
	if err := unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &item, nil
}

// PutJSON encodes value and stores it under key.
func PutJSON(ctx context.Context, kv KV, key string, value any) error {
	data, err := marshal(value)
	if err != nil {
		return err
	}
	return kv.Set(ctx, key, data)
}

// LoadOr loads the value under key or returns fallback when nothing is stored.
// Decode and backend errors are returned alongside the fallback.
func LoadOr[T any](ctx context.Context, kv KV, key string, fallback T) (T, error) {
	item, err := GetJSON[T](ctx, kv, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fallback, nil
		}
		return fallback, err
	}
	return *item, nil
}
