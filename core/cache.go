package core

import (
	"context"
	"time"
)

// Cache is a TTL key/value cache. Values are JSON encoded, so Get decodes into dst.
type Cache interface {
	// Get reports whether a live entry was found and decoded into dst.
	Get(ctx context.Context, key string, dst interface{}) (bool, error)
	Set(ctx context.Context, key string, val interface{}, ttl time.Duration) error
	// Update atomically rewrites a live entry without touching its expiry:
	// the entry is decoded into dst, then the value returned by modify is stored.
	// It reports false (and stores nothing) when the key is absent or expired, or when modify reports no change.
	// modify may be called more than once under contention.
	Update(ctx context.Context, key string, dst interface{}, modify func() (val interface{}, changed bool)) (bool, error)
	Delete(ctx context.Context, key string) error
}

// PatchCachedList replaces (by id) or appends item in the list cached under key.
// Nothing is stored when the key is not live, and the expiry of the key is kept.
func PatchCachedList[T any](ctx context.Context, cache Cache, key string, item T, idOf func(T) string) error {
	var list []T
	_, err := cache.Update(ctx, key, &list, func() (interface{}, bool) {
		id := idOf(item)
		for i := range list {
			if idOf(list[i]) == id {
				list[i] = item
				return list, true
			}
		}
		return append(list, item), true
	})
	return err
}

// RemoveFromCachedList removes the item with the given id from the list cached under key, if live.
func RemoveFromCachedList[T any](ctx context.Context, cache Cache, key, id string, idOf func(T) string) error {
	var list []T
	_, err := cache.Update(ctx, key, &list, func() (interface{}, bool) {
		kept := make([]T, 0, len(list))
		for _, item := range list {
			if idOf(item) != id {
				kept = append(kept, item)
			}
		}
		return kept, len(kept) != len(list)
	})
	return err
}
