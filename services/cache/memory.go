// Package cachesvc implements core.Cache in memory (single process) & over redis (shared).
package cachesvc

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/eduro/core"
)

type memoryEntry struct {
	data    []byte
	expires time.Time
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	nowFunc func() time.Time
}

var _ core.Cache = (*memoryCache)(nil) // interface compliance check

func NewMemoryCache() core.Cache {
	return newMemoryCache(func() time.Time { return core.NowFunc() })
}

func newMemoryCache(nowFunc func() time.Time) *memoryCache {
	return &memoryCache{entries: make(map[string]memoryEntry), nowFunc: nowFunc}
}

// live returns the entry under key, dropping it when expired. Callers hold the lock.
func (c *memoryCache) live(key string) (memoryEntry, bool) {
	e, ok := c.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !c.nowFunc().Before(e.expires) {
		delete(c.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (c *memoryCache) Get(_ context.Context, key string, dst interface{}) (bool, error) {
	c.mu.Lock()
	e, ok := c.live(key)
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, errors.Wrap(err, "decoding cached value")
	}
	return true, nil
}

func (c *memoryCache) Set(_ context.Context, key string, val interface{}, ttl time.Duration) error {
	data, err := json.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "encoding value")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		delete(c.entries, key)
		return nil
	}
	c.entries[key] = memoryEntry{data: data, expires: c.nowFunc().Add(ttl)}
	return nil
}

func (c *memoryCache) Update(_ context.Context, key string, dst interface{}, modify func() (interface{}, bool)) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(e.data, dst); err != nil {
		return false, errors.Wrap(err, "decoding cached value")
	}
	val, changed := modify()
	if !changed {
		return false, nil
	}
	data, err := json.Marshal(val)
	if err != nil {
		return false, errors.Wrap(err, "encoding value")
	}
	e.data = data
	c.entries[key] = e
	return true, nil
}

func (c *memoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}
