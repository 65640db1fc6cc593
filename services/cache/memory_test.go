package cachesvc

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/eduro/core"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func itemID(it item) string { return it.ID }

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }
func (c *clock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	cache := newMemoryCache(clk.Now)

	var got []item
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)

	replace := func(val []item) func() (interface{}, bool) {
		return func() (interface{}, bool) { return val, true }
	}
	updated, err := cache.Update(ctx, "k", &got, replace([]item{{ID: "1"}}))
	require.NoError(t, err)
	assert.False(t, updated, "absent keys are not updated")

	require.NoError(t, cache.Set(ctx, "k", []item{{ID: "1", Name: "a"}}, time.Minute))
	found, err = cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []item{{ID: "1", Name: "a"}}, got)

	clk.Advance(40 * time.Second)
	updated, err = cache.Update(ctx, "k", &got, func() (interface{}, bool) { return nil, false })
	require.NoError(t, err)
	assert.False(t, updated, "unchanged values are not stored")
	assert.Equal(t, []item{{ID: "1", Name: "a"}}, got, "the live value is decoded")

	updated, err = cache.Update(ctx, "k", &got, replace([]item{{ID: "2"}}))
	require.NoError(t, err)
	assert.True(t, updated)

	// the update keeps the original expiry
	clk.Advance(20 * time.Second)
	found, err = cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "k", []item{{ID: "1"}}, time.Minute))
	require.NoError(t, cache.Delete(ctx, "k"))
	found, err = cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPatchCachedList(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	cache := newMemoryCache(clk.Now)

	// nothing cached: nothing stored
	require.NoError(t, core.PatchCachedList(ctx, cache, "k", item{ID: "1"}, itemID))
	var got []item
	found, _ := cache.Get(ctx, "k", &got)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, "k", []item{{ID: "1", Name: "a"}}, time.Minute))
	require.NoError(t, core.PatchCachedList(ctx, cache, "k", item{ID: "1", Name: "b"}, itemID))
	require.NoError(t, core.PatchCachedList(ctx, cache, "k", item{ID: "2", Name: "c"}, itemID))

	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []item{{ID: "1", Name: "b"}, {ID: "2", Name: "c"}}, got)

	require.NoError(t, core.RemoveFromCachedList(ctx, cache, "k", "1", itemID))
	got = nil
	_, _ = cache.Get(ctx, "k", &got)
	assert.Equal(t, []item{{ID: "2", Name: "c"}}, got)
}

func TestPatchCachedList_concurrent(t *testing.T) {
	ctx := context.Background()
	cache := newMemoryCache(time.Now)
	require.NoError(t, cache.Set(ctx, "k", []item{}, time.Minute))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, core.PatchCachedList(ctx, cache, "k", item{ID: strconv.Itoa(i)}, itemID))
		}(i)
	}
	wg.Wait()

	var got []item
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, got, n)
}

func TestNewMemoryCache_followsClock(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()

	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	orig := core.NowFunc
	core.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { core.NowFunc = orig })

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
	now = now.Add(time.Minute)
	var got string
	found, err := cache.Get(ctx, "k", &got)
	require.NoError(t, err)
	assert.False(t, found, "the clock swapped after construction is used")
}
