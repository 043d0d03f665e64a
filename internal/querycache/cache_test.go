package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/proto"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestCache(t *testing.T, maxEntries int) (*Cache, *kvstore.Memory, *fakeClock) {
	t.Helper()
	store := kvstore.NewMemory()
	c := New(store, config.QueryCacheConfig{
		Namespace:  "search-query-cache-v1",
		MaxEntries: maxEntries,
		MaxAge:     24 * time.Hour,
	}, nil)
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clock.Now
	return c, store, clock
}

func TestCache_SetGet(t *testing.T) {
	c, _, _ := newTestCache(t, 100)
	ctx := context.Background()
	results := []proto.ResultEntry{{Ref: "/a", Score: 2}, {Ref: "/b", Score: 1}}

	require.NoError(t, c.Set(ctx, "k", results, 0))

	var got []proto.ResultEntry
	require.True(t, c.Get(ctx, "k", &got))
	assert.Equal(t, results, got)

	var none []proto.ResultEntry
	assert.False(t, c.Get(ctx, "absent", &none))

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}

func TestCache_ExpiryDeletesEntry(t *testing.T) {
	c, store, clock := newTestCache(t, 100)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "q", "payload", 100*time.Millisecond))

	var got string
	require.True(t, c.Get(ctx, "q", &got))
	assert.Equal(t, "payload", got)

	clock.Advance(150 * time.Millisecond)
	assert.False(t, c.Get(ctx, "q", &got))

	_, err := store.Get(ctx, c.slot("q"))
	assert.True(t, kvstore.IsNotFound(err), "expired entry must be removed from the store")
}

func TestCache_ExpiryRealClock(t *testing.T) {
	store := kvstore.NewMemory()
	c := New(store, config.QueryCacheConfig{Namespace: "ns", MaxEntries: 10, MaxAge: time.Hour}, nil)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "q", 1, 100*time.Millisecond))
	var v int
	require.True(t, c.Get(ctx, "q", &v))

	time.Sleep(150 * time.Millisecond)
	assert.False(t, c.Get(ctx, "q", &v))
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCache_NegativeMaxAgeNeverExpires(t *testing.T) {
	c, _, clock := newTestCache(t, 100)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "pinned", true, -1))
	clock.Advance(365 * 24 * time.Hour)
	var v bool
	assert.True(t, c.Get(ctx, "pinned", &v))
}

func TestCache_EvictsOldestBeyondMax(t *testing.T) {
	c, _, clock := newTestCache(t, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("q%d", i), i, 0))
		clock.Advance(time.Millisecond)
	}

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"q2", "q3", "q4"}, keys)
}

func TestCache_EvictionOrderWithinSameMillisecond(t *testing.T) {
	c, _, _ := newTestCache(t, 2)
	ctx := context.Background()
	// names chosen so lexical order disagrees with insertion order
	for _, k := range []string{"z", "y", "x"} {
		require.NoError(t, c.Set(ctx, k, k, 0))
	}
	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"y", "x"}, keys)
}

func TestCache_CorruptEntryIsMiss(t *testing.T) {
	c, store, _ := newTestCache(t, 100)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, c.slot("bad"), []byte("{not json")))

	var v any
	assert.False(t, c.Get(ctx, "bad", &v))
	_, err := store.Get(ctx, c.slot("bad"))
	assert.True(t, kvstore.IsNotFound(err))
}

func TestCache_ClearOnlyTouchesNamespace(t *testing.T) {
	c, store, _ := newTestCache(t, 100)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, kvstore.KeyFingerprint, []byte("f")))
	require.NoError(t, c.Set(ctx, "a", 1, 0))
	require.NoError(t, c.Set(ctx, "b", 2, 0))

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	keys, _ := c.Keys(ctx)
	assert.Empty(t, keys)
	_, err = store.Get(ctx, kvstore.KeyFingerprint)
	assert.NoError(t, err)
}

func TestCache_KeysRoundTripEscaping(t *testing.T) {
	c, _, _ := newTestCache(t, 100)
	ctx := context.Background()
	key := SearchKey(`"quick brown" /tag:go`, proto.Options{ExactMatch: true}, nil, nil, 0)
	require.NoError(t, c.Set(ctx, key, 1, 0))

	keys, err := c.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)
}

type failingStore struct {
	*kvstore.Memory
}

func (f failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("backend down")
}

func TestCache_BackendFailureIsMiss(t *testing.T) {
	c := New(failingStore{kvstore.NewMemory()}, config.QueryCacheConfig{Namespace: "ns", MaxEntries: 10}, nil)
	var v int
	for i := 0; i < 6; i++ {
		assert.False(t, c.Get(context.Background(), "k", &v))
	}
	assert.False(t, c.Healthy())
}

func TestGetOrCompute(t *testing.T) {
	c, _, _ := newTestCache(t, 100)
	ctx := context.Background()
	calls := 0
	compute := func() ([]proto.ResultEntry, error) {
		calls++
		return []proto.ResultEntry{{Ref: "/x", Score: 1}}, nil
	}

	got, cached, err := GetOrCompute(ctx, c, "regex", compute)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Len(t, got, 1)

	got, cached, err = GetOrCompute(ctx, c, "regex", compute)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "/x", got[0].Ref)
	assert.Equal(t, 1, calls)
}

func TestKeys_Deterministic(t *testing.T) {
	opts := proto.Options{CaseSensitive: true}
	assert.Equal(t,
		SearchKey("go", opts, []string{"b", "a"}, nil, 0),
		SearchKey("go", opts, []string{"a", "b"}, nil, 0),
	)
	assert.NotEqual(t, SearchKey("go", opts, nil, nil, 0), SearchKey("go", proto.Options{}, nil, nil, 0))
	assert.Equal(t, `{"q":"go","exactMatch":false,"caseSensitive":true,"useRegex":false,"tags":[]}`, SearchKey("go", opts, nil, nil, 0))
	assert.NotEqual(t, SearchKey("go", opts, nil, []string{"docs"}, 0), SearchKey("go", opts, nil, nil, 0))
	assert.Equal(t,
		SearchKey("go", opts, nil, []string{"docs", "blog"}, 10),
		SearchKey("go", opts, nil, []string{"blog", "docs"}, 10),
	)

	tabs := []string{"docs", "blog"}
	p1 := proto.QueryParams{Terms: []string{"go"}, Tabs: tabs, Limit: 50}
	p2 := proto.QueryParams{Terms: []string{"go"}, Tabs: []string{"blog", "docs"}, Limit: 50}
	assert.Equal(t, WorkerKey(p1), WorkerKey(p2))
	assert.Equal(t, []string{"docs", "blog"}, tabs, "caller slice must not be reordered")
}
