// Package querycache is the expiring, size-bounded query-result cache. It
// stores JSON entries in a kvstore namespace, expires them lazily on read and
// evicts the oldest entries after writes.
package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/sitesearch/internal/kvstore"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/sitesearch/pkg/resilience"
)

// Entry is the stored envelope. Timestamp and MaxAge are milliseconds; a nil
// MaxAge never expires. Seq orders entries written within the same
// millisecond.
type Entry struct {
	Timestamp int64           `json:"timestamp"`
	MaxAge    *int64          `json:"maxAge"`
	Seq       uint64          `json:"seq,omitempty"`
	Data      json.RawMessage `json:"data"`
}

// Expired reports whether the entry is logically absent at now.
func (e Entry) Expired(now time.Time) bool {
	if e.MaxAge == nil {
		return false
	}
	return now.UnixMilli()-e.Timestamp > *e.MaxAge
}

type Cache struct {
	store      kvstore.Store
	prefix     string
	maxEntries int
	maxAge     time.Duration
	breaker    *resilience.CircuitBreaker
	group      singleflight.Group
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
	seq        atomic.Uint64
	hits       atomic.Int64
	misses     atomic.Int64
}

func New(store kvstore.Store, cfg config.QueryCacheConfig, m *metrics.Metrics) *Cache {
	c := &Cache{
		store:      store,
		prefix:     cfg.Namespace + "/cache/",
		maxEntries: cfg.MaxEntries,
		maxAge:     cfg.MaxAge,
		metrics:    m,
		logger:     slog.Default().With("component", "query-cache", "namespace", cfg.Namespace),
		now:        time.Now,
	}
	c.breaker = resilience.NewCircuitBreaker("query-cache", resilience.BreakerOptions{
		Trips:    5,
		Cooldown: 15 * time.Second,
		Counts: func(err error) bool {
			return !kvstore.IsNotFound(err) && !errors.Is(err, context.Canceled)
		},
		Notify: func(name string, _, to resilience.State) {
			m.SetBreakerState(name, int(to))
		},
	})
	c.seq.Store(uint64(time.Now().UnixNano()))
	return c
}

// Get decodes the cached value for key into dst. Expired, corrupt and
// unreadable entries are misses; expired and corrupt ones are deleted.
func (c *Cache) Get(ctx context.Context, key string, dst any) bool {
	slot := c.slot(key)
	entry, ok := c.load(ctx, slot)
	if !ok {
		c.miss()
		return false
	}
	if entry.Expired(c.now()) {
		c.logger.Debug("cache entry expired", "key", key)
		c.remove(ctx, slot)
		c.metrics.CacheEvicted(1)
		c.miss()
		return false
	}
	if err := json.Unmarshal(entry.Data, dst); err != nil {
		c.logger.Warn("cache payload undecodable", "key", key, "error", err)
		c.miss()
		return false
	}
	c.hits.Add(1)
	c.metrics.CacheHit()
	return true
}

// Set stores value under key. maxAge 0 uses the configured default and a
// negative maxAge never expires. A cleanup pass runs after the write.
func (c *Cache) Set(ctx context.Context, key string, value any, maxAge time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value: %w", err)
	}
	if maxAge == 0 {
		maxAge = c.maxAge
	}
	entry := Entry{
		Timestamp: c.now().UnixMilli(),
		Seq:       c.seq.Add(1),
		Data:      data,
	}
	if maxAge > 0 {
		ms := maxAge.Milliseconds()
		entry.MaxAge = &ms
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if err := c.breaker.Execute(func() error {
		return c.store.Set(ctx, c.slot(key), raw)
	}); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	c.cleanup(ctx)
	return nil
}

// GetOrCompute returns the cached value for key or computes, stores and
// returns it. Concurrent callers for one key share a single compute.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, compute func() (T, error)) (T, bool, error) {
	var out T
	if c.Get(ctx, key, &out) {
		return out, true, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		var cached T
		if c.Get(ctx, key, &cached) {
			return cached, nil
		}
		res, err := compute()
		if err != nil {
			return nil, err
		}
		if err := c.Set(ctx, key, res, 0); err != nil {
			c.logger.Warn("cache store failed", "error", err)
		}
		return res, nil
	})
	if err != nil {
		return out, false, err
	}
	return v.(T), false, nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.store.Delete(ctx, c.slot(key))
}

// Clear removes every entry in the namespace and returns how many.
func (c *Cache) Clear(ctx context.Context) (int, error) {
	slots, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return 0, fmt.Errorf("listing cache entries: %w", err)
	}
	for _, s := range slots {
		if err := c.store.Delete(ctx, s); err != nil {
			return 0, fmt.Errorf("deleting cache entry: %w", err)
		}
	}
	c.logger.Info("query cache cleared", "entries", len(slots))
	return len(slots), nil
}

// Keys returns the logical keys currently stored, expired ones included.
func (c *Cache) Keys(ctx context.Context) ([]string, error) {
	slots, err := c.store.Keys(ctx, c.prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(slots))
	for _, s := range slots {
		k, err := url.PathUnescape(strings.TrimPrefix(s, c.prefix))
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (c *Cache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Healthy reports whether the backend breaker is closed.
func (c *Cache) Healthy() bool {
	return c.breaker.GetState() == resilience.StateClosed
}

func (c *Cache) slot(key string) string {
	return c.prefix + url.PathEscape(key)
}

func (c *Cache) load(ctx context.Context, slot string) (Entry, bool) {
	raw, err := resilience.Call(c.breaker, func() ([]byte, error) {
		return c.store.Get(ctx, slot)
	})
	if err != nil {
		if !kvstore.IsNotFound(err) {
			c.logger.Debug("cache read failed", "slot", slot, "error", err)
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.logger.Warn("corrupt cache entry dropped", "slot", slot, "error", err)
		c.remove(ctx, slot)
		return Entry{}, false
	}
	return e, true
}

func (c *Cache) remove(ctx context.Context, slot string) {
	if err := c.store.Delete(ctx, slot); err != nil {
		c.logger.Debug("cache delete failed", "slot", slot, "error", err)
	}
}

func (c *Cache) miss() {
	c.misses.Add(1)
	c.metrics.CacheMiss()
}

// cleanup deletes the oldest entries beyond maxEntries. Unreadable entries
// sort first and go before any valid one.
func (c *Cache) cleanup(ctx context.Context) {
	slots, err := c.store.Keys(ctx, c.prefix)
	if err != nil || len(slots) <= c.maxEntries {
		return
	}
	type aged struct {
		slot string
		ts   int64
		seq  uint64
	}
	all := make([]aged, 0, len(slots))
	for _, s := range slots {
		a := aged{slot: s}
		if raw, err := c.store.Get(ctx, s); err == nil {
			var e Entry
			if json.Unmarshal(raw, &e) == nil {
				a.ts, a.seq = e.Timestamp, e.Seq
			}
		}
		all = append(all, a)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ts != all[j].ts {
			return all[i].ts < all[j].ts
		}
		return all[i].seq < all[j].seq
	})
	excess := len(all) - c.maxEntries
	for _, a := range all[:excess] {
		c.remove(ctx, a.slot)
	}
	c.metrics.CacheEvicted(excess)
	c.logger.Debug("query cache trimmed", "evicted", excess)
}
