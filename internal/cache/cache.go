// Package cache is a stale-while-revalidate store for best-effort feeds.
//
// Reads never block on the network: Load returns whatever is stored (or a
// fallback) and schedules a bounded background refresh when the value is
// stale. A failed refresh leaves the stored value untouched.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultRefreshTimeout bounds a refresh when none is configured.
const DefaultRefreshTimeout = 5 * time.Second

// Entry is one stored value.
type Entry struct {
	Key      string
	Value    string
	StoredAt time.Time
}

// Backing persists entries. Put supersedes any entry with the same key.
type Backing interface {
	Get(key string) (*Entry, error)
	Put(e Entry) error
}

// Fetcher produces a new value for a key.
type Fetcher func(ctx context.Context) (string, error)

// Cache coordinates reads and background refreshes over a Backing.
type Cache struct {
	backing Backing
	timeout time.Duration
	now     func() time.Time

	flights singleflight.Group
	wg      sync.WaitGroup
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTimeout bounds every refresh.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// New creates a cache over b.
func New(b Backing, opts ...Option) *Cache {
	c := &Cache{
		backing: b,
		timeout: DefaultRefreshTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the stored entry regardless of age. fresh reports whether it
// is within ttl of its storage time; ok is false when nothing is stored.
func (c *Cache) Get(key string, ttl time.Duration) (e Entry, fresh bool, ok bool) {
	stored, err := c.backing.Get(key)
	if err != nil {
		slog.Warn("cache read failed", "key", key, "error", err)
		return Entry{}, false, false
	}
	if stored == nil {
		return Entry{}, false, false
	}
	age := c.now().Sub(stored.StoredAt)
	return *stored, age >= 0 && age < ttl, true
}

// Refresh runs fetch under the cache timeout and stores the result on
// success. On failure or timeout the old entry is left as it was.
func (c *Cache) Refresh(ctx context.Context, key string, fetch Fetcher) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	type result struct {
		value string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fetch(ctx)
		done <- result{v, err}
	}()

	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		// Fetchers that ignore ctx are abandoned, not awaited.
		r = result{err: ctx.Err()}
	}
	if r.err != nil {
		return fmt.Errorf("refresh %s: %w", key, r.err)
	}
	if r.value == "" {
		return fmt.Errorf("refresh %s: empty value", key)
	}

	return c.backing.Put(Entry{Key: key, Value: r.value, StoredAt: c.now()})
}

// Load returns the stored value for key, or fallback when nothing has been
// stored yet, and reports freshness. A stale or missing value schedules one
// background refresh per key.
func (c *Cache) Load(ctx context.Context, key string, ttl time.Duration, fallback string, fetch Fetcher) (string, bool) {
	e, fresh, ok := c.Get(key, ttl)
	if !fresh {
		c.refreshAsync(ctx, key, fetch)
	}
	if !ok {
		return fallback, false
	}
	return e.Value, fresh
}

func (c *Cache) refreshAsync(ctx context.Context, key string, fetch Fetcher) {
	// The refresh outlives the request that triggered it.
	ctx = context.WithoutCancel(ctx)

	c.wg.Add(1)
	ch := c.flights.DoChan(key, func() (any, error) {
		return nil, c.Refresh(ctx, key, fetch)
	})
	go func() {
		defer c.wg.Done()
		if res := <-ch; res.Err != nil {
			slog.Debug("cache refresh failed", "key", key, "error", res.Err)
		}
	}()
}

// Wait blocks until every scheduled refresh has finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}
