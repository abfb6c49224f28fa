// Package cache memoizes template resolutions per (step, vertical, channel).
//
// A Cache decides freshness and coordinates loads; a Store holds entries and
// drops the ones nobody has used for a while. Only unpersonalized resolution
// results are cached, never text rendered for a specific lead.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"followup-templates/internal/resolver"
)

const (
	DefaultStaleAfter     = 10 * time.Minute
	DefaultRefreshTimeout = 10 * time.Second
)

// Policy controls how a lookup treats an existing entry.
type Policy int

const (
	// PolicyDefault serves fresh entries and reloads stale or missing ones
	// before returning.
	PolicyDefault Policy = iota
	// PolicyStaleWhileRevalidate serves a stale entry immediately and
	// refreshes it in the background.
	PolicyStaleWhileRevalidate
	// PolicyBypass always reloads and overwrites the entry.
	PolicyBypass
)

func (p Policy) String() string {
	switch p {
	case PolicyStaleWhileRevalidate:
		return "swr"
	case PolicyBypass:
		return "bypass"
	default:
		return "default"
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "default":
		return PolicyDefault, nil
	case "swr", "stale-while-revalidate":
		return PolicyStaleWhileRevalidate, nil
	case "bypass", "no-cache":
		return PolicyBypass, nil
	}
	return PolicyDefault, fmt.Errorf("unknown cache policy %q", s)
}

// Loader produces the value for a key on a miss.
type Loader func(ctx context.Context) resolver.Result

// generation changes whenever a key is invalidated or the cache flushed. A
// load only keeps its result if the generation is the same when it finishes.
type generation struct {
	epoch uint64
	n     uint64
}

type Cache struct {
	store          Store
	group          singleflight.Group
	staleAfter     time.Duration
	refreshTimeout time.Duration
	now            func() time.Time
	log            *slog.Logger

	mu     sync.Mutex
	closed bool
	epoch  uint64
	gens   map[string]uint64
	wg     sync.WaitGroup
}

type Option func(*Cache)

func WithStaleAfter(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.refreshTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:          store,
		staleAfter:     DefaultStaleAfter,
		refreshTimeout: DefaultRefreshTimeout,
		now:            time.Now,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached result for key, loading it with load as the policy
// requires. Concurrent loads of one key share a single call to load, which
// runs detached from ctx's cancellation and bounded by the refresh timeout.
// Store failures and invalid keys behave like a miss. Degraded results are
// returned but never stored.
func (c *Cache) Get(ctx context.Context, key Key, policy Policy, load Loader) resolver.Result {
	if !key.Valid() {
		return load(ctx)
	}

	if policy == PolicyBypass {
		return c.loadAndStore(ctx, key, load)
	}

	entry, ok := c.lookup(ctx, key)
	if ok {
		if c.fresh(entry) {
			return entry.Result
		}
		if policy == PolicyStaleWhileRevalidate {
			c.refreshAsync(ctx, key, load)
			return entry.Result
		}
	}

	return c.reload(ctx, key, load)
}

func (c *Cache) fresh(e Entry) bool {
	return c.now().Sub(e.ResolvedAt) < c.staleAfter
}

func (c *Cache) lookup(ctx context.Context, key Key) (Entry, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache read failed, treating as miss", "key", key.String(), "error", err)
		return Entry{}, false
	}
	return entry, ok
}

func (c *Cache) generation(key Key) generation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return generation{epoch: c.epoch, n: c.gens[key.String()]}
}

func (c *Cache) put(ctx context.Context, key Key, gen generation, res resolver.Result) {
	if res.Degraded {
		c.log.Debug("not caching degraded result", "key", key.String(), "tier", res.Tier)
		return
	}
	if c.generation(key) != gen {
		return
	}

	err := c.store.Set(ctx, key, Entry{Result: res, ResolvedAt: c.now()})
	if err != nil {
		c.log.Warn("cache write failed", "key", key.String(), "error", err)
		return
	}

	// invalidated while writing
	if c.generation(key) != gen {
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.Warn("cache delete failed", "key", key.String(), "error", err)
		}
	}
}

func (c *Cache) loadAndStore(ctx context.Context, key Key, load Loader) resolver.Result {
	gen := c.generation(key)
	loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
	defer cancel()

	res := load(loadCtx)
	c.put(loadCtx, key, gen, res)
	return res
}

func (c *Cache) reload(ctx context.Context, key Key, load Loader) resolver.Result {
	v, _, _ := c.group.Do(key.String(), func() (any, error) {
		return c.loadAndStore(ctx, key, load), nil
	})
	return v.(resolver.Result).Clone()
}

// refreshAsync reloads key in the background.
func (c *Cache) refreshAsync(ctx context.Context, key Key, load Loader) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("background refresh panicked",
					"key", key.String(),
					"panic", fmt.Sprintf("%v", r),
					"stack", string(debug.Stack()),
				)
			}
		}()

		c.reload(ctx, key, load)
	}()
}

// Invalidate drops key. Loads already running for it keep their result to
// themselves.
func (c *Cache) Invalidate(ctx context.Context, key Key) error {
	c.mu.Lock()
	if c.gens == nil {
		c.gens = make(map[string]uint64)
	}
	c.gens[key.String()]++
	c.mu.Unlock()

	c.group.Forget(key.String())
	if err := c.store.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to invalidate %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	c.epoch++
	c.gens = nil
	c.mu.Unlock()

	if err := c.store.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush cache: %w", err)
	}
	return nil
}

// Close waits for background refreshes and closes the store. Get keeps
// working afterwards but no longer refreshes in the background.
func (c *Cache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.wg.Wait()
	return c.store.Close()
}
