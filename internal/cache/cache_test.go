package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"followup-templates/internal/logger"
	"followup-templates/internal/models"
	"followup-templates/internal/resolver"
	"followup-templates/internal/vertical"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingLoader returns "v1", "v2", ... on successive calls.
type countingLoader struct {
	calls atomic.Int32
}

func (l *countingLoader) Load(context.Context) resolver.Result {
	n := l.calls.Add(1)
	return resolver.Result{
		PersonalizedMessage: "v" + string(rune('0'+n)),
		UsedVertical:        vertical.Generic,
		Source:              resolver.SourceFallback,
		Tier:                resolver.TierStatic,
	}
}

func newTestCache(t *testing.T, clock *fakeClock, opts ...Option) *Cache {
	t.Helper()
	store := NewMemoryStore(time.Hour, time.Hour, WithMemoryClock(clock.Now))
	opts = append([]Option{WithClock(clock.Now), WithLogger(logger.Discard())}, opts...)
	c := New(store, opts...)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

var testKey = NewKey("day3_reminder", "Immobilien", models.ChannelWhatsApp)

func TestNewKey_NormalizesVertical(t *testing.T) {
	a := NewKey(" day3 ", "Immobilienmakler", models.ChannelEmail)
	b := NewKey("day3", "real estate", models.ChannelEmail)
	assert.Equal(t, a, b)
	assert.Equal(t, "day3|real_estate|email", a.String())
	assert.Equal(t, "day3|generic|any", NewKey("day3", "", models.ChannelAny).String())
	assert.False(t, NewKey("  ", "finance", models.ChannelAny).Valid())
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyDefault, false},
		{"default", PolicyDefault, false},
		{"SWR", PolicyStaleWhileRevalidate, false},
		{"stale-while-revalidate", PolicyStaleWhileRevalidate, false},
		{"bypass", PolicyBypass, false},
		{"sometimes", PolicyDefault, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePolicy(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got, mustParse(t, got.String()))
		})
	}
}

func mustParse(t *testing.T, s string) Policy {
	p, err := ParsePolicy(s)
	require.NoError(t, err)
	return p
}

func TestCache_FreshHit(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	loader := &countingLoader{}
	ctx := context.Background()

	first := c.Get(ctx, testKey, PolicyDefault, loader.Load)
	clock.Advance(9 * time.Minute)
	second := c.Get(ctx, testKey, PolicyDefault, loader.Load)

	assert.Equal(t, "v1", first.PersonalizedMessage)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestCache_StaleReloadsSynchronously(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	loader := &countingLoader{}
	ctx := context.Background()

	c.Get(ctx, testKey, PolicyDefault, loader.Load)
	clock.Advance(11 * time.Minute)
	got := c.Get(ctx, testKey, PolicyDefault, loader.Load)

	assert.Equal(t, "v2", got.PersonalizedMessage)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCache_StaleWhileRevalidate(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	loader := &countingLoader{}
	ctx := context.Background()

	c.Get(ctx, testKey, PolicyStaleWhileRevalidate, loader.Load)
	clock.Advance(15 * time.Minute)

	stale := c.Get(ctx, testKey, PolicyStaleWhileRevalidate, loader.Load)
	assert.Equal(t, "v1", stale.PersonalizedMessage)

	c.wg.Wait()
	assert.Equal(t, int32(2), loader.calls.Load())

	refreshed := c.Get(ctx, testKey, PolicyStaleWhileRevalidate, loader.Load)
	assert.Equal(t, "v2", refreshed.PersonalizedMessage)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCache_StaleWhileRevalidate_MissLoadsSynchronously(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	loader := &countingLoader{}

	got := c.Get(context.Background(), testKey, PolicyStaleWhileRevalidate, loader.Load)
	assert.Equal(t, "v1", got.PersonalizedMessage)
}

func TestCache_RefreshIsDetachedFromCaller(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock, WithRefreshTimeout(time.Second))
	loader := &countingLoader{}

	c.Get(context.Background(), testKey, PolicyDefault, loader.Load)
	clock.Advance(time.Hour - time.Minute)

	var refreshErr error
	var hasDeadline bool
	ctx, cancel := context.WithCancel(context.Background())
	c.Get(ctx, testKey, PolicyStaleWhileRevalidate, func(rctx context.Context) resolver.Result {
		// the caller is gone by the time this runs
		<-ctx.Done()
		refreshErr = rctx.Err()
		_, hasDeadline = rctx.Deadline()
		return loader.Load(rctx)
	})
	cancel()
	c.wg.Wait()

	assert.NoError(t, refreshErr)
	assert.True(t, hasDeadline)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCache_LoadIgnoresCallerCancellation(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	loader := &countingLoader{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var loadErr error
	got := c.Get(ctx, testKey, PolicyDefault, func(lctx context.Context) resolver.Result {
		loadErr = lctx.Err()
		return loader.Load(lctx)
	})
	require.NoError(t, loadErr)
	assert.Equal(t, "v1", got.PersonalizedMessage)

	again := c.Get(context.Background(), testKey, PolicyDefault, loader.Load)
	assert.Equal(t, "v1", again.PersonalizedMessage)
	assert.Equal(t, int32(1), loader.calls.Load())
}

func TestCache_DegradedResultIsNotStored(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	var calls atomic.Int32
	load := func(context.Context) resolver.Result {
		if calls.Add(1) == 1 {
			return resolver.Result{PersonalizedMessage: "static", Tier: resolver.TierStatic, Degraded: true}
		}
		return resolver.Result{PersonalizedMessage: "db", Tier: resolver.TierVertical}
	}
	ctx := context.Background()

	assert.Equal(t, "static", c.Get(ctx, testKey, PolicyDefault, load).PersonalizedMessage)
	assert.Equal(t, "db", c.Get(ctx, testKey, PolicyDefault, load).PersonalizedMessage)
	assert.Equal(t, "db", c.Get(ctx, testKey, PolicyDefault, load).PersonalizedMessage)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_InvalidateDuringLoadDiscardsResult(t *testing.T) {
	for _, drop := range []string{"invalidate", "flush"} {
		t.Run(drop, func(t *testing.T) {
			c := newTestCache(t, newFakeClock())
			ctx := context.Background()
			started := make(chan struct{})
			release := make(chan struct{})

			done := make(chan resolver.Result)
			go func() {
				done <- c.Get(ctx, testKey, PolicyDefault, func(context.Context) resolver.Result {
					close(started)
					<-release
					return resolver.Result{PersonalizedMessage: "before edit"}
				})
			}()

			<-started
			if drop == "invalidate" {
				require.NoError(t, c.Invalidate(ctx, testKey))
			} else {
				require.NoError(t, c.Flush(ctx))
			}
			close(release)
			assert.Equal(t, "before edit", (<-done).PersonalizedMessage)

			got := c.Get(ctx, testKey, PolicyDefault, func(context.Context) resolver.Result {
				return resolver.Result{PersonalizedMessage: "after edit"}
			})
			assert.Equal(t, "after edit", got.PersonalizedMessage)
		})
	}
}

func TestCache_Bypass(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	loader := &countingLoader{}
	ctx := context.Background()

	c.Get(ctx, testKey, PolicyDefault, loader.Load)
	got := c.Get(ctx, testKey, PolicyBypass, loader.Load)
	assert.Equal(t, "v2", got.PersonalizedMessage)

	// the bypass result replaced the entry
	again := c.Get(ctx, testKey, PolicyDefault, loader.Load)
	assert.Equal(t, "v2", again.PersonalizedMessage)
	assert.Equal(t, int32(2), loader.calls.Load())
}

func TestCache_SingleFlight(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	var calls atomic.Int32
	release := make(chan struct{})

	load := func(context.Context) resolver.Result {
		calls.Add(1)
		<-release
		return resolver.Result{PersonalizedMessage: "shared"}
	}

	const n = 16
	results := make([]resolver.Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Get(context.Background(), testKey, PolicyDefault, load)
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.Equal(t, "shared", r.PersonalizedMessage)
	}
}

func TestCache_SharedResultsAreIndependent(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	load := func(context.Context) resolver.Result {
		return resolver.Result{Template: &models.Template{ID: "t1", Content: "original"}}
	}

	first := c.Get(context.Background(), testKey, PolicyDefault, load)
	first.Template.Content = "mutated"

	second := c.Get(context.Background(), testKey, PolicyDefault, load)
	assert.Equal(t, "original", second.Template.Content)
}

func TestCache_InvalidKeyIsNotCached(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	loader := &countingLoader{}
	key := NewKey("", "finance", models.ChannelAny)

	c.Get(context.Background(), key, PolicyDefault, loader.Load)
	c.Get(context.Background(), key, PolicyDefault, loader.Load)
	assert.Equal(t, int32(2), loader.calls.Load())
}

type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, Key) (Entry, bool, error) {
	return Entry{}, false, errStoreDown
}
func (failingStore) Set(context.Context, Key, Entry) error { return errStoreDown }
func (failingStore) Delete(context.Context, Key) error     { return errStoreDown }
func (failingStore) Flush(context.Context) error           { return errStoreDown }
func (failingStore) Close() error                          { return nil }

func TestCache_StoreErrorsAreMisses(t *testing.T) {
	c := New(failingStore{}, WithLogger(logger.Discard()))
	loader := &countingLoader{}
	ctx := context.Background()

	assert.Equal(t, "v1", c.Get(ctx, testKey, PolicyDefault, loader.Load).PersonalizedMessage)
	assert.Equal(t, "v2", c.Get(ctx, testKey, PolicyDefault, loader.Load).PersonalizedMessage)

	assert.ErrorIs(t, c.Invalidate(ctx, testKey), errStoreDown)
	assert.ErrorIs(t, c.Flush(ctx), errStoreDown)
	require.NoError(t, c.Close())
}

func TestCache_InvalidateAndFlush(t *testing.T) {
	c := newTestCache(t, newFakeClock())
	loader := &countingLoader{}
	ctx := context.Background()
	other := NewKey("day7_checkin", "finance", models.ChannelAny)

	c.Get(ctx, testKey, PolicyDefault, loader.Load)
	c.Get(ctx, other, PolicyDefault, loader.Load)
	require.Equal(t, int32(2), loader.calls.Load())

	require.NoError(t, c.Invalidate(ctx, testKey))
	c.Get(ctx, testKey, PolicyDefault, loader.Load)
	c.Get(ctx, other, PolicyDefault, loader.Load)
	assert.Equal(t, int32(3), loader.calls.Load())

	require.NoError(t, c.Flush(ctx))
	c.Get(ctx, other, PolicyDefault, loader.Load)
	assert.Equal(t, int32(4), loader.calls.Load())
}

func TestCache_BackgroundPanicIsRecovered(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(t, clock)
	var calls atomic.Int32
	load := func(context.Context) resolver.Result {
		if calls.Add(1) > 1 {
			panic("boom")
		}
		return resolver.Result{PersonalizedMessage: "ok"}
	}

	c.Get(context.Background(), testKey, PolicyStaleWhileRevalidate, load)
	clock.Advance(time.Hour - time.Minute)
	got := c.Get(context.Background(), testKey, PolicyStaleWhileRevalidate, load)
	c.wg.Wait()

	assert.Equal(t, "ok", got.PersonalizedMessage)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCache_NoRefreshAfterClose(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(time.Hour, time.Hour, WithMemoryClock(clock.Now))
	c := New(store, WithClock(clock.Now), WithLogger(logger.Discard()))
	loader := &countingLoader{}

	c.Get(context.Background(), testKey, PolicyStaleWhileRevalidate, loader.Load)
	require.NoError(t, c.Close())

	clock.Advance(20 * time.Minute)
	got := c.Get(context.Background(), testKey, PolicyStaleWhileRevalidate, loader.Load)
	assert.Equal(t, "v1", got.PersonalizedMessage)
	assert.Equal(t, int32(1), loader.calls.Load())
}
