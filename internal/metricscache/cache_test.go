package metricscache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kberan/marksmith/internal/bookmarks"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache() (*Cache, *fixedClock) {
	clock := &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(clock, zap.NewNop()), clock
}

func countingCompute(calls *int, value any) func(context.Context) (any, error) {
	return func(context.Context) (any, error) {
		*calls++
		return value, nil
	}
}

func TestGetOrComputeCachesWithinTTL(t *testing.T) {
	t.Parallel()

	cache, clock := newTestCache()
	ctx := context.Background()
	calls := 0

	v, err := cache.GetOrCompute(ctx, KeySummary, time.Minute, countingCompute(&calls, 42))
	require.NoError(t, err)
	require.Equal(t, 42, v)

	v, err = cache.GetOrCompute(ctx, KeySummary, time.Minute, countingCompute(&calls, 43))
	require.NoError(t, err)
	require.Equal(t, 42, v)
	require.Equal(t, 1, calls)

	clock.advance(2 * time.Minute)
	v, err = cache.GetOrCompute(ctx, KeySummary, time.Minute, countingCompute(&calls, 43))
	require.NoError(t, err)
	require.Equal(t, 43, v)
	require.Equal(t, 2, calls)
}

func TestGetOrComputeErrorNotCached(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache()
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := cache.GetOrCompute(ctx, KeySummary, time.Minute, func(context.Context) (any, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	calls := 0
	v, err := cache.GetOrCompute(ctx, KeySummary, time.Minute, countingCompute(&calls, "ok"))
	require.NoError(t, err)
	require.Equal(t, "ok", v)
	require.Equal(t, 1, calls)
}

func fillAllKeys(t *testing.T, cache *Cache) {
	t.Helper()
	ctx := context.Background()
	for _, key := range []string{KeySummary, KeyQuickStats, KeyCategoryStats, KeyDomainStats, KeyExpertise} {
		_, err := cache.GetOrCompute(ctx, key, time.Hour, func(context.Context) (any, error) {
			return key, nil
		})
		require.NoError(t, err)
	}
}

func TestInvalidateEnrichKeepsDomainStats(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache()
	fillAllKeys(t, cache)

	cache.Invalidate(bookmarks.ChangeEnrich)
	require.Equal(t, 1, cache.Len())

	// The surviving entry must be domain stats.
	calls := 0
	v, err := cache.GetOrCompute(context.Background(), KeyDomainStats, time.Hour, countingCompute(&calls, "fresh"))
	require.NoError(t, err)
	require.Equal(t, KeyDomainStats, v)
	require.Zero(t, calls)
}

func TestInvalidateMutationsClearAllStatKeys(t *testing.T) {
	t.Parallel()

	for _, change := range []bookmarks.ChangeType{bookmarks.ChangeAdd, bookmarks.ChangeDelete, bookmarks.ChangeUpdate} {
		t.Run(string(change), func(t *testing.T) {
			t.Parallel()

			cache, _ := newTestCache()
			fillAllKeys(t, cache)
			cache.Invalidate(change)
			require.Zero(t, cache.Len())
		})
	}
}

func TestInvalidateAllClearsEverything(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache()
	fillAllKeys(t, cache)
	_, err := cache.GetOrCompute(context.Background(), "custom_key", time.Hour, func(context.Context) (any, error) {
		return "x", nil
	})
	require.NoError(t, err)

	cache.Invalidate(bookmarks.ChangeAll)
	require.Zero(t, cache.Len())
}

func TestGetOrComputeConcurrentMissesConverge(t *testing.T) {
	t.Parallel()

	cache, _ := newTestCache()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := cache.GetOrCompute(ctx, KeyQuickStats, time.Minute, func(context.Context) (any, error) {
				return "stats", nil
			})
			require.NoError(t, err)
			require.Equal(t, "stats", v)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, cache.Len())
}
