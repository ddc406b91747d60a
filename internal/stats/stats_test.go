package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kberan/marksmith/internal/bookmarks"
	"github.com/kberan/marksmith/internal/clock/system"
	"github.com/kberan/marksmith/internal/metricscache"
	"github.com/kberan/marksmith/internal/storage/memory"
)

func checked(t time.Time) *time.Time { return &t }

func sampleRecords() []bookmarks.Bookmark {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []bookmarks.Bookmark{
		{ID: "1", URL: "https://github.com/a/b", Domain: "github.com", Category: "code",
			Liveness: bookmarks.LivenessAlive, LastChecked: checked(now)},
		{ID: "2", URL: "https://github.com/c/d", Domain: "github.com", Category: "code",
			Liveness: bookmarks.LivenessAlive, LastChecked: checked(now)},
		{ID: "3", URL: "https://blog.example.com/p", Domain: "blog.example.com", Category: "blog",
			Liveness: bookmarks.LivenessDead, LastChecked: checked(now)},
		{ID: "4", URL: "https://example.org/x", Domain: "example.org",
			Liveness: bookmarks.LivenessUnknown},
	}
}

func TestComputeSummary(t *testing.T) {
	t.Parallel()

	sum := ComputeSummary(sampleRecords())
	require.Equal(t, Summary{
		Total:       4,
		Alive:       2,
		Dead:        1,
		Unknown:     1,
		Enriched:    3,
		Categorized: 3,
	}, sum)
}

func TestComputeSummaryEmpty(t *testing.T) {
	t.Parallel()

	require.Equal(t, Summary{}, ComputeSummary(nil))
}

func TestComputeQuickStats(t *testing.T) {
	t.Parallel()

	qs := ComputeQuickStats(sampleRecords())
	require.Equal(t, 4, qs.Total)
	require.Equal(t, 3, qs.Enriched)
	require.InDelta(t, 75.0, qs.EnrichedPercent, 0.01)
	require.Equal(t, 1, qs.DeadLinks)
	require.Equal(t, "code", qs.TopCategory)

	empty := ComputeQuickStats(nil)
	require.Zero(t, empty.EnrichedPercent)
	require.Empty(t, empty.TopCategory)
}

func TestComputeCategoryDistributionOrdering(t *testing.T) {
	t.Parallel()

	got := ComputeCategoryDistribution(sampleRecords())
	require.Equal(t, []CategoryCount{
		{Category: "code", Count: 2},
		{Category: "blog", Count: 1},
	}, got)
}

func TestComputeDomainDistributionOrdering(t *testing.T) {
	t.Parallel()

	got := ComputeDomainDistribution(sampleRecords())
	require.Equal(t, []DomainCount{
		{Domain: "github.com", Count: 2},
		{Domain: "blog.example.com", Count: 1},
		{Domain: "example.org", Count: 1},
	}, got)
}

func TestComputeExpertiseShares(t *testing.T) {
	t.Parallel()

	got := ComputeExpertise(sampleRecords())
	require.Len(t, got, 2)
	require.Equal(t, "code", got[0].Category)
	require.InDelta(t, 2.0/3.0, got[0].Share, 0.001)
	require.InDelta(t, 1.0/3.0, got[1].Share, 0.001)

	require.Nil(t, ComputeExpertise(nil))
}

func TestComputeExpertiseCapped(t *testing.T) {
	t.Parallel()

	var all []bookmarks.Bookmark
	for _, c := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		all = append(all, bookmarks.Bookmark{ID: c, Category: c})
	}
	require.Len(t, ComputeExpertise(all), expertiseTop)
}

func TestServiceCachesAndInvalidates(t *testing.T) {
	t.Parallel()

	provider := memory.New()
	store := provider.Bookmarks()
	cache := metricscache.New(system.New(), zap.NewNop())
	svc := NewService(store, cache)
	ctx := context.Background()

	require.NoError(t, store.BulkUpsert(ctx, sampleRecords()))

	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, sum.Total)

	// A write without invalidation still serves the cached value.
	require.NoError(t, store.Upsert(ctx, bookmarks.Bookmark{ID: "5", URL: "https://example.net/", Domain: "example.net"}))
	sum, err = svc.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, sum.Total)

	svc.Invalidate(bookmarks.ChangeAdd)
	sum, err = svc.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, sum.Total)
}

func TestServiceEnrichInvalidationKeepsDomainStats(t *testing.T) {
	t.Parallel()

	provider := memory.New()
	store := provider.Bookmarks()
	cache := metricscache.New(system.New(), zap.NewNop())
	svc := NewService(store, cache)
	ctx := context.Background()

	require.NoError(t, store.BulkUpsert(ctx, sampleRecords()))

	domains, err := svc.DomainDistribution(ctx)
	require.NoError(t, err)
	require.Len(t, domains, 3)

	require.NoError(t, store.Upsert(ctx, bookmarks.Bookmark{ID: "6", URL: "https://new.example.com/", Domain: "new.example.com"}))
	svc.Invalidate(bookmarks.ChangeEnrich)

	// Domain stats survived the enrich invalidation.
	domains, err = svc.DomainDistribution(ctx)
	require.NoError(t, err)
	require.Len(t, domains, 3)

	// Summary did not.
	sum, err := svc.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, sum.Total)
}
