// Package stats computes collection-level aggregates over the record store
// and serves them through the metrics cache.
package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/kberan/marksmith/internal/bookmarks"
	"github.com/kberan/marksmith/internal/metricscache"
)

// Per-key cache lifetimes. Aggregations are cheap relative to fetches, so
// the TTLs only need to absorb read bursts between mutations.
const (
	summaryTTL    = 5 * time.Minute
	quickStatsTTL = time.Minute
	categoryTTL   = 5 * time.Minute
	domainTTL     = 15 * time.Minute
	expertiseTTL  = 15 * time.Minute
)

// expertiseTop bounds the expertise list to the strongest categories.
const expertiseTop = 5

// Summary is the full collection overview.
type Summary struct {
	Total       int `json:"total"`
	Alive       int `json:"alive"`
	Dead        int `json:"dead"`
	Unknown     int `json:"unknown"`
	Enriched    int `json:"enriched"`
	Categorized int `json:"categorized"`
}

// QuickStats is the condensed dashboard view.
type QuickStats struct {
	Total           int     `json:"total"`
	Enriched        int     `json:"enriched"`
	EnrichedPercent float64 `json:"enriched_percent"`
	DeadLinks       int     `json:"dead_links"`
	TopCategory     string  `json:"top_category,omitempty"`
}

// CategoryCount is one row of the category distribution.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// DomainCount is one row of the domain distribution.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// ExpertiseArea is one category share among categorized records.
type ExpertiseArea struct {
	Category string  `json:"category"`
	Count    int     `json:"count"`
	Share    float64 `json:"share"`
}

// Service binds the record store to the metrics cache with per-key TTLs.
type Service struct {
	store bookmarks.Store
	cache *metricscache.Cache
}

// NewService constructs a Service.
func NewService(store bookmarks.Store, cache *metricscache.Cache) *Service {
	return &Service{store: store, cache: cache}
}

// Invalidate forwards a mutation notification to the cache.
func (s *Service) Invalidate(change bookmarks.ChangeType) {
	s.cache.Invalidate(change)
}

// Summary returns the cached collection overview.
func (s *Service) Summary(ctx context.Context) (Summary, error) {
	v, err := s.cache.GetOrCompute(ctx, metricscache.KeySummary, summaryTTL, func(ctx context.Context) (any, error) {
		all, err := s.store.QueryAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("query records: %w", err)
		}
		return ComputeSummary(all), nil
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

// QuickStats returns the cached condensed view.
func (s *Service) QuickStats(ctx context.Context) (QuickStats, error) {
	v, err := s.cache.GetOrCompute(ctx, metricscache.KeyQuickStats, quickStatsTTL, func(ctx context.Context) (any, error) {
		all, err := s.store.QueryAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("query records: %w", err)
		}
		return ComputeQuickStats(all), nil
	})
	if err != nil {
		return QuickStats{}, err
	}
	return v.(QuickStats), nil
}

// CategoryDistribution returns the cached category counts.
func (s *Service) CategoryDistribution(ctx context.Context) ([]CategoryCount, error) {
	v, err := s.cache.GetOrCompute(ctx, metricscache.KeyCategoryStats, categoryTTL, func(ctx context.Context) (any, error) {
		all, err := s.store.QueryAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("query records: %w", err)
		}
		return ComputeCategoryDistribution(all), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]CategoryCount), nil
}

// DomainDistribution returns the cached domain counts.
func (s *Service) DomainDistribution(ctx context.Context) ([]DomainCount, error) {
	v, err := s.cache.GetOrCompute(ctx, metricscache.KeyDomainStats, domainTTL, func(ctx context.Context) (any, error) {
		all, err := s.store.QueryAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("query records: %w", err)
		}
		return ComputeDomainDistribution(all), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]DomainCount), nil
}

// Expertise returns the cached top-category shares.
func (s *Service) Expertise(ctx context.Context) ([]ExpertiseArea, error) {
	v, err := s.cache.GetOrCompute(ctx, metricscache.KeyExpertise, expertiseTTL, func(ctx context.Context) (any, error) {
		all, err := s.store.QueryAll(ctx)
		if err != nil {
			return nil, fmt.Errorf("query records: %w", err)
		}
		return ComputeExpertise(all), nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]ExpertiseArea), nil
}

// ComputeSummary aggregates the overview. A record counts as enriched once
// an enrichment attempt has run.
func ComputeSummary(all []bookmarks.Bookmark) Summary {
	sum := Summary{Total: len(all)}
	for _, b := range all {
		switch b.Liveness {
		case bookmarks.LivenessAlive:
			sum.Alive++
		case bookmarks.LivenessDead:
			sum.Dead++
		default:
			sum.Unknown++
		}
		if b.LastChecked != nil {
			sum.Enriched++
		}
		if b.Category != "" {
			sum.Categorized++
		}
	}
	return sum
}

// ComputeQuickStats aggregates the condensed view.
func ComputeQuickStats(all []bookmarks.Bookmark) QuickStats {
	sum := ComputeSummary(all)
	qs := QuickStats{
		Total:     sum.Total,
		Enriched:  sum.Enriched,
		DeadLinks: sum.Dead,
	}
	if sum.Total > 0 {
		qs.EnrichedPercent = 100 * float64(sum.Enriched) / float64(sum.Total)
	}
	if cats := ComputeCategoryDistribution(all); len(cats) > 0 {
		qs.TopCategory = cats[0].Category
	}
	return qs
}

// ComputeCategoryDistribution counts records per category, uncategorized
// records excluded, ordered by count descending then name.
func ComputeCategoryDistribution(all []bookmarks.Bookmark) []CategoryCount {
	counts := make(map[string]int)
	for _, b := range all {
		if b.Category != "" {
			counts[b.Category]++
		}
	}
	out := make([]CategoryCount, 0, len(counts))
	for category, n := range counts {
		out = append(out, CategoryCount{Category: category, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// ComputeDomainDistribution counts records per domain, ordered by count
// descending then name.
func ComputeDomainDistribution(all []bookmarks.Bookmark) []DomainCount {
	counts := make(map[string]int)
	for _, b := range all {
		if b.Domain != "" {
			counts[b.Domain]++
		}
	}
	out := make([]DomainCount, 0, len(counts))
	for domain, n := range counts {
		out = append(out, DomainCount{Domain: domain, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// ComputeExpertise returns the strongest categories with their share of all
// categorized records.
func ComputeExpertise(all []bookmarks.Bookmark) []ExpertiseArea {
	cats := ComputeCategoryDistribution(all)
	categorized := 0
	for _, c := range cats {
		categorized += c.Count
	}
	if categorized == 0 {
		return nil
	}
	if len(cats) > expertiseTop {
		cats = cats[:expertiseTop]
	}
	out := make([]ExpertiseArea, len(cats))
	for i, c := range cats {
		out[i] = ExpertiseArea{
			Category: c.Category,
			Count:    c.Count,
			Share:    float64(c.Count) / float64(categorized),
		}
	}
	return out
}
