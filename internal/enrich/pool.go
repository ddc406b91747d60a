// Package enrich implements the bookmark enrichment pipeline: liveness
// probing, metadata extraction, platform parsing, and categorization, driven
// by a bounded worker pool over the durable queue.
package enrich

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kberan/marksmith/internal/bookmarks"
	"github.com/kberan/marksmith/internal/metrics"
	"github.com/kberan/marksmith/internal/platform"
	"github.com/kberan/marksmith/internal/policy/ratelimit"
)

// PoolConfig controls batch defaults. Options on a single run override them.
type PoolConfig struct {
	BatchSize     int
	Concurrency   int
	Freshness     time.Duration
	DispatchPause time.Duration
}

// BatchOptions tunes one batch run.
type BatchOptions struct {
	BatchSize   int
	Concurrency int
	// Force selects items directly from the store, bypassing both the queue
	// and the freshness window.
	Force    bool
	Progress bookmarks.ProgressFunc
}

// Pool executes enrichment batches with bounded concurrency.
type Pool struct {
	store       bookmarks.Store
	queue       bookmarks.Queue
	fetcher     bookmarks.Fetcher
	limiter     *ratelimit.Limiter
	clock       bookmarks.Clock
	invalidator bookmarks.Invalidator
	cfg         PoolConfig
	logger      *zap.Logger
}

// NewPool constructs a Pool.
func NewPool(
	store bookmarks.Store,
	queue bookmarks.Queue,
	fetcher bookmarks.Fetcher,
	limiter *ratelimit.Limiter,
	clock bookmarks.Clock,
	invalidator bookmarks.Invalidator,
	cfg PoolConfig,
	logger *zap.Logger,
) *Pool {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	// A zero freshness window is valid and disables the skip entirely.
	if cfg.Freshness < 0 {
		cfg.Freshness = 0
	}
	metrics.Init()
	return &Pool{
		store:       store,
		queue:       queue,
		fetcher:     fetcher,
		limiter:     limiter,
		clock:       clock,
		invalidator: invalidator,
		cfg:         cfg,
		logger:      logger,
	}
}

// workItem is one unit claimed by a worker. QueueID is empty for items
// selected directly from the store.
type workItem struct {
	index    int
	queueID  string
	bookmark bookmarks.Bookmark
}

// RunBatch selects up to the batch size of items and processes them with
// bounded concurrency. The summary always satisfies
// Processed == Succeeded+Failed+Skipped. Only selection errors propagate;
// per-item failures are recorded on the item and in the summary.
func (p *Pool) RunBatch(ctx context.Context, opts BatchOptions) (bookmarks.BatchSummary, []bookmarks.ItemResult, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = p.cfg.BatchSize
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = p.cfg.Concurrency
	}

	items, err := p.selectItems(ctx, batchSize, opts.Force)
	if err != nil {
		return bookmarks.BatchSummary{}, nil, fmt.Errorf("select batch: %w", err)
	}
	if len(items) == 0 {
		return bookmarks.BatchSummary{}, nil, nil
	}
	if concurrency > len(items) {
		concurrency = len(items)
	}

	start := p.clock.Now()
	results := make([]bookmarks.ItemResult, len(items))

	var (
		cursor    atomic.Int64
		completed atomic.Int64
		wg        sync.WaitGroup
	)
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				idx := int(cursor.Add(1)) - 1
				if idx >= len(items) || ctx.Err() != nil {
					return
				}
				item := items[idx]
				p.emitProgress(opts.Progress, item, len(items), int(completed.Load()), bookmarks.ProgressProcessing)

				metrics.IncActiveWorkers()
				result, panicked := p.runItem(ctx, item, opts.Force)
				metrics.DecActiveWorkers()

				results[idx] = result
				done := int(completed.Add(1))
				status := progressStatus(result.Status)
				if panicked {
					status = bookmarks.ProgressError
				}
				p.emitProgress(opts.Progress, item, len(items), done, status)
				metrics.ObserveItem(string(result.Status))

				if p.cfg.DispatchPause > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(p.cfg.DispatchPause):
					}
				}
			}
		}()
	}
	wg.Wait()

	summary := bookmarks.BatchSummary{}
	for _, r := range results {
		if r.BookmarkID == "" {
			// Claimed slot abandoned by context cancellation.
			continue
		}
		summary.Processed++
		switch r.Status {
		case bookmarks.ItemSuccess:
			summary.Succeeded++
		case bookmarks.ItemFailed:
			summary.Failed++
		case bookmarks.ItemSkipped:
			summary.Skipped++
		}
	}

	metrics.ObserveBatch(p.clock.Now().Sub(start))
	if summary.Processed > 0 && p.invalidator != nil {
		p.invalidator.Invalidate(bookmarks.ChangeEnrich)
	}
	p.logger.Info("enrichment batch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
	)
	return summary, results, nil
}

// EnrichOne processes a single bookmark by id. With force false the
// freshness window still applies.
func (p *Pool) EnrichOne(ctx context.Context, id string, force bool) (bookmarks.ItemResult, error) {
	b, err := p.store.Get(ctx, id)
	if err != nil {
		return bookmarks.ItemResult{}, fmt.Errorf("load bookmark: %w", err)
	}
	result, _ := p.runItem(ctx, workItem{bookmark: b}, force)
	metrics.ObserveItem(string(result.Status))
	if p.invalidator != nil {
		p.invalidator.Invalidate(bookmarks.ChangeEnrich)
	}
	return result, nil
}

// selectItems picks the batch source. Force reads directly from the store,
// never-checked records first, then oldest LastChecked. Otherwise the queue
// is drained in priority order, and an empty queue falls back to
// never-checked HTTP(S) records.
func (p *Pool) selectItems(ctx context.Context, batchSize int, force bool) ([]workItem, error) {
	if force {
		return p.selectFromStore(ctx, batchSize, false)
	}

	queued, err := p.queue.NextBatch(ctx, batchSize)
	if err != nil {
		return nil, fmt.Errorf("queue next batch: %w", err)
	}
	if len(queued) > 0 {
		items := make([]workItem, 0, len(queued))
		for _, q := range queued {
			b, err := p.store.Get(ctx, q.BookmarkID)
			if err != nil {
				// Stale entry for a record that no longer exists.
				p.logger.Warn("dropping orphaned queue entry",
					zap.String("queue_id", q.QueueID),
					zap.String("bookmark_id", q.BookmarkID),
					zap.Error(err))
				if derr := p.queue.Dequeue(ctx, q.QueueID); derr != nil {
					p.logger.Error("dequeue orphaned entry failed", zap.Error(derr))
				}
				continue
			}
			items = append(items, workItem{index: len(items), queueID: q.QueueID, bookmark: b})
		}
		return items, nil
	}

	return p.selectFromStore(ctx, batchSize, true)
}

func (p *Pool) selectFromStore(ctx context.Context, batchSize int, neverCheckedOnly bool) ([]workItem, error) {
	all, err := p.store.QueryAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}

	candidates := all[:0:0]
	for _, b := range all {
		if !isHTTP(b.URL) {
			continue
		}
		if neverCheckedOnly && b.LastChecked != nil {
			continue
		}
		candidates = append(candidates, b)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i].LastChecked, candidates[j].LastChecked
		switch {
		case ci == nil && cj == nil:
			return false
		case ci == nil:
			return true
		case cj == nil:
			return false
		default:
			return ci.Before(*cj)
		}
	})
	if len(candidates) > batchSize {
		candidates = candidates[:batchSize]
	}

	items := make([]workItem, len(candidates))
	for i, b := range candidates {
		items[i] = workItem{index: i, bookmark: b}
	}
	return items, nil
}

// runItem guards processItem against panics from fetcher or storage
// implementations. A recovered panic is bookkept like any other failure so
// the record is not reselected, but it is reported to the progress callback
// with the error status rather than failed.
func (p *Pool) runItem(ctx context.Context, item workItem, force bool) (result bookmarks.ItemResult, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			result = p.recordFailure(ctx, item.bookmark, fmt.Errorf("panic: %v", r))
		}
	}()
	return p.processItem(ctx, item, force), false
}

// processItem is the per-item error boundary. Whatever happens, LastChecked
// advances and a queue entry for the item is removed, so a failing record
// cannot be re-selected in a tight loop.
func (p *Pool) processItem(ctx context.Context, item workItem, force bool) bookmarks.ItemResult {
	b := item.bookmark
	result := bookmarks.ItemResult{BookmarkID: b.ID, URL: b.URL}

	defer func() {
		if item.queueID == "" {
			return
		}
		if err := p.queue.Dequeue(ctx, item.queueID); err != nil {
			p.logger.Error("dequeue failed",
				zap.String("queue_id", item.queueID), zap.Error(err))
		}
	}()

	// The pipeline only touches web URLs. Anything else is counted without
	// probing and the record is left untouched.
	if !isHTTP(b.URL) {
		result.Status = bookmarks.ItemSkipped
		result.Liveness = b.Liveness
		result.Category = b.Category
		return result
	}

	if !force && p.isFresh(b) {
		result.Status = bookmarks.ItemSkipped
		result.Liveness = b.Liveness
		result.Category = b.Category
		return result
	}

	if err := p.enrichBookmark(ctx, &b); err != nil {
		return p.recordFailure(ctx, b, err)
	}

	result.Status = bookmarks.ItemSuccess
	result.Liveness = b.Liveness
	result.Category = b.Category
	result.Description = b.Description
	return result
}

// recordFailure advances LastChecked and stores the error on the record so a
// permanently broken URL cannot be reselected batch after batch.
func (p *Pool) recordFailure(ctx context.Context, b bookmarks.Bookmark, err error) bookmarks.ItemResult {
	now := p.clock.Now()
	b.LastChecked = &now
	b.EnrichmentError = err.Error()
	if uerr := p.store.Upsert(ctx, b); uerr != nil {
		p.logger.Error("persist failed item",
			zap.String("bookmark_id", b.ID), zap.Error(uerr))
	}
	p.logger.Warn("enrichment failed",
		zap.String("bookmark_id", b.ID),
		zap.String("url", b.URL),
		zap.Error(err))
	return bookmarks.ItemResult{
		BookmarkID: b.ID,
		URL:        b.URL,
		Status:     bookmarks.ItemFailed,
		Liveness:   b.Liveness,
		Error:      err.Error(),
	}
}

// enrichBookmark runs the pipeline for one record: politeness wait, liveness
// probe, then, unless the URL is dead, metadata fetch, platform parse and
// merge, and categorization. The record is persisted before returning.
func (p *Pool) enrichBookmark(ctx context.Context, b *bookmarks.Bookmark) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, b.URL); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}

	liveness := p.fetcher.CheckLiveness(ctx, b.URL)
	metrics.ObserveLiveness(string(liveness))
	b.Liveness = liveness
	now := p.clock.Now()
	b.LastChecked = &now
	b.EnrichmentError = ""

	if liveness == bookmarks.LivenessDead {
		// A dead URL gets no metadata fetch; the record still advances.
		if err := p.store.Upsert(ctx, *b); err != nil {
			return fmt.Errorf("persist dead record: %w", err)
		}
		return nil
	}

	meta := p.fetcher.FetchMetadata(ctx, b.URL)
	p.applyMetadata(b, &meta)

	if err := p.store.Upsert(ctx, *b); err != nil {
		return fmt.Errorf("persist enriched record: %w", err)
	}
	return nil
}

func (p *Pool) applyMetadata(b *bookmarks.Bookmark, meta *bookmarks.PageMetadata) {
	if !meta.IsEmpty() {
		b.RawMetadata = meta
	}
	if meta.Description != "" {
		b.Description = meta.Description
	}
	if len(meta.Keywords) > 0 {
		b.Keywords = meta.Keywords
	}
	if meta.FaviconURL != "" {
		b.FaviconURL = meta.FaviconURL
	}
	if meta.ContentSnippet != "" {
		b.ContentSnippet = meta.ContentSnippet
	}

	if pd := platform.Merge(platform.Parse(b.URL), *meta); pd != nil {
		b.PlatformData = pd
		b.Platform = pd.Platform
		b.Creator = pd.Creator
		b.ContentType = pd.ContentType
	}

	if category := Categorize(*b, *meta); category != "" {
		b.Category = category
	}
}

func (p *Pool) isFresh(b bookmarks.Bookmark) bool {
	if b.LastChecked == nil {
		return false
	}
	return p.clock.Now().Sub(*b.LastChecked) < p.cfg.Freshness
}

func (p *Pool) emitProgress(fn bookmarks.ProgressFunc, item workItem, total, completed int, status bookmarks.ProgressStatus) {
	if fn == nil {
		return
	}
	fn(bookmarks.ProgressEvent{
		Index:      item.index,
		Total:      total,
		Completed:  completed,
		BookmarkID: item.bookmark.ID,
		URL:        item.bookmark.URL,
		Title:      item.bookmark.Title,
		Status:     status,
	})
}

func progressStatus(s bookmarks.ItemStatus) bookmarks.ProgressStatus {
	switch s {
	case bookmarks.ItemFailed:
		return bookmarks.ProgressFailed
	default:
		return bookmarks.ProgressCompleted
	}
}

func isHTTP(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}
