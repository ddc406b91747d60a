package bookmarks

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by stores when no record exists for an id.
var ErrNotFound = errors.New("bookmark not found")

// Store is the keyed persistent storage for bookmark records.
type Store interface {
	Get(ctx context.Context, id string) (Bookmark, error)
	Upsert(ctx context.Context, b Bookmark) error
	BulkUpsert(ctx context.Context, bs []Bookmark) error
	QueryAll(ctx context.Context) ([]Bookmark, error)
	// Delete removes a record; queue entries for the id are removed with it.
	Delete(ctx context.Context, id string) error
}

// Queue is the durable, idempotent, priority-ordered enrichment backlog.
type Queue interface {
	// Enqueue adds an entry for the bookmark id. It returns false without
	// modifying the queue when a live entry for the id already exists.
	Enqueue(ctx context.Context, bookmarkID string, priority int) (bool, error)
	// NextBatch returns up to n items ordered by priority descending, ties
	// broken by insertion order. Items are not removed.
	NextBatch(ctx context.Context, n int) ([]QueueItem, error)
	// Dequeue removes one entry by queue id.
	Dequeue(ctx context.Context, queueID string) error
	Size(ctx context.Context) (int, error)
}

// Fetcher issues liveness probes and metadata fetches against bookmarked URLs.
type Fetcher interface {
	// CheckLiveness classifies the URL as alive, dead, or unknown. It never
	// returns an error; indeterminate network outcomes resolve to unknown.
	CheckLiveness(ctx context.Context, url string) Liveness
	// FetchMetadata performs a single bounded GET and extracts structured
	// fields. Any failure, including a timeout, yields an empty result.
	FetchMetadata(ctx context.Context, url string) PageMetadata
}

// Invalidator receives dataset mutation notifications.
type Invalidator interface {
	Invalidate(change ChangeType)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
