// Package bookmarks defines core types shared across subsystems.
package bookmarks

import (
	"time"
)

// Liveness is the tri-state reachability classification of a bookmarked URL.
// Unknown must never be conflated with Dead: an opaque-but-reachable response
// is Unknown, not Dead.
type Liveness string

// Liveness values persisted on the record.
const (
	LivenessUnknown Liveness = "unknown"
	LivenessAlive   Liveness = "alive"
	LivenessDead    Liveness = "dead"
)

// Bookmark is the persisted record for one saved link. Identity is the stable
// id assigned by the source tree. Enrichment fields start empty/unknown and
// are filled in place by the worker pool. LastChecked advances after every
// enrichment attempt, success or failure.
type Bookmark struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Domain    string    `json:"domain"`
	DateAdded time.Time `json:"date_added"`

	Description     string        `json:"description,omitempty"`
	Keywords        []string      `json:"keywords,omitempty"`
	Category        string        `json:"category,omitempty"`
	Liveness        Liveness      `json:"liveness"`
	LastChecked     *time.Time    `json:"last_checked,omitempty"`
	FaviconURL      string        `json:"favicon_url,omitempty"`
	ContentSnippet  string        `json:"content_snippet,omitempty"`
	RawMetadata     *PageMetadata `json:"raw_metadata,omitempty"`
	Platform        string        `json:"platform,omitempty"`
	Creator         string        `json:"creator,omitempty"`
	ContentType     string        `json:"content_type,omitempty"`
	PlatformData    *PlatformData `json:"platform_data,omitempty"`
	EnrichmentError string        `json:"enrichment_error,omitempty"`
}

// MaxKeywords caps the keyword list on a record.
const MaxKeywords = 10

// PageMetadata is the structured extraction blob produced by one metadata
// fetch. It is stored verbatim on the record for later reprocessing.
type PageMetadata struct {
	Title          string            `json:"title,omitempty"`
	Description    string            `json:"description,omitempty"`
	Keywords       []string          `json:"keywords,omitempty"`
	CanonicalURL   string            `json:"canonical_url,omitempty"`
	Language       string            `json:"language,omitempty"`
	Author         string            `json:"author,omitempty"`
	FaviconURL     string            `json:"favicon_url,omitempty"`
	ContentSnippet string            `json:"content_snippet,omitempty"`
	Meta           map[string]string `json:"meta,omitempty"`
	OpenGraph      map[string]string `json:"open_graph,omitempty"`
	Twitter        map[string]string `json:"twitter,omitempty"`
	JSONLD         []map[string]any  `json:"json_ld,omitempty"`
	ContentHash    string            `json:"content_hash,omitempty"`
	StatusCode     int               `json:"status_code,omitempty"`
}

// IsEmpty reports whether the fetch produced nothing usable.
func (m *PageMetadata) IsEmpty() bool {
	if m == nil {
		return true
	}
	return m.Title == "" && m.Description == "" && len(m.Keywords) == 0 &&
		m.Author == "" && m.FaviconURL == "" && m.ContentSnippet == "" &&
		len(m.Meta) == 0 && len(m.OpenGraph) == 0 && len(m.Twitter) == 0 &&
		len(m.JSONLD) == 0
}

// PlatformData carries platform-specific structured facts, tagged by the
// platform identifier. Extra is a bounded side-table for facts that do not
// warrant a dedicated field.
type PlatformData struct {
	Platform    string            `json:"platform"`
	Creator     string            `json:"creator,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	ContentID   string            `json:"content_id,omitempty"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// MaxPlatformExtras bounds the Extra side-table.
const MaxPlatformExtras = 16

// QueueItem is one pending entry in the enrichment backlog. At most one live
// item exists per bookmark id.
type QueueItem struct {
	QueueID    string    `json:"queue_id"`
	BookmarkID string    `json:"bookmark_id"`
	AddedAt    time.Time `json:"added_at"`
	Priority   int       `json:"priority"`
}

// ItemStatus classifies the outcome of processing one bookmark.
type ItemStatus string

// Item outcome values reported per bookmark.
const (
	ItemSuccess ItemStatus = "success"
	ItemSkipped ItemStatus = "skipped"
	ItemFailed  ItemStatus = "failed"
)

// ItemResult is the ephemeral per-item outcome of an enrichment attempt.
type ItemResult struct {
	BookmarkID  string     `json:"bookmark_id"`
	URL         string     `json:"url"`
	Status      ItemStatus `json:"status"`
	Liveness    Liveness   `json:"liveness"`
	Category    string     `json:"category,omitempty"`
	Description string     `json:"description,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// BatchSummary aggregates one pipeline invocation. The conservation law
// Processed == Succeeded+Failed+Skipped holds for every batch.
type BatchSummary struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// ProgressStatus labels the lifecycle stage reported for one item.
type ProgressStatus string

// Progress stages emitted per item.
const (
	ProgressProcessing ProgressStatus = "processing"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressFailed     ProgressStatus = "failed"
	ProgressError      ProgressStatus = "error"
)

// ProgressEvent reports per-item progress to the batch caller. Completed is
// the cumulative count across all workers; consumers must tolerate
// out-of-order completions relative to other workers.
type ProgressEvent struct {
	Index      int            `json:"index"`
	Total      int            `json:"total"`
	Completed  int            `json:"completed"`
	BookmarkID string         `json:"bookmark_id"`
	URL        string         `json:"url"`
	Title      string         `json:"title"`
	Status     ProgressStatus `json:"status"`
}

// ProgressFunc receives progress events during a batch run. A nil func is
// always allowed.
type ProgressFunc func(ProgressEvent)

// ChangeType classifies a dataset mutation for metrics-cache invalidation.
type ChangeType string

// Mutation classes mapped to cached-metric key sets.
const (
	ChangeAdd    ChangeType = "add"
	ChangeDelete ChangeType = "delete"
	ChangeUpdate ChangeType = "update"
	ChangeEnrich ChangeType = "enrich"
	ChangeAll    ChangeType = "all"
)
