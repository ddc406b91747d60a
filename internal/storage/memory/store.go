// Package memory provides in-memory storage for development and testing.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kberan/marksmith/internal/bookmarks"
)

// Provider holds the in-memory store and queue.
type Provider struct {
	store *Store
	queue *Queue
}

// New constructs a Provider with empty state.
func New() *Provider {
	s := NewStore()
	return &Provider{
		store: s,
		queue: NewQueue(s),
	}
}

// Bookmarks returns the record store.
func (p *Provider) Bookmarks() bookmarks.Store { return p.store }

// Queue returns the enrichment queue.
func (p *Provider) Queue() bookmarks.Queue { return p.queue }

// Close is a no-op for the in-memory provider.
func (p *Provider) Close() error { return nil }

// Store is a mutex-guarded map of bookmark records.
type Store struct {
	mu      sync.RWMutex
	records map[string]bookmarks.Bookmark

	// onDelete lets the queue drop entries when a record goes away.
	onDelete func(bookmarkID string)
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{records: make(map[string]bookmarks.Bookmark)}
}

// Get fetches a record by id.
func (s *Store) Get(_ context.Context, id string) (bookmarks.Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.records[id]
	if !ok {
		return bookmarks.Bookmark{}, bookmarks.ErrNotFound
	}
	return b, nil
}

// Upsert stores a record, overwriting any existing one with the same id.
func (s *Store) Upsert(_ context.Context, b bookmarks.Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[b.ID] = b
	return nil
}

// BulkUpsert stores every record in one lock acquisition.
func (s *Store) BulkUpsert(_ context.Context, bs []bookmarks.Bookmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range bs {
		s.records[b.ID] = b
	}
	return nil
}

// QueryAll returns every record, ordered by DateAdded then id for stable
// iteration.
func (s *Store) QueryAll(_ context.Context) ([]bookmarks.Bookmark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]bookmarks.Bookmark, 0, len(s.records))
	for _, b := range s.records {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DateAdded.Equal(out[j].DateAdded) {
			return out[i].DateAdded.Before(out[j].DateAdded)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Delete removes a record and cascades to any live queue entry.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	_, ok := s.records[id]
	delete(s.records, id)
	onDelete := s.onDelete
	s.mu.Unlock()
	if !ok {
		return bookmarks.ErrNotFound
	}
	if onDelete != nil {
		onDelete(id)
	}
	return nil
}

// Queue is an in-memory priority backlog with idempotent enqueue.
type Queue struct {
	mu    sync.Mutex
	items []bookmarks.QueueItem
	byBkm map[string]string // bookmarkID -> queueID
	seq   int
}

// NewQueue constructs a Queue wired to the store's delete cascade.
func NewQueue(store *Store) *Queue {
	q := &Queue{byBkm: make(map[string]string)}
	if store != nil {
		store.onDelete = q.removeBookmark
	}
	return q
}

// Enqueue adds an entry unless one already exists for the bookmark id.
func (q *Queue) Enqueue(_ context.Context, bookmarkID string, priority int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.byBkm[bookmarkID]; exists {
		return false, nil
	}
	queueID := uuid.NewString()
	q.seq++
	q.items = append(q.items, bookmarks.QueueItem{
		QueueID:    queueID,
		BookmarkID: bookmarkID,
		AddedAt:    time.Now().UTC(),
		Priority:   priority,
	})
	q.byBkm[bookmarkID] = queueID
	return true, nil
}

// NextBatch returns up to n items, priority descending, FIFO within a
// priority. Items stay queued until Dequeue.
func (q *Queue) NextBatch(_ context.Context, n int) ([]bookmarks.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sorted := make([]bookmarks.QueueItem, len(q.items))
	copy(sorted, q.items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	if n > len(sorted) {
		n = len(sorted)
	}
	return sorted[:n], nil
}

// Dequeue removes one entry by queue id. Removing an unknown id is a no-op.
func (q *Queue) Dequeue(_ context.Context, queueID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, item := range q.items {
		if item.QueueID == queueID {
			delete(q.byBkm, item.BookmarkID)
			q.items = append(q.items[:i], q.items[i+1:]...)
			return nil
		}
	}
	return nil
}

// Size returns the number of live entries.
func (q *Queue) Size(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items), nil
}

func (q *Queue) removeBookmark(bookmarkID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	queueID, ok := q.byBkm[bookmarkID]
	if !ok {
		return
	}
	delete(q.byBkm, bookmarkID)
	for i, item := range q.items {
		if item.QueueID == queueID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}
