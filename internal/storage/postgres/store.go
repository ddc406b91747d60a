// Package postgres provides Postgres-backed persistence for shared
// deployments where several machines read the same collection.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kberan/marksmith/internal/bookmarks"
	"github.com/kberan/marksmith/internal/id/uuid"
)

// Pool is the subset of pgxpool.Pool the stores need; pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// Provider bundles the Postgres store and queue.
type Provider struct {
	pool  Pool
	store *Store
	queue *Queue
}

// New connects a pool and ensures the schema exists.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p := NewWithPool(pool)
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewWithPool constructs a Provider from an existing pool (primarily for
// testing).
func NewWithPool(pool Pool) *Provider {
	return &Provider{
		pool:  pool,
		store: &Store{pool: pool},
		queue: &Queue{pool: pool, ids: uuid.New()},
	}
}

// Bookmarks returns the record store.
func (p *Provider) Bookmarks() bookmarks.Store { return p.store }

// Queue returns the enrichment queue.
func (p *Provider) Queue() bookmarks.Queue { return p.queue }

// Close releases the pool.
func (p *Provider) Close() error {
	p.pool.Close()
	return nil
}

func (p *Provider) ensureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS bookmarks (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	domain TEXT NOT NULL DEFAULT '',
	date_added TIMESTAMPTZ NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	keywords JSONB NOT NULL DEFAULT '[]',
	category TEXT NOT NULL DEFAULT '',
	liveness TEXT NOT NULL DEFAULT 'unknown',
	last_checked TIMESTAMPTZ,
	favicon_url TEXT NOT NULL DEFAULT '',
	content_snippet TEXT NOT NULL DEFAULT '',
	raw_metadata JSONB,
	platform TEXT NOT NULL DEFAULT '',
	creator TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	platform_data JSONB,
	enrichment_error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_bookmarks_last_checked ON bookmarks(last_checked);
CREATE TABLE IF NOT EXISTS enrichment_queue (
	queue_id TEXT PRIMARY KEY,
	bookmark_id TEXT NOT NULL UNIQUE REFERENCES bookmarks(id) ON DELETE CASCADE,
	added_at TIMESTAMPTZ NOT NULL,
	priority INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_queue_priority ON enrichment_queue(priority DESC, queue_id ASC);
`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Store implements bookmarks.Store over Postgres.
type Store struct {
	pool Pool
}

const bookmarkColumns = `id, url, title, domain, date_added, description, keywords,
	category, liveness, last_checked, favicon_url, content_snippet, raw_metadata,
	platform, creator, content_type, platform_data, enrichment_error`

const upsertSQL = `
INSERT INTO bookmarks (` + bookmarkColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
ON CONFLICT (id) DO UPDATE SET
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	domain = EXCLUDED.domain,
	date_added = EXCLUDED.date_added,
	description = EXCLUDED.description,
	keywords = EXCLUDED.keywords,
	category = EXCLUDED.category,
	liveness = EXCLUDED.liveness,
	last_checked = EXCLUDED.last_checked,
	favicon_url = EXCLUDED.favicon_url,
	content_snippet = EXCLUDED.content_snippet,
	raw_metadata = EXCLUDED.raw_metadata,
	platform = EXCLUDED.platform,
	creator = EXCLUDED.creator,
	content_type = EXCLUDED.content_type,
	platform_data = EXCLUDED.platform_data,
	enrichment_error = EXCLUDED.enrichment_error`

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, id string) (bookmarks.Bookmark, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks WHERE id = $1`, id)
	b, err := scanBookmark(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return bookmarks.Bookmark{}, bookmarks.ErrNotFound
	}
	if err != nil {
		return bookmarks.Bookmark{}, fmt.Errorf("get bookmark: %w", err)
	}
	return b, nil
}

// Upsert writes one record, last writer wins.
func (s *Store) Upsert(ctx context.Context, b bookmarks.Bookmark) error {
	args, err := bookmarkArgs(b)
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, upsertSQL, args...); err != nil {
		return fmt.Errorf("upsert bookmark: %w", err)
	}
	return nil
}

// BulkUpsert writes records one statement at a time; callers batch rarely
// enough that a pipeline is not worth the coupling.
func (s *Store) BulkUpsert(ctx context.Context, bs []bookmarks.Bookmark) error {
	for _, b := range bs {
		if err := s.Upsert(ctx, b); err != nil {
			return fmt.Errorf("bulk upsert %s: %w", b.ID, err)
		}
	}
	return nil
}

// QueryAll returns every record ordered by date added.
func (s *Store) QueryAll(ctx context.Context) ([]bookmarks.Bookmark, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+bookmarkColumns+` FROM bookmarks ORDER BY date_added, id`)
	if err != nil {
		return nil, fmt.Errorf("query bookmarks: %w", err)
	}
	defer rows.Close()

	var out []bookmarks.Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bookmark: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bookmarks: %w", err)
	}
	return out, nil
}

// Delete removes a record; the queue row cascades.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bookmarks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return bookmarks.ErrNotFound
	}
	return nil
}

func bookmarkArgs(b bookmarks.Bookmark) ([]any, error) {
	keywords, err := json.Marshal(b.Keywords)
	if err != nil {
		return nil, fmt.Errorf("marshal keywords: %w", err)
	}
	if b.Keywords == nil {
		keywords = []byte("[]")
	}

	var rawMeta []byte
	if b.RawMetadata != nil {
		if rawMeta, err = json.Marshal(b.RawMetadata); err != nil {
			return nil, fmt.Errorf("marshal raw metadata: %w", err)
		}
	}
	var platformData []byte
	if b.PlatformData != nil {
		if platformData, err = json.Marshal(b.PlatformData); err != nil {
			return nil, fmt.Errorf("marshal platform data: %w", err)
		}
	}

	liveness := b.Liveness
	if liveness == "" {
		liveness = bookmarks.LivenessUnknown
	}

	return []any{
		b.ID, b.URL, b.Title, b.Domain, b.DateAdded.UTC(),
		b.Description, keywords, b.Category, string(liveness),
		b.LastChecked, b.FaviconURL, b.ContentSnippet, rawMeta,
		b.Platform, b.Creator, b.ContentType, platformData, b.EnrichmentError,
	}, nil
}

func scanBookmark(row pgx.Row) (bookmarks.Bookmark, error) {
	var (
		b            bookmarks.Bookmark
		keywords     []byte
		liveness     string
		rawMeta      []byte
		platformData []byte
	)
	err := row.Scan(
		&b.ID, &b.URL, &b.Title, &b.Domain, &b.DateAdded, &b.Description,
		&keywords, &b.Category, &liveness, &b.LastChecked, &b.FaviconURL,
		&b.ContentSnippet, &rawMeta, &b.Platform, &b.Creator, &b.ContentType,
		&platformData, &b.EnrichmentError,
	)
	if err != nil {
		return bookmarks.Bookmark{}, err
	}
	if len(keywords) > 0 {
		if err := json.Unmarshal(keywords, &b.Keywords); err != nil {
			return bookmarks.Bookmark{}, fmt.Errorf("unmarshal keywords: %w", err)
		}
	}
	if len(b.Keywords) == 0 {
		b.Keywords = nil
	}
	b.Liveness = bookmarks.Liveness(liveness)
	if len(rawMeta) > 0 {
		var meta bookmarks.PageMetadata
		if err := json.Unmarshal(rawMeta, &meta); err != nil {
			return bookmarks.Bookmark{}, fmt.Errorf("unmarshal raw metadata: %w", err)
		}
		b.RawMetadata = &meta
	}
	if len(platformData) > 0 {
		var pd bookmarks.PlatformData
		if err := json.Unmarshal(platformData, &pd); err != nil {
			return bookmarks.Bookmark{}, fmt.Errorf("unmarshal platform data: %w", err)
		}
		b.PlatformData = &pd
	}
	return b, nil
}

// Queue implements bookmarks.Queue over the enrichment_queue table.
type Queue struct {
	pool Pool
	ids  *uuid.Generator
}

// Enqueue inserts an entry unless one exists for the bookmark id.
func (q *Queue) Enqueue(ctx context.Context, bookmarkID string, priority int) (bool, error) {
	queueID, err := q.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("queue id: %w", err)
	}
	tag, err := q.pool.Exec(ctx, `
		INSERT INTO enrichment_queue (queue_id, bookmark_id, added_at, priority)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bookmark_id) DO NOTHING`,
		queueID, bookmarkID, time.Now().UTC(), priority)
	if err != nil {
		return false, fmt.Errorf("enqueue: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// NextBatch returns up to n items, priority descending, insertion order
// within a priority (queue ids are UUIDv7, so id order is insertion order).
func (q *Queue) NextBatch(ctx context.Context, n int) ([]bookmarks.QueueItem, error) {
	rows, err := q.pool.Query(ctx, `
		SELECT queue_id, bookmark_id, added_at, priority
		FROM enrichment_queue
		ORDER BY priority DESC, queue_id ASC
		LIMIT $1`, n)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var out []bookmarks.QueueItem
	for rows.Next() {
		var item bookmarks.QueueItem
		if err := rows.Scan(&item.QueueID, &item.BookmarkID, &item.AddedAt, &item.Priority); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate queue: %w", err)
	}
	return out, nil
}

// Dequeue removes one entry. Unknown ids are a no-op.
func (q *Queue) Dequeue(ctx context.Context, queueID string) error {
	if _, err := q.pool.Exec(ctx,
		`DELETE FROM enrichment_queue WHERE queue_id = $1`, queueID); err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	return nil
}

// Size returns the number of live entries.
func (q *Queue) Size(ctx context.Context) (int, error) {
	var n int
	if err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM enrichment_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue size: %w", err)
	}
	return n, nil
}
