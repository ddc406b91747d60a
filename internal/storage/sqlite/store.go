// Package sqlite persists bookmark records and the enrichment queue in a
// local SQLite database. It is the default provider for single-user setups.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kberan/marksmith/internal/bookmarks"
	"github.com/kberan/marksmith/internal/id/uuid"
)

const currentSchemaVersion = 1

// Provider implements storage.Provider over one SQLite database file.
type Provider struct {
	db    *sql.DB
	store *Store
	queue *Queue
}

// Open creates the database file if needed, applies pragmas and migrations,
// and returns a ready Provider.
func Open(path string) (*Provider, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Provider{
		db:    db,
		store: &Store{db: db},
		queue: &Queue{db: db, ids: uuid.New()},
	}, nil
}

// Bookmarks returns the record store.
func (p *Provider) Bookmarks() bookmarks.Store { return p.store }

// Queue returns the enrichment queue.
func (p *Provider) Queue() bookmarks.Queue { return p.queue }

// Close closes the database connection.
func (p *Provider) Close() error { return p.db.Close() }

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		version = 0
	}
	if version < 1 {
		if err := migrateV1(db); err != nil {
			return err
		}
	}
	return nil
}

func migrateV1(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);

		CREATE TABLE IF NOT EXISTS bookmarks (
			id TEXT PRIMARY KEY NOT NULL,
			url TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			domain TEXT NOT NULL DEFAULT '',
			date_added TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			keywords TEXT NOT NULL DEFAULT '[]',
			category TEXT NOT NULL DEFAULT '',
			liveness TEXT NOT NULL DEFAULT 'unknown',
			last_checked TEXT,
			favicon_url TEXT NOT NULL DEFAULT '',
			content_snippet TEXT NOT NULL DEFAULT '',
			raw_metadata TEXT,
			platform TEXT NOT NULL DEFAULT '',
			creator TEXT NOT NULL DEFAULT '',
			content_type TEXT NOT NULL DEFAULT '',
			platform_data TEXT,
			enrichment_error TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_bookmarks_domain ON bookmarks(domain);
		CREATE INDEX IF NOT EXISTS idx_bookmarks_last_checked ON bookmarks(last_checked);

		CREATE TABLE IF NOT EXISTS enrichment_queue (
			queue_id TEXT PRIMARY KEY NOT NULL,
			bookmark_id TEXT NOT NULL UNIQUE,
			added_at TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (bookmark_id) REFERENCES bookmarks(id) ON DELETE CASCADE
		);

		CREATE INDEX IF NOT EXISTS idx_queue_priority ON enrichment_queue(priority DESC);

		INSERT OR REPLACE INTO schema_version (version) VALUES (1);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply v1 schema: %w", err)
	}
	return nil
}

// Store implements bookmarks.Store over SQLite.
type Store struct {
	db *sql.DB
}

const bookmarkColumns = `id, url, title, domain, date_added, description, keywords,
	category, liveness, last_checked, favicon_url, content_snippet, raw_metadata,
	platform, creator, content_type, platform_data, enrichment_error`

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, id string) (bookmarks.Bookmark, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+bookmarkColumns+` FROM bookmarks WHERE id = ?`, id)
	b, err := scanBookmark(row)
	if errors.Is(err, sql.ErrNoRows) {
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
	if _, err := s.db.ExecContext(ctx, upsertSQL, args...); err != nil {
		return fmt.Errorf("upsert bookmark: %w", err)
	}
	return nil
}

// BulkUpsert writes every record inside one transaction.
func (s *Store) BulkUpsert(ctx context.Context, bs []bookmarks.Bookmark) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, upsertSQL)
	if err != nil {
		return fmt.Errorf("prepare bulk upsert: %w", err)
	}
	defer stmt.Close()

	for _, b := range bs {
		args, err := bookmarkArgs(b)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("bulk upsert %s: %w", b.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk upsert: %w", err)
	}
	return nil
}

// QueryAll returns every record ordered by date added.
func (s *Store) QueryAll(ctx context.Context) ([]bookmarks.Bookmark, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+bookmarkColumns+` FROM bookmarks ORDER BY date_added, id`)
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

// Delete removes a record; the queue FK cascades.
func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM bookmarks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete bookmark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if n == 0 {
		return bookmarks.ErrNotFound
	}
	return nil
}

const upsertSQL = `
	INSERT INTO bookmarks (` + bookmarkColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		url = excluded.url,
		title = excluded.title,
		domain = excluded.domain,
		date_added = excluded.date_added,
		description = excluded.description,
		keywords = excluded.keywords,
		category = excluded.category,
		liveness = excluded.liveness,
		last_checked = excluded.last_checked,
		favicon_url = excluded.favicon_url,
		content_snippet = excluded.content_snippet,
		raw_metadata = excluded.raw_metadata,
		platform = excluded.platform,
		creator = excluded.creator,
		content_type = excluded.content_type,
		platform_data = excluded.platform_data,
		enrichment_error = excluded.enrichment_error`

func bookmarkArgs(b bookmarks.Bookmark) ([]any, error) {
	keywords, err := json.Marshal(nonNilStrings(b.Keywords))
	if err != nil {
		return nil, fmt.Errorf("marshal keywords: %w", err)
	}

	var rawMeta any
	if b.RawMetadata != nil {
		blob, err := json.Marshal(b.RawMetadata)
		if err != nil {
			return nil, fmt.Errorf("marshal raw metadata: %w", err)
		}
		rawMeta = string(blob)
	}

	var platformData any
	if b.PlatformData != nil {
		blob, err := json.Marshal(b.PlatformData)
		if err != nil {
			return nil, fmt.Errorf("marshal platform data: %w", err)
		}
		platformData = string(blob)
	}

	var lastChecked any
	if b.LastChecked != nil {
		lastChecked = b.LastChecked.UTC().Format(time.RFC3339Nano)
	}

	liveness := b.Liveness
	if liveness == "" {
		liveness = bookmarks.LivenessUnknown
	}

	return []any{
		b.ID, b.URL, b.Title, b.Domain,
		b.DateAdded.UTC().Format(time.RFC3339Nano),
		b.Description, string(keywords), b.Category, string(liveness),
		lastChecked, b.FaviconURL, b.ContentSnippet, rawMeta,
		b.Platform, b.Creator, b.ContentType, platformData, b.EnrichmentError,
	}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBookmark(row rowScanner) (bookmarks.Bookmark, error) {
	var (
		b            bookmarks.Bookmark
		dateAdded    string
		keywords     string
		liveness     string
		lastChecked  sql.NullString
		rawMeta      sql.NullString
		platformData sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.URL, &b.Title, &b.Domain, &dateAdded, &b.Description,
		&keywords, &b.Category, &liveness, &lastChecked, &b.FaviconURL,
		&b.ContentSnippet, &rawMeta, &b.Platform, &b.Creator, &b.ContentType,
		&platformData, &b.EnrichmentError,
	)
	if err != nil {
		return bookmarks.Bookmark{}, err
	}

	if b.DateAdded, err = time.Parse(time.RFC3339Nano, dateAdded); err != nil {
		return bookmarks.Bookmark{}, fmt.Errorf("parse date_added: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &b.Keywords); err != nil {
		return bookmarks.Bookmark{}, fmt.Errorf("unmarshal keywords: %w", err)
	}
	if len(b.Keywords) == 0 {
		b.Keywords = nil
	}
	b.Liveness = bookmarks.Liveness(liveness)
	if lastChecked.Valid {
		ts, err := time.Parse(time.RFC3339Nano, lastChecked.String)
		if err != nil {
			return bookmarks.Bookmark{}, fmt.Errorf("parse last_checked: %w", err)
		}
		b.LastChecked = &ts
	}
	if rawMeta.Valid {
		var meta bookmarks.PageMetadata
		if err := json.Unmarshal([]byte(rawMeta.String), &meta); err != nil {
			return bookmarks.Bookmark{}, fmt.Errorf("unmarshal raw metadata: %w", err)
		}
		b.RawMetadata = &meta
	}
	if platformData.Valid {
		var pd bookmarks.PlatformData
		if err := json.Unmarshal([]byte(platformData.String), &pd); err != nil {
			return bookmarks.Bookmark{}, fmt.Errorf("unmarshal platform data: %w", err)
		}
		b.PlatformData = &pd
	}
	return b, nil
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// Queue implements bookmarks.Queue over the enrichment_queue table. Queue ids
// are UUIDv7 so rowid and id order both reflect insertion order.
type Queue struct {
	db  *sql.DB
	ids *uuid.Generator
}

// Enqueue inserts an entry unless one already exists for the bookmark id.
func (q *Queue) Enqueue(ctx context.Context, bookmarkID string, priority int) (bool, error) {
	queueID, err := q.ids.NewID()
	if err != nil {
		return false, fmt.Errorf("queue id: %w", err)
	}
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO enrichment_queue (queue_id, bookmark_id, added_at, priority)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(bookmark_id) DO NOTHING`,
		queueID, bookmarkID, time.Now().UTC().Format(time.RFC3339Nano), priority)
	if err != nil {
		return false, fmt.Errorf("enqueue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("enqueue rows affected: %w", err)
	}
	return n > 0, nil
}

// NextBatch returns up to n items, priority descending, insertion order
// within a priority.
func (q *Queue) NextBatch(ctx context.Context, n int) ([]bookmarks.QueueItem, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT queue_id, bookmark_id, added_at, priority
		FROM enrichment_queue
		ORDER BY priority DESC, rowid ASC
		LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query queue: %w", err)
	}
	defer rows.Close()

	var out []bookmarks.QueueItem
	for rows.Next() {
		var (
			item    bookmarks.QueueItem
			addedAt string
		)
		if err := rows.Scan(&item.QueueID, &item.BookmarkID, &addedAt, &item.Priority); err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		if item.AddedAt, err = time.Parse(time.RFC3339Nano, addedAt); err != nil {
			return nil, fmt.Errorf("parse added_at: %w", err)
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
	if _, err := q.db.ExecContext(ctx,
		`DELETE FROM enrichment_queue WHERE queue_id = ?`, queueID); err != nil {
		return fmt.Errorf("dequeue: %w", err)
	}
	return nil
}

// Size returns the number of live entries.
func (q *Queue) Size(ctx context.Context) (int, error) {
	var n int
	if err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM enrichment_queue`).Scan(&n); err != nil {
		return 0, fmt.Errorf("queue size: %w", err)
	}
	return n, nil
}
