package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/kberan/marksmith/internal/bookmarks"
)

func newMockProvider(t *testing.T) (*Provider, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func TestUpsertInsertsRow(t *testing.T) {
	t.Parallel()

	p, mock := newMockProvider(t)

	checked := time.Unix(1700000000, 0).UTC()
	b := bookmarks.Bookmark{
		ID:          "bk-1",
		URL:         "https://example.com",
		Title:       "Example",
		Domain:      "example.com",
		DateAdded:   time.Unix(1600000000, 0).UTC(),
		Keywords:    []string{"go"},
		Liveness:    bookmarks.LivenessAlive,
		LastChecked: &checked,
	}

	mock.ExpectExec("INSERT INTO bookmarks").
		WithArgs(
			b.ID, b.URL, b.Title, b.Domain, b.DateAdded.UTC(),
			"", []byte(`["go"]`), "", "alive",
			&checked, "", "", []byte(nil),
			"", "", "", []byte(nil), "",
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, p.Bookmarks().Upsert(context.Background(), b))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()

	p, mock := newMockProvider(t)

	mock.ExpectQuery("SELECT (.+) FROM bookmarks WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := p.Bookmarks().Get(context.Background(), "missing")
	require.ErrorIs(t, err, bookmarks.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteNotFound(t *testing.T) {
	t.Parallel()

	p, mock := newMockProvider(t)

	mock.ExpectExec("DELETE FROM bookmarks").
		WithArgs("missing").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := p.Bookmarks().Delete(context.Background(), "missing")
	require.ErrorIs(t, err, bookmarks.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueIdempotent(t *testing.T) {
	t.Parallel()

	p, mock := newMockProvider(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO enrichment_queue").
		WithArgs(pgxmock.AnyArg(), "bk-1", pgxmock.AnyArg(), 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO enrichment_queue").
		WithArgs(pgxmock.AnyArg(), "bk-1", pgxmock.AnyArg(), 3).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	added, err := p.Queue().Enqueue(ctx, "bk-1", 3)
	require.NoError(t, err)
	require.True(t, added)

	added, err = p.Queue().Enqueue(ctx, "bk-1", 3)
	require.NoError(t, err)
	require.False(t, added)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNextBatchScansItems(t *testing.T) {
	t.Parallel()

	p, mock := newMockProvider(t)

	added := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT queue_id, bookmark_id, added_at, priority").
		WithArgs(2).
		WillReturnRows(pgxmock.NewRows([]string{"queue_id", "bookmark_id", "added_at", "priority"}).
			AddRow("q-1", "bk-2", added, 9).
			AddRow("q-2", "bk-1", added, 1))

	batch, err := p.Queue().NextBatch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	require.Equal(t, "bk-2", batch[0].BookmarkID)
	require.Equal(t, 9, batch[0].Priority)
	require.NoError(t, mock.ExpectationsWereMet())
}
