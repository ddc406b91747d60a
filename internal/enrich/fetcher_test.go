package enrich

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kberan/marksmith/internal/bookmarks"
	"github.com/kberan/marksmith/internal/metrics"
)

func newTestFetcher() *HTTPFetcher {
	return NewHTTPFetcher(FetcherConfig{
		UserAgent:    "marksmith-test",
		ProbeTimeout: 2 * time.Second,
		FetchTimeout: 2 * time.Second,
	}, zap.NewNop())
}

func TestCheckLivenessHeadOK(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	got := newTestFetcher().CheckLiveness(context.Background(), srv.URL)
	require.Equal(t, bookmarks.LivenessAlive, got)
}

func TestCheckLivenessRedirectIsAlive(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The redirect target is never fetched; the 301 itself is proof of life.
		http.Redirect(w, r, "http://127.0.0.1:1/elsewhere", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	got := newTestFetcher().CheckLiveness(context.Background(), srv.URL)
	require.Equal(t, bookmarks.LivenessAlive, got)
}

func TestCheckLivenessOpaqueIsUnknown(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
	}{
		{"forbidden", http.StatusForbidden},
		{"not found", http.StatusNotFound},
		{"server error", http.StatusInternalServerError},
		{"method not allowed", http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			got := newTestFetcher().CheckLiveness(context.Background(), srv.URL)
			require.Equal(t, bookmarks.LivenessUnknown, got)
		})
	}
}

func TestCheckLivenessHeadRejectedGetHonored(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// The GET completing keeps the record at unknown; a non-2xx/3xx HEAD is
	// never enough to call a URL alive.
	got := newTestFetcher().CheckLiveness(context.Background(), srv.URL)
	require.Equal(t, bookmarks.LivenessUnknown, got)
}

func TestCheckLivenessNetworkFailureIsDead(t *testing.T) {
	t.Parallel()

	// Nothing listens on this port.
	got := newTestFetcher().CheckLiveness(context.Background(), "http://127.0.0.1:1/gone")
	require.Equal(t, bookmarks.LivenessDead, got)
}

func TestFetchMetadataExtractsFields(t *testing.T) {
	t.Parallel()

	const page = `<html lang="en"><head>
		<title>Fetched Page</title>
		<meta property="og:description" content="fetched description">
		</head><body><p>A paragraph with enough length to survive the snippet filter.</p></body></html>`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page)) //nolint:errcheck
	}))
	defer srv.Close()

	meta := newTestFetcher().FetchMetadata(context.Background(), srv.URL)
	require.Equal(t, "Fetched Page", meta.Title)
	require.Equal(t, "fetched description", meta.Description)
	require.Equal(t, http.StatusOK, meta.StatusCode)
	require.NotEmpty(t, meta.ContentHash)
	require.Contains(t, meta.ContentSnippet, "enough length")
}

func TestFetchMetadataCountsBytes(t *testing.T) {
	t.Parallel()

	const page = `<html><head><title>Counted</title></head><body></body></html>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page)) //nolint:errcheck
	}))
	defer srv.Close()

	meta := newTestFetcher().FetchMetadata(context.Background(), srv.URL)
	require.Equal(t, "Counted", meta.Title)

	// The fetched body shows up in the per-site bytes counter.
	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `enrich_fetch_bytes_total{site="127.0.0.1"}`)
}

func TestFetchMetadataErrorYieldsEmpty(t *testing.T) {
	t.Parallel()

	meta := newTestFetcher().FetchMetadata(context.Background(), "http://127.0.0.1:1/gone")
	require.True(t, meta.IsEmpty())
	require.Empty(t, meta.ContentHash)
}

func TestFetchMetadataCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	meta := newTestFetcher().FetchMetadata(ctx, srv.URL)
	require.True(t, meta.IsEmpty())
}

func TestProbeCountsNoMetadataFetchForDead(t *testing.T) {
	t.Parallel()

	var gets atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := newTestFetcher()
	require.Equal(t, bookmarks.LivenessAlive, f.CheckLiveness(context.Background(), srv.URL))
	// An alive HEAD needs no fallback GET.
	require.Equal(t, int64(0), gets.Load())
}
