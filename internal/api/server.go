// Package api exposes the HTTP interface for the enrichment service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kberan/marksmith/internal/bookmarks"
	"github.com/kberan/marksmith/internal/config"
	"github.com/kberan/marksmith/internal/enrich"
	"github.com/kberan/marksmith/internal/metrics"
	"github.com/kberan/marksmith/internal/stats"
)

// IDGenerator assigns ids to records created through the API.
type IDGenerator interface {
	NewID() (string, error)
}

// Server wires HTTP handlers to the pool, stores, and stats service.
type Server struct {
	router chi.Router
	store  bookmarks.Store
	queue  bookmarks.Queue
	pool   *enrich.Pool
	stats  *stats.Service
	idGen  IDGenerator
	clock  bookmarks.Clock
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store bookmarks.Store,
	queue bookmarks.Queue,
	pool *enrich.Pool,
	statsSvc *stats.Service,
	idGen IDGenerator,
	clock bookmarks.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	s := &Server{
		store:  store,
		queue:  queue,
		pool:   pool,
		stats:  statsSvc,
		idGen:  idGen,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(5 * time.Minute))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/enrich", func(r chi.Router) {
			r.Post("/batch", s.runBatch)
			r.Post("/{bookmark_id}", s.enrichOne)
		})
		r.Route("/queue", func(r chi.Router) {
			r.Post("/", s.enqueue)
			r.Get("/size", s.queueSize)
		})
		r.Route("/stats", func(r chi.Router) {
			r.Get("/summary", s.statsSummary)
			r.Get("/quick", s.statsQuick)
			r.Get("/categories", s.statsCategories)
			r.Get("/domains", s.statsDomains)
			r.Get("/expertise", s.statsExpertise)
		})
		r.Route("/bookmarks", func(r chi.Router) {
			r.Get("/", s.listBookmarks)
			r.Post("/", s.createBookmark)
			r.Route("/{bookmark_id}", func(r chi.Router) {
				r.Get("/", s.getBookmark)
				r.Patch("/", s.updateBookmark)
				r.Delete("/", s.deleteBookmark)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.queue.Size(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type batchRequest struct {
	BatchSize   int  `json:"batch_size"`
	Concurrency int  `json:"concurrency"`
	Force       bool `json:"force"`
}

type batchResponse struct {
	Summary bookmarks.BatchSummary `json:"summary"`
	Results []bookmarks.ItemResult `json:"results"`
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Enrichment.Enabled {
		s.writeError(w, http.StatusForbidden, "enrichment disabled")
		return
	}
	var req batchRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	summary, results, err := s.pool.RunBatch(r.Context(), enrich.BatchOptions{
		BatchSize:   req.BatchSize,
		Concurrency: req.Concurrency,
		Force:       req.Force,
	})
	if err != nil {
		s.logger.Error("batch run failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "batch run failed")
		return
	}
	s.writeJSON(w, http.StatusOK, batchResponse{Summary: summary, Results: results})
}

func (s *Server) enrichOne(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.Enrichment.Enabled {
		s.writeError(w, http.StatusForbidden, "enrichment disabled")
		return
	}
	id := chi.URLParam(r, "bookmark_id")
	force := r.URL.Query().Get("force") == "true"

	result, err := s.pool.EnrichOne(r.Context(), id, force)
	if err != nil {
		if errors.Is(err, bookmarks.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		s.logger.Error("enrich one failed", zap.String("bookmark_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "enrichment failed")
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

type enqueueRequest struct {
	BookmarkID string `json:"bookmark_id"`
	Priority   int    `json:"priority"`
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BookmarkID == "" {
		s.writeError(w, http.StatusBadRequest, "missing bookmark_id")
		return
	}
	if _, err := s.store.Get(r.Context(), req.BookmarkID); err != nil {
		if errors.Is(err, bookmarks.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	enqueued, err := s.queue.Enqueue(r.Context(), req.BookmarkID, req.Priority)
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("bookmark_id", req.BookmarkID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	size, err := s.queue.Size(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]any{"enqueued": enqueued, "size": size})
}

func (s *Server) queueSize(w http.ResponseWriter, r *http.Request) {
	size, err := s.queue.Size(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"size": size})
}

func (s *Server) statsSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := s.stats.Summary(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, sum)
}

func (s *Server) statsQuick(w http.ResponseWriter, r *http.Request) {
	qs, err := s.stats.QuickStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, qs)
}

func (s *Server) statsCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.stats.CategoryDistribution(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}

func (s *Server) statsDomains(w http.ResponseWriter, r *http.Request) {
	domains, err := s.stats.DomainDistribution(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domains": domains})
}

func (s *Server) statsExpertise(w http.ResponseWriter, r *http.Request) {
	areas, err := s.stats.Expertise(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "stats unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"expertise": areas})
}

func (s *Server) listBookmarks(w http.ResponseWriter, r *http.Request) {
	all, err := s.store.QueryAll(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"bookmarks": all, "count": len(all)})
}

type createBookmarkRequest struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Priority int    `json:"priority"`
}

func (s *Server) createBookmark(w http.ResponseWriter, r *http.Request) {
	var req createBookmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	domain, err := domainOf(req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.idGen.NewID()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "id generation failed")
		return
	}
	b := bookmarks.Bookmark{
		ID:        id,
		URL:       req.URL,
		Title:     req.Title,
		Domain:    domain,
		DateAdded: s.clock.Now(),
		Liveness:  bookmarks.LivenessUnknown,
	}
	if err := s.store.Upsert(r.Context(), b); err != nil {
		s.logger.Error("create bookmark failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	// New records go straight into the enrichment backlog.
	if _, err := s.queue.Enqueue(r.Context(), id, req.Priority); err != nil {
		s.logger.Error("enqueue new bookmark failed", zap.String("bookmark_id", id), zap.Error(err))
	}
	s.stats.Invalidate(bookmarks.ChangeAdd)
	s.writeJSON(w, http.StatusCreated, b)
}

func (s *Server) getBookmark(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bookmark_id")
	b, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, bookmarks.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.writeJSON(w, http.StatusOK, b)
}

type updateBookmarkRequest struct {
	URL      *string `json:"url"`
	Title    *string `json:"title"`
	Category *string `json:"category"`
}

func (s *Server) updateBookmark(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bookmark_id")
	var req updateBookmarkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	b, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, bookmarks.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	if req.URL != nil {
		domain, derr := domainOf(*req.URL)
		if derr != nil {
			s.writeError(w, http.StatusBadRequest, derr.Error())
			return
		}
		b.URL = *req.URL
		b.Domain = domain
	}
	if req.Title != nil {
		b.Title = *req.Title
	}
	if req.Category != nil {
		b.Category = *req.Category
	}
	if err := s.store.Upsert(r.Context(), b); err != nil {
		s.logger.Error("update bookmark failed", zap.String("bookmark_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.stats.Invalidate(bookmarks.ChangeUpdate)
	s.writeJSON(w, http.StatusOK, b)
}

func (s *Server) deleteBookmark(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "bookmark_id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, bookmarks.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		s.logger.Error("delete bookmark failed", zap.String("bookmark_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "storage error")
		return
	}
	s.stats.Invalidate(bookmarks.ChangeDelete)
	s.writeJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func domainOf(rawURL string) (string, error) {
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return "", errors.New("url must be http or https")
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "", errors.New("invalid url")
	}
	return strings.ToLower(u.Hostname()), nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, r.URL.Path, ww.status, duration)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
