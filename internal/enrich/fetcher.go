package enrich

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/kberan/marksmith/internal/bookmarks"
	"github.com/kberan/marksmith/internal/hash/sha256"
	"github.com/kberan/marksmith/internal/metrics"
)

// FetcherConfig controls probe and fetch behavior.
type FetcherConfig struct {
	UserAgent    string
	ProbeTimeout time.Duration
	FetchTimeout time.Duration
}

// HTTPFetcher implements bookmarks.Fetcher. Liveness probes go through a
// plain HTTP client because classification needs the distinction between a
// response (any status) and a network-layer failure. Metadata fetches go
// through a Colly collector.
type HTTPFetcher struct {
	cfg           FetcherConfig
	client        *http.Client
	baseCollector *colly.Collector
	hasher        *sha256.Hasher
	log           *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// NewHTTPFetcher builds a fetcher.
func NewHTTPFetcher(cfg FetcherConfig, log *zap.Logger) *HTTPFetcher {
	metrics.Init()
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())

	return &HTTPFetcher{
		cfg: cfg,
		client: &http.Client{
			Transport: newHTTPTransport(),
			// A redirect is itself proof of life; do not chase it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseCollector: c,
		hasher:        sha256.New(),
		log:           log,
	}
}

// CheckLiveness classifies reachability. A HEAD returning 2xx or 3xx is
// alive. Any other HEAD outcome falls back to a GET: a GET that completes
// with any status is unknown (an opaque response is never dead), and a GET
// that fails at the network layer is dead.
func (f *HTTPFetcher) CheckLiveness(ctx context.Context, url string) bookmarks.Liveness {
	status, err := f.probe(ctx, http.MethodHead, url)
	if err == nil && status >= 200 && status < 400 {
		return bookmarks.LivenessAlive
	}

	if _, err := f.probe(ctx, http.MethodGet, url); err != nil {
		f.log.Debug("liveness probe failed at network layer",
			zap.String("url", url), zap.Error(err))
		return bookmarks.LivenessDead
	}
	return bookmarks.LivenessUnknown
}

func (f *HTTPFetcher) probe(ctx context.Context, method, url string) (int, error) {
	timeout := f.cfg.ProbeTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return 0, err
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck
	resp.Body.Close()
	return resp.StatusCode, nil
}

// FetchMetadata performs a single bounded GET and extracts structured fields
// from the body. It never fails: any error, timeout included, yields an
// empty result.
func (f *HTTPFetcher) FetchMetadata(ctx context.Context, url string) bookmarks.PageMetadata {
	var (
		statusCode int
		body       []byte
		fetchErr   error
	)
	collector := f.buildCollector(&statusCode, &body, &fetchErr)

	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		f.log.Debug("metadata fetch failed", zap.String("url", url), zap.Error(err))
		return bookmarks.PageMetadata{StatusCode: statusCode}
	}

	metrics.ObserveFetch(url, len(body))

	meta := ExtractMetadata(url, body)
	meta.StatusCode = statusCode
	if len(body) > 0 {
		meta.ContentHash = f.hasher.Hash(body)
	}
	return meta
}

func (f *HTTPFetcher) buildCollector(statusCode *int, body *[]byte, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	timeout := f.cfg.FetchTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(newHTTPTransport())

	f.configureCollectorHooks(collector, statusCode, body, fetchErr)
	return collector
}

func (f *HTTPFetcher) configureCollectorHooks(hooks collectorHooks, statusCode *int, body *[]byte, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml")
	})

	hooks.OnResponse(func(r *colly.Response) {
		*statusCode = r.StatusCode
		*body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*statusCode = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *HTTPFetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return err
		}
		return *fetchErr
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
