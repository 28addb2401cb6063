package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lox/heliotrends/internal/cache"
	"github.com/lox/heliotrends/internal/httputil"
	"github.com/lox/heliotrends/internal/metrics"
	"github.com/lox/heliotrends/internal/store"
)

// maxBodySize caps how much of an upstream response is read.
const maxBodySize = 8 << 20

// ErrThrottled is returned when a source's rate limiter has no budget left.
var ErrThrottled = errors.New("upstream request throttled")

// Recorder audits upstream fetches and archives their bodies.
// *store.Store satisfies it.
type Recorder interface {
	StartIngestRun(source, endpoint string) (*store.IngestRun, error)
	CompleteIngestRun(run *store.IngestRun) error
	StoreRawPayload(runID int64, source, endpoint string, payload []byte) (int64, error)
}

// Request describes one upstream GET.
type Request struct {
	Source   string // "noaa", "donki", "tmdb"
	Endpoint string // short name used in metrics, audit rows and cache keys
	URL      string
	Header   http.Header
	CacheTTL time.Duration // zero disables caching for this request
}

func (r Request) cacheKey() string {
	return r.Source + ":" + r.Endpoint
}

// FetchResult describes how a request was served.
type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	Cached       bool
}

// Fetcher issues upstream GETs with a timeout, optional per-source rate
// limits, an optional read-through cache, and optional auditing. It never
// retries; callers substitute mock data on error.
type Fetcher struct {
	client   *http.Client
	cache    cache.Cache
	recorder Recorder

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{
		client:   httputil.NewClient(timeout),
		limiters: make(map[string]*rate.Limiter),
	}
}

// SetCache enables the read-through cache for requests with a CacheTTL.
func (f *Fetcher) SetCache(c cache.Cache) {
	f.cache = c
}

// SetRecorder enables ingest-run auditing and raw payload archival.
func (f *Fetcher) SetRecorder(r Recorder) {
	f.recorder = r
}

// SetLimiter throttles every request for source.
func (f *Fetcher) SetLimiter(source string, l *rate.Limiter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limiters[source] = l
}

func (f *Fetcher) limiter(source string) *rate.Limiter {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.limiters[source]
}

// Get fetches req.URL and returns the body when the upstream answered 2xx
// with valid JSON.
func (f *Fetcher) Get(ctx context.Context, req Request) ([]byte, *FetchResult, error) {
	var run *store.IngestRun
	if f.recorder != nil {
		var err error
		run, err = f.recorder.StartIngestRun(req.Source, req.Endpoint)
		if err != nil {
			log.Printf("ingest: start ingest run %s/%s: %v", req.Source, req.Endpoint, err)
		}
	}

	body, result, err := f.get(ctx, req)

	if result == nil {
		result = &FetchResult{}
	}

	if run != nil {
		run.Success = err == nil
		run.Fallback = err != nil
		run.Cached = result.Cached
		run.HTTPStatus = sql.NullInt64{Int64: int64(result.HTTPStatus), Valid: result.HTTPStatus > 0}
		run.ResponseSizeBytes = sql.NullInt64{Int64: int64(result.ResponseSize), Valid: result.ResponseSize > 0}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		if err == nil && !result.Cached {
			if _, perr := f.recorder.StoreRawPayload(run.ID, req.Source, req.Endpoint, body); perr != nil {
				log.Printf("ingest: store %s/%s raw payload: %v", req.Source, req.Endpoint, perr)
			}
		}
		if cerr := f.recorder.CompleteIngestRun(run); cerr != nil {
			log.Printf("ingest: complete ingest run %s/%s: %v", req.Source, req.Endpoint, cerr)
		}
	}

	return body, result, err
}

func (f *Fetcher) get(ctx context.Context, req Request) ([]byte, *FetchResult, error) {
	result := &FetchResult{}

	if f.cache != nil && req.CacheTTL > 0 {
		body, ok, err := f.cache.Get(ctx, req.cacheKey())
		switch {
		case err != nil:
			log.Printf("ingest: cache get %s: %v", req.cacheKey(), err)
			metrics.CacheLookupsTotal.WithLabelValues(req.Source, "error").Inc()
		case ok:
			metrics.CacheLookupsTotal.WithLabelValues(req.Source, "hit").Inc()
			metrics.UpstreamCallsTotal.WithLabelValues(req.Source, req.Endpoint, "cached").Inc()
			result.Cached = true
			result.ResponseSize = len(body)
			return body, result, nil
		default:
			metrics.CacheLookupsTotal.WithLabelValues(req.Source, "miss").Inc()
		}
	}

	if l := f.limiter(req.Source); l != nil && !l.Allow() {
		metrics.UpstreamCallsTotal.WithLabelValues(req.Source, req.Endpoint, "throttled").Inc()
		return nil, result, fmt.Errorf("fetch %s/%s: %w", req.Source, req.Endpoint, ErrThrottled)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, result, fmt.Errorf("create request: %w", redactError(err))
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", httputil.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(httpReq)
	metrics.UpstreamLatency.WithLabelValues(req.Source, req.Endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamCallsTotal.WithLabelValues(req.Source, req.Endpoint, "error").Inc()
		return nil, result, fmt.Errorf("fetch %s/%s: %w", req.Source, req.Endpoint, redactError(err))
	}
	defer resp.Body.Close()

	result.HTTPStatus = resp.StatusCode
	metrics.UpstreamCallsTotal.WithLabelValues(req.Source, req.Endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, result, fmt.Errorf("read body: %w", err)
	}
	result.ResponseSize = len(body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, result, fmt.Errorf("fetch %s/%s: status %d: %s", req.Source, req.Endpoint, resp.StatusCode, truncateBody(body))
	}
	if !json.Valid(body) {
		return nil, result, fmt.Errorf("fetch %s/%s: invalid JSON: %s", req.Source, req.Endpoint, truncateBody(body))
	}

	if f.cache != nil && req.CacheTTL > 0 {
		if err := f.cache.Set(ctx, req.cacheKey(), body, req.CacheTTL); err != nil {
			log.Printf("ingest: cache set %s: %v", req.cacheKey(), err)
		}
	}

	return body, result, nil
}

// truncateBody shortens an upstream body for error messages.
// redactedParams are query parameters that carry upstream credentials.
var redactedParams = []string{"api_key"}

// redactError masks credentials in the URL carried by a *url.Error.
func redactError(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = redactURL(uerr.URL)
	}
	return err
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexByte(raw, '?'); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	q := u.Query()
	for _, p := range redactedParams {
		if q.Has(p) {
			q.Set(p, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "...(truncated)"
}
