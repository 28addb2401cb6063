package ingest

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/lox/heliotrends/internal/httputil"
	"github.com/lox/heliotrends/internal/models"
	"github.com/lox/heliotrends/internal/store"
)

var testNow = time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.data[key]
	return b, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	c.ttls[key] = ttl
	return nil
}

type fakeRecorder struct {
	mu        sync.Mutex
	nextID    int64
	runs      []*store.IngestRun
	completed int
	payloads  map[int64][]byte
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{payloads: map[int64][]byte{}}
}

func (r *fakeRecorder) StartIngestRun(source, endpoint string) (*store.IngestRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	run := &store.IngestRun{ID: r.nextID, Source: source, Endpoint: endpoint}
	r.runs = append(r.runs, run)
	return run, nil
}

func (r *fakeRecorder) CompleteIngestRun(run *store.IngestRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	return nil
}

func (r *fakeRecorder) StoreRawPayload(runID int64, source, endpoint string, payload []byte) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payloads[runID] = payload
	return runID, nil
}

func TestTruncateBody(t *testing.T) {
	t.Run("short string unchanged", func(t *testing.T) {
		assert.Equal(t, "hello world", truncateBody([]byte("hello world")))
	})

	t.Run("exactly 512 chars unchanged", func(t *testing.T) {
		input := strings.Repeat("a", 512)
		assert.Equal(t, input, truncateBody([]byte(input)))
	})

	t.Run("over 512 chars truncated", func(t *testing.T) {
		got := truncateBody([]byte(strings.Repeat("x", 600)))
		assert.True(t, strings.HasPrefix(got, strings.Repeat("x", 512)))
		assert.True(t, strings.HasSuffix(got, "...(truncated)"))
		assert.Len(t, got, 512+len("...(truncated)"))
	})
}

func TestFetcher_RedactsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := srv.URL + "/DONKI/FLR?api_key=SECRETKEY&startDate=2026-06-14"
	srv.Close()

	rec := newFakeRecorder()
	f := NewFetcher(time.Second)
	f.SetRecorder(rec)

	_, result, err := f.Get(context.Background(), Request{Source: "donki", Endpoint: "flares", URL: target})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.NotContains(t, err.Error(), "SECRETKEY")
	assert.Contains(t, err.Error(), "api_key=REDACTED")
	assert.Contains(t, err.Error(), "startDate=2026-06-14")

	require.Len(t, rec.runs, 1)
	assert.True(t, rec.runs[0].ErrorMessage.Valid)
	assert.NotContains(t, rec.runs[0].ErrorMessage.String, "SECRETKEY")
}

func TestRedactURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"no query", "https://api.nasa.gov/DONKI/FLR", "https://api.nasa.gov/DONKI/FLR"},
		{"other params kept", "https://api.themoviedb.org/3/trending/movie/week?api_key=v3key&page=1", "https://api.themoviedb.org/3/trending/movie/week?api_key=REDACTED&page=1"},
		{"unparseable", "http://bad host/x?api_key=k", "http://bad host/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, redactURL(tt.raw))
		})
	}
}

func TestFetcher_Get(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantErr    string
		wantStatus int
	}{
		{"ok", http.StatusOK, `[{"kp_index":3}]`, "", 200},
		{"server error", http.StatusInternalServerError, `boom`, "status 500: boom", 500},
		{"rate limited", http.StatusTooManyRequests, `{"error":"slow down"}`, "status 429", 429},
		{"invalid json", http.StatusOK, `<html>`, "invalid JSON", 200},
		{"empty body", http.StatusOK, ``, "invalid JSON", 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			body, result, err := NewFetcher(time.Second).Get(context.Background(), Request{Source: "noaa", Endpoint: "kp", URL: srv.URL})

			assert.Equal(t, tt.wantStatus, result.HTTPStatus)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Nil(t, body)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.body, string(body))
			assert.Equal(t, len(tt.body), result.ResponseSize)
		})
	}
}

func TestFetcher_SendsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	header := http.Header{}
	header.Set("Authorization", "Bearer token")
	_, _, err := NewFetcher(time.Second).Get(context.Background(), Request{Source: "tmdb", Endpoint: "x", URL: srv.URL, Header: header})
	require.NoError(t, err)

	assert.Equal(t, httputil.UserAgent, got.Get("User-Agent"))
	assert.Equal(t, "application/json", got.Get("Accept"))
	assert.Equal(t, "Bearer token", got.Get("Authorization"))
}

func TestFetcher_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, _, err := NewFetcher(50*time.Millisecond).Get(context.Background(), Request{Source: "noaa", Endpoint: "kp", URL: srv.URL})
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestFetcher_Throttled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	f := NewFetcher(time.Second)
	f.SetLimiter("donki", rate.NewLimiter(rate.Every(time.Hour), 1))

	_, _, err := f.Get(context.Background(), Request{Source: "donki", Endpoint: "flares", URL: srv.URL})
	require.NoError(t, err)

	_, _, err = f.Get(context.Background(), Request{Source: "donki", Endpoint: "cme", URL: srv.URL})
	require.ErrorIs(t, err, ErrThrottled)

	// Other sources are unaffected.
	_, _, err = f.Get(context.Background(), Request{Source: "noaa", Endpoint: "kp", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcher_CachesOnlySuccess(t *testing.T) {
	var hits atomic.Int32
	fail := atomic.Bool{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[{"speed":400}]`))
	}))
	defer srv.Close()

	c := newMemCache()
	f := NewFetcher(time.Second)
	f.SetCache(c)

	fail.Store(true)
	req := Request{Source: "noaa", Endpoint: "solar-wind", URL: srv.URL, CacheTTL: time.Minute}
	_, _, err := f.Get(context.Background(), req)
	require.Error(t, err)
	assert.Empty(t, c.data, "failures must not be cached")

	fail.Store(false)
	body, result, err := f.Get(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, time.Minute, c.ttls["noaa:solar-wind"])

	cached, result, err := f.Get(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Equal(t, body, cached)
	assert.Equal(t, int32(2), hits.Load())

	// Requests without a TTL bypass the cache.
	_, _, err = f.Get(context.Background(), Request{Source: "noaa", Endpoint: "solar-wind", URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcher_RecordsRuns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	rec := newFakeRecorder()
	f := NewFetcher(time.Second)
	f.SetRecorder(rec)

	_, _, err := f.Get(context.Background(), Request{Source: "tmdb", Endpoint: "trending/movie", URL: srv.URL + "/ok"})
	require.NoError(t, err)
	_, _, err = f.Get(context.Background(), Request{Source: "tmdb", Endpoint: "trending/tv", URL: srv.URL + "/bad"})
	require.Error(t, err)

	require.Len(t, rec.runs, 2)
	assert.Equal(t, 2, rec.completed)

	ok := rec.runs[0]
	assert.True(t, ok.Success)
	assert.False(t, ok.Fallback)
	assert.Equal(t, int64(200), ok.HTTPStatus.Int64)
	assert.Equal(t, `{"results":[]}`, string(rec.payloads[ok.ID]))

	bad := rec.runs[1]
	assert.False(t, bad.Success)
	assert.True(t, bad.Fallback)
	assert.Equal(t, int64(503), bad.HTTPStatus.Int64)
	assert.Contains(t, bad.ErrorMessage.String, "status 503")
	assert.NotContains(t, rec.payloads, bad.ID)
}

func newSolarUpstream(t *testing.T, queries *sync.Map) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/json/planetary_k_index_1m.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"time_tag":"2026-06-21T11:59:00","kp_index":5,"estimated_kp":5.33,"kp":"5M"},
			{"time_tag":"2026-06-21T12:00:00","kp_index":6,"estimated_kp":6.0,"kp":"6o"}
		]`))
	})
	mux.HandleFunc("/json/solar-wind/solar-wind-speed-1-day.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"time_tag":"2026-06-21 12:00:00.000","speed":510.5,"density":0,"temperature":0}]`))
	})
	mux.HandleFunc("/donki/FLR", func(w http.ResponseWriter, r *http.Request) {
		queries.Store("FLR", r.URL.Query())
		w.Write([]byte(`[{"flrID":"2026-06-21T10:00:00-FLR-001","beginTime":"2026-06-21T09:50Z","peakTime":"2026-06-21T10:00Z","classType":"X1.2","sourceLocation":"N10E20"}]`))
	})
	mux.HandleFunc("/donki/CME", func(w http.ResponseWriter, r *http.Request) {
		queries.Store("CME", r.URL.Query())
		w.Write([]byte(`[{"cmeID":"C1","startTime":"2026-06-20T08:00Z","sourceLocation":"S20W10","cmeAnalyses":[{"speed":null},{"speed":880,"type":"C"}]}]`))
	})
	return httptest.NewServer(mux)
}

func TestSolarClient_Snapshot(t *testing.T) {
	var queries sync.Map
	srv := newSolarUpstream(t, &queries)
	defer srv.Close()

	client := NewSolarClient(NewFetcher(time.Second), SolarConfig{
		NOAABaseURL:  srv.URL + "/json",
		DONKIBaseURL: srv.URL + "/donki",
		NASAAPIKey:   "TESTKEY",
	}).WithClock(fixedClock)

	snap, status := client.Snapshot(context.Background())

	assert.False(t, status.Degraded(), "fallbacks: %v", status.Fallbacks)
	assert.Equal(t, 6.0, snap.KpIndex)
	assert.Equal(t, 6.0, snap.EstimatedKp)
	assert.Equal(t, models.ActivityHigh, snap.ActivityLevel)
	assert.Equal(t, 510.5, snap.SolarWind.Speed)
	assert.Equal(t, 5.0, snap.SolarWind.Density)

	require.Len(t, snap.SolarFlares, 1)
	assert.InDelta(t, 51.2, snap.SolarFlares[0].Intensity, 1e-9)
	assert.Equal(t, time.Date(2026, 6, 21, 10, 0, 0, 0, time.UTC), snap.SolarFlares[0].PeakTime)

	require.Len(t, snap.CMEEvents, 1)
	assert.Equal(t, 880.0, snap.CMEEvents[0].Speed)
	assert.Equal(t, "S20W10", snap.CMEEvents[0].Direction)

	for _, event := range []string{"FLR", "CME"} {
		v, ok := queries.Load(event)
		require.True(t, ok, event)
		q := v.(url.Values)
		assert.Equal(t, []string{"TESTKEY"}, q["api_key"], event)
		assert.Equal(t, []string{"2026-06-14"}, q["startDate"], event)
		assert.Equal(t, []string{"2026-06-21"}, q["endDate"], event)
	}
}

func TestSolarClient_FallsBackPerFeed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/json/planetary_k_index_1m.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"time_tag":"2026-06-21T12:00:00","kp_index":8,"estimated_kp":8.0,"kp":"8o"}]`))
	})
	mux.HandleFunc("/json/solar-wind/solar-wind-speed-1-day.json", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})
	mux.HandleFunc("/donki/", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "over quota", http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewSolarClient(NewFetcher(time.Second), SolarConfig{
		NOAABaseURL:  srv.URL + "/json",
		DONKIBaseURL: srv.URL + "/donki",
	}).WithClock(fixedClock)

	snap, status := client.Snapshot(context.Background())

	assert.Equal(t, []string{"donki/cme", "donki/flares", "noaa/solar-wind"}, status.Fallbacks)
	assert.Equal(t, 8.0, snap.KpIndex, "live feed kept")
	assert.Equal(t, models.ActivityExtreme, snap.ActivityLevel)

	assert.Equal(t, 420.0, snap.SolarWind.Speed)
	assert.Equal(t, 5.2, snap.SolarWind.Density)
	require.Len(t, snap.SolarFlares, 1)
	assert.Equal(t, "mock-flr-001", snap.SolarFlares[0].ID)
	assert.InDelta(t, 42.1, snap.SolarFlares[0].Intensity, 1e-9)
	assert.Equal(t, testNow.Add(-90*time.Minute), snap.SolarFlares[0].PeakTime)
	require.Len(t, snap.CMEEvents, 1)
	assert.Equal(t, 450.0, snap.CMEEvents[0].Speed)
}

func TestSolarClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := NewSolarClient(NewFetcher(time.Second), SolarConfig{
		NOAABaseURL:  srv.URL,
		DONKIBaseURL: srv.URL,
	}).WithClock(fixedClock)

	snap, status := client.Snapshot(context.Background())

	assert.Len(t, status.Fallbacks, 4)
	assert.Equal(t, 3.2, snap.KpIndex)
	assert.Equal(t, 3.1, snap.EstimatedKp)
	assert.Equal(t, models.ActivityModerate, snap.ActivityLevel)
	assert.Equal(t, testNow, snap.LastUpdate)
}

func TestSolarClient_RecordsToStore(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	st := store.New(db)
	require.NoError(t, st.Migrate())

	var queries sync.Map
	srv := newSolarUpstream(t, &queries)
	defer srv.Close()

	f := NewFetcher(time.Second)
	f.SetRecorder(st)
	client := NewSolarClient(f, SolarConfig{NOAABaseURL: srv.URL + "/json", DONKIBaseURL: srv.URL + "/donki"}).WithClock(fixedClock)

	_, status := client.Snapshot(context.Background())
	require.False(t, status.Degraded())

	statuses, err := st.SourceHealth()
	require.NoError(t, err)
	require.Len(t, statuses, 4)
	for _, s := range statuses {
		assert.True(t, s.Healthy, "%s/%s", s.Source, s.Endpoint)
	}

	stats, err := st.GetRawPayloadStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CountBySource["noaa"])
	assert.Equal(t, 2, stats.CountBySource["donki"])
}

func newTrendingUpstream(t *testing.T, requests *atomic.Int32, failMovies bool) (*httptest.Server, *sync.Map) {
	t.Helper()
	seen := &sync.Map{}
	mux := http.NewServeMux()
	mux.HandleFunc("/3/trending/movie/day", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		seen.Store("movie", r.Clone(context.Background()))
		if failMovies {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"results":[
			{"id":10,"title":"Interstellar","popularity":1200,"vote_average":8.4,"genre_ids":[12,18,878]},
			{"id":11,"title":"Notebook","popularity":300,"vote_average":7.9,"genre_ids":[10749,99999]}
		]}`))
	})
	mux.HandleFunc("/3/trending/tv/day", func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		seen.Store("tv", r.Clone(context.Background()))
		w.Write([]byte(`{"results":[{"id":20,"name":"Cosmos","popularity":900,"vote_average":9.1,"genre_ids":[99]}]}`))
	})
	return httptest.NewServer(mux), seen
}

func TestTrendingClient_NoCredentialsUsesMock(t *testing.T) {
	var requests atomic.Int32
	srv, _ := newTrendingUpstream(t, &requests, false)
	defer srv.Close()

	client := NewTrendingClient(NewFetcher(time.Second), TrendingConfig{BaseURL: srv.URL + "/3"}).WithClock(fixedClock)
	snap, status := client.Snapshot(context.Background())

	assert.Zero(t, requests.Load(), "no request without credentials")
	assert.False(t, status.Degraded())
	require.Len(t, snap.TrendingMovies, 3)
	require.Len(t, snap.TrendingTV, 3)
	assert.Equal(t, "Solar Storm", snap.TrendingMovies[0].Title)
	assert.Equal(t, "Space Weather Alert", snap.TrendingTV[0].Name)
	assert.Equal(t, "Thriller", snap.TopGenres[0].Name)
	assert.Equal(t, testNow, snap.LastUpdate)
}

func TestTrendingClient_BearerPreferred(t *testing.T) {
	var requests atomic.Int32
	srv, seen := newTrendingUpstream(t, &requests, false)
	defer srv.Close()

	client := NewTrendingClient(NewFetcher(time.Second), TrendingConfig{
		BaseURL:     srv.URL + "/3",
		APIKey:      "v3key",
		BearerToken: "v4token",
	}).WithClock(fixedClock)
	snap, status := client.Snapshot(context.Background())

	assert.False(t, status.Degraded())
	assert.Equal(t, int32(2), requests.Load())

	v, ok := seen.Load("movie")
	require.True(t, ok)
	r := v.(*http.Request)
	assert.Equal(t, "Bearer v4token", r.Header.Get("Authorization"))
	assert.Empty(t, r.URL.Query().Get("api_key"))
	assert.Equal(t, "en-US", r.URL.Query().Get("language"))

	require.Len(t, snap.TrendingMovies, 2)
	assert.Equal(t, []string{"Adventure", "Drama", "Science Fiction"}, snap.TrendingMovies[0].Genres)
	assert.Equal(t, []string{"Romance"}, snap.TrendingMovies[1].Genres, "unmapped genre ids are dropped")
	require.Len(t, snap.TrendingTV, 1)
	assert.Equal(t, "Cosmos", snap.TrendingTV[0].Name)
	assert.InDelta(t, 800, snap.AggregatedScore, 1e-9)
}

func TestTrendingClient_APIKeyQuery(t *testing.T) {
	var requests atomic.Int32
	srv, seen := newTrendingUpstream(t, &requests, false)
	defer srv.Close()

	client := NewTrendingClient(NewFetcher(time.Second), TrendingConfig{BaseURL: srv.URL + "/3", APIKey: "v3key"})
	client.Snapshot(context.Background())

	v, ok := seen.Load("tv")
	require.True(t, ok)
	r := v.(*http.Request)
	assert.Empty(t, r.Header.Get("Authorization"))
	assert.Equal(t, "v3key", r.URL.Query().Get("api_key"))
}

func TestTrendingClient_PartialFallback(t *testing.T) {
	var requests atomic.Int32
	srv, _ := newTrendingUpstream(t, &requests, true)
	defer srv.Close()

	client := NewTrendingClient(NewFetcher(time.Second), TrendingConfig{BaseURL: srv.URL + "/3", APIKey: "k"})
	snap, status := client.Snapshot(context.Background())

	assert.Equal(t, []string{"tmdb/trending/movie"}, status.Fallbacks)
	require.Len(t, snap.TrendingMovies, 3)
	assert.Equal(t, "Solar Storm", snap.TrendingMovies[0].Title)
	require.Len(t, snap.TrendingTV, 1)
	assert.Equal(t, "Cosmos", snap.TrendingTV[0].Name)
}

func TestStatus_Merge(t *testing.T) {
	s := Status{Fallbacks: []string{"tmdb/trending/tv"}}.Merge(Status{Fallbacks: []string{"donki/cme"}})
	assert.Equal(t, []string{"donki/cme", "tmdb/trending/tv"}, s.Fallbacks)
	assert.True(t, s.Degraded())
	assert.False(t, Status{}.Merge(Status{}).Degraded())
}

type fakeRefresher struct {
	degraded []bool
	err      error
	calls    int
}

func (f *fakeRefresher) Refresh(context.Context) (bool, error) {
	d := f.degraded[f.calls%len(f.degraded)]
	f.calls++
	return d, f.err
}

func TestScheduler_BacksOffWhileDegraded(t *testing.T) {
	ref := &fakeRefresher{degraded: []bool{true, true, true, false}}
	s := NewScheduler(ref, nil, time.Minute)

	ctx := context.Background()
	assert.Equal(t, time.Minute, s.refresh(ctx), "first backed-off interval is never shorter than the healthy one")
	assert.Equal(t, 90*time.Second, s.refresh(ctx))
	assert.Equal(t, 135*time.Second, s.refresh(ctx))

	assert.Equal(t, time.Minute, s.refresh(ctx), "healthy refresh resets the interval")
	assert.Equal(t, 4, ref.calls)
}

func TestScheduler_ErrorCountsAsDegraded(t *testing.T) {
	ref := &fakeRefresher{degraded: []bool{false}, err: errors.New("boom")}
	s := NewScheduler(ref, nil, time.Minute)

	s.refresh(context.Background())
	s.refresh(context.Background())
	assert.Greater(t, s.refresh(context.Background()), time.Minute)
}

type fakePruner struct {
	historyErrs []error
	calls       int
}

func (p *fakePruner) PruneHistory(int) (int64, error) {
	p.calls++
	if len(p.historyErrs) > 0 {
		err := p.historyErrs[0]
		p.historyErrs = p.historyErrs[1:]
		return 0, err
	}
	return 3, nil
}

func (p *fakePruner) CleanupOldRawPayloads(int) (int64, error) { return 0, nil }
func (p *fakePruner) CleanupOldIngestRuns(int) (int64, error)  { return 0, nil }

func TestScheduler_PruneRetriesOnlyLockContention(t *testing.T) {
	t.Run("permanent error is not retried", func(t *testing.T) {
		p := &fakePruner{historyErrs: []error{errors.New("no such table: history")}}
		NewScheduler(&fakeRefresher{degraded: []bool{false}}, p, time.Minute).prune()
		assert.Equal(t, 1, p.calls)
	})

	t.Run("locked database is retried", func(t *testing.T) {
		p := &fakePruner{historyErrs: []error{errors.New("database is locked (5) (SQLITE_BUSY)")}}
		NewScheduler(&fakeRefresher{degraded: []bool{false}}, p, time.Minute).prune()
		assert.Equal(t, 2, p.calls)
	})
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	ref := &fakeRefresher{degraded: []bool{false}}
	s := NewScheduler(ref, &fakePruner{}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
		}
		cancel()
		return false
	}, time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, ref.calls, 1)
}
