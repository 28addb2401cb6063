package ingest

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/heliotrends/internal/metrics"
	"github.com/lox/heliotrends/internal/models"
	"github.com/lox/heliotrends/internal/normalize"
)

const (
	DefaultTMDBBaseURL = "https://api.themoviedb.org/3"

	// TrendingCacheTTL matches the Cache-Control max-age of the trending endpoint.
	TrendingCacheTTL = 10 * time.Minute
)

type TrendingConfig struct {
	BaseURL     string
	APIKey      string
	BearerToken string
}

// TrendingClient builds TrendingSnapshots from the TMDB trending endpoints.
type TrendingClient struct {
	fetcher *Fetcher
	baseURL string
	apiKey  string
	bearer  string
	now     func() time.Time
}

func NewTrendingClient(fetcher *Fetcher, cfg TrendingConfig) *TrendingClient {
	c := &TrendingClient{
		fetcher: fetcher,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		bearer:  cfg.BearerToken,
		now:     time.Now,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultTMDBBaseURL
	}
	if !c.Configured() {
		log.Println("ingest: no TMDB credentials, serving mock trending data")
	}
	return c
}

// WithClock replaces the client's clock.
func (c *TrendingClient) WithClock(now func() time.Time) *TrendingClient {
	c.now = now
	return c
}

// Configured reports whether any TMDB credential is set.
func (c *TrendingClient) Configured() bool {
	return c.bearer != "" || c.apiKey != ""
}

// Snapshot fetches trending movies and shows in parallel. Without
// credentials no request is made and the mock entries are used.
func (c *TrendingClient) Snapshot(ctx context.Context) (*models.TrendingSnapshot, Status) {
	now := c.now().UTC()

	if !c.Configured() {
		metrics.FallbacksTotal.WithLabelValues("tmdb", "unconfigured").Inc()
		return normalize.NormalizeTrending(mockMovies(), mockShows(), now), Status{}
	}

	var (
		movies normalize.TMDBPage
		shows  normalize.TMDBPage
		fb     fallbacks
		g      errgroup.Group
	)

	g.Go(func() error {
		if err := getJSON(ctx, c.fetcher, c.request("trending/movie"), &movies); err != nil {
			fb.add("tmdb", "trending/movie", err)
			movies.Results = mockMovies()
		}
		return nil
	})

	g.Go(func() error {
		if err := getJSON(ctx, c.fetcher, c.request("trending/tv"), &shows); err != nil {
			fb.add("tmdb", "trending/tv", err)
			shows.Results = mockShows()
		}
		return nil
	})

	g.Wait()

	return normalize.NormalizeTrending(movies.Results, shows.Results, now), fb.status()
}

// request builds a day-window trending request. The bearer token is
// preferred over the v3 API key.
func (c *TrendingClient) request(endpoint string) Request {
	q := url.Values{}
	q.Set("language", "en-US")

	header := http.Header{}
	if c.bearer != "" {
		header.Set("Authorization", "Bearer "+c.bearer)
	} else {
		q.Set("api_key", c.apiKey)
	}

	return Request{
		Source:   "tmdb",
		Endpoint: endpoint,
		URL:      c.baseURL + "/" + endpoint + "/day?" + q.Encode(),
		Header:   header,
		CacheTTL: TrendingCacheTTL,
	}
}
