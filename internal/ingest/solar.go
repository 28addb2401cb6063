package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/heliotrends/internal/metrics"
	"github.com/lox/heliotrends/internal/models"
	"github.com/lox/heliotrends/internal/normalize"
)

const (
	DefaultNOAABaseURL  = "https://services.swpc.noaa.gov/json"
	DefaultDONKIBaseURL = "https://api.nasa.gov/DONKI"
	DefaultNASAAPIKey   = "DEMO_KEY"

	// SolarCacheTTL matches the Cache-Control max-age of the solar endpoint.
	SolarCacheTTL = 5 * time.Minute

	donkiLookback = 7 * 24 * time.Hour
)

// Status reports which upstream endpoints were replaced by mock data.
type Status struct {
	Fallbacks []string `json:"fallbacks,omitempty"`
}

// Degraded reports whether any endpoint fell back to mock data.
func (s Status) Degraded() bool {
	return len(s.Fallbacks) > 0
}

// Merge combines two statuses.
func (s Status) Merge(o Status) Status {
	out := Status{Fallbacks: append(append([]string(nil), s.Fallbacks...), o.Fallbacks...)}
	sort.Strings(out.Fallbacks)
	return out
}

// fallbacks collects endpoint failures from concurrent fetches.
type fallbacks struct {
	mu    sync.Mutex
	names []string
}

func (fb *fallbacks) add(source, endpoint string, err error) {
	log.Printf("ingest: %s %s fetch failed, using fallback: %v", source, endpoint, err)
	metrics.FallbacksTotal.WithLabelValues(source, endpoint).Inc()

	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.names = append(fb.names, source+"/"+endpoint)
}

func (fb *fallbacks) status() Status {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	names := append([]string(nil), fb.names...)
	sort.Strings(names)
	return Status{Fallbacks: names}
}

// getJSON fetches req and decodes the body into out.
func getJSON(ctx context.Context, f *Fetcher, req Request, out any) error {
	body, _, err := f.Get(ctx, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", req.Source, req.Endpoint, err)
	}
	return nil
}

type SolarConfig struct {
	NOAABaseURL  string
	DONKIBaseURL string
	NASAAPIKey   string
}

// SolarClient builds SolarSnapshots from the NOAA SWPC and NASA DONKI feeds.
type SolarClient struct {
	fetcher   *Fetcher
	noaaBase  string
	donkiBase string
	apiKey    string
	now       func() time.Time
}

func NewSolarClient(fetcher *Fetcher, cfg SolarConfig) *SolarClient {
	c := &SolarClient{
		fetcher:   fetcher,
		noaaBase:  cfg.NOAABaseURL,
		donkiBase: cfg.DONKIBaseURL,
		apiKey:    cfg.NASAAPIKey,
		now:       time.Now,
	}
	if c.noaaBase == "" {
		c.noaaBase = DefaultNOAABaseURL
	}
	if c.donkiBase == "" {
		c.donkiBase = DefaultDONKIBaseURL
	}
	if c.apiKey == "" {
		c.apiKey = DefaultNASAAPIKey
	}
	return c
}

// WithClock replaces the client's clock, used for DONKI date ranges and mocks.
func (c *SolarClient) WithClock(now func() time.Time) *SolarClient {
	c.now = now
	return c
}

// Snapshot fetches all four feeds in parallel. Each feed that fails is
// replaced by its mock payload, so a snapshot is always returned.
func (c *SolarClient) Snapshot(ctx context.Context) (*models.SolarSnapshot, Status) {
	now := c.now().UTC()

	var (
		kp     []normalize.KpRecord
		wind   []normalize.SolarWindRecord
		flares []normalize.DonkiFlare
		cmes   []normalize.DonkiCME
		fb     fallbacks
		g      errgroup.Group
	)

	g.Go(func() error {
		err := getJSON(ctx, c.fetcher, Request{
			Source:   "noaa",
			Endpoint: "kp",
			URL:      c.noaaBase + "/planetary_k_index_1m.json",
			CacheTTL: SolarCacheTTL,
		}, &kp)
		if err == nil && len(kp) == 0 {
			err = errors.New("no kp records")
		}
		if err != nil {
			fb.add("noaa", "kp", err)
			kp = mockKp(now)
		}
		return nil
	})

	g.Go(func() error {
		err := getJSON(ctx, c.fetcher, Request{
			Source:   "noaa",
			Endpoint: "solar-wind",
			URL:      c.noaaBase + "/solar-wind/solar-wind-speed-1-day.json",
			CacheTTL: SolarCacheTTL,
		}, &wind)
		if err == nil && len(wind) == 0 {
			err = errors.New("no solar wind records")
		}
		if err != nil {
			fb.add("noaa", "solar-wind", err)
			wind = mockSolarWind(now)
		}
		return nil
	})

	g.Go(func() error {
		err := getJSON(ctx, c.fetcher, Request{
			Source:   "donki",
			Endpoint: "flares",
			URL:      c.donkiURL("FLR", now),
			CacheTTL: SolarCacheTTL,
		}, &flares)
		if err != nil {
			fb.add("donki", "flares", err)
			flares = mockFlares(now)
		}
		return nil
	})

	g.Go(func() error {
		err := getJSON(ctx, c.fetcher, Request{
			Source:   "donki",
			Endpoint: "cme",
			URL:      c.donkiURL("CME", now),
			CacheTTL: SolarCacheTTL,
		}, &cmes)
		if err != nil {
			fb.add("donki", "cme", err)
			cmes = mockCMEs(now)
		}
		return nil
	})

	g.Wait()

	snap := normalize.NormalizeSolar(kp, wind, flares, cmes, now)
	if flags := normalize.ValidateSolar(snap); len(flags) > 0 {
		log.Printf("ingest: solar snapshot quality flags: %s", normalize.QualityFlagsToJSON(flags))
	}
	return snap, fb.status()
}

func (c *SolarClient) donkiURL(event string, now time.Time) string {
	q := url.Values{}
	q.Set("startDate", now.Add(-donkiLookback).Format("2006-01-02"))
	q.Set("endDate", now.Format("2006-01-02"))
	q.Set("api_key", c.apiKey)
	return fmt.Sprintf("%s/%s?%s", c.donkiBase, event, q.Encode())
}
