package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"golang.org/x/time/rate"
	_ "modernc.org/sqlite"

	"github.com/lox/heliotrends/internal/aggregate"
	"github.com/lox/heliotrends/internal/api"
	"github.com/lox/heliotrends/internal/cache"
	"github.com/lox/heliotrends/internal/correlation"
	"github.com/lox/heliotrends/internal/dashboard"
	"github.com/lox/heliotrends/internal/ingest"
	"github.com/lox/heliotrends/internal/models"
	"github.com/lox/heliotrends/internal/narrative"
	"github.com/lox/heliotrends/internal/store"
)

type Globals struct {
	DB              string        `name:"db" env:"HELIO_DB" default:"data/heliotrends.db" help:"Path to SQLite database."`
	NASAAPIKey      string        `name:"nasa-api-key" env:"NASA_API_KEY" default:"DEMO_KEY" help:"NASA API key for DONKI."`
	TMDBAPIKey      string        `name:"tmdb-api-key" env:"TMDB_API_KEY" help:"TMDB v3 API key."`
	TMDBBearerToken string        `name:"tmdb-bearer-token" env:"TMDB_BEARER_TOKEN" help:"TMDB v4 read access token (preferred over the API key)."`
	NOAABaseURL     string        `name:"noaa-base-url" default:"${noaa_base_url}" help:"NOAA SWPC JSON base URL."`
	DONKIBaseURL    string        `name:"donki-base-url" default:"${donki_base_url}" help:"NASA DONKI base URL."`
	TMDBBaseURL     string        `name:"tmdb-base-url" default:"${tmdb_base_url}" help:"TMDB API base URL."`
	UpstreamTimeout time.Duration `name:"upstream-timeout" default:"10s" help:"Timeout for each upstream request."`
	RedisURL        string        `name:"redis-url" env:"REDIS_URL" help:"Redis URL for caching upstream responses."`
	OpenAIAPIKey    string        `name:"openai-api-key" env:"OPENAI_API_KEY" help:"OpenAI API key for dashboard summaries."`
	OpenAIModel     string        `name:"openai-model" env:"OPENAI_MODEL" default:"${openai_model}" help:"Chat model for dashboard summaries."`
}

type CLI struct {
	Globals

	EnvFile kongdotenv.ENVFileConfig `name:"env-file" default:".env" help:"Path to a .env file to load."`

	Serve ServeCmd `cmd:"" default:"1" help:"Serve the API and refresh in the background."`
	Once  OnceCmd  `cmd:"" help:"Refresh once, print the dashboard as JSON, and exit."`
}

type ServeCmd struct {
	Port     string        `name:"port" env:"PORT" default:"8080" help:"HTTP server port."`
	NoPoll   bool          `name:"no-poll" help:"Disable background refresh (server only, for local dev)."`
	Interval time.Duration `name:"interval" default:"5m" help:"Background refresh interval."`
}

type OnceCmd struct{}

// app is the wired object graph shared by both commands.
type app struct {
	db      *sql.DB
	store   *store.Store
	cache   *cache.Redis
	state   *dashboard.State
	service *aggregate.Service
}

func (a *app) Close() {
	if a.cache != nil {
		a.cache.Close()
	}
	a.db.Close()
}

func newApp(ctx context.Context, g *Globals) (*app, error) {
	if err := os.MkdirAll(filepath.Dir(g.DB), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", g.DB)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Println("database migrated")

	a := &app{db: db, store: st}

	fetcher := ingest.NewFetcher(g.UpstreamTimeout)
	fetcher.SetRecorder(st)
	fetcher.SetLimiter("donki", donkiLimiter(g.NASAAPIKey))

	if g.RedisURL != "" {
		c, err := cache.NewRedis(ctx, g.RedisURL)
		if err != nil {
			log.Printf("cache: redis unavailable, continuing without: %v", err)
		} else {
			log.Println("cache: using redis for upstream responses")
			fetcher.SetCache(c)
			a.cache = c
		}
	}

	solar := ingest.NewSolarClient(fetcher, ingest.SolarConfig{
		NOAABaseURL:  g.NOAABaseURL,
		DONKIBaseURL: g.DONKIBaseURL,
		NASAAPIKey:   g.NASAAPIKey,
	})
	trending := ingest.NewTrendingClient(fetcher, ingest.TrendingConfig{
		BaseURL:     g.TMDBBaseURL,
		APIKey:      g.TMDBAPIKey,
		BearerToken: g.TMDBBearerToken,
	})

	a.state = dashboard.NewState()
	a.service = aggregate.NewService(solar, trending, correlation.NewEngine(nil), st, a.state)

	if gen, err := narrative.NewGenerator(narrative.Config{APIKey: g.OpenAIAPIKey, Model: g.OpenAIModel}); err != nil {
		log.Printf("narrative: summaries disabled: %v", err)
	} else {
		a.service.WithNarrator(gen)
	}

	return a, nil
}

// donkiLimiter keeps DEMO_KEY usage under its 30 requests per hour.
func donkiLimiter(apiKey string) *rate.Limiter {
	if apiKey == "" || apiKey == ingest.DefaultNASAAPIKey {
		return rate.NewLimiter(rate.Every(2*time.Minute), 4)
	}
	return rate.NewLimiter(rate.Every(4*time.Second), 10)
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(a.service, a.store, a.state, c.Port)

	if !c.NoPoll {
		scheduler := ingest.NewScheduler(a.service, a.store, c.Interval)
		go scheduler.Run(ctx)
	} else {
		log.Println("polling disabled (--no-poll)")
	}

	log.Printf("starting server on :%s", c.Port)
	return server.Run(ctx)
}

func (c *OnceCmd) Run(g *Globals) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, g)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Println("running single refresh")
	degraded, err := a.service.Refresh(ctx)
	if err != nil {
		return err
	}
	if degraded {
		log.Println("some upstreams served fallback data")
	}

	snap := a.state.Snapshot()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(models.Dashboard{
		Solar:       snap.Solar,
		Trending:    snap.Trending,
		Correlation: snap.Correlation,
		Summary:     snap.Summary,
	})
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("heliotrends"),
		kong.Description("Space weather versus trending entertainment dashboard backend."),
		kong.UsageOnError(),
		kong.Vars{
			"noaa_base_url":  ingest.DefaultNOAABaseURL,
			"donki_base_url": ingest.DefaultDONKIBaseURL,
			"tmdb_base_url":  ingest.DefaultTMDBBaseURL,
			"openai_model":   narrative.DefaultModel,
		},
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		log.Fatalf("%s: %v", ctx.Command(), err)
	}
}
