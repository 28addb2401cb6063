// Package aggregate composes the solar and trending feeds into a scored
// dashboard and pushes each result into history and the live state.
package aggregate

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lox/heliotrends/internal/correlation"
	"github.com/lox/heliotrends/internal/dashboard"
	"github.com/lox/heliotrends/internal/ingest"
	"github.com/lox/heliotrends/internal/metrics"
	"github.com/lox/heliotrends/internal/models"
	"github.com/lox/heliotrends/internal/normalize"
	"github.com/lox/heliotrends/internal/store"
)

const summaryTimeout = 20 * time.Second

type SolarSource interface {
	Snapshot(ctx context.Context) (*models.SolarSnapshot, ingest.Status)
}

type TrendingSource interface {
	Snapshot(ctx context.Context) (*models.TrendingSnapshot, ingest.Status)
}

// HistoryStore persists one scored point per day. *store.Store satisfies it.
type HistoryStore interface {
	UpsertHistory(p models.HistoryPoint, recordedAt time.Time) error
	GetHistory(limit int) ([]models.HistoryPoint, error)
}

type Summarizer interface {
	Summarize(ctx context.Context, solar *models.SolarSnapshot, trending *models.TrendingSnapshot, corr *models.CorrelationResult) (string, error)
}

type Service struct {
	solar    SolarSource
	trending TrendingSource
	engine   *correlation.Engine
	history  HistoryStore
	state    *dashboard.State
	narrator Summarizer
	now      func() time.Time
}

// NewService wires the feeds to the engine. history and state may be nil.
func NewService(solar SolarSource, trending TrendingSource, engine *correlation.Engine, history HistoryStore, state *dashboard.State) *Service {
	return &Service{
		solar:    solar,
		trending: trending,
		engine:   engine,
		history:  history,
		state:    state,
		now:      time.Now,
	}
}

// WithNarrator enables summaries on background refreshes.
func (s *Service) WithNarrator(n Summarizer) *Service {
	s.narrator = n
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Solar(ctx context.Context) (*models.SolarSnapshot, ingest.Status) {
	return s.solar.Snapshot(ctx)
}

func (s *Service) Trending(ctx context.Context) (*models.TrendingSnapshot, ingest.Status) {
	return s.trending.Snapshot(ctx)
}

// Correlate scores caller-supplied snapshots without touching history or
// state. The activity level and flare intensities are derived again from Kp
// and class type rather than taken from the caller.
func (s *Service) Correlate(solar *models.SolarSnapshot, trending *models.TrendingSnapshot) *models.CorrelationResult {
	return s.engine.Compute(rederive(solar), trending)
}

func rederive(solar *models.SolarSnapshot) *models.SolarSnapshot {
	if solar == nil {
		return nil
	}
	snap := normalize.WithKp(*solar, solar.KpIndex)
	if snap.SolarFlares != nil {
		flares := make([]models.FlareEvent, len(snap.SolarFlares))
		for i, f := range snap.SolarFlares {
			f.Intensity = normalize.FlareIntensity(f.ClassType)
			flares[i] = f
		}
		snap.SolarFlares = flares
	}
	return &snap
}

// Dashboard fetches both feeds, scores them, and records the result. The
// summary is the one produced by the most recent refresh.
func (s *Service) Dashboard(ctx context.Context) (*models.Dashboard, ingest.Status) {
	d, status := s.build(ctx, false)
	if s.state != nil && d.Summary == "" {
		d.Summary = s.state.Snapshot().Summary
	}
	return d, status
}

// Refresh builds a dashboard with a fresh summary. It reports whether any
// upstream served fallback data.
func (s *Service) Refresh(ctx context.Context) (bool, error) {
	d, status := s.build(ctx, true)
	if err := ctx.Err(); err != nil {
		return status.Degraded(), err
	}
	log.Printf("aggregate: refreshed, kp=%.1f coefficient=%.3f anomalies=%d fallbacks=%d",
		d.Solar.KpIndex, d.Correlation.Coefficient, len(d.Correlation.Anomalies), len(status.Fallbacks))
	return status.Degraded(), nil
}

func (s *Service) build(ctx context.Context, summarize bool) (*models.Dashboard, ingest.Status) {
	var (
		solar          *models.SolarSnapshot
		trending       *models.TrendingSnapshot
		solarStatus    ingest.Status
		trendingStatus ingest.Status
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		solar, solarStatus = s.solar.Snapshot(gctx)
		return nil
	})
	g.Go(func() error {
		trending, trendingStatus = s.trending.Snapshot(gctx)
		return nil
	})
	g.Wait()

	corr := s.engine.Compute(solar, trending)
	metrics.CorrelationCoefficient.Set(corr.Coefficient)
	for _, a := range corr.Anomalies {
		metrics.AnomaliesDetected.WithLabelValues(a.Type).Inc()
	}

	d := &models.Dashboard{
		Solar:       solar,
		Trending:    trending,
		Correlation: corr,
	}

	if summarize && s.narrator != nil {
		sctx, cancel := context.WithTimeout(ctx, summaryTimeout)
		summary, err := s.narrator.Summarize(sctx, solar, trending, corr)
		cancel()
		if err != nil {
			log.Printf("aggregate: summary failed: %v", err)
		} else {
			d.Summary = summary
		}
	}

	s.record(d)

	if s.state != nil {
		s.state.Update(dashboard.Snapshot{
			Solar:       solar,
			Trending:    trending,
			Correlation: corr,
			Summary:     d.Summary,
		})
	}

	return d, solarStatus.Merge(trendingStatus)
}

func (s *Service) record(d *models.Dashboard) {
	if s.history == nil || d.Solar == nil || d.Trending == nil {
		return
	}
	now := s.now()
	p := models.HistoryPoint{
		Date:          store.HistoryDate(now),
		SolarScore:    correlation.SolarActivityScore(d.Solar),
		TrendingScore: correlation.NormalizeTrendingScore(d.Trending.AggregatedScore),
		Coefficient:   d.Correlation.Coefficient,
	}
	if err := s.history.UpsertHistory(p, now); err != nil {
		log.Printf("aggregate: failed to record history: %v", err)
	}
}

// History returns up to limit recorded days, oldest first, with the rolling
// correlation filled in.
func (s *Service) History(limit int) ([]models.HistoryPoint, error) {
	if s.history == nil {
		return nil, nil
	}
	points, err := s.history.GetHistory(limit)
	if err != nil {
		return nil, err
	}
	return correlation.Rolling(points, correlation.RollingWindow), nil
}
