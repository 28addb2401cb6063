// Package correlation scores a solar snapshot against a trending snapshot.
//
// The model is illustrative. Its coefficients are a deterministic formula
// plus a bounded random jitter, and carry no statistical meaning.
package correlation

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/lox/heliotrends/internal/models"
)

// JitterMagnitude bounds the random term added to each coefficient.
const JitterMagnitude = 0.1

// Source yields uniform values in [0, 1). *rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Engine computes CorrelationResults. It is safe for concurrent use.
type Engine struct {
	mu  sync.Mutex
	src Source
	now func() time.Time
}

// NewEngine returns an engine drawing jitter from src. A nil src uses a
// time-seeded generator.
func NewEngine(src Source) *Engine {
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.New(rand.NewPCG(seed, seed>>17|1))
	}
	return &Engine{src: src, now: time.Now}
}

// WithClock replaces the engine's clock, used for timestamps and flare recency.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// jitter returns a value in [-JitterMagnitude, JitterMagnitude).
func (e *Engine) jitter() float64 {
	e.mu.Lock()
	v := e.src.Float64()
	e.mu.Unlock()
	return (v - 0.5) * 2 * JitterMagnitude
}

// Compute scores the two snapshots. When either is nil the fixed
// MockResult is returned instead.
func (e *Engine) Compute(solar *models.SolarSnapshot, trending *models.TrendingSnapshot) *models.CorrelationResult {
	now := e.now().UTC()
	if solar == nil || trending == nil {
		return MockResult(now)
	}

	solarScore := SolarActivityScore(solar)
	trendingScore := NormalizeTrendingScore(trending.AggregatedScore)

	coefficient := e.coefficient(solarScore, trendingScore)
	genres := e.genreCorrelations(solarScore, trending.TopGenres)

	return &models.CorrelationResult{
		Coefficient:       coefficient,
		Strength:          models.StrengthFor(coefficient),
		Significance:      Significance(coefficient),
		GenreCorrelations: genres,
		Anomalies:         DetectAnomalies(solar, trending, solarScore, coefficient, now),
		Insights:          Insights(solar, trending, solarScore, coefficient, genres, trending.TopGenres, now),
		LastCalculated:    now,
	}
}

// SolarActivityScore combines Kp, flares, CMEs and solar wind into a 0-100 score.
func SolarActivityScore(s *models.SolarSnapshot) float64 {
	if s == nil {
		return 0
	}
	score := s.KpIndex * 10

	for _, f := range s.SolarFlares {
		score += f.Intensity * 2
	}
	for _, c := range s.CMEEvents {
		score += math.Min(c.Speed/1000, 2) * 10
	}
	score += math.Min(s.SolarWind.Speed/800, 1.5) * 5

	if math.IsNaN(score) {
		return 0
	}
	return clamp(score, 0, 100)
}

// NormalizeTrendingScore maps mean popularity (typically 0-3000) onto 0-100.
func NormalizeTrendingScore(aggregated float64) float64 {
	return math.Min(aggregated/30, 100)
}

// BaseCoefficient is the coefficient before jitter and clamping.
func BaseCoefficient(solarScore, trendingScore float64) float64 {
	expected := 0.3 + (solarScore/100)*0.4
	difference := math.Abs(solarScore-trendingScore) / 100
	return expected - difference*0.5
}

func (e *Engine) coefficient(solarScore, trendingScore float64) float64 {
	c := BaseCoefficient(solarScore, trendingScore) + e.jitter()
	if math.IsNaN(c) {
		return 0
	}
	return clamp(c, -1, 1)
}

// Significance is a confidence-flavoured transform of |coefficient| in [60, 95].
// It is not a p-value.
func Significance(coefficient float64) float64 {
	return math.Min(95, 60+math.Abs(coefficient)*35)
}

// genreExpectations is the assumed correlation of each genre with solar
// activity. Genres not listed expect 0.
var genreExpectations = map[string]float64{
	"Science Fiction": 0.8,
	"Thriller":        0.6,
	"Documentary":     0.5,
	"Horror":          0.3,
	"Action":          0.2,
	"Drama":           0.1,
	"Comedy":          -0.1,
	"Romance":         -0.3,
	"Family":          -0.2,
	"Animation":       -0.1,
}

// ExpectedGenreCorrelation returns the table value for a genre, or 0.
func ExpectedGenreCorrelation(genre string) float64 {
	return genreExpectations[genre]
}

func (e *Engine) genreCorrelations(solarScore float64, genres []models.GenreStat) map[string]float64 {
	out := make(map[string]float64, len(genres))
	for _, g := range genres {
		influence := (solarScore / 100) * ExpectedGenreCorrelation(g.Name)
		v := influence + e.jitter()
		if math.IsNaN(v) {
			v = 0
		}
		out[g.Name] = clamp(v, -1, 1)
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
