package models

import (
	"math"
	"time"
)

type ActivityLevel string

const (
	ActivityLow      ActivityLevel = "LOW"
	ActivityModerate ActivityLevel = "MODERATE"
	ActivityHigh     ActivityLevel = "HIGH"
	ActivityExtreme  ActivityLevel = "EXTREME"
)

// ActivityLevelFor maps a Kp-index onto the fixed activity thresholds.
func ActivityLevelFor(kp float64) ActivityLevel {
	switch {
	case kp >= 7:
		return ActivityExtreme
	case kp >= 5:
		return ActivityHigh
	case kp >= 3:
		return ActivityModerate
	default:
		return ActivityLow
	}
}

// Severity returns a numeric rank for comparisons (higher = more active).
func (a ActivityLevel) Severity() int {
	switch a {
	case ActivityExtreme:
		return 3
	case ActivityHigh:
		return 2
	case ActivityModerate:
		return 1
	default:
		return 0
	}
}

type Strength string

const (
	StrengthWeak     Strength = "WEAK"
	StrengthModerate Strength = "MODERATE"
	StrengthStrong   Strength = "STRONG"
)

// StrengthFor classifies a correlation coefficient by magnitude.
func StrengthFor(coefficient float64) Strength {
	abs := math.Abs(coefficient)
	switch {
	case abs > 0.7:
		return StrengthStrong
	case abs > 0.4:
		return StrengthModerate
	default:
		return StrengthWeak
	}
}

type FlareEvent struct {
	ID        string    `json:"id"`
	ClassType string    `json:"classType"`
	PeakTime  time.Time `json:"peakTime"`
	Intensity float64   `json:"intensity"`
}

type CMEEvent struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"startTime"`
	Speed     float64   `json:"speed"` // km/s
	Direction string    `json:"direction"`
}

type SolarWind struct {
	Speed       float64 `json:"speed"`       // km/s
	Density     float64 `json:"density"`     // protons/cm3
	Temperature float64 `json:"temperature"` // kelvin
}

// SolarSnapshot is the point-in-time space weather state built per request.
type SolarSnapshot struct {
	KpIndex       float64       `json:"kpIndex"`
	EstimatedKp   float64       `json:"estimatedKp"`
	ActivityLevel ActivityLevel `json:"activityLevel"`
	SolarFlares   []FlareEvent  `json:"solarFlares"`
	CMEEvents     []CMEEvent    `json:"cmeEvents"`
	SolarWind     SolarWind     `json:"solarWind"`
	LastUpdate    time.Time     `json:"lastUpdate"`
}

// TrendingItem is a movie or TV show. Movies carry Title, shows carry Name.
type TrendingItem struct {
	ID         int64    `json:"id"`
	Title      string   `json:"title,omitempty"`
	Name       string   `json:"name,omitempty"`
	Popularity float64  `json:"popularity"`
	Genres     []string `json:"genres"`
	Rating     float64  `json:"rating"`
}

// DisplayTitle returns Title for movies and Name for shows.
func (t TrendingItem) DisplayTitle() string {
	if t.Title != "" {
		return t.Title
	}
	return t.Name
}

type GenreStat struct {
	Name       string  `json:"name"`
	Count      int     `json:"count"`
	Popularity float64 `json:"popularity"`
}

type TrendingSnapshot struct {
	TrendingMovies  []TrendingItem `json:"trendingMovies"`
	TrendingTV      []TrendingItem `json:"trendingTv"`
	TopGenres       []GenreStat    `json:"topGenres"`
	AggregatedScore float64        `json:"aggregatedScore"`
	LastUpdate      time.Time      `json:"lastUpdate"`
}

type Anomaly struct {
	Timestamp   time.Time `json:"timestamp"`
	Type        string    `json:"type"`
	Description string    `json:"description"`
	Confidence  float64   `json:"confidence"`
}

type CorrelationResult struct {
	Coefficient       float64            `json:"coefficient"`
	Strength          Strength           `json:"strength"`
	Significance      float64            `json:"significance"`
	GenreCorrelations map[string]float64 `json:"genreCorrelations"`
	Anomalies         []Anomaly          `json:"anomalies"`
	Insights          []string           `json:"insights"`
	LastCalculated    time.Time          `json:"lastCalculated"`
}

// HistoryPoint is one day of recorded scores. Correlation is the rolling
// Pearson value recomputed on read.
type HistoryPoint struct {
	Date          string  `json:"date"`
	SolarScore    float64 `json:"solarScore"`
	TrendingScore float64 `json:"netflixScore"`
	Coefficient   float64 `json:"coefficient"`
	Correlation   float64 `json:"correlation"`
}

// Dashboard is the composed aggregation document.
type Dashboard struct {
	Solar       *SolarSnapshot     `json:"solar"`
	Trending    *TrendingSnapshot  `json:"trending"`
	Correlation *CorrelationResult `json:"correlation"`
	Summary     string             `json:"summary,omitempty"`
}
