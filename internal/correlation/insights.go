package correlation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/lox/heliotrends/internal/models"
)

const (
	AnomalyCorrelation      = "correlation_anomaly"
	AnomalyGenre            = "genre_anomaly"
	AnomalyCorrelationSpike = "correlation_spike"
)

// DefaultInsight is emitted when only the correlation sentence applies.
const DefaultInsight = "Solar activity and streaming patterns are within normal ranges. Continue monitoring for emerging correlations."

const recentFlareWindow = 24 * time.Hour

// spaceGenres mark trending content as space-themed.
var spaceGenres = map[string]bool{
	"Science Fiction":  true,
	"Sci-Fi & Fantasy": true,
	"Documentary":      true,
}

// DetectAnomalies applies the fixed anomaly rules in order.
func DetectAnomalies(solar *models.SolarSnapshot, trending *models.TrendingSnapshot, solarScore, coefficient float64, now time.Time) []models.Anomaly {
	anomalies := []models.Anomaly{}
	abs := math.Abs(coefficient)

	if solar.ActivityLevel == models.ActivityExtreme && abs < 0.3 {
		anomalies = append(anomalies, models.Anomaly{
			Timestamp:   now,
			Type:        AnomalyCorrelation,
			Description: "Extreme solar activity detected but correlation remains weak",
			Confidence:  0.85,
		})
	}

	if solarScore > 70 && !sciFiTrending(trending.TopGenres) {
		anomalies = append(anomalies, models.Anomaly{
			Timestamp:   now,
			Type:        AnomalyGenre,
			Description: "High solar activity but Science Fiction content not trending",
			Confidence:  0.72,
		})
	}

	if abs > 0.8 {
		direction := "strong negative"
		if coefficient > 0 {
			direction = "strong positive"
		}
		anomalies = append(anomalies, models.Anomaly{
			Timestamp:   now,
			Type:        AnomalyCorrelationSpike,
			Description: fmt.Sprintf("Unusually %s correlation detected", direction),
			Confidence:  0.68,
		})
	}

	return anomalies
}

// sciFiTrending reports whether Science Fiction is among the top genres with
// an average popularity of at least 500.
func sciFiTrending(genres []models.GenreStat) bool {
	for _, g := range genres {
		if g.Name == "Science Fiction" {
			return g.Popularity >= 500
		}
	}
	return false
}

// Insights builds the ordered insight sentences: correlation, activity,
// genre, recent flares, space-themed content, CMEs, then the default.
// Genres are visited in topGenres order so ties resolve deterministically.
func Insights(solar *models.SolarSnapshot, trending *models.TrendingSnapshot, solarScore, coefficient float64, genreCorrelations map[string]float64, topGenres []models.GenreStat, now time.Time) []string {
	var insights []string

	direction := "negative"
	if coefficient > 0 {
		direction = "positive"
	}
	strength := strings.ToLower(string(models.StrengthFor(coefficient)))
	insights = append(insights, fmt.Sprintf(
		"%s %s correlation (r=%.3f) detected between solar activity and streaming trends.",
		capitalize(strength), direction, coefficient))

	if solar.ActivityLevel.Severity() >= models.ActivityHigh.Severity() {
		insights = append(insights, fmt.Sprintf(
			"%s geomagnetic activity (Kp=%.1f) may be influencing viewing preferences toward space-themed content.",
			capitalize(strings.ToLower(string(solar.ActivityLevel))), solar.KpIndex))
	}

	if name, v, ok := strongestGenre(genreCorrelations, topGenres); ok && math.Abs(v) > 0.5 {
		genreDirection := "negative"
		if v > 0 {
			genreDirection = "positive"
		}
		insights = append(insights, fmt.Sprintf(
			"%s content shows %.0f%% %s correlation with solar activity.",
			name, math.Abs(v*100), genreDirection))
	}

	if recent := RecentFlares(solar.SolarFlares, now); recent > 0 {
		insights = append(insights, fmt.Sprintf(
			"%d solar flare(s) detected in the last 24 hours. Historical patterns suggest a 24-48 hour lag in streaming behavior changes.",
			recent))
	}

	if top, ok := topContent(trending); ok && solarScore > 50 && hasSpaceGenre(top.Genres) {
		insights = append(insights, fmt.Sprintf(
			"\"%s\" is currently trending and contains space-related themes, potentially linked to current solar activity levels.",
			top.DisplayTitle()))
	}

	if n := len(solar.CMEEvents); n > 0 {
		insights = append(insights, fmt.Sprintf(
			"%d CME event(s) detected. Based on historical data, expect potential streaming pattern changes in the next 1-3 days.",
			n))
	}

	if len(insights) == 1 {
		insights = append(insights, DefaultInsight)
	}
	return insights
}

// RecentFlares counts flares that peaked less than 24 hours before now.
// Flares with an unknown peak time are ignored.
func RecentFlares(flares []models.FlareEvent, now time.Time) int {
	n := 0
	for _, f := range flares {
		if f.PeakTime.IsZero() {
			continue
		}
		if now.Sub(f.PeakTime) < recentFlareWindow {
			n++
		}
	}
	return n
}

func strongestGenre(correlations map[string]float64, order []models.GenreStat) (string, float64, bool) {
	var (
		best  string
		value float64
		found bool
	)
	for _, g := range order {
		v, ok := correlations[g.Name]
		if !ok {
			continue
		}
		if !found || math.Abs(v) > math.Abs(value) {
			best, value, found = g.Name, v, true
		}
	}
	return best, value, found
}

// topContent is the first trending movie, or the first show when there are no movies.
func topContent(t *models.TrendingSnapshot) (models.TrendingItem, bool) {
	if len(t.TrendingMovies) > 0 {
		return t.TrendingMovies[0], true
	}
	if len(t.TrendingTV) > 0 {
		return t.TrendingTV[0], true
	}
	return models.TrendingItem{}, false
}

func hasSpaceGenre(genres []string) bool {
	for _, g := range genres {
		if spaceGenres[g] {
			return true
		}
	}
	return false
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
