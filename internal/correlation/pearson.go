package correlation

import (
	"math"

	"github.com/lox/heliotrends/internal/models"
)

// RollingWindow is the number of points (days) in a rolling correlation.
const RollingWindow = 7

// Pearson returns the Pearson correlation of x and y, or 0 when the series
// differ in length, have fewer than two points, or either is constant.
func Pearson(x, y []float64) float64 {
	if len(x) != len(y) || len(x) < 2 {
		return 0
	}

	n := float64(len(x))
	var sumX, sumY, sumXY, sumX2, sumY2 float64
	for i := range x {
		sumX += x[i]
		sumY += y[i]
		sumXY += x[i] * y[i]
		sumX2 += x[i] * x[i]
		sumY2 += y[i] * y[i]
	}

	numerator := n*sumXY - sumX*sumY
	denominator := math.Sqrt((n*sumX2 - sumX*sumX) * (n*sumY2 - sumY*sumY))
	if denominator == 0 || math.IsNaN(denominator) {
		return 0
	}
	return clamp(numerator/denominator, -1, 1)
}

// Rolling returns a copy of points (oldest first) with Correlation set to the
// Pearson correlation of solar and trending scores over the trailing window.
func Rolling(points []models.HistoryPoint, window int) []models.HistoryPoint {
	if window < 2 {
		window = RollingWindow
	}
	out := make([]models.HistoryPoint, len(points))
	copy(out, points)

	solar := make([]float64, len(points))
	trending := make([]float64, len(points))
	for i, p := range points {
		solar[i] = p.SolarScore
		trending[i] = p.TrendingScore
	}

	for i := range out {
		start := max(0, i-window+1)
		out[i].Correlation = Pearson(solar[start:i+1], trending[start:i+1])
	}
	return out
}
