package correlation

import (
	"time"

	"github.com/lox/heliotrends/internal/models"
)

const mockCoefficient = 0.45

// MockResult is the deterministic result served when either snapshot is
// missing. Only LastCalculated varies.
func MockResult(now time.Time) *models.CorrelationResult {
	return &models.CorrelationResult{
		Coefficient:  mockCoefficient,
		Strength:     models.StrengthFor(mockCoefficient),
		Significance: Significance(mockCoefficient),
		GenreCorrelations: map[string]float64{
			"Science Fiction": 0.72,
			"Thriller":        0.58,
			"Documentary":     0.41,
			"Horror":          0.23,
			"Action":          0.15,
			"Drama":           -0.12,
			"Comedy":          -0.28,
			"Romance":         -0.35,
		},
		Anomalies: []models.Anomaly{},
		Insights: []string{
			"Moderate positive correlation (r=0.450) detected between solar activity and streaming trends.",
			"Science Fiction content shows 72% correlation with solar activity, suggesting space weather influences genre preferences.",
			"Current solar activity (Kp=3.2) is within normal ranges but trending upward.",
			"Historical patterns suggest strongest correlations occur during moderate geomagnetic storms (Kp 4-6).",
		},
		LastCalculated: now,
	}
}
