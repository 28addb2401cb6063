package dashboard

import (
	"fmt"
	"math"

	"github.com/lox/heliotrends/internal/models"
)

const strongCorrelation = 0.7

// DefaultHooks returns the notification hooks run after every update.
func DefaultHooks() []Hook {
	return []Hook{
		ActivityAlert,
		NewFlares,
		TrendingLeader,
		GenreShift,
		AnomalyWarnings,
		StrongCorrelation,
	}
}

// ActivityAlert fires when the activity level crosses into HIGH or EXTREME,
// or escalates from HIGH to EXTREME.
func ActivityAlert(prev, next Snapshot) []Notification {
	if next.Solar == nil {
		return nil
	}
	level := next.Solar.ActivityLevel
	if level.Severity() < models.ActivityHigh.Severity() {
		return nil
	}
	if prev.Solar != nil && prev.Solar.ActivityLevel.Severity() >= level.Severity() {
		return nil
	}
	return []Notification{{
		Type:    NotificationWarning,
		Title:   "Solar Storm Alert",
		Message: fmt.Sprintf("Geomagnetic activity is %s (Kp %.1f)", level, next.Solar.KpIndex),
	}}
}

// NewFlares fires once per flare ID not present in the previous snapshot.
// The first snapshot only establishes the baseline.
func NewFlares(prev, next Snapshot) []Notification {
	if prev.Solar == nil || next.Solar == nil {
		return nil
	}
	seen := make(map[string]bool, len(prev.Solar.SolarFlares))
	for _, f := range prev.Solar.SolarFlares {
		seen[f.ID] = true
	}

	var out []Notification
	for _, f := range next.Solar.SolarFlares {
		if seen[f.ID] {
			continue
		}
		out = append(out, Notification{
			Type:     NotificationInfo,
			Title:    "Solar Flare Detected",
			Message:  fmt.Sprintf("New %s-class flare peaked at %s", f.ClassType, f.PeakTime.UTC().Format("15:04 MST")),
			AutoHide: true,
		})
	}
	return out
}

// TrendingLeader fires when the most popular movie changes.
func TrendingLeader(prev, next Snapshot) []Notification {
	before, ok := leader(prev.Trending)
	if !ok {
		return nil
	}
	after, ok := leader(next.Trending)
	if !ok || after == before {
		return nil
	}
	return []Notification{{
		Type:     NotificationSuccess,
		Title:    "New Trending Leader",
		Message:  fmt.Sprintf("%s is now the top trending title", after),
		AutoHide: true,
	}}
}

func leader(t *models.TrendingSnapshot) (string, bool) {
	if t == nil || len(t.TrendingMovies) == 0 {
		return "", false
	}
	return t.TrendingMovies[0].DisplayTitle(), true
}

// GenreShift fires when the top genre changes.
func GenreShift(prev, next Snapshot) []Notification {
	before, ok := topGenre(prev.Trending)
	if !ok {
		return nil
	}
	after, ok := topGenre(next.Trending)
	if !ok || after == before {
		return nil
	}
	return []Notification{{
		Type:     NotificationInfo,
		Title:    "Genre Shift",
		Message:  fmt.Sprintf("Top genre shifted from %s to %s", before, after),
		AutoHide: true,
	}}
}

func topGenre(t *models.TrendingSnapshot) (string, bool) {
	if t == nil || len(t.TopGenres) == 0 {
		return "", false
	}
	return t.TopGenres[0].Name, true
}

// AnomalyWarnings fires for each anomaly type not already reported by the
// previous correlation.
func AnomalyWarnings(prev, next Snapshot) []Notification {
	if next.Correlation == nil {
		return nil
	}
	seen := map[string]bool{}
	if prev.Correlation != nil {
		for _, a := range prev.Correlation.Anomalies {
			seen[a.Type] = true
		}
	}

	var out []Notification
	for _, a := range next.Correlation.Anomalies {
		if seen[a.Type] {
			continue
		}
		seen[a.Type] = true
		out = append(out, Notification{
			Type:    NotificationWarning,
			Title:   "Anomaly Detected",
			Message: a.Description,
		})
	}
	return out
}

// StrongCorrelation fires when |coefficient| rises above 0.7.
func StrongCorrelation(prev, next Snapshot) []Notification {
	if next.Correlation == nil || math.Abs(next.Correlation.Coefficient) <= strongCorrelation {
		return nil
	}
	if prev.Correlation != nil && math.Abs(prev.Correlation.Coefficient) > strongCorrelation {
		return nil
	}
	return []Notification{{
		Type:     NotificationSuccess,
		Title:    "Strong Correlation",
		Message:  fmt.Sprintf("Solar activity and trending content are strongly correlated (%.2f)", next.Correlation.Coefficient),
		AutoHide: true,
	}}
}
