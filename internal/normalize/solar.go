package normalize

import (
	"strconv"
	"strings"
	"time"

	"github.com/lox/heliotrends/internal/models"
)

// Fallback solar wind values used when the feed reports zero.
const (
	defaultWindSpeed       = 400
	defaultWindDensity     = 5.0
	defaultWindTemperature = 100000
)

// KpRecord is one row of the NOAA planetary K-index feed.
type KpRecord struct {
	TimeTag     string  `json:"time_tag"`
	KpIndex     float64 `json:"kp_index"`
	EstimatedKp float64 `json:"estimated_kp"`
	Kp          string  `json:"kp"`
}

// SolarWindRecord is one row of the NOAA solar wind feed.
type SolarWindRecord struct {
	TimeTag     string  `json:"time_tag"`
	Speed       float64 `json:"speed"`
	Density     float64 `json:"density"`
	Temperature float64 `json:"temperature"`
}

// DonkiFlare is a NASA DONKI FLR event.
type DonkiFlare struct {
	FlrID           string `json:"flrID"`
	BeginTime       string `json:"beginTime"`
	PeakTime        string `json:"peakTime"`
	EndTime         string `json:"endTime"`
	ClassType       string `json:"classType"`
	SourceLocation  string `json:"sourceLocation"`
	ActiveRegionNum *int   `json:"activeRegionNum"`
}

// DonkiCME is a NASA DONKI CME event. Speed is read from the top level when
// present, otherwise from the first analysis that reports one.
type DonkiCME struct {
	CmeID          string        `json:"cmeID"`
	StartTime      string        `json:"startTime"`
	SourceLocation string        `json:"sourceLocation"`
	Note           string        `json:"note"`
	Speed          float64       `json:"speed"`
	Type           string        `json:"type"`
	Analyses       []CMEAnalysis `json:"cmeAnalyses"`
}

type CMEAnalysis struct {
	Speed *float64 `json:"speed"`
	Type  string   `json:"type"`
}

func (c DonkiCME) speed() float64 {
	if c.Speed > 0 {
		return c.Speed
	}
	for _, a := range c.Analyses {
		if a.Speed != nil {
			return *a.Speed
		}
	}
	return 0
}

var flareClassScores = map[byte]float64{
	'A': 1,
	'B': 2,
	'C': 3,
	'M': 4,
	'X': 5,
}

// FlareIntensity scores a flare class such as "M2.1" as base*10 + magnitude.
// Unknown letters score a base of 0 and an unparseable magnitude counts as 1.0.
func FlareIntensity(classType string) float64 {
	if classType == "" {
		return 1.0
	}
	base := flareClassScores[classType[0]]

	magnitude, ok := leadingFloat(classType[1:])
	if !ok || magnitude == 0 {
		magnitude = 1.0
	}
	return base*10 + magnitude
}

// leadingFloat parses the longest numeric prefix of s ("2.1/3" -> 2.1).
func leadingFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	end := 0
	seenDot := false
	for end < len(s) {
		c := s[end]
		if c == '.' && !seenDot {
			seenDot = true
		} else if c < '0' || c > '9' {
			break
		}
		end++
	}
	v, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z",
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
}

// ParseTime parses the timestamp formats used by NOAA and DONKI feeds.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// NormalizeSolar builds a SolarSnapshot from raw feed records. The most
// recent (last) Kp and solar wind rows are used as current values.
func NormalizeSolar(kp []KpRecord, wind []SolarWindRecord, flares []DonkiFlare, cmes []DonkiCME, now time.Time) *models.SolarSnapshot {
	snap := &models.SolarSnapshot{
		SolarFlares: make([]models.FlareEvent, 0, len(flares)),
		CMEEvents:   make([]models.CMEEvent, 0, len(cmes)),
		SolarWind: models.SolarWind{
			Speed:       defaultWindSpeed,
			Density:     defaultWindDensity,
			Temperature: defaultWindTemperature,
		},
		LastUpdate: now.UTC(),
	}

	if len(kp) > 0 {
		current := kp[len(kp)-1]
		snap.KpIndex = current.KpIndex
		snap.EstimatedKp = current.EstimatedKp
	}
	snap.ActivityLevel = models.ActivityLevelFor(snap.KpIndex)

	if len(wind) > 0 {
		current := wind[len(wind)-1]
		if current.Speed != 0 {
			snap.SolarWind.Speed = current.Speed
		}
		if current.Density != 0 {
			snap.SolarWind.Density = current.Density
		}
		if current.Temperature != 0 {
			snap.SolarWind.Temperature = current.Temperature
		}
	}

	for _, f := range flares {
		peak, _ := ParseTime(f.PeakTime)
		snap.SolarFlares = append(snap.SolarFlares, models.FlareEvent{
			ID:        f.FlrID,
			ClassType: f.ClassType,
			PeakTime:  peak,
			Intensity: FlareIntensity(f.ClassType),
		})
	}

	for _, c := range cmes {
		start, _ := ParseTime(c.StartTime)
		snap.CMEEvents = append(snap.CMEEvents, models.CMEEvent{
			ID:        c.CmeID,
			StartTime: start,
			Speed:     c.speed(),
			Direction: c.SourceLocation,
		})
	}

	return snap
}

// WithKp returns a copy of snap with a new Kp-index and the activity level
// re-derived from it.
func WithKp(snap models.SolarSnapshot, kp float64) models.SolarSnapshot {
	snap.KpIndex = kp
	snap.ActivityLevel = models.ActivityLevelFor(kp)
	return snap
}
