package normalize

import (
	"encoding/json"

	"github.com/lox/heliotrends/internal/models"
)

const (
	FlagKpOutOfRange          = "kp_out_of_range"
	FlagEstimatedKpOutOfRange = "estimated_kp_out_of_range"
	FlagWindSpeedUnlikely     = "wind_speed_unlikely"
	FlagDensityNegative       = "density_negative"
	FlagTemperatureNegative   = "temperature_negative"
	FlagFlareTimeMissing      = "flare_time_missing"
	FlagCMESpeedNegative      = "cme_speed_negative"
)

// ValidateSolar returns quality flags for readings outside plausible ranges.
// Flags are informational; the snapshot is still scored.
func ValidateSolar(snap *models.SolarSnapshot) []string {
	if snap == nil {
		return nil
	}
	var flags []string

	if snap.KpIndex < 0 || snap.KpIndex > 9 {
		flags = append(flags, FlagKpOutOfRange)
	}
	if snap.EstimatedKp < 0 || snap.EstimatedKp > 9 {
		flags = append(flags, FlagEstimatedKpOutOfRange)
	}

	if snap.SolarWind.Speed < 0 || snap.SolarWind.Speed > 3000 {
		flags = append(flags, FlagWindSpeedUnlikely)
	}
	if snap.SolarWind.Density < 0 {
		flags = append(flags, FlagDensityNegative)
	}
	if snap.SolarWind.Temperature < 0 {
		flags = append(flags, FlagTemperatureNegative)
	}

	for _, f := range snap.SolarFlares {
		if f.PeakTime.IsZero() {
			flags = append(flags, FlagFlareTimeMissing)
			break
		}
	}
	for _, c := range snap.CMEEvents {
		if c.Speed < 0 {
			flags = append(flags, FlagCMESpeedNegative)
			break
		}
	}

	return flags
}

func QualityFlagsToJSON(flags []string) string {
	if len(flags) == 0 {
		return ""
	}
	b, _ := json.Marshal(flags)
	return string(b)
}
