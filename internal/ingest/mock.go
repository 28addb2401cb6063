package ingest

import (
	"time"

	"github.com/lox/heliotrends/internal/normalize"
)

// Mock payloads substituted when an upstream is unavailable. They are raw
// feed records so they pass through the same normalizers as live data.

const donkiLayout = "2006-01-02T15:04Z"

func mockKp(now time.Time) []normalize.KpRecord {
	return []normalize.KpRecord{{
		TimeTag:     now.UTC().Format("2006-01-02T15:04:05"),
		KpIndex:     3.2,
		EstimatedKp: 3.1,
		Kp:          "3+",
	}}
}

func mockSolarWind(now time.Time) []normalize.SolarWindRecord {
	return []normalize.SolarWindRecord{{
		TimeTag:     now.UTC().Format("2006-01-02 15:04:05.000"),
		Speed:       420,
		Density:     5.2,
		Temperature: 100000,
	}}
}

func mockFlares(now time.Time) []normalize.DonkiFlare {
	now = now.UTC()
	return []normalize.DonkiFlare{{
		FlrID:          "mock-flr-001",
		BeginTime:      now.Add(-2 * time.Hour).Format(donkiLayout),
		PeakTime:       now.Add(-90 * time.Minute).Format(donkiLayout),
		EndTime:        now.Add(-1 * time.Hour).Format(donkiLayout),
		ClassType:      "M2.1",
		SourceLocation: "S15W30",
	}}
}

func mockCMEs(now time.Time) []normalize.DonkiCME {
	return []normalize.DonkiCME{{
		CmeID:          "mock-cme-001",
		StartTime:      now.UTC().Add(-6 * time.Hour).Format(donkiLayout),
		SourceLocation: "S15W30",
		Speed:          450,
		Type:           "S",
	}}
}

func mockMovies() []normalize.TMDBItem {
	return []normalize.TMDBItem{
		{ID: 1, Title: "Solar Storm", Popularity: 2847.253, VoteAverage: 8.7, GenreIDs: []int{878, 53, 28}},
		{ID: 2, Title: "Geomagnetic", Popularity: 1456.789, VoteAverage: 8.2, GenreIDs: []int{99, 878}},
		{ID: 3, Title: "The Aurora Effect", Popularity: 1234.567, VoteAverage: 7.9, GenreIDs: []int{878, 14, 18}},
	}
}

func mockShows() []normalize.TMDBItem {
	return []normalize.TMDBItem{
		{ID: 101, Name: "Space Weather Alert", Popularity: 3156.891, VoteAverage: 8.5, GenreIDs: []int{99, 878, 18}},
		{ID: 102, Name: "Solar Flare Chronicles", Popularity: 2789.456, VoteAverage: 8.1, GenreIDs: []int{878, 18, 10765}},
		{ID: 103, Name: "Streaming in the Storm", Popularity: 1987.234, VoteAverage: 7.6, GenreIDs: []int{35, 878}},
	}
}
