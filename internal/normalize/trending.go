package normalize

import (
	"sort"
	"time"

	"github.com/lox/heliotrends/internal/models"
)

// TopGenreLimit is the number of genres kept in TrendingSnapshot.TopGenres.
const TopGenreLimit = 10

// TMDBItem is a movie or TV result from the TMDB trending endpoints.
type TMDBItem struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Name        string  `json:"name"`
	Popularity  float64 `json:"popularity"`
	VoteAverage float64 `json:"vote_average"`
	GenreIDs    []int   `json:"genre_ids"`
}

// TMDBPage is the envelope returned by the trending endpoints.
type TMDBPage struct {
	Results []TMDBItem `json:"results"`
}

var genreNames = map[int]string{
	28:    "Action",
	12:    "Adventure",
	16:    "Animation",
	35:    "Comedy",
	80:    "Crime",
	99:    "Documentary",
	18:    "Drama",
	10751: "Family",
	14:    "Fantasy",
	36:    "History",
	27:    "Horror",
	10402: "Music",
	9648:  "Mystery",
	10749: "Romance",
	878:   "Science Fiction",
	10770: "TV Movie",
	53:    "Thriller",
	10752: "War",
	37:    "Western",
	10759: "Action & Adventure",
	10762: "Kids",
	10763: "News",
	10764: "Reality",
	10765: "Sci-Fi & Fantasy",
	10766: "Soap",
	10767: "Talk",
	10768: "War & Politics",
}

// GenreName maps a TMDB genre ID to its name.
func GenreName(id int) (string, bool) {
	name, ok := genreNames[id]
	return name, ok
}

// GenreNames maps IDs to names, dropping any ID not in the table.
func GenreNames(ids []int) []string {
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		if name, ok := GenreName(id); ok {
			names = append(names, name)
		}
	}
	return names
}

// NormalizeTrending converts raw TMDB results into a TrendingSnapshot.
func NormalizeTrending(movies, shows []TMDBItem, now time.Time) *models.TrendingSnapshot {
	snap := &models.TrendingSnapshot{
		TrendingMovies: make([]models.TrendingItem, 0, len(movies)),
		TrendingTV:     make([]models.TrendingItem, 0, len(shows)),
		LastUpdate:     now.UTC(),
	}

	for _, m := range movies {
		snap.TrendingMovies = append(snap.TrendingMovies, models.TrendingItem{
			ID:         m.ID,
			Title:      m.Title,
			Popularity: m.Popularity,
			Genres:     GenreNames(m.GenreIDs),
			Rating:     m.VoteAverage,
		})
	}
	for _, s := range shows {
		snap.TrendingTV = append(snap.TrendingTV, models.TrendingItem{
			ID:         s.ID,
			Name:       s.Name,
			Popularity: s.Popularity,
			Genres:     GenreNames(s.GenreIDs),
			Rating:     s.VoteAverage,
		})
	}

	all := make([]models.TrendingItem, 0, len(snap.TrendingMovies)+len(snap.TrendingTV))
	all = append(all, snap.TrendingMovies...)
	all = append(all, snap.TrendingTV...)

	snap.TopGenres = TopGenres(all, TopGenreLimit)
	snap.AggregatedScore = AggregatedScore(all)
	return snap
}

// TopGenres groups items by genre and ranks genres by average popularity,
// descending. Ties keep first-seen order.
func TopGenres(items []models.TrendingItem, limit int) []models.GenreStat {
	type acc struct {
		count int
		total float64
		order int
	}
	stats := make(map[string]*acc)
	for _, item := range items {
		for _, g := range item.Genres {
			a, ok := stats[g]
			if !ok {
				a = &acc{order: len(stats)}
				stats[g] = a
			}
			a.count++
			a.total += item.Popularity
		}
	}

	out := make([]models.GenreStat, 0, len(stats))
	order := make(map[string]int, len(stats))
	for name, a := range stats {
		out = append(out, models.GenreStat{
			Name:       name,
			Count:      a.count,
			Popularity: a.total / float64(a.count),
		})
		order[name] = a.order
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Popularity != out[j].Popularity {
			return out[i].Popularity > out[j].Popularity
		}
		return order[out[i].Name] < order[out[j].Name]
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// AggregatedScore is the mean popularity across items, or 0 when empty.
func AggregatedScore(items []models.TrendingItem) float64 {
	if len(items) == 0 {
		return 0
	}
	sum := 0.0
	for _, item := range items {
		sum += item.Popularity
	}
	return sum / float64(len(items))
}
