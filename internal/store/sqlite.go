package store

import (
	"database/sql"
	"time"

	"github.com/lox/heliotrends/internal/models"
)

// HistoryRetention is the number of daily points kept by PruneHistory.
const HistoryRetention = 90

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// HistoryDate is the key a history point is recorded under.
func HistoryDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// UpsertHistory records the scores for p.Date, replacing any earlier point
// recorded that day.
func (s *Store) UpsertHistory(p models.HistoryPoint, recordedAt time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO history (date, solar_score, trending_score, coefficient, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			solar_score = excluded.solar_score,
			trending_score = excluded.trending_score,
			coefficient = excluded.coefficient,
			recorded_at = excluded.recorded_at
	`, p.Date, p.SolarScore, p.TrendingScore, p.Coefficient, recordedAt.UTC())
	return err
}

// GetHistory returns up to limit of the most recent points, oldest first.
// Correlation is left zero; callers compute it over the returned window.
func (s *Store) GetHistory(limit int) ([]models.HistoryPoint, error) {
	if limit <= 0 {
		limit = HistoryRetention
	}
	rows, err := s.db.Query(`
		SELECT date, solar_score, trending_score, coefficient
		FROM history
		ORDER BY date DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []models.HistoryPoint
	for rows.Next() {
		var p models.HistoryPoint
		if err := rows.Scan(&p.Date, &p.SolarScore, &p.TrendingScore, &p.Coefficient); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// PruneHistory deletes all but the newest keep points.
// Returns the number of deleted rows.
func (s *Store) PruneHistory(keep int) (int64, error) {
	result, err := s.db.Exec(`
		DELETE FROM history
		WHERE date NOT IN (SELECT date FROM history ORDER BY date DESC LIMIT ?)
	`, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
