package store

import (
	"database/sql"
	"fmt"
	"time"
)

// IngestRun represents a single upstream fetch for auditing.
type IngestRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // "noaa", "donki", "tmdb"
	Endpoint          string // "kp", "solar-wind", "flares", "trending/movie", etc.
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	Fallback          bool // mock payload served instead
	Cached            bool // body came from the upstream cache
	Success           bool
	ErrorMessage      sql.NullString
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(source, endpoint string) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt: time.Now().UTC(),
		Source:    source,
		Endpoint:  endpoint,
	}

	result, err := s.db.Exec(`
		INSERT INTO ingest_runs (started_at, source, endpoint, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.Endpoint)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE ingest_runs SET
			finished_at = ?,
			http_status = ?,
			response_size_bytes = ?,
			fallback = ?,
			cached = ?,
			success = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.HTTPStatus, run.ResponseSizeBytes, run.Fallback,
		run.Cached, run.Success, run.ErrorMessage, run.ID)
	return err
}

// IngestHealthSummary represents a daily ingest health summary.
type IngestHealthSummary struct {
	Date         string `json:"date"`
	Source       string `json:"source"`
	Endpoint     string `json:"endpoint"`
	TotalRuns    int    `json:"totalRuns"`
	SuccessRuns  int    `json:"successRuns"`
	FailedRuns   int    `json:"failedRuns"`
	FallbackRuns int    `json:"fallbackRuns"`
	CachedRuns   int    `json:"cachedRuns"`
	TotalBytes   int64  `json:"totalBytes"`
}

// GetIngestHealth returns ingest health summaries for the last N days.
func (s *Store) GetIngestHealth(days int) ([]IngestHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) as date,
			source,
			endpoint,
			COUNT(*) as total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) as success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) as failed_runs,
			SUM(CASE WHEN fallback THEN 1 ELSE 0 END) as fallback_runs,
			SUM(CASE WHEN cached THEN 1 ELSE 0 END) as cached_runs,
			COALESCE(SUM(response_size_bytes), 0) as total_bytes
		FROM ingest_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, source, endpoint
		ORDER BY date DESC, source, endpoint
	`, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestHealthSummary
	for rows.Next() {
		var h IngestHealthSummary
		if err := rows.Scan(&h.Date, &h.Source, &h.Endpoint, &h.TotalRuns,
			&h.SuccessRuns, &h.FailedRuns, &h.FallbackRuns, &h.CachedRuns, &h.TotalBytes); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}

// SourceStatus is the latest known state of one upstream endpoint.
type SourceStatus struct {
	Source       string    `json:"source"`
	Endpoint     string    `json:"endpoint"`
	LastRun      time.Time `json:"lastRun"`
	Healthy      bool      `json:"healthy"`
	Fallback     bool      `json:"fallback"`
	ErrorMessage string    `json:"error,omitempty"`
}

// SourceHealth returns the most recent completed run of every
// source/endpoint pair.
func (s *Store) SourceHealth() ([]SourceStatus, error) {
	rows, err := s.db.Query(`
		SELECT r.source, r.endpoint, SUBSTR(r.started_at, 1, 19), r.success, r.fallback, r.error_message
		FROM ingest_runs r
		JOIN (
			SELECT MAX(id) AS id FROM ingest_runs
			WHERE finished_at IS NOT NULL
			GROUP BY source, endpoint
		) latest ON latest.id = r.id
		ORDER BY r.source, r.endpoint
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SourceStatus
	for rows.Next() {
		var (
			st      SourceStatus
			started string
			errMsg  sql.NullString
		)
		if err := rows.Scan(&st.Source, &st.Endpoint, &started, &st.Healthy, &st.Fallback, &errMsg); err != nil {
			return nil, err
		}
		t, err := time.Parse("2006-01-02 15:04:05", started)
		if err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		st.LastRun = t
		st.ErrorMessage = errMsg.String
		results = append(results, st)
	}
	return results, rows.Err()
}

// GetRecentIngestErrors returns recent failed ingest runs.
func (s *Store) GetRecentIngestErrors(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, source, endpoint,
			   http_status, response_size_bytes, fallback, cached,
			   success, error_message
		FROM ingest_runs
		WHERE success = FALSE AND finished_at IS NOT NULL
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []IngestRun
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Endpoint,
			&r.HTTPStatus, &r.ResponseSizeBytes, &r.Fallback, &r.Cached,
			&r.Success, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// CleanupOldIngestRuns deletes audit rows older than retentionDays along
// with their archived payloads.
func (s *Store) CleanupOldIngestRuns(retentionDays int) (int64, error) {
	if _, err := s.db.Exec(`
		UPDATE raw_payloads SET ingest_run_id = NULL
		WHERE ingest_run_id IN (
			SELECT id FROM ingest_runs
			WHERE SUBSTR(started_at, 1, 19) < datetime('now', '-' || ? || ' days')
		)
	`, retentionDays); err != nil {
		return 0, err
	}
	result, err := s.db.Exec(`
		DELETE FROM ingest_runs
		WHERE SUBSTR(started_at, 1, 19) < datetime('now', '-' || ? || ' days')
	`, retentionDays)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
