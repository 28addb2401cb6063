package api

import (
	"net/http"
	"time"

	"github.com/lox/heliotrends/internal/store"
)

const recentErrorLimit = 5

type HealthStatus struct {
	Status        string                      `json:"status"`
	SchemaVersion int                         `json:"schemaVersion"`
	Sources       []store.SourceStatus        `json:"sources"`
	Daily         []store.IngestHealthSummary `json:"daily"`
	RecentErrors  []IngestError               `json:"recentErrors"`
	RawPayloads   *store.RawPayloadStats      `json:"rawPayloads,omitempty"`
	Unread        int                         `json:"unreadNotifications"`
	Errors        []string                    `json:"errors,omitempty"`
}

// IngestError is a failed upstream fetch.
type IngestError struct {
	Source     string    `json:"source"`
	Endpoint   string    `json:"endpoint"`
	StartedAt  time.Time `json:"startedAt"`
	HTTPStatus int       `json:"httpStatus,omitempty"`
	Message    string    `json:"message"`
}

// handleHealth reports the latest ingest result per upstream endpoint.
// Fallbacks degrade the status but the service keeps answering, so only
// store failures return 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := HealthStatus{
		Status:       "ok",
		Sources:      []store.SourceStatus{},
		Daily:        []store.IngestHealthSummary{},
		RecentErrors: []IngestError{},
		Unread:       s.state.UnreadCount(),
	}

	version, err := s.store.MigrationVersion()
	if err != nil {
		health.Errors = append(health.Errors, "schema: "+err.Error())
	}
	health.SchemaVersion = version

	sources, err := s.store.SourceHealth()
	if err != nil {
		health.Errors = append(health.Errors, "sources: "+err.Error())
	} else if sources != nil {
		health.Sources = sources
	}

	daily, err := s.store.GetIngestHealth(1)
	if err != nil {
		health.Errors = append(health.Errors, "daily: "+err.Error())
	} else if daily != nil {
		health.Daily = daily
	}

	runs, err := s.store.GetRecentIngestErrors(recentErrorLimit)
	if err != nil {
		health.Errors = append(health.Errors, "recent errors: "+err.Error())
	}
	for _, run := range runs {
		health.RecentErrors = append(health.RecentErrors, IngestError{
			Source:     run.Source,
			Endpoint:   run.Endpoint,
			StartedAt:  run.StartedAt,
			HTTPStatus: int(run.HTTPStatus.Int64),
			Message:    run.ErrorMessage.String,
		})
	}

	payloads, err := s.store.GetRawPayloadStats()
	if err != nil {
		health.Errors = append(health.Errors, "raw payloads: "+err.Error())
	}
	health.RawPayloads = payloads

	for _, src := range health.Sources {
		if !src.Healthy || src.Fallback {
			health.Status = "degraded"
		}
	}

	status := http.StatusOK
	if len(health.Errors) > 0 {
		health.Status = "error"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, health)
}
