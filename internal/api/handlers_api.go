package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lox/heliotrends/internal/dashboard"
	"github.com/lox/heliotrends/internal/ingest"
	"github.com/lox/heliotrends/internal/models"
	"github.com/lox/heliotrends/internal/store"
)

const (
	correlationMaxAge = 15 * time.Minute
	dashboardMaxAge   = 5 * time.Minute

	defaultHistoryLimit = 30
	maxRequestBody      = 1 << 20
)

// fallbackHeader lists upstream endpoints that were served from mock data.
const fallbackHeader = "X-Data-Fallback"

func markFallbacks(w http.ResponseWriter, status ingest.Status) {
	if status.Degraded() {
		w.Header().Set(fallbackHeader, strings.Join(status.Fallbacks, ","))
	}
}

func (s *Server) handleSolarData(w http.ResponseWriter, r *http.Request) {
	snap, status := s.svc.Solar(r.Context())
	markFallbacks(w, status)
	cacheFor(w, ingest.SolarCacheTTL)
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTrendingData(w http.ResponseWriter, r *http.Request) {
	snap, status := s.svc.Trending(r.Context())
	markFallbacks(w, status)
	cacheFor(w, ingest.TrendingCacheTTL)
	writeJSON(w, http.StatusOK, snap)
}

type correlationRequest struct {
	SolarData   *models.SolarSnapshot    `json:"solarData"`
	NetflixData *models.TrendingSnapshot `json:"netflixData"`
}

func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	var req correlationRequest
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req)
	if err != nil || req.SolarData == nil || req.NetflixData == nil {
		writeError(w, http.StatusBadRequest, "Missing solar or Netflix data", nil)
		return
	}

	result := s.svc.Correlate(req.SolarData, req.NetflixData)
	cacheFor(w, correlationMaxAge)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, status := s.svc.Dashboard(r.Context())
	markFallbacks(w, status)
	cacheFor(w, dashboardMaxAge)
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = min(n, store.HistoryRetention)
	}

	points, err := s.svc.History(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}
	if points == nil {
		points = []models.HistoryPoint{}
	}
	writeJSON(w, http.StatusOK, points)
}

type notificationsResponse struct {
	Notifications []dashboard.Notification `json:"notifications"`
	Unread        int                      `json:"unread"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, notificationsResponse{
		Notifications: s.state.Notifications(),
		Unread:        s.state.UnreadCount(),
	})
}

// handleNotificationsRead marks one notification read, or all of them when
// no id is given.
func (s *Server) handleNotificationsRead(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		s.state.MarkAllRead()
	} else if !s.state.MarkRead(id) {
		writeError(w, http.StatusNotFound, "Notification not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unread": s.state.UnreadCount()})
}

func (s *Server) handleNotificationsClear(w http.ResponseWriter, r *http.Request) {
	s.state.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// handleRawPayload serves an archived upstream body as it was fetched.
func (s *Server) handleRawPayload(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid payload id", err)
		return
	}

	body, err := s.store.GetRawPayload(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Payload not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load payload", err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}
