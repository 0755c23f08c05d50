package api

import (
	"encoding/json"
	"net/http"
	"time"

	"coachbook/internal/metrics"
	"coachbook/internal/models"
)

// PreloadRequest is the body for POST /api/v1/availability/preload.
type PreloadRequest struct {
	WindowDays int `json:"window_days,omitempty"`
}

// PreloadResponse reports how much of the horizon was warmed.
type PreloadResponse struct {
	DaysLoaded int `json:"days_loaded"`
	ExpiresIn  int `json:"expires_in"` // seconds
}

// handleGetAvailability returns the slot list for one date.
// GET /api/v1/availability/{date}
func (s *HTTPServer) handleGetAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability_get")

	date := r.PathValue("date")
	if _, err := time.Parse(models.DateFormat, date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid date; expected YYYY-MM-DD")
		return
	}

	day, err := s.availability.GetAvailability(r.Context(), date)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("get availability")
		writeError(w, http.StatusInternalServerError, "internal", "could not load availability")
		return
	}
	writeJSON(w, http.StatusOK, day)
}

// handlePreload warms the rolling booking window in one batch.
// POST /api/v1/availability/preload
func (s *HTTPServer) handlePreload(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability_preload")

	var req PreloadRequest
	if r.Body != nil && r.ContentLength != 0 {
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "invalid JSON body")
			return
		}
	}

	loaded, err := s.availability.Preload(r.Context(), req.WindowDays)
	if err != nil {
		s.logger.Error().Err(err).Msg("preload availability")
		writeError(w, http.StatusInternalServerError, "internal", "could not preload availability")
		return
	}

	writeJSON(w, http.StatusOK, PreloadResponse{
		DaysLoaded: loaded,
		ExpiresIn:  int(s.availability.CacheTTL().Seconds()),
	})
}

// handleRefresh busts and recomputes one date.
// POST /api/v1/availability/{date}/refresh
func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability_refresh")

	date := r.PathValue("date")
	if _, err := time.Parse(models.DateFormat, date); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid date; expected YYYY-MM-DD")
		return
	}

	day, err := s.availability.Refresh(r.Context(), date)
	if err != nil {
		s.logger.Error().Err(err).Str("date", date).Msg("refresh availability")
		writeError(w, http.StatusInternalServerError, "internal", "could not refresh availability")
		return
	}
	writeJSON(w, http.StatusOK, day)
}
