package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"coachbook/internal/booking"
	"coachbook/internal/metrics"
)

// CommitResponse is the body for a commit outcome.
type CommitResponse struct {
	Success          bool   `json:"success"`
	BookingID        string `json:"booking_id,omitempty"`
	EventURL         string `json:"event_url,omitempty"`
	AlreadyCommitted bool   `json:"already_committed,omitempty"`
	Code             string `json:"code,omitempty"`
	Error            string `json:"error,omitempty"`
}

// CreditsResponse is the body for GET /api/v1/credits.
type CreditsResponse struct {
	ByDuration map[string]int `json:"by_duration"`
}

// handleCommitBooking runs the commit protocol for the authenticated user.
// POST /api/v1/bookings
func (s *HTTPServer) handleCommitBooking(w http.ResponseWriter, r *http.Request, principal booking.Principal) {
	metrics.IncHTTP("booking_commit")

	var req booking.Request
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, booking.CodeInvalidArgument, "invalid JSON body")
		return
	}

	result, err := s.protocol.Commit(r.Context(), principal, req)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("commit booking")
		writeError(w, http.StatusInternalServerError, booking.CodeInternal, "internal error")
		return
	}

	if result.State == booking.StateCommitted {
		writeJSON(w, http.StatusOK, CommitResponse{
			Success:          true,
			BookingID:        result.Booking.ID,
			EventURL:         result.EventURL,
			AlreadyCommitted: result.AlreadyCommitted,
		})
		return
	}

	writeJSON(w, rejectionStatus(result.Code), CommitResponse{
		Success: false,
		Code:    result.Code,
		Error:   result.Message,
	})
}

// handleCredits returns the user's remaining credits by duration class.
// GET /api/v1/credits
func (s *HTTPServer) handleCredits(w http.ResponseWriter, r *http.Request, principal booking.Principal) {
	metrics.IncHTTP("credits_get")

	remaining, err := s.ledger.RemainingCredits(r.Context(), principal.UserID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("remaining credits")
		writeError(w, http.StatusInternalServerError, booking.CodeInternal, "internal error")
		return
	}

	byDuration := make(map[string]int, len(remaining))
	for duration, count := range remaining {
		byDuration[strconv.Itoa(duration)] = count
	}
	writeJSON(w, http.StatusOK, CreditsResponse{ByDuration: byDuration})
}

func rejectionStatus(code string) int {
	switch code {
	case booking.CodeInvalidArgument:
		return http.StatusBadRequest
	case booking.CodeSlotUnavailable, booking.CodeInsufficientCredit, booking.CodeConflict:
		return http.StatusConflict
	case booking.CodeCalendarUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
