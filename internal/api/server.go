// Package api exposes the booking core over HTTP. Identity comes from
// trusted reverse-proxy headers; request bodies never carry it.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"coachbook/internal/booking"
	"coachbook/internal/ledger"
	"coachbook/internal/models"

	"github.com/rs/zerolog"
)

// AvailabilityService is the cache-backed availability read path.
type AvailabilityService interface {
	GetAvailability(ctx context.Context, date string) (models.DayAvailability, error)
	Preload(ctx context.Context, days int) (int, error)
	Refresh(ctx context.Context, date string) (models.DayAvailability, error)
	Horizon() int
	CacheTTL() time.Duration
}

// UserStore creates user rows for first-seen principals.
type UserStore interface {
	EnsureUser(ctx context.Context, userID, email string) error
}

// HTTPServer wires the handlers.
type HTTPServer struct {
	availability AvailabilityService
	protocol     *booking.Protocol
	ledger       *ledger.Ledger
	users        UserStore
	logger       *zerolog.Logger
}

func NewHTTPServer(availability AvailabilityService, protocol *booking.Protocol, creditLedger *ledger.Ledger, users UserStore, logger *zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		availability: availability,
		protocol:     protocol,
		ledger:       creditLedger,
		users:        users,
		logger:       logger,
	}
}

// Handler returns the route table.
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/availability/{date}", s.handleGetAvailability)
	mux.HandleFunc("POST /api/v1/availability/preload", s.handlePreload)
	mux.HandleFunc("POST /api/v1/availability/{date}/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/v1/bookings", s.requirePrincipal(s.handleCommitBooking))
	mux.HandleFunc("GET /api/v1/credits", s.requirePrincipal(s.handleCredits))
	return mux
}

// requirePrincipal extracts the session-authenticated identity set by the
// auth proxy. The legacy pattern of accepting identity in the request
// body is deliberately not supported.
func (s *HTTPServer) requirePrincipal(next func(http.ResponseWriter, *http.Request, booking.Principal)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		email := r.Header.Get("X-User-Email")
		if userID == "" || email == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if err := s.users.EnsureUser(r.Context(), userID, email); err != nil {
			s.logger.Error().Err(err).Str("user_id", userID).Msg("ensure user")
			writeError(w, http.StatusInternalServerError, booking.CodeInternal, "internal error")
			return
		}
		next(w, r, booking.Principal{UserID: userID, Email: email})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"code":    code,
		"error":   message,
	})
}
