// Package api provides HTTP and websocket handlers for the LendFlow API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/lendflow/internal/audit"
	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/orchestrator"
)

// maxBodyBytes caps request bodies; customer messages are short.
const maxBodyBytes = 16 << 10

// Service is the conversation surface the handlers drive.
type Service interface {
	Start(ctx context.Context) (orchestrator.Reply, error)
	HandleTurn(ctx context.Context, sessionID, text string) (orchestrator.Reply, error)
	Summary(ctx context.Context, sessionID string) (domain.Summary, error)
	Transcript(ctx context.Context, sessionID string) ([]domain.Turn, error)
}

// TrailReader returns a session's audit trail.
type TrailReader interface {
	Trail(sessionID string) ([]audit.Entry, error)
}

// Handler provides common handler utilities.
type Handler struct {
	svc    Service
	trail  TrailReader
	logger *slog.Logger
}

// NewHandler creates a new Handler with common dependencies. trail may be nil,
// in which case audit routes answer 404.
func NewHandler(svc Service, trail TrailReader, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, trail: trail, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// statusFor maps domain errors to HTTP status codes and client-safe messages.
// Anything unrecognised is reported as an internal error without detail.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "invalid request"
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "session not found"
	case errors.Is(err, domain.ErrPersistenceConflict):
		return http.StatusConflict, "session busy, please retry"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", "path", r.URL.Path, "error", err)
	} else {
		h.logger.Debug("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, msg)
}
