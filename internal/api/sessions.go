package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// SessionHandler serves the conversation REST endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Post("/messages", h.PostMessage)
			r.Get("/transcript", h.GetTranscript)
			r.Get("/audit", h.GetAudit)
		})
	})
}

type messageRequest struct {
	Text string `json:"text"`
}

// Create starts a new application and returns the welcome message.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	reply, err := h.svc.Start(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.logger.Info("Session started", "session_id", reply.SessionID)
	JSON(w, http.StatusCreated, reply)
}

// PostMessage handles one customer turn.
func (h *SessionHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req messageRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		Error(w, http.StatusBadRequest, "text is required")
		return
	}

	reply, err := h.svc.HandleTurn(r.Context(), sessionID, req.Text)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

// Get returns the session summary.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, sum)
}

// GetTranscript returns every turn of the conversation in order.
func (h *SessionHandler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	turns, err := h.svc.Transcript(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"turns":      turns,
	})
}

// GetAudit returns the session's audit trail.
func (h *SessionHandler) GetAudit(w http.ResponseWriter, r *http.Request) {
	if h.trail == nil {
		Error(w, http.StatusNotFound, "audit trail unavailable")
		return
	}
	sessionID := chi.URLParam(r, "id")

	// Unknown sessions are a 404 rather than an empty trail.
	if _, err := h.svc.Summary(r.Context(), sessionID); err != nil {
		h.writeError(w, r, err)
		return
	}

	entries, err := h.trail.Trail(sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"entries":    entries,
	})
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports the health of the API and its dependencies.
type HealthHandler struct {
	checks  map[string]Pinger
	timeout time.Duration
}

// NewHealthHandler creates a health handler over named dependency checks.
func NewHealthHandler(checks map[string]Pinger, timeout time.Duration) *HealthHandler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthHandler{checks: checks, timeout: timeout}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			slog.Error("Health check failed", "check", name, "error", err)
			checks[name] = "unreachable"
			status["status"] = "degraded"
			statusCode = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/api/health", h.Health)
}
