package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// chatWriteTimeout bounds a single frame write to a slow client.
const chatWriteTimeout = 10 * time.Second

// Chat socket message types.
const (
	msgSession = "session"
	msgMessage = "message"
	msgReply   = "reply"
	msgPing    = "ping"
	msgPong    = "pong"
	msgError   = "error"
)

// chatMessage is the websocket frame exchanged with chat clients.
type chatMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Stage     string `json:"stage,omitempty"`
}

// ChatHandler serves the websocket chat for an existing session. Each text
// frame of type "message" is one customer turn; the reply is written back on
// the same socket.
type ChatHandler struct {
	*Handler
	conns          *Connections
	allowedOrigins []string
}

// NewChatHandler creates a new websocket chat handler.
func NewChatHandler(base *Handler, conns *Connections, allowedOrigins []string) *ChatHandler {
	return &ChatHandler{Handler: base, conns: conns, allowedOrigins: allowedOrigins}
}

// RegisterRoutes registers the websocket route.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/sessions/{id}", h.ServeHTTP)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	h.logger.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	sum, err := h.svc.Summary(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "chat ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.conns.Register(sessionID, ws)
	defer h.conns.Unregister(sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := h.writeJSON(ctx, ws, chatMessage{Type: msgSession, SessionID: sessionID, Stage: string(sum.Stage)}); err != nil {
		return
	}

	h.readLoop(ctx, ws, sessionID)
	h.logger.Info("Chat session ended", "session_id", sessionID)
}

func (h *ChatHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.allowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin)
	return false
}

func (h *ChatHandler) readLoop(ctx context.Context, ws *websocket.Conn, sessionID string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "session_id", sessionID)
			} else if !errors.Is(err, context.Canceled) {
				h.logger.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg chatMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Bare text frames are treated as a customer message.
			msg = chatMessage{Type: msgMessage, Content: string(data)}
		}

		var out chatMessage
		switch msg.Type {
		case msgPing:
			out = chatMessage{Type: msgPong}
		case msgMessage:
			out = h.handleMessage(ctx, sessionID, msg.Content)
		default:
			out = chatMessage{Type: msgError, Content: "unsupported message type"}
		}

		if err := h.writeJSON(ctx, ws, out); err != nil {
			return
		}
	}
}

func (h *ChatHandler) handleMessage(ctx context.Context, sessionID, text string) chatMessage {
	if strings.TrimSpace(text) == "" {
		return chatMessage{Type: msgError, Content: "text is required"}
	}
	reply, err := h.svc.HandleTurn(ctx, sessionID, text)
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("Chat turn failed", "session_id", sessionID, "error", err)
		}
		return chatMessage{Type: msgError, Content: msg}
	}
	return chatMessage{
		Type:      msgReply,
		Content:   reply.Message,
		SessionID: reply.SessionID,
		Stage:     string(reply.Stage),
	}
}

func (h *ChatHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v chatMessage) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, chatWriteTimeout)
	defer cancel()
	if err := ws.Write(writeCtx, websocket.MessageText, data); err != nil {
		h.logger.Debug("WebSocket write error", "error", err)
		return err
	}
	return nil
}
