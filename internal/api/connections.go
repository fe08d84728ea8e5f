package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// Connections tracks the live chat socket of each loan session. A session has
// at most one socket; a newer one replaces the old.
type Connections struct {
	mu     sync.RWMutex
	active map[string]*websocket.Conn
}

// NewConnections creates an empty connection registry.
func NewConnections() *Connections {
	return &Connections{active: make(map[string]*websocket.Conn)}
}

// Register records conn as the socket for sessionID, closing any previous one.
func (c *Connections) Register(sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	existing, ok := c.active[sessionID]
	c.active[sessionID] = conn
	c.mu.Unlock()

	// Close waits for the peer's close frame, which the replaced client may
	// never read promptly.
	if ok && existing != conn {
		go func() { _ = existing.Close(websocket.StatusPolicyViolation, "session replaced") }()
	}
	slog.Info("Chat socket registered", "session_id", sessionID)
}

// Unregister forgets conn if it is still the session's current socket.
func (c *Connections) Unregister(sessionID string, conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.active[sessionID]; ok && current == conn {
		delete(c.active, sessionID)
		slog.Info("Chat socket unregistered", "session_id", sessionID)
	}
}

// Active reports whether sessionID has a live socket.
func (c *Connections) Active(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.active[sessionID]
	return ok
}

// Len returns the number of live sockets.
func (c *Connections) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}

// CloseAll closes every socket. http.Server.Shutdown does not touch hijacked
// connections, so the server calls this while draining.
func (c *Connections) CloseAll(reason string) {
	c.mu.Lock()
	closing := c.active
	c.active = make(map[string]*websocket.Conn)
	c.mu.Unlock()

	var wg sync.WaitGroup
	for sid, conn := range closing {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = conn.Close(websocket.StatusGoingAway, reason)
			slog.Info("Chat socket closed", "session_id", sid, "reason", reason)
		}()
	}
	wg.Wait()
}
