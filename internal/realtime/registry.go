// Package realtime manages per-user websocket connections and the typed
// messages exchanged over them.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/metrics"
	"github.com/coder/websocket"
)

// ErrTransport marks a failed send on a registered connection.
var ErrTransport = errors.New("websocket send failed")

// DefaultWriteTimeout bounds a single send on one connection.
const DefaultWriteTimeout = 5 * time.Second

// Conn is the subset of *websocket.Conn the registry needs.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Registry maps user ids to that user's live connections. A user id is
// present only while it has at least one connection.
type Registry struct {
	mu           sync.RWMutex
	active       map[string][]Conn
	writeTimeout time.Duration
	logger       *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(writeTimeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Registry{
		active:       make(map[string][]Conn),
		writeTimeout: writeTimeout,
		logger:       logger,
	}
}

// Connect completes the websocket handshake and registers the connection.
func (r *Registry) Connect(w http.ResponseWriter, req *http.Request, userID string, opts *websocket.AcceptOptions) (*websocket.Conn, error) {
	ws, err := websocket.Accept(w, req, opts)
	if err != nil {
		return nil, fmt.Errorf("accept websocket: %w", err)
	}
	r.Add(userID, ws)
	return ws, nil
}

// Add appends conn to userID's bucket.
func (r *Registry) Add(userID string, conn Conn) {
	r.mu.Lock()
	r.active[userID] = append(r.active[userID], conn)
	count := len(r.active[userID])
	r.mu.Unlock()

	metrics.WebSocketConnections.Inc()
	r.logger.Info("WebSocket connected", "user_id", userID, "connections", count)
}

// Disconnect removes conn from userID's bucket and drops the bucket when it
// empties. It reports whether conn was registered.
func (r *Registry) Disconnect(userID string, conn Conn) bool {
	r.mu.Lock()
	conns, ok := r.active[userID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	idx := slices.Index(conns, conn)
	if idx < 0 {
		r.mu.Unlock()
		return false
	}

	remaining := slices.Delete(slices.Clone(conns), idx, idx+1)
	if len(remaining) == 0 {
		delete(r.active, userID)
	} else {
		r.active[userID] = remaining
	}
	r.mu.Unlock()

	metrics.WebSocketConnections.Dec()
	r.logger.Info("WebSocket disconnected", "user_id", userID, "remaining", len(remaining))
	return true
}

// SendToUser JSON-encodes payload and writes it to every connection of
// userID. Connections that fail are pruned once all writes are done. It
// reports whether at least one connection received the payload.
func (r *Registry) SendToUser(ctx context.Context, userID string, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("Failed to encode websocket payload", "error", err, "user_id", userID)
		return false
	}
	return r.send(ctx, userID, data)
}

func (r *Registry) send(ctx context.Context, userID string, data []byte) bool {
	r.mu.RLock()
	snapshot := slices.Clone(r.active[userID])
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		return false
	}

	delivered := 0
	var failed []Conn
	for _, conn := range snapshot {
		if err := r.write(ctx, conn, data); err != nil {
			r.logger.Warn("WebSocket send failed, pruning connection",
				"error", fmt.Errorf("%w: %w", ErrTransport, err),
				"user_id", userID,
			)
			failed = append(failed, conn)
			continue
		}
		delivered++
	}

	for _, conn := range failed {
		if r.Disconnect(userID, conn) {
			_ = conn.Close(websocket.StatusGoingAway, "send failed")
		}
	}

	return delivered > 0
}

// SendToConn writes payload to a single registered connection of userID,
// pruning it on failure.
func (r *Registry) SendToConn(ctx context.Context, userID string, conn Conn, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("Failed to encode websocket payload", "error", err, "user_id", userID)
		return false
	}
	if err := r.write(ctx, conn, data); err != nil {
		r.logger.Warn("WebSocket send failed, pruning connection",
			"error", fmt.Errorf("%w: %w", ErrTransport, err),
			"user_id", userID,
		)
		if r.Disconnect(userID, conn) {
			_ = conn.Close(websocket.StatusGoingAway, "send failed")
		}
		return false
	}
	return true
}

func (r *Registry) write(ctx context.Context, conn Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, r.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// BroadcastToAll sends payload to every registered user and returns how many
// users received it. The user set is captured before any send.
func (r *Registry) BroadcastToAll(ctx context.Context, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("Failed to encode broadcast payload", "error", err)
		return 0
	}

	reached := 0
	for _, userID := range r.Users() {
		if r.send(ctx, userID, data) {
			reached++
		}
	}
	return reached
}

// Users returns the ids that currently hold a connection.
func (r *Registry) Users() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]string, 0, len(r.active))
	for id := range r.active {
		users = append(users, id)
	}
	return users
}

// ConnectionCount returns how many connections userID has.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active[userID])
}

// Connected returns the total number of registered connections.
func (r *Registry) Connected() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.active {
		n += len(conns)
	}
	return n
}

// Close closes every registered connection and empties the registry.
func (r *Registry) Close() {
	r.mu.Lock()
	active := r.active
	r.active = make(map[string][]Conn)
	r.mu.Unlock()

	// Each Close waits for the peer's close frame, so close in parallel.
	var wg sync.WaitGroup
	for userID, conns := range active {
		for _, conn := range conns {
			userID, conn := userID, conn
			metrics.WebSocketConnections.Dec()
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := conn.Close(websocket.StatusGoingAway, "server shutting down"); err != nil {
					r.logger.Debug("Failed to close websocket", "error", err, "user_id", userID)
				}
			}()
		}
	}
	wg.Wait()
}
