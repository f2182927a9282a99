package realtime

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/identity"
	"github.com/coder/websocket"
)

// WebSocketHandler serves the realtime socket.
type WebSocketHandler struct {
	registry      *Registry
	dispatcher    *Dispatcher
	verifier      identity.TokenVerifier
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(registry *Registry, dispatcher *Dispatcher, verifier identity.TokenVerifier, allowedOrigin string, isDev bool, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		registry:      registry,
		dispatcher:    dispatcher,
		verifier:      verifier,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

func (h *WebSocketHandler) acceptOptions() *websocket.AcceptOptions {
	if h.isDev || h.allowedOrigin == "" || h.allowedOrigin == "*" {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: []string{h.allowedOrigin}}
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info("WebSocket connection request", "ip", identity.IPFromRequest(r))

	userID, err := h.verifier.Verify(identity.QueryToken(r))
	if err != nil {
		h.reject(w, r, err)
		return
	}

	ws, err := h.registry.Connect(w, r, userID, h.acceptOptions())
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		h.registry.Disconnect(userID, ws)
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	h.receiveLoop(r.Context(), ws, userID)
}

// reject completes the handshake only to close with a policy violation, so
// browsers see the close code instead of a bare HTTP error.
func (h *WebSocketHandler) reject(w http.ResponseWriter, r *http.Request, cause error) {
	h.logger.Warn("WebSocket credential rejected", "error", cause, "ip", identity.IPFromRequest(r))

	ws, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.logger.Debug("Failed to accept rejected WebSocket", "error", err)
		return
	}
	_ = ws.Close(websocket.StatusPolicyViolation, "invalid credentials")
}

func (h *WebSocketHandler) receiveLoop(ctx context.Context, ws *websocket.Conn, userID string) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("Panic in websocket receive loop", "panic", r, "user_id", userID)
		}
	}()

	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "user_id", userID, "status", websocket.CloseStatus(err))
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "user_id", userID)
			}
			return
		}

		reply, fanOut := h.dispatcher.Dispatch(ctx, userID, message)
		if fanOut {
			if !h.registry.SendToUser(ctx, userID, reply) {
				h.logger.Warn("No websocket received reply", "user_id", userID, "type", reply.Type)
			}
			continue
		}

		// Errors go back to the socket that caused them.
		if !h.registry.SendToConn(ctx, userID, ws, reply) {
			return
		}
	}
}
