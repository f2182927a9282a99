package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/agent"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/metrics"
)

// ErrValidation marks a malformed inbound envelope.
var ErrValidation = errors.New("invalid message")

// Envelope types.
const (
	TypeUserMessage  = "user_message"
	TypeTyping       = "typing"
	TypeStopTyping   = "stop_typing"
	TypeAgentMessage = "agent_message"
	TypeStatus       = "status"
	TypeError        = "error"
)

// Fixed fields of agent replies.
const (
	AgentID       = "ai_assistant"
	AgentSender   = "AI Assistant"
	DefaultRoomID = "default-room"
)

const genericErrorMessage = "An error occurred while processing your request"

// ShutdownMessage is the status sent to every socket before the server closes them.
const ShutdownMessage = "server_shutting_down"

// Envelope is the JSON frame exchanged over the socket.
type Envelope struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp,omitempty"`
	Data      any    `json:"data"`
}

// AgentMessage is the data of an agent_message envelope.
type AgentMessage struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	AgentID   string `json:"agentId"`
	Sender    string `json:"sender"`
	RoomID    string `json:"roomId"`
	Type      string `json:"type"`
	CreatedAt string `json:"created_at"`
}

// StatusData is the data of a status envelope.
type StatusData struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
}

// ErrorData is the data of an error envelope.
type ErrorData struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type inboundEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type userMessageData struct {
	Content string `json:"content"`
	RoomID  string `json:"roomId"`
	Sender  string `json:"sender"`
}

// Responder produces the reply text for a user message.
type Responder interface {
	Respond(ctx context.Context, userID, content string) (string, error)
}

// Dispatcher classifies inbound envelopes and builds the reply.
type Dispatcher struct {
	responder Responder
	logger    *slog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. A nil responder answers from the
// canned keyword table.
func NewDispatcher(responder Responder, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if responder == nil {
		responder = CannedResponder{}
	}
	return &Dispatcher{
		responder: responder,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch handles one raw inbound frame. fanOut reports whether the reply
// goes to every connection of the user; otherwise only the sender gets it.
func (d *Dispatcher) Dispatch(ctx context.Context, userID string, raw []byte) (reply Envelope, fanOut bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic while dispatching websocket message", "panic", r, "user_id", userID)
			reply = d.errorEnvelope(fmt.Sprintf("Error processing message: %v", r))
			fanOut = false
		}
	}()

	var in inboundEnvelope
	if err := json.Unmarshal(raw, &in); err != nil {
		metrics.WebSocketMessages.WithLabelValues("invalid").Inc()
		d.logger.Debug("Invalid websocket JSON", "error", err, "user_id", userID)
		return d.errorEnvelope("Invalid JSON format"), false
	}

	switch in.Type {
	case TypeUserMessage:
		metrics.WebSocketMessages.WithLabelValues(in.Type).Inc()
		return d.handleUserMessage(ctx, userID, in.Data)
	case TypeTyping:
		metrics.WebSocketMessages.WithLabelValues(in.Type).Inc()
		return d.statusEnvelope("typing_acknowledged", userID), true
	case TypeStopTyping:
		metrics.WebSocketMessages.WithLabelValues(in.Type).Inc()
		return d.statusEnvelope("stop_typing_acknowledged", userID), true
	default:
		metrics.WebSocketMessages.WithLabelValues("unknown").Inc()
		return d.errorEnvelope(fmt.Sprintf("Unknown message type: %s", in.Type)), false
	}
}

func (d *Dispatcher) handleUserMessage(ctx context.Context, userID string, raw json.RawMessage) (Envelope, bool) {
	var data userMessageData
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			d.logger.Debug("Malformed user_message data", "error", fmt.Errorf("%w: %w", ErrValidation, err), "user_id", userID)
			return d.errorEnvelope("Message data must be an object"), false
		}
	}

	if strings.TrimSpace(data.Content) == "" {
		d.logger.Debug("Rejected empty user_message", "error", ErrValidation, "user_id", userID)
		return d.errorEnvelope("Message content cannot be empty"), false
	}

	roomID := data.RoomID
	if roomID == "" {
		roomID = DefaultRoomID
	}

	text, err := d.responder.Respond(ctx, userID, data.Content)
	if err != nil {
		d.logger.Error("Failed to produce agent reply", "error", err, "user_id", userID)
		return d.errorEnvelope(fmt.Sprintf("Error processing chat message: %v", err)), false
	}

	now := d.now()
	return Envelope{
		Type: TypeAgentMessage,
		Data: AgentMessage{
			ID:        "msg_" + strconv.FormatInt(now.UnixMicro(), 10),
			Content:   text,
			AgentID:   AgentID,
			Sender:    AgentSender,
			RoomID:    roomID,
			Type:      "agent",
			CreatedAt: now.Format(time.RFC3339Nano),
		},
	}, true
}

func (d *Dispatcher) statusEnvelope(message, userID string) Envelope {
	return Envelope{
		Type:      TypeStatus,
		Timestamp: d.now().Format(time.RFC3339Nano),
		Data:      StatusData{Message: message, UserID: userID},
	}
}

// ShutdownNotice is broadcast to every connected user before shutdown.
func (d *Dispatcher) ShutdownNotice() Envelope {
	return d.statusEnvelope(ShutdownMessage, "")
}

func (d *Dispatcher) errorEnvelope(detail string) Envelope {
	return Envelope{
		Type:      TypeError,
		Timestamp: d.now().Format(time.RFC3339Nano),
		Data:      ErrorData{Error: detail, Message: genericErrorMessage},
	}
}

// CannedResponder answers from the fixed keyword table.
type CannedResponder struct{}

// Respond implements Responder.
func (CannedResponder) Respond(_ context.Context, _ string, content string) (string, error) {
	return agent.CannedGenerator{}.Reply(content), nil
}

// GeneratorResponder asks a model for a one-shot reply and falls back to
// the canned table when the model fails.
type GeneratorResponder struct {
	Generator    agent.Generator
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
	Timeout      time.Duration
	Logger       *slog.Logger
}

// Respond implements Responder.
func (g GeneratorResponder) Respond(ctx context.Context, userID, content string) (string, error) {
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	reply, err := agent.Complete(ctx, g.Generator, agent.GenerateRequest{
		Messages:    agent.WithSystemPrompt(g.SystemPrompt, []agent.Message{{Role: agent.RoleUser, Content: content}}, 0),
		Model:       g.Model,
		Temperature: g.Temperature,
		MaxTokens:   g.MaxTokens,
		UserID:      userID,
	})
	if err == nil && strings.TrimSpace(reply) != "" {
		return reply, nil
	}

	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("Model reply unavailable, using canned reply", "error", err, "user_id", userID)
	return agent.CannedGenerator{}.Reply(content), nil
}
