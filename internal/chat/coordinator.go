// Package chat streams model replies to HTTP clients and records both sides
// of each turn through the persistence queue.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/agent"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/config"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/domain"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/metrics"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/persist"
)

var (
	// ErrNotFound is returned when the chat is missing or owned by someone else.
	ErrNotFound = errors.New("chat not found")
	// ErrTransport marks a failed write to the client.
	ErrTransport = errors.New("client transport failed")
	// ErrEmptyConversation is returned when a request carries no messages.
	ErrEmptyConversation = errors.New("conversation has no messages")
)

// ChatLookup resolves a chat owned by a user. A nil chat means not found.
type ChatLookup interface {
	GetChat(ctx context.Context, chatID, userID string) (*domain.Chat, error)
}

// Enqueuer accepts messages for background persistence.
type Enqueuer interface {
	Enqueue(msg persist.QueuedMessage) error
}

// Outcome is the terminal result of a stream.
type Outcome string

// Stream outcomes.
const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// StreamRequest is one generation-and-forward cycle.
type StreamRequest struct {
	ChatID   string
	UserID   string
	Messages []agent.Message
	Model    string
	// Temperature falls back to the configured default when nil.
	Temperature *float64
	Streaming   bool
}

// Result summarizes a finished stream.
type Result struct {
	Outcome     Outcome
	Content     string
	Tokens      int
	Elapsed     time.Duration
	Model       string
	Temperature float64
	// Persisted is true when the agent turn was handed to the queue.
	Persisted bool
	// Err is the failure behind a failed or cancelled outcome.
	Err error
}

// Coordinator runs streams. It is safe for concurrent use.
type Coordinator struct {
	chats  ChatLookup
	queue  Enqueuer
	gen    agent.Generator
	cfg    config.GenerationConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewCoordinator creates a coordinator.
func NewCoordinator(chats ChatLookup, queue Enqueuer, gen agent.Generator, cfg config.GenerationConfig, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		chats:  chats,
		queue:  queue,
		gen:    gen,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Stream resolves the chat, records the user turn, forwards generated tokens
// to out and records the agent turn. A non-nil error means nothing was
// streamed. Stream failures are reported in Result.Err after an error frame
// has been sent.
func (c *Coordinator) Stream(ctx context.Context, req StreamRequest, out FrameWriter) (*Result, error) {
	if len(req.Messages) == 0 {
		return nil, ErrEmptyConversation
	}

	chat, err := c.chats.GetChat(ctx, req.ChatID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("resolve chat %s: %w", req.ChatID, err)
	}
	if chat == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, req.ChatID)
	}

	c.enqueue(persist.QueuedMessage{
		ChatID:  req.ChatID,
		UserID:  req.UserID,
		Content: req.Messages[len(req.Messages)-1].Content,
		Sender:  domain.SenderUser,
		Type:    domain.MessageTypeText,
	})

	temperature := c.cfg.DefaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	s := &session{
		start:       c.now(),
		model:       c.cfg.ResolveModel(req.Model),
		temperature: temperature,
		state:       stateInit,
	}

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	task := agent.StartTask(ctx, c.gen, agent.GenerateRequest{
		Messages:    agent.WithSystemPrompt(c.cfg.SystemPrompt, req.Messages, c.cfg.MaxHistory),
		Model:       s.model,
		Temperature: temperature,
		MaxTokens:   c.cfg.MaxTokens,
		Stream:      req.Streaming,
		UserID:      req.UserID,
	}, c.cfg.TokenBuffer, c.logger)
	defer s.close(task)

	s.state = stateStreaming
	c.forward(ctx, s, task, out)

	// Release the backend before deciding on the outcome. Errors that never
	// reached the channel surface here.
	task.Cancel()
	waitErr := task.Wait()
	if s.state == stateStreaming {
		switch {
		case waitErr == nil:
			s.finish(OutcomeCompleted, nil)
		case ctx.Err() != nil:
			s.finish(OutcomeCancelled, ctx.Err())
		default:
			s.finish(OutcomeFailed, waitErr)
			if err := out.WriteFrame(TaskErrorFrame(frameMessage(waitErr))); err != nil {
				c.logger.Debug("failed to write task error frame", "error", err, "chat_id", req.ChatID)
			}
		}
	}

	elapsed := c.now().Sub(s.start)
	res := &Result{
		Outcome:     s.outcome,
		Content:     s.text.String(),
		Tokens:      s.tokens,
		Elapsed:     elapsed,
		Model:       s.model,
		Temperature: s.temperature,
		Err:         s.err,
	}

	if strings.TrimSpace(res.Content) != "" {
		ms := elapsedMillis(elapsed)
		temp := s.temperature
		res.Persisted = c.enqueue(persist.QueuedMessage{
			ChatID:          req.ChatID,
			UserID:          req.UserID,
			Content:         res.Content,
			Sender:          domain.SenderAgent,
			Type:            domain.MessageTypeText,
			TokensUsed:      s.tokens,
			ResponseTimeMs:  &ms,
			ModelUsed:       s.model,
			TemperatureUsed: &temp,
			Metadata:        outcomeMetadata(s.outcome, s.err),
		})
		if res.Persisted {
			s.state = statePersisted
		}
	}

	c.record(req, res, s.state)
	return res, nil
}

func (c *Coordinator) forward(ctx context.Context, s *session, task *agent.Task, out FrameWriter) {
	for {
		select {
		case <-ctx.Done():
			s.finish(OutcomeCancelled, ctx.Err())
			return

		case chunk, ok := <-task.Chunks():
			if !ok {
				return
			}

			switch chunk.Kind {
			case agent.ChunkToken:
				if chunk.Text == "" {
					continue
				}
				if err := out.WriteFrame(TokenFrame(chunk.Text)); err != nil {
					if ctx.Err() != nil {
						s.finish(OutcomeCancelled, ctx.Err())
						return
					}
					if !errors.Is(err, ErrTransport) {
						err = fmt.Errorf("%w: %w", ErrTransport, err)
					}
					s.finish(OutcomeFailed, err)
					_ = out.WriteFrame(ErrorFrame(err.Error()))
					return
				}
				s.text.WriteString(chunk.Text)
				s.tokens++
				metrics.StreamTokens.Inc()

			case agent.ChunkDone:
				// The channel closes next.

			case agent.ChunkError:
				if ctx.Err() != nil {
					s.finish(OutcomeCancelled, ctx.Err())
					return
				}
				s.finish(OutcomeFailed, chunk.Err)
				if err := out.WriteFrame(ErrorFrame(frameMessage(chunk.Err))); err != nil {
					c.logger.Debug("failed to write error frame", "error", err)
				}
				return
			}
		}
	}
}

func (c *Coordinator) enqueue(msg persist.QueuedMessage) bool {
	if err := c.queue.Enqueue(msg); err != nil {
		c.logger.Warn("Message not queued for persistence",
			"error", err,
			"chat_id", msg.ChatID,
			"sender", msg.Sender,
		)
		return false
	}
	return true
}

func (c *Coordinator) record(req StreamRequest, res *Result, state streamState) {
	metrics.StreamSessions.WithLabelValues(string(res.Outcome)).Inc()
	metrics.StreamDuration.Observe(res.Elapsed.Seconds())

	attrs := []any{
		"chat_id", req.ChatID,
		"user_id", req.UserID,
		"outcome", res.Outcome,
		"tokens", res.Tokens,
		"elapsed_ms", res.Elapsed.Milliseconds(),
		"model", res.Model,
		"persisted", res.Persisted,
		"state", state.String(),
	}
	switch res.Outcome {
	case OutcomeFailed:
		c.logger.Error("Chat stream failed", append(attrs, "error", res.Err)...)
	case OutcomeCancelled:
		c.logger.Info("Chat stream cancelled by client", attrs...)
	default:
		c.logger.Info("Chat stream completed", attrs...)
	}
}

// elapsedMillis rounds up so a recorded response time is never zero.
func elapsedMillis(d time.Duration) int64 {
	ms := int64(math.Ceil(float64(d) / float64(time.Millisecond)))
	if ms < 1 {
		ms = 1
	}
	return ms
}

func outcomeMetadata(outcome Outcome, err error) map[string]any {
	meta := map[string]any{"outcome": string(outcome)}
	if outcome == OutcomeCompleted {
		return meta
	}
	meta["partial"] = true
	if err != nil && outcome == OutcomeFailed {
		meta["error"] = frameMessage(err)
	}
	return meta
}

// frameMessage strips the generic upstream prefix from err.
func frameMessage(err error) string {
	msg := err.Error()
	return strings.TrimPrefix(msg, agent.ErrUpstreamGeneration.Error()+": ")
}
