package chat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/agent"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/api"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/config"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/domain"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/identity"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/metrics"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
	quickResponseTTL    = 60 * time.Second
)

// Handler serves the chat HTTP routes.
type Handler struct {
	coordinator *Coordinator
	repo        store.Repository
	gen         agent.Generator
	cfg         config.GenerationConfig
	limiter     *RateLimiter
	logger      *slog.Logger
}

// NewHandler creates a chat handler.
func NewHandler(coordinator *Coordinator, repo store.Repository, gen agent.Generator, cfg config.GenerationConfig, limiter *RateLimiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		coordinator: coordinator,
		repo:        repo,
		gen:         gen,
		cfg:         cfg,
		limiter:     limiter,
		logger:      logger,
	}
}

// RegisterRoutes registers chat routes (requires authentication).
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/chat", func(r chi.Router) {
		r.Post("/conversation/{chatID}", h.HandleConversation)
		r.Get("/history/{chatID}", h.HandleHistory)
		r.Post("/quick_response", h.HandleQuickResponse)
	})
	r.Post("/api/v1/chats", h.HandleCreateChat)
}

type conversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type conversationRequest struct {
	StreamingMode *bool                 `json:"streaming_mode"`
	ModelName     string                `json:"model_name"`
	Temperature   *float64              `json:"temperature"`
	Messages      []conversationMessage `json:"messages"`
}

func (c conversationRequest) history() []agent.Message {
	out := make([]agent.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		role := agent.RoleAssistant
		if strings.EqualFold(m.Role, string(domain.SenderUser)) {
			role = agent.RoleUser
		}
		out = append(out, agent.Message{Role: role, Content: m.Content})
	}
	return out
}

// HandleConversation handles POST /api/v1/chat/conversation/{chatID}.
func (h *Handler) HandleConversation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		api.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if h.limiter != nil && !h.limiter.Allow(userID) {
		metrics.RateLimitHits.WithLabelValues("conversation").Inc()
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var body conversationRequest
	if err := api.DecodeJSON(w, r, api.DefaultMaxBodySize, &body); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	if len(body.Messages) == 0 {
		api.Error(w, http.StatusBadRequest, "messages are required")
		return
	}
	if strings.TrimSpace(body.Messages[len(body.Messages)-1].Content) == "" {
		api.Error(w, http.StatusBadRequest, "last message content is required")
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		api.Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	streaming := true
	if body.StreamingMode != nil {
		streaming = *body.StreamingMode
	}

	chatID := chi.URLParam(r, "chatID")
	h.logger.Info("Chat stream request",
		"chat_id", chatID,
		"user_id", userID,
		"request_id", chiMiddleware.GetReqID(r.Context()),
		"messages", len(body.Messages),
	)

	res, err := h.coordinator.Stream(r.Context(), StreamRequest{
		ChatID:      chatID,
		UserID:      userID,
		Messages:    body.history(),
		Model:       body.ModelName,
		Temperature: body.Temperature,
		Streaming:   streaming,
	}, sse)
	switch {
	case errors.Is(err, ErrNotFound):
		api.Error(w, http.StatusNotFound, "Chat not found")
		return
	case errors.Is(err, ErrEmptyConversation):
		api.Error(w, http.StatusBadRequest, "messages are required")
		return
	case err != nil:
		h.logger.Error("Chat stream could not start", "error", err, "chat_id", chatID, "user_id", userID)
		api.Error(w, http.StatusInternalServerError, "failed to start stream")
		return
	}

	// A reply with no tokens still answers with an empty stream.
	sse.Start()
	if res.Err != nil {
		h.logger.Debug("Chat stream ended early", "chat_id", chatID, "outcome", res.Outcome, "error", res.Err)
	}
}

type historyMessage struct {
	ID             string             `json:"id"`
	Content        string             `json:"content"`
	Sender         domain.Sender      `json:"sender"`
	MessageType    domain.MessageType `json:"message_type"`
	CreatedAt      time.Time          `json:"created_at"`
	TokensUsed     int                `json:"tokens_used"`
	ResponseTimeMs *int64             `json:"response_time_ms"`
	ModelUsed      string             `json:"model_used,omitempty"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
}

// HandleHistory handles GET /api/v1/chat/history/{chatID}.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	chatID := chi.URLParam(r, "chatID")

	chat, err := h.repo.GetChat(r.Context(), chatID, userID)
	if err != nil {
		h.logger.Error("Failed to load chat", "error", err, "chat_id", chatID)
		api.Error(w, http.StatusInternalServerError, "failed to load chat")
		return
	}
	if chat == nil {
		api.Error(w, http.StatusNotFound, "Chat not found")
		return
	}

	limit := queryInt(r, "limit", defaultHistoryLimit)
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	messages, err := h.repo.ListMessages(r.Context(), chatID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to list messages", "error", err, "chat_id", chatID)
		api.Error(w, http.StatusInternalServerError, "failed to load messages")
		return
	}

	out := make([]historyMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, historyMessage{
			ID:             m.ID,
			Content:        m.Content,
			Sender:         m.Sender,
			MessageType:    m.Type,
			CreatedAt:      m.CreatedAt,
			TokensUsed:     m.TokensUsed,
			ResponseTimeMs: m.ResponseTimeMs,
			ModelUsed:      m.ModelUsed,
			Metadata:       m.Metadata,
		})
	}

	api.JSON(w, http.StatusOK, map[string]interface{}{
		"chat_id":  chatID,
		"messages": out,
	})
}

// HandleQuickResponse handles POST /api/v1/chat/quick_response.
func (h *Handler) HandleQuickResponse(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	if h.limiter != nil && !h.limiter.Allow(userID) {
		metrics.RateLimitHits.WithLabelValues("quick_response").Inc()
		api.Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var body struct {
		Content string `json:"content"`
	}
	if err := api.DecodeJSON(w, r, api.DefaultMaxBodySize, &body); err != nil {
		api.WriteDecodeError(w, err)
		return
	}
	if strings.TrimSpace(body.Content) == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), quickResponseTTL)
	defer cancel()

	reply, err := agent.Complete(ctx, h.gen, agent.GenerateRequest{
		Messages:    agent.WithSystemPrompt(h.cfg.SystemPrompt, []agent.Message{{Role: agent.RoleUser, Content: body.Content}}, 0),
		Model:       h.cfg.DefaultModel,
		Temperature: h.cfg.DefaultTemperature,
		MaxTokens:   h.cfg.MaxTokens,
		UserID:      userID,
	})
	if err != nil {
		h.logger.Error("Quick response failed", "error", err, "user_id", userID)
		api.Error(w, http.StatusBadGateway, "generation failed")
		return
	}

	api.JSON(w, http.StatusOK, map[string]string{"response": reply})
}

// HandleCreateChat handles POST /api/v1/chats.
func (h *Handler) HandleCreateChat(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var body struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := api.DecodeJSON(w, r, api.DefaultMaxBodySize, &body); err != nil {
			api.WriteDecodeError(w, err)
			return
		}
	}

	now := time.Now().UTC()
	chat := &domain.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     strings.TrimSpace(body.Title),
		Status:    domain.ChatStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.repo.CreateChat(r.Context(), chat); err != nil {
		h.logger.Error("Failed to create chat", "error", err, "user_id", userID)
		api.Error(w, http.StatusInternalServerError, "failed to create chat")
		return
	}

	h.logger.Info("Chat created", "chat_id", chat.ID, "user_id", userID)
	api.JSON(w, http.StatusCreated, chat)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
