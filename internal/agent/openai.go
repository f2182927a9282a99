package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

var errEmptyCompletion = errors.New("completion returned no choices")

// OpenAIGenerator streams chat completions from an OpenAI compatible API.
type OpenAIGenerator struct {
	client    *openai.Client
	maxTokens int
	logger    *slog.Logger
}

// NewOpenAIGenerator builds a generator for apiKey. An empty baseURL keeps
// the public OpenAI endpoint.
func NewOpenAIGenerator(apiKey, baseURL string, maxTokens int, logger *slog.Logger) *OpenAIGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIGenerator{
		client:    openai.NewClientWithConfig(cfg),
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req GenerateRequest, emit func(string) error) error {
	chatReq := g.buildRequest(req)

	if !req.Stream {
		resp, err := g.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return fmt.Errorf("create chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return errEmptyCompletion
		}
		return emit(resp.Choices[0].Message.Content)
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return fmt.Errorf("open completion stream: %w", err)
	}
	defer func() {
		if closeErr := stream.Close(); closeErr != nil {
			g.logger.Debug("failed to close completion stream", "error", closeErr)
		}
	}()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("completion stream error: %w", err)
		}

		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := emit(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}

func (g *OpenAIGenerator) buildRequest(req GenerateRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openAIRole(m.Role),
			Content: m.Content,
		})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	// The client drops a zero temperature from the payload.
	temperature := float32(req.Temperature)
	if temperature == 0 {
		temperature = math.SmallestNonzeroFloat32
	}

	return openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      req.Stream,
		User:        req.UserID,
	}
}

func openAIRole(r Role) string {
	switch r {
	case RoleSystem:
		return openai.ChatMessageRoleSystem
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}
