package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/config"
)

// NewGenerator builds the backend selected by cfg.Backend. The returned
// close function releases backend resources and is never nil.
func NewGenerator(cfg config.GenerationConfig, logger *slog.Logger) (Generator, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case "openai":
		logger.Info("Using OpenAI generation backend", "default_model", cfg.DefaultModel)
		return NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.MaxTokens, logger), func() {}, nil
	case "grpc":
		client, err := NewGrpcClient(DefaultGrpcClientConfig(cfg.GRPCAddr), logger)
		if err != nil {
			return nil, func() {}, err
		}
		return client, client.Close, nil
	case "canned":
		logger.Warn("Using canned generation backend; replies are not model generated")
		return CannedGenerator{}, func() {}, nil
	default:
		return nil, func() {}, fmt.Errorf("unknown generation backend %q", cfg.Backend)
	}
}

// Complete runs a non-streaming generation and returns the full reply.
func Complete(ctx context.Context, gen Generator, req GenerateRequest) (string, error) {
	var sb strings.Builder
	err := gen.Generate(ctx, req, func(token string) error {
		sb.WriteString(token)
		return nil
	})
	if err != nil {
		return sb.String(), fmt.Errorf("%w: %w", ErrUpstreamGeneration, err)
	}
	return sb.String(), nil
}

// WithSystemPrompt prepends prompt to history, keeping only the last
// maxHistory entries of history. An empty prompt is skipped.
func WithSystemPrompt(prompt string, history []Message, maxHistory int) []Message {
	if maxHistory > 0 && len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	out := make([]Message, 0, len(history)+1)
	if prompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: prompt})
	}
	return append(out, history...)
}
