package agent

import (
	"context"
)

// Generator produces a reply for a conversation.
// Generate calls emit once per token in order and returns when generation
// ends. A non-nil error from emit must stop generation and be returned.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest, emit func(token string) error) error
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest, emit func(token string) error) error

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest, emit func(token string) error) error {
	return f(ctx, req, emit)
}

// Ensure backends implement Generator.
var (
	_ Generator = (*GrpcClient)(nil)
	_ Generator = (*OpenAIGenerator)(nil)
	_ Generator = (*CannedGenerator)(nil)
	_ Generator = GeneratorFunc(nil)
)
