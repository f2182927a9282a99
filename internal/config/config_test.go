package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GENERATION_BACKEND", "canned")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, time.Second, cfg.Queue.PollInterval)
	assert.Equal(t, 100, cfg.Generation.MaxHistory)
	assert.False(t, cfg.UsePostgres())
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadRejectsMissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("GENERATION_BACKEND", "canned")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRequiresOpenAIKey(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GENERATION_BACKEND", "openai")
	t.Setenv("OPENAI_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
}

func TestEnvParsing(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GENERATION_BACKEND", "canned")
	t.Setenv("QUEUE_POLL_INTERVAL", "250ms")
	t.Setenv("MESSAGE_RESPONSE_TEMPERATURE", "0.2")
	t.Setenv("ALLOWED_MODELS", "a, b ,,c")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost/wey")
	t.Setenv("MESSAGES_MAX_TOKENS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Queue.PollInterval)
	assert.InDelta(t, 0.2, cfg.Generation.DefaultTemperature, 1e-9)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.Generation.AllowedModels)
	assert.Equal(t, 1024, cfg.Generation.MaxTokens)
	assert.True(t, cfg.UsePostgres())
}

func TestResolveModel(t *testing.T) {
	g := GenerationConfig{DefaultModel: "gpt-4o-mini", AllowedModels: []string{"gpt-4o-mini", "gpt-3.5-turbo"}}

	assert.Equal(t, "gpt-3.5-turbo", g.ResolveModel("gpt-3.5-turbo"))
	assert.Equal(t, "gpt-4o-mini", g.ResolveModel("made-up"))
	assert.Equal(t, "gpt-4o-mini", g.ResolveModel(""))
}
