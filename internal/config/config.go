// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	DatabaseURL string // postgres:// DSN; when set it takes precedence over DBPath
	JWTSecret   string
	Generation  GenerationConfig
	Queue       QueueConfig
	RateLimit   RateLimitConfig
	WSWriteTTL  time.Duration
}

// GenerationConfig controls the model collaborator and stream shaping.
type GenerationConfig struct {
	Backend            string // openai | grpc | canned
	OpenAIAPIKey       string
	OpenAIBaseURL      string
	DefaultModel       string
	AllowedModels      []string
	GRPCAddr           string
	DefaultTemperature float64
	MaxTokens          int
	MaxHistory         int
	SystemPrompt       string
	TokenBuffer        int
}

// QueueConfig controls the persistence queue consumer.
type QueueConfig struct {
	PollInterval time.Duration
	WriteTimeout time.Duration
}

// RateLimitConfig bounds streaming requests per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

const defaultSystemPrompt = "You are a highly polite and sophisticated virtual assistant named 'Wey'. " +
	"Treat the user with respect and formality. Use markdown to format answers. " +
	"Be brief on trivial topics and thorough on technical ones. " +
	"Always answer in the language of the user's last question."

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	defaultModel := getEnv("OPENAI_DEFAULT_MODEL", "gpt-4o-mini")

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/wey.db"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		Generation: GenerationConfig{
			Backend:            strings.ToLower(getEnv("GENERATION_BACKEND", "openai")),
			OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:      getEnv("OPENAI_BASE_URL", ""),
			DefaultModel:       defaultModel,
			AllowedModels:      getEnvList("ALLOWED_MODELS", []string{defaultModel, "gpt-3.5-turbo", "gpt-4o-mini"}),
			GRPCAddr:           getEnv("GENERATION_GRPC_ADDR", "localhost:50051"),
			DefaultTemperature: getEnvFloat("MESSAGE_RESPONSE_TEMPERATURE", 0.7),
			MaxTokens:          getEnvInt("MESSAGES_MAX_TOKENS", 1024),
			MaxHistory:         getEnvInt("MESSAGES_MAX_HISTORY", 100),
			SystemPrompt:       getEnv("SYSTEM_PROMPT", defaultSystemPrompt),
			TokenBuffer:        getEnvInt("TOKEN_BUFFER", 64),
		},
		Queue: QueueConfig{
			PollInterval: getEnvDuration("QUEUE_POLL_INTERVAL", time.Second),
			WriteTimeout: getEnvDuration("QUEUE_WRITE_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		WSWriteTTL: getEnvDuration("WS_WRITE_TIMEOUT", 5*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" && c.DatabaseURL == "" {
		return fmt.Errorf("one of DB_PATH or DATABASE_URL must be set")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET cannot be empty")
	}
	switch c.Generation.Backend {
	case "openai":
		if c.Generation.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai backend")
		}
	case "grpc":
		if c.Generation.GRPCAddr == "" {
			return fmt.Errorf("GENERATION_GRPC_ADDR is required for the grpc backend")
		}
	case "canned":
	default:
		return fmt.Errorf("unknown GENERATION_BACKEND %q", c.Generation.Backend)
	}
	if c.Generation.DefaultModel == "" {
		return fmt.Errorf("OPENAI_DEFAULT_MODEL cannot be empty")
	}
	if c.Generation.MaxHistory <= 0 {
		return fmt.Errorf("MESSAGES_MAX_HISTORY must be > 0")
	}
	if c.Generation.TokenBuffer <= 0 {
		return fmt.Errorf("TOKEN_BUFFER must be > 0")
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("QUEUE_POLL_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// UsePostgres reports whether the Postgres backend is configured.
func (c *Config) UsePostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// ResolveModel returns the requested model when it is allowed, otherwise the default.
func (g GenerationConfig) ResolveModel(requested string) string {
	for _, m := range g.AllowedModels {
		if requested != "" && m == requested {
			return requested
		}
	}
	return g.DefaultModel
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if getEnvBool("CONTAINER", false) {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
