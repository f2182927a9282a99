// Wey - personal AI assistant backend
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/agent"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/api"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/chat"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/config"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/identity"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/middleware"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/persist"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/realtime"
	"github.com/EriveltoSilva/wey-my-personal-ai-assistant-backend/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	shutdownTimeout    = 10 * time.Second
	queueDrainTimeout  = 15 * time.Second
	socketReplyTimeout = 30 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"container", config.IsContainer(),
		"generation_backend", cfg.Generation.Backend,
	)

	// Initialize dependencies.
	repo, err := openRepository(cfg)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "postgres", cfg.UsePostgres())

	queue := persist.New(repo, persist.Options{
		PollInterval: cfg.Queue.PollInterval,
		WriteTimeout: cfg.Queue.WriteTimeout,
	}, logger)
	queue.Start()

	gen, closeGen, err := agent.NewGenerator(cfg.Generation, logger)
	if err != nil {
		slog.Error("Failed to initialize generation backend", "error", err)
		os.Exit(1)
	}
	defer closeGen()

	verifier := identity.NewJWTVerifier([]byte(cfg.JWTSecret))

	// Initialize services.
	coordinator := chat.NewCoordinator(repo, queue, gen, cfg.Generation, logger)
	limiter := chat.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	registry := realtime.NewRegistry(cfg.WSWriteTTL, logger)

	var responder realtime.Responder = realtime.CannedResponder{}
	if cfg.Generation.Backend != "canned" {
		responder = realtime.GeneratorResponder{
			Generator:    gen,
			Model:        cfg.Generation.DefaultModel,
			Temperature:  cfg.Generation.DefaultTemperature,
			MaxTokens:    cfg.Generation.MaxTokens,
			SystemPrompt: cfg.Generation.SystemPrompt,
			Timeout:      socketReplyTimeout,
			Logger:       logger,
		}
	}
	dispatcher := realtime.NewDispatcher(responder, logger)

	// Initialize handlers.
	chatHandler := chat.NewHandler(coordinator, repo, gen, cfg.Generation, limiter, logger)
	wsHandler := realtime.NewWebSocketHandler(registry, dispatcher, verifier, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	var genPinger api.Pinger
	if p, ok := gen.(api.Pinger); ok {
		genPinger = p
	}
	healthHandler := api.NewHealthHandler(repo, genPinger, queue.Len, registry.Connected)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(middleware.Metrics)
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(middleware.AllowedOrigins(cfg.FrontendURL, cfg.IsDevelopment())))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	// The socket authenticates with a query token.
	r.Get("/ws", wsHandler.ServeHTTP)

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(verifier, logger))
		chatHandler.RegisterRoutes(r)
	})

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Streams are finished; flush their messages before the store closes.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), queueDrainTimeout)
	defer cancelDrain()
	if err := queue.Stop(drainCtx); err != nil {
		slog.Error("Persistence queue did not drain", "error", err, "pending", queue.Len())
	}

	noticeCtx, cancelNotice := context.WithTimeout(context.Background(), cfg.WSWriteTTL)
	reached := registry.BroadcastToAll(noticeCtx, dispatcher.ShutdownNotice())
	cancelNotice()
	slog.Info("Shutdown notice sent", "users", reached)

	registry.Close()

	slog.Info("Server stopped successfully")
}

func openRepository(cfg *config.Config) (store.Repository, error) {
	if cfg.UsePostgres() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return store.NewPostgres(ctx, cfg.DatabaseURL)
	}
	return store.NewSQLite(cfg.DBPath)
}
