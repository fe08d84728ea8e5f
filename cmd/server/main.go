// LendFlow - conversational personal loan origination server
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

	"github.com/ashureev/lendflow/internal/api"
	"github.com/ashureev/lendflow/internal/app"
	"github.com/ashureev/lendflow/internal/config"
	"github.com/ashureev/lendflow/internal/middleware"
	"github.com/ashureev/lendflow/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "nlu", cfg.NLU.Provider, "lock_backend", cfg.Lock.Backend)

	// Initialize dependencies.
	svc, err := app.Build(cfg, logger)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			slog.Error("Failed to close resources", "error", closeErr)
		}
	}()

	if err := svc.Store.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	// Initialize handlers.
	conns := api.NewConnections()
	baseHandler := api.NewHandler(svc.Orchestrator, svc.Audit, logger)
	sessionHandler := api.NewSessionHandler(baseHandler)
	chatHandler := api.NewChatHandler(baseHandler, conns, cfg.AllowedOrigins)
	healthHandler := api.NewHealthHandler(svc.Checks, 5*time.Second)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes.
	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", svc.Metrics.Handler())

	// Conversation routes are rate limited per client.
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		sessionHandler.RegisterRoutes(r)
		chatHandler.RegisterRoutes(r)
	})

	// Create server.
	// Websocket chats are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start background workers.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store.StartCleanupWorker(ctx, svc.Store, cfg.SessionTTL, store.DefaultCleanupInterval)
	limiter.StartSweeper(ctx, time.Minute)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conns.CloseAll("server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return
	}

	slog.Info("Server stopped successfully")
}
