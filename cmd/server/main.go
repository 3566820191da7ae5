// agentwire server - session-bound event streaming for browser-automation agents
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

	"github.com/joho/godotenv"

	"agentwire/internal/agent"
	"agentwire/internal/config"
	"agentwire/internal/history"
	"agentwire/internal/server"
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

	slog.Info("Starting server", "port", cfg.Port, "backend", cfg.HistoryBackend, "dev", cfg.IsDevelopment())

	store, err := newStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize history store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close history store", "error", closeErr)
		}
	}()

	if err := store.Ping(context.Background()); err != nil {
		slog.Error("History store health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("History store connected")

	runner := &agent.ScriptedRunner{StepDelay: time.Second}
	reg := server.NewRegistry()
	router := server.NewRouter(store, runner, reg, cfg.AllowedOrigin, cfg.IsDevelopment())

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// No write timeout: WebSocket connections stay open for the whole
		// session.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCleanupWorker(ctx, store, cfg.SessionTTL)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	reg.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func newStore(cfg *config.Config) (history.Store, error) {
	switch cfg.HistoryBackend {
	case config.BackendRedis:
		return history.NewRedis(cfg.RedisURL, cfg.SessionTTL)
	default:
		return history.NewSQLite(cfg.DBPath)
	}
}

// startCleanupWorker periodically drops sessions idle past the TTL. Redis
// expires keys on its own, so its store reports zero removals.
func startCleanupWorker(ctx context.Context, store history.Store, ttl time.Duration) {
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				removed, err := store.CleanupExpired(ctx, ttl)
				if err != nil {
					slog.Warn("Session cleanup failed", "error", err)
					continue
				}
				if removed > 0 {
					slog.Info("Expired sessions removed", "count", removed)
				}
			}
		}
	}()
	slog.Info("Session cleanup worker started", "session_ttl", ttl)
}
