// Lettagram - Telegram bridge to the Letta agent platform
package main

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/lettagram/lettagram/internal/bot"
	"github.com/lettagram/lettagram/internal/config"
	"github.com/lettagram/lettagram/internal/letta"
	"github.com/lettagram/lettagram/internal/store"
	"github.com/lettagram/lettagram/internal/telegram"
	"github.com/lettagram/lettagram/internal/vault"
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

	slog.Info("Starting bot", "port", cfg.Port)

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
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
	slog.Info("Database connected")

	credVault, err := vault.New(cfg.MasterKey, repo)
	if err != nil {
		slog.Error("Failed to initialize vault", "error", err)
		os.Exit(1)
	}

	lettaClient := letta.New(letta.Config{StreamInactivity: cfg.StreamInactivity}, logger)
	tgClient := telegram.NewClient(cfg.BotToken, cfg.TelegramAPIURL, logger)

	router := bot.NewRouter(repo, credVault, lettaClient, tgClient, bot.Options{
		EditInterval: cfg.EditInterval,
		MenuPageSize: cfg.MenuPageSize,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Setup HTTP router.
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Post("/webhook", webhookHandler(ctx, router, cfg.WebhookSecret))

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// webhookHandler validates the Telegram secret token, acknowledges the
// update immediately, and processes it in the background: Telegram
// redelivers updates whose webhook call does not return quickly, so the
// relay must never run inside the request.
func webhookHandler(baseCtx context.Context, router *bot.Router, secret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if secret != "" {
			got := r.Header.Get("X-Telegram-Bot-Api-Secret-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				slog.Warn("webhook call with bad secret token")
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		var update telegram.Update
		if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
			slog.Warn("undecodable webhook update", "error", err)
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}

		go router.HandleUpdate(baseCtx, &update)

		w.WriteHeader(http.StatusOK)
	}
}
