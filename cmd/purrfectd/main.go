// Package main implements the entry point for the admin service.
// It initializes all components and starts the HTTP server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/purrfectlabs/purrfect-admin-go/internal/admin"
	"github.com/purrfectlabs/purrfect-admin-go/internal/auth"
	"github.com/purrfectlabs/purrfect-admin-go/internal/config"
	"github.com/purrfectlabs/purrfect-admin-go/internal/event"
	"github.com/purrfectlabs/purrfect-admin-go/internal/genai"
	"github.com/purrfectlabs/purrfect-admin-go/internal/server"
	"github.com/purrfectlabs/purrfect-admin-go/internal/settings"
	"github.com/purrfectlabs/purrfect-admin-go/internal/storage"
	"github.com/purrfectlabs/purrfect-admin-go/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if cfg.Env == "dev" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if _, err := telemetry.InitTracer(telemetry.ServiceName, nil); err != nil {
		logger.Error("failed to initialize OpenTelemetry tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.ShutdownTracer(ctx)
	}()

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	// Settings and the key-value item store share one document
	kv, err := storage.OpenKeyValue(filepath.Join(cfg.Storage.DataDir, "purrfect.json"), cfg.Storage.KVQuotaBytes)
	if err != nil {
		return err
	}
	st := settings.New(kv)

	pub := event.NewPublisher(cfg.NATSURL)
	defer pub.Close()

	ctx := context.Background()
	chain := storage.NewChain(ctx, st.Backend(cfg.Storage), storage.NewLocal(cfg.Storage, kv),
		storage.WithPublisher(pub),
		storage.WithLogger(logger.With("component", "storage")))
	defer chain.Close()

	ctl := admin.New(chain, st, cfg.Storage, pub, logger.With("component", "admin"))
	res := ctl.Reload(ctx)
	logger.Info("items loaded", "backend", res.Backend, "count", len(res.Items), "fallback", res.Fallback)

	ai := genai.New(cfg.GeminiBaseURL, func() string { return st.GeminiKey(cfg.GeminiAPIKey) }, cfg.VideoPoll,
		genai.WithLogger(logger.With("component", "genai")))

	sessions, err := auth.NewSessions(cfg.JWTIssuer, cfg.JWTAudience, cfg.SessionTTL)
	if err != nil {
		return err
	}

	handler, err := server.NewMux(server.Options{
		Controller:         ctl,
		Settings:           st,
		AI:                 ai,
		Gate:               auth.NewGate(cfg.AdminSecret),
		Sessions:           sessions,
		LoginRate:          cfg.LoginRateLimit,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		GeminiKeyFallback:  cfg.GeminiAPIKey,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	addr := fmt.Sprintf(":%s", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Video generation keeps the request open while the operation is polled
		WriteTimeout: 15 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", addr, "env", cfg.Env, "storage", chain.Primary())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server exited")
	return nil
}
