package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trade-settlement-engine/config"
	httpHandler "trade-settlement-engine/internal/adapter/http/handler"
	"trade-settlement-engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("SEE_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("storage", cfg.Storage.Driver).
		Str("events", cfg.Events.Driver).
		Msg("Starting Trade Settlement Engine")

	if cfg.JWT.Secret == "" {
		log.Fatal().Msg("jwt.secret must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load OpenAPI spec for Swagger UI
	if specBytes, err := os.ReadFile("docs/api/openapi.yaml"); err == nil {
		httpHandler.SetSwaggerSpec(specBytes)
		log.Info().Msg("OpenAPI spec loaded for Swagger UI at /swagger")
	} else {
		log.Warn().Err(err).Msg("OpenAPI spec not found, Swagger UI will be unavailable")
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}
	defer a.close()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Server stopped with error")
	}

	log.Info().Msg("Server exited")
}
