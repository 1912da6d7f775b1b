package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"voxd/internal/pkg/voxd/config"
	"voxd/internal/pkg/voxd/host"
	"voxd/internal/pkg/voxd/metrics"
	"voxd/internal/pkg/voxd/server"

	_ "voxd/internal/pkg/voxd/backends/kokoro"
	_ "voxd/internal/pkg/voxd/backends/piper"
	_ "voxd/internal/pkg/voxd/backends/pocket"
	_ "voxd/internal/pkg/voxd/backends/qwen3"
	_ "voxd/internal/pkg/voxd/backends/whisper"
)

func main() {
	fmt.Fprintf(os.Stderr, "voxd %s\n", Version)

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.LoadAndParse()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to parse configuration")
	}

	if err := setupLogging(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to setup logging")
	}

	log.Debug().
		Str("engine", cfg.Engine).
		Str("model", cfg.ModelPath).
		Str("addr", cfg.Addr).
		Bool("gpu", cfg.UseGPU).
		Bool("enhance", cfg.Enhance).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metricsShutdown, err := metrics.InitProvider(ctx, Version)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsShutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Metrics shutdown failed")
		}
	}()

	h, err := host.New(cfg.EngineConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine host")
	}
	defer h.Shutdown()

	// A failed load keeps the process alive in degraded mode: health and
	// ping report the failure, gated endpoints answer 503.
	if err := h.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("Starting without a loaded model")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.New(h, metrics.Default(), Version).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
	log.Info().Msg("Shutdown complete")
}

func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}

	return nil
}
