package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/config"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("error", true)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.LogLevel, cfg.Env == "development")
	log.Info().
		Str("port", cfg.Port).
		Str("env", cfg.Env).
		Bool("local_mode", cfg.LocalMode).
		Msg("starting rebar price gateway")

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Unreachable stores degrade the service; only unusable settings stop it
	a, err := newApp(ctx, cfg, log, prometheus.DefaultRegisterer, promhttp.Handler())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize gateway")
	}
	defer a.Close()

	// A bundle published into the object directory is picked up without a restart
	a.watchModel(ctx)

	// HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      a.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// SIGHUP refreshes keys and model; SIGINT/SIGTERM stop the server
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			break
		}
		log.Info().Msg("SIGHUP received, refreshing API keys and model bundle")
		a.reload(ctx)
	}

	log.Info().Msg("shutting down gracefully")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
}
