package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mailpilot/mailpilot/internal/app"
	"github.com/mailpilot/mailpilot/internal/auth"
	"github.com/mailpilot/mailpilot/internal/config"
	"github.com/mailpilot/mailpilot/internal/dispatch"
	"github.com/mailpilot/mailpilot/internal/handler"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/middleware"
	"github.com/mailpilot/mailpilot/internal/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().Str("version", handler.Version).Msg("starting MailPilot dispatch server")

	// Connect stores and build the dispatch engine
	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}
	defer a.Close()

	tokenSvc, err := auth.NewTokenService(cfg.Security)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token service")
	}

	// Redis is optional; keep the interfaces nil when it is not connected
	var (
		rdbHealth handler.HealthChecker
		counters  middleware.CounterStore
	)
	if a.Redis != nil {
		rdbHealth = a.Redis
		counters = a.Redis
	}

	h := handler.New(a.DB, rdbHealth, log, cfg, a.DispatchSvc)
	mw := middleware.New(counters, log, cfg)
	r := router.New(h, mw, cfg, tokenSvc)

	// Resume campaigns left pending by the daily quota
	runCtx, stopRuns := context.WithCancel(context.Background())
	defer stopRuns()

	var scheduler *dispatch.Scheduler
	if cfg.Dispatch.ResumeSchedule != "" {
		scheduler, err = dispatch.NewScheduler(runCtx, cfg.Dispatch.ResumeSchedule, a.Campaigns, a.Registry, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create resume scheduler")
		}
		scheduler.Start()
		log.Info().Str("schedule", cfg.Dispatch.ResumeSchedule).Msg("resume scheduler started")
	}

	// Create HTTP server. Synchronous dispatch requests stay open for a whole
	// run, so there is no write timeout.
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	// Stop campaign runs at their next recipient boundary
	if err := a.Registry.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("campaign runs did not stop cleanly")
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
