package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"meetscribe/internal/bootstrap"
	"meetscribe/internal/config"
	"meetscribe/internal/domain"
	"meetscribe/internal/httpapi"
	"meetscribe/internal/observability/logging"
	"meetscribe/internal/usecase"
)

const shutdownTimeout = 30 * time.Second

func main() {
	record := flag.Bool("record", false, "start recording immediately and stop on interrupt")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "meetscribe: %v\n", err)
		os.Exit(1)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logging.Init(logCfg)
	logger := logging.WithComponent("main")

	if err := run(cfg, *record, logger); err != nil {
		logger.Fatal().Err(err).Msg("meetscribe exited with error")
	}
}

func run(cfg config.Config, record bool, logger zerolog.Logger) error {
	hub := httpapi.NewHub(logging.WithComponent("hub"))
	app := NewApp(hub, logging.WithComponent("app"))

	services, err := bootstrap.Build(cfg, app)
	if err != nil {
		app.attach(nil, err)
		app.SessionError(domain.ErrorCodeStartup, err.Error())
		return err
	}
	app.attach(services.Controller, nil)
	app.SessionStateChanged(domain.SessionStateIdle, domain.SessionReasonReady)

	resumed, err := services.Workflow.Resume(context.Background())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to resume insight workflows")
	} else if resumed > 0 {
		logger.Info().Int("count", resumed).Msg("Resumed insight workflows")
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(app, services.Store, hub, services.Registry, logging.WithComponent("http")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if record {
		id, err := app.Start(context.Background())
		if err != nil {
			logger.Error().Err(err).Msg("Failed to start recording")
		} else {
			logger.Info().Str("recordingId", id).Msg("Recording; press Ctrl+C to stop")
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-serverErr:
		logger.Error().Err(runErr).Msg("HTTP server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if result, err := app.Stop(ctx); err == nil {
		logger.Info().
			Str("recordingId", result.RecordingID).
			Str("duration", formatDuration(result.Duration)).
			Msg("Recording stopped on shutdown")
	} else if !errors.Is(err, usecase.ErrNoActiveSession) {
		logger.Warn().Err(err).Msg("Failed to stop recording on shutdown")
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown failed")
	}
	hub.Close()
	if err := services.Close(ctx); err != nil {
		logger.Warn().Err(err).Msg("Service shutdown incomplete")
	}

	return runErr
}
