// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/treadpilot/cmd/treadpilot/config"
	"github.com/AleutianAI/treadpilot/internal/engine"
	"github.com/AleutianAI/treadpilot/internal/history"
	"github.com/AleutianAI/treadpilot/internal/powerplan"
	"github.com/AleutianAI/treadpilot/internal/procmon"
	"github.com/AleutianAI/treadpilot/internal/statusapi"
	"github.com/AleutianAI/treadpilot/internal/store"
)

// apiShutdownTimeout bounds the HTTP listener drain on exit.
const apiShutdownTimeout = 3 * time.Second

func runDaemon(cmd *cobra.Command, _ []string) error {
	if err := config.Load(); err != nil {
		return err
	}
	cfg := config.Global

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	rulesStore := store.New(cfg.Paths.Rules, store.WithLogger(logger))
	defer rulesStore.Close()

	var journal *history.Journal
	if cfg.History.Enabled {
		j, err := history.Open(history.DefaultConfig(cfg.Paths.History))
		if err != nil {
			return fmt.Errorf("open change journal: %w", err)
		}
		defer j.Close()
		journal = j
	}

	controller := powerplan.NewPowerProfilesCtl(powerplan.WithLogger(logger))
	registry := prometheus.NewRegistry()

	watcherOpts := []procmon.Option{
		procmon.WithEventSource(procmon.NewEventSource(logger)),
	}
	if interval := cfg.Monitor.PollInterval(); interval > 0 {
		watcherOpts = append(watcherOpts, procmon.WithPollInterval(interval))
	}

	engineOpts := []engine.OrchestratorOption{
		engine.WithLogger(logger),
		engine.WithMetricsRegistry(registry),
		engine.WithWatcherOptions(watcherOpts...),
	}
	if journal != nil {
		engineOpts = append(engineOpts, engine.WithJournal(journal))
	}
	orch := engine.New(procmon.NewLister(), controller, rulesStore, engineOpts...)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}

	// External edits to the rule file reload the live rule set.
	err := rulesStore.Watch(func() {
		logger.Info("rule file changed on disk, reloading")
		if err := orch.ReloadConfiguration(context.Background()); err != nil {
			logger.Warn("could not reload configuration", "error", err)
		}
	})
	if err != nil {
		logger.Warn("rule file watching unavailable", "error", err)
	}

	var apiServer *http.Server
	if cfg.API.Enabled {
		gin.SetMode(gin.ReleaseMode)
		serverOpts := []statusapi.ServerOption{
			statusapi.WithMetricsGatherer(registry),
			statusapi.WithLogger(logger),
		}
		if journal != nil {
			serverOpts = append(serverOpts, statusapi.WithJournal(journal))
		}
		api := statusapi.NewServer(orch, controller, serverOpts...)
		apiServer = &http.Server{Addr: cfg.API.Listen, Handler: api.Router()}
		go func() {
			logger.Info("status API listening", "addr", cfg.API.Listen)
			if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status API failed", "error", err)
			}
		}()
	}

	// SIGHUP reloads the rule set; SIGINT/SIGTERM shut down.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range signals {
		if sig == syscall.SIGHUP {
			logger.Info("SIGHUP received, reloading configuration")
			if err := orch.ReloadConfiguration(context.Background()); err != nil {
				logger.Warn("could not reload configuration", "error", err)
			}
			continue
		}
		logger.Info("shutting down", "signal", sig.String())
		break
	}

	if apiServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), apiShutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status API shutdown incomplete", "error", err)
		}
	}
	if err := orch.Stop(context.Background()); err != nil {
		return fmt.Errorf("stop orchestrator: %w", err)
	}
	return nil
}

// newLogger builds the slog logger from the daemon config.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
