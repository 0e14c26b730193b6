// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package statusapi exposes the daemon's state over a local HTTP API.
package statusapi

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/treadpilot/internal/engine"
	"github.com/AleutianAI/treadpilot/internal/history"
	"github.com/AleutianAI/treadpilot/internal/powerplan"
)

const (
	// defaultHistoryLimit applies to GET /history when the client sends no
	// limit.
	defaultHistoryLimit = 50

	// maxHistoryLimit caps the limit a client may request, so one call
	// cannot materialize the whole journal in memory.
	maxHistoryLimit = 1000
)

// Engine is the orchestrator surface the API needs. *engine.Orchestrator
// satisfies it.
type Engine interface {
	State() engine.State
	IsEventDriven() bool
	TriggerEvaluation(ctx context.Context) error
	ReloadConfiguration(ctx context.Context) error
}

// HistoryReader reads recent change records. *history.Journal satisfies it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.ChangeRecord, error)
}

// ProfileReader is the controller surface the API needs.
type ProfileReader interface {
	ListProfiles(ctx context.Context) ([]powerplan.Profile, error)
	GetActive(ctx context.Context) (*powerplan.Profile, error)
}

// Server holds the API dependencies.
type Server struct {
	engine   Engine
	profiles ProfileReader
	journal  HistoryReader
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithJournal enables GET /v1/power/history.
func WithJournal(journal HistoryReader) ServerOption {
	return func(s *Server) { s.journal = journal }
}

// WithMetricsGatherer enables GET /metrics.
func WithMetricsGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer creates a Server for the given engine and profile reader.
func NewServer(eng Engine, profiles ProfileReader, opts ...ServerOption) *Server {
	s := &Server{engine: eng, profiles: profiles}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Router builds the Gin router.
//
// Endpoints:
//
//	GET  /v1/power/health    - Liveness check
//	GET  /v1/power/status    - Orchestrator state and active profile
//	GET  /v1/power/profiles  - Available power profiles
//	GET  /v1/power/history   - Recent changes, newest first (?limit=N)
//	POST /v1/power/evaluate  - Force one evaluation pass
//	POST /v1/power/reload    - Reload the rule configuration
//	GET  /metrics            - Prometheus metrics (when a gatherer is set)
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1/power")
	{
		v1.GET("/health", s.handleHealth)
		v1.GET("/status", s.handleStatus)
		v1.GET("/profiles", s.handleProfiles)
		v1.GET("/history", s.handleHistory)
		v1.POST("/evaluate", s.handleEvaluate)
		v1.POST("/reload", s.handleReload)
	}

	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	state := s.engine.State()
	resp := gin.H{
		"state":        state.String(),
		"running":      state == engine.StateRunning,
		"event_driven": s.engine.IsEventDriven(),
	}

	if active, err := s.profiles.GetActive(c.Request.Context()); err != nil {
		resp["active_profile_error"] = err.Error()
	} else if active != nil {
		resp["active_profile"] = active
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleProfiles(c *gin.Context) {
	profiles, err := s.profiles.ListProfiles(c.Request.Context())
	if err != nil {
		s.logger.Error("could not list power profiles", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"profiles": profiles})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "change history is not enabled"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := s.journal.Recent(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("could not read change history", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if records == nil {
		records = []history.ChangeRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"changes": records})
}

func (s *Server) handleEvaluate(c *gin.Context) {
	if err := s.engine.TriggerEvaluation(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "evaluation triggered"})
}

func (s *Server) handleReload(c *gin.Context) {
	if err := s.engine.ReloadConfiguration(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "configuration reloaded"})
}
