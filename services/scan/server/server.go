// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package server exposes the analysis engine over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianScan/services/scan/engine"
	"github.com/AleutianAI/AleutianScan/services/scan/telemetry"
)

// Config controls the HTTP server.
type Config struct {
	// Addr is the listen address.
	// Default: ":8000"
	Addr string

	// Version is reported by /v1/version and /v1/health.
	Version string

	// Revision is the source revision, reported by /v1/version.
	Revision string

	// Analysis are the default analysis switches. Requests may override
	// them with their options.
	Analysis engine.AnalysisOptions

	// MaxBodyBytes limits request bodies.
	// Default: 32MB
	MaxBodyBytes int64

	// ShutdownTimeout bounds graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration

	// Logger receives request logs. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8000",
		Version:         "dev",
		MaxBodyBytes:    32 << 20,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server serves the analysis API.
//
// Thread Safety: Safe for concurrent use.
type Server struct {
	config  Config
	logger  *slog.Logger
	engine  *engine.Engine
	router  *gin.Engine
	metrics *httpMetrics
}

// New creates a Server and its router.
func New(config Config) (*Server, error) {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.Version == "" {
		config.Version = defaults.Version
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	metrics, err := newHTTPMetrics()
	if err != nil {
		return nil, fmt.Errorf("create http metrics: %w", err)
	}

	s := &Server{
		config:  config,
		logger:  logger,
		engine:  engine.New(config.Analysis, engine.WithLogger(logger)),
		metrics: metrics,
	}
	s.router = s.initRouter()
	return s, nil
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) initRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aleutian-scan"))
	router.Use(requestIDMiddleware())
	router.Use(s.metrics.middleware())

	v1 := router.Group("/v1")
	v1.POST("/analyze", s.HandleAnalyze)
	v1.GET("/version", s.HandleVersion)
	v1.GET("/health", s.HandleHealth)

	metricsHandler := telemetry.MetricsHandler()
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))

	return router
}

// Run serves until ctx is canceled, then shuts down gracefully.
//
// Description:
//
//	In-flight analyses finish within ShutdownTimeout; their units are
//	bounded by the analysis timeout, so shutdown does not hang on rule
//	code.
//
// Outputs:
//
//	error - Listen failures. A clean shutdown returns nil.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("analysis server listening", slog.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.logger.Info("analysis server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the engine.
func (s *Server) Close() {
	s.engine.Close()
}
