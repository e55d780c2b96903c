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
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScan/pkg/logging"
	"github.com/AleutianAI/AleutianScan/services/scan/server"
	"github.com/AleutianAI/AleutianScan/services/scan/telemetry"
)

type serveFlags struct {
	addr      string
	logOutput bool
	debug     bool
	timeout   time.Duration
	logFile   string
	jsonLogs  bool
}

func newServeCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the analysis API over HTTP",
		Long: `Serve the analysis API over HTTP.

Endpoints:
  POST /v1/analyze   analyze one file with the rules sent in the request
  GET  /v1/version   server version and revision
  GET  /v1/health    liveness
  GET  /metrics      Prometheus metrics

Examples:
  scan serve
  scan serve --addr 127.0.0.1:9090 --json-logs`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), flags, stderr)
		},
	}

	defaults := server.DefaultConfig()
	f := cmd.Flags()
	f.StringVar(&flags.addr, "addr", defaults.Addr, "listen address")
	f.BoolVar(&flags.logOutput, "log-output", true, "return console.log output of rules")
	f.BoolVar(&flags.debug, "debug", false, "log every unit of work")
	f.DurationVar(&flags.timeout, "timeout", 0, "per-rule deadline (default 5s)")
	f.StringVar(&flags.logFile, "log-file", "", "also write logs to this file")
	f.BoolVar(&flags.jsonLogs, "json-logs", false, "log in JSON")
	return cmd
}

func runServe(ctx context.Context, flags serveFlags, stderr io.Writer) error {
	level := logging.LevelInfo
	if flags.debug {
		level = logging.LevelDebug
	}
	logger, err := logging.New(logging.Config{
		Level:   level,
		Output:  stderr,
		JSON:    flags.jsonLogs,
		LogFile: flags.logFile,
		Service: "scan-server",
	})
	if err != nil {
		// logger is still usable without its file.
		logger.Warn("log file unavailable", "error", err)
	}
	defer logger.Close()

	shutdown, err := telemetry.Init(ctx, telemetry.ServerConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	cfg := server.DefaultConfig()
	cfg.Addr = flags.addr
	cfg.Version = version
	cfg.Analysis.LogOutput = flags.logOutput
	cfg.Analysis.UseDebug = flags.debug
	cfg.Analysis.Timeout = flags.timeout
	cfg.Logger = logger.Slog()

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}
	defer srv.Close()

	return srv.Run(ctx)
}
