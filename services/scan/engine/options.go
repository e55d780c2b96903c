// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
	"github.com/AleutianAI/AleutianScan/services/scan/match"
	"github.com/AleutianAI/AleutianScan/services/scan/sandbox"
)

// AnalysisOptions are the per-run analysis switches. They are passed by
// value and never shared mutably.
type AnalysisOptions struct {
	// LogOutput keeps console.log output of rules in RuleResult.Output.
	LogOutput bool

	// UseDebug logs every unit of work at debug level.
	UseDebug bool

	// Timeout is the deadline of one (file, rule) unit. Zero selects
	// sandbox.DefaultTimeout.
	Timeout time.Duration
}

// engineOptions configures an Engine beyond the analysis switches.
type engineOptions struct {
	logger         *slog.Logger
	maxFileSize    int
	maxViolations  int
	maxOutputBytes int
	maxMemoryBytes uint64
	cacheSize      int
}

// Option is a functional option for configuring an Engine.
type Option func(*engineOptions)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithMaxFileSize sets the largest file that will be parsed.
func WithMaxFileSize(size int) Option {
	return func(o *engineOptions) {
		o.maxFileSize = size
	}
}

// WithMaxViolations sets the per-unit violation budget.
func WithMaxViolations(n int) Option {
	return func(o *engineOptions) {
		o.maxViolations = n
	}
}

// WithMaxOutputBytes sets the per-unit console output budget.
func WithMaxOutputBytes(n int) Option {
	return func(o *engineOptions) {
		o.maxOutputBytes = n
	}
}

// WithMaxMemoryBytes sets the heap growth budget of one unit.
func WithMaxMemoryBytes(n uint64) Option {
	return func(o *engineOptions) {
		o.maxMemoryBytes = n
	}
}

// WithCacheSize bounds the compiled query and program caches. A
// long-running server sees an open-ended set of rules.
func WithCacheSize(n int) Option {
	return func(o *engineOptions) {
		o.cacheSize = n
	}
}

func defaultEngineOptions() engineOptions {
	sb := sandbox.DefaultOptions()
	return engineOptions{
		maxFileSize:    ast.DefaultParserOptions().MaxFileSize,
		maxViolations:  sb.MaxViolations,
		maxOutputBytes: sb.MaxOutputBytes,
		maxMemoryBytes: sb.MaxMemoryBytes,
		cacheSize:      match.DefaultQueryCacheSize,
	}
}
