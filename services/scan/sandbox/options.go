// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"log/slog"
	"time"
)

// Options configures the Executor budgets.
type Options struct {
	// Timeout is the wall-clock budget for one (file, rule) unit.
	// Default: 5s
	Timeout time.Duration

	// MaxCallStackSize bounds JavaScript recursion depth.
	// Default: 1024
	MaxCallStackSize int

	// MaxViolations bounds the violations one unit may emit. Zero disables
	// the limit.
	// Default: 10000
	MaxViolations int

	// MaxOutputBytes bounds captured console output per unit. Zero disables
	// the limit.
	// Default: 64KB
	MaxOutputBytes int

	// MaxFixes bounds the fixes one violation may carry. Zero disables the
	// limit.
	// Default: 64
	MaxFixes int

	// MaxEdits bounds the edits one fix may carry. Zero disables the limit.
	// Default: 1024
	MaxEdits int

	// MaxMemoryBytes bounds process heap growth while a unit runs. Units
	// running concurrently share the heap, so the bound is coarse. Zero
	// disables the watchdog.
	// Default: 512MB
	MaxMemoryBytes uint64

	// MemorySampleInterval is how often the watchdog samples the heap.
	// Default: 10ms
	MemorySampleInterval time.Duration

	// ProgramCacheSize bounds the number of compiled rule programs kept.
	// Non-positive values use the default.
	// Default: 4096
	ProgramCacheSize int

	// CaptureOutput stores console.log output in RuleResult.Output.
	// Default: false
	CaptureOutput bool

	// Logger receives debug records. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultTimeout is the per-unit deadline when none is configured.
const DefaultTimeout = 5 * time.Second

// DefaultProgramCacheSize is the number of compiled programs kept.
const DefaultProgramCacheSize = 4096

// DefaultOptions returns the default budgets.
func DefaultOptions() Options {
	return Options{
		Timeout:              DefaultTimeout,
		MaxCallStackSize:     1024,
		MaxViolations:        10000,
		MaxOutputBytes:       64 * 1024,
		MaxFixes:             64,
		MaxEdits:             1024,
		MaxMemoryBytes:       512 << 20,
		MemorySampleInterval: 10 * time.Millisecond,
		ProgramCacheSize:     DefaultProgramCacheSize,
	}
}

// Option is a functional option for configuring an Executor.
type Option func(*Options)

// WithTimeout sets the per-unit deadline. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithMaxCallStackSize sets the recursion budget.
func WithMaxCallStackSize(n int) Option {
	return func(o *Options) {
		o.MaxCallStackSize = n
	}
}

// WithMaxViolations sets the per-unit violation budget.
func WithMaxViolations(n int) Option {
	return func(o *Options) {
		o.MaxViolations = n
	}
}

// WithMaxOutputBytes sets the per-unit console output budget.
func WithMaxOutputBytes(n int) Option {
	return func(o *Options) {
		o.MaxOutputBytes = n
	}
}

// WithMaxFixes sets the per-violation fix budget.
func WithMaxFixes(n int) Option {
	return func(o *Options) {
		o.MaxFixes = n
	}
}

// WithMaxEdits sets the per-fix edit budget.
func WithMaxEdits(n int) Option {
	return func(o *Options) {
		o.MaxEdits = n
	}
}

// WithMaxMemoryBytes sets the heap growth budget of one unit.
func WithMaxMemoryBytes(n uint64) Option {
	return func(o *Options) {
		o.MaxMemoryBytes = n
	}
}

// WithProgramCacheSize bounds the compiled program cache.
func WithProgramCacheSize(n int) Option {
	return func(o *Options) {
		o.ProgramCacheSize = n
	}
}

// WithOutputCapture enables or disables console output capture.
func WithOutputCapture(enabled bool) Option {
	return func(o *Options) {
		o.CaptureOutput = enabled
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}
