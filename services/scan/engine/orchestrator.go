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
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
	"github.com/AleutianAI/AleutianScan/services/scan/files"
	"github.com/AleutianAI/AleutianScan/services/scan/rules"
	"github.com/AleutianAI/AleutianScan/services/scan/telemetry"
)

// Request describes one analysis run.
type Request struct {
	// Root is the directory file paths are relative to.
	Root string

	// Files are the candidate paths, relative to Root or absolute.
	Files []string

	// Rules are the rules as loaded. Each one is verified and decoded
	// before scheduling; refused rules never reach the matcher.
	Rules []rules.Rule

	// Workers bounds parallelism. Zero selects WorkerCount(runtime CPUs).
	Workers int
}

// Report is the outcome of a run.
type Report struct {
	// Results holds every RuleResult, grouped by file in input file order.
	Results []rules.RuleResult

	// Rules are the decoded rules that were scheduled.
	Rules []*rules.DecodedRule

	// Excluded lists the rules refused by the trust loader.
	Excluded []rules.Exclusion

	// FilesScheduled counts the (file, language) units that were scheduled.
	FilesScheduled int

	// FileReadErrors counts files that could not be read.
	FileReadErrors int

	Stats    Stats
	Duration time.Duration
}

// WorkerCount returns the default pool size for cpus logical CPUs: 90% of
// all CPUs but one, at least one.
func WorkerCount(cpus int) int {
	return max(1, int(float64(cpus-1)*0.90))
}

// fileUnit is one file with the rules of its language.
type fileUnit struct {
	path     string
	language ast.Language
	rules    []*rules.DecodedRule
}

// Run analyzes every file of req with every applicable rule.
//
// Description:
//
//	Rules are verified and decoded first. Files are partitioned by the
//	languages of the remaining rules; each (file, rules of its language)
//	unit is scheduled on a bounded errgroup. Every unit writes only its own
//	slot of the result table and the table is folded once after all
//	workers finish, so workers share no mutable state.
//
// Inputs:
//
//	ctx - Cancellation stops scheduling; finished units are kept.
//	req - The run description.
//
// Outputs:
//
//	*Report - Always non-nil.
//	error   - ctx.Err() when the run was canceled.
func (e *Engine) Run(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	ctx, span := startRunSpan(ctx, len(req.Files), len(req.Rules))
	defer func() { telemetry.EndSpan(span, ctx.Err()) }()
	logger := telemetry.LoggerWithTrace(ctx, e.logger)

	decoded, excluded := rules.Prepare(req.Rules, e.logger)
	report := &Report{Rules: decoded, Excluded: excluded}

	var units []fileUnit
	for _, lang := range rules.LanguagesForRules(decoded) {
		var langRules []*rules.DecodedRule
		for _, r := range decoded {
			if r.Language == lang {
				langRules = append(langRules, r)
			}
		}
		paths := files.FilterFilesForLanguage(req.Files, lang)
		if e.options.UseDebug {
			e.logger.Debug(fmt.Sprintf("Analyzing %s, %d files detected", lang, len(paths)))
		}
		for _, path := range paths {
			units = append(units, fileUnit{path: path, language: lang, rules: langRules})
		}
	}

	report.FilesScheduled = len(units)

	workers := req.Workers
	if workers <= 0 {
		workers = WorkerCount(runtimeCPUs())
	}

	logger.Info("analysis started",
		slog.Int("files", len(units)),
		slog.Int("rules", len(decoded)),
		slog.Int("excluded_rules", len(excluded)),
		slog.Int("workers", workers))

	table := make([][]rules.RuleResult, len(units))
	var readErrors atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, u := range units {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			content, err := os.ReadFile(resolve(req.Root, u.path))
			if err != nil {
				readErrors.Add(1)
				logger.Warn("cannot read file",
					slog.String("file", u.path),
					slog.String("code", rules.CodeFileReadError),
					slog.String("error", err.Error()))
				return nil
			}
			table[i] = e.Analyze(gctx, u.language, u.rules, u.path, content)
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range table {
		report.Results = append(report.Results, res...)
	}
	report.FileReadErrors = int(readErrors.Load())
	report.Stats = Aggregate(report.Results)
	report.Duration = time.Since(start)

	logger.Info("analysis finished",
		slog.Int("results", len(report.Results)),
		slog.Int("violations", report.Stats.TotalViolations),
		slog.Int("timeouts", len(report.Stats.TimedOut)),
		slog.Duration("duration", report.Duration))

	return report, ctx.Err()
}

func resolve(root, path string) string {
	if filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}
