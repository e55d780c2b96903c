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
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
	"github.com/AleutianAI/AleutianScan/services/scan/rules"
	"github.com/AleutianAI/AleutianScan/services/scan/telemetry"
)

var meter = otel.Meter(telemetry.EngineTracer)

var (
	filesAnalyzed  metric.Int64Counter
	ruleTimeouts   metric.Int64Counter
	violationsSeen metric.Int64Counter
	ruleErrors     metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		filesAnalyzed, err = meter.Int64Counter(
			"scan_files_analyzed_total",
			metric.WithDescription("Files analyzed"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		ruleTimeouts, err = meter.Int64Counter(
			"scan_rule_timeouts_total",
			metric.WithDescription("Rule executions that hit the deadline"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		violationsSeen, err = meter.Int64Counter(
			"scan_violations_total",
			metric.WithDescription("Violations reported"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		ruleErrors, err = meter.Int64Counter(
			"scan_rule_errors_total",
			metric.WithDescription("Rule results carrying an error code"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// recordFileMetrics records the outcome of one analyzed file.
func recordFileMetrics(ctx context.Context, language ast.Language, results []rules.RuleResult) {
	if err := initMetrics(); err != nil {
		return
	}
	lang := metric.WithAttributes(attribute.String("language", string(language)))
	filesAnalyzed.Add(ctx, 1, lang)

	for _, r := range results {
		if len(r.Violations) > 0 {
			violationsSeen.Add(ctx, int64(len(r.Violations)), lang)
		}
		for _, code := range r.Errors {
			if code == rules.CodeRuleTimeout {
				ruleTimeouts.Add(ctx, 1, lang)
			}
			ruleErrors.Add(ctx, 1, metric.WithAttributes(
				attribute.String("language", string(language)),
				attribute.String("code", code),
			))
		}
	}
}

// startFileSpan creates a span for one analyzed file.
func startFileSpan(ctx context.Context, language ast.Language, filename string, ruleCount int) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, telemetry.EngineTracer, "engine.AnalyzeFile",
		attribute.String("scan.language", string(language)),
		attribute.String("scan.file", filename),
		attribute.Int("scan.rules", ruleCount),
	)
}

// startRunSpan creates the span of one analysis run.
func startRunSpan(ctx context.Context, fileCount, ruleCount int) (context.Context, trace.Span) {
	return telemetry.StartSpan(ctx, telemetry.EngineTracer, "engine.Run",
		attribute.Int("scan.files", fileCount),
		attribute.Int("scan.rules", ruleCount),
	)
}
