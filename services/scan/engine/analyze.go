// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine schedules rule analysis over files: it parses each file
// once, matches every applicable rule and runs the rule logic in the
// sandbox, in parallel across files.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
	"github.com/AleutianAI/AleutianScan/services/scan/match"
	"github.com/AleutianAI/AleutianScan/services/scan/rules"
	"github.com/AleutianAI/AleutianScan/services/scan/sandbox"
	"github.com/AleutianAI/AleutianScan/services/scan/telemetry"
)

// Engine runs decoded rules against files.
//
// Description:
//
//	An Engine owns the shared, read-only state of a run: the compiled
//	query cache and the compiled rule programs. Everything mutable (parse
//	trees, interpreter runtimes, result slices) belongs to one unit of
//	work.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Engine struct {
	options  AnalysisOptions
	logger   *slog.Logger
	parser   *ast.Parser
	queries  *match.QueryCache
	executor *sandbox.Executor
}

// New creates an Engine.
func New(options AnalysisOptions, opts ...Option) *Engine {
	eo := defaultEngineOptions()
	for _, opt := range opts {
		opt(&eo)
	}
	logger := eo.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		options: options,
		logger:  logger,
		parser:  ast.NewParser(ast.WithMaxFileSize(eo.maxFileSize)),
		queries: match.NewQueryCache(eo.cacheSize),
		executor: sandbox.NewExecutor(
			sandbox.WithTimeout(options.Timeout),
			sandbox.WithOutputCapture(options.LogOutput),
			sandbox.WithMaxViolations(eo.maxViolations),
			sandbox.WithMaxOutputBytes(eo.maxOutputBytes),
			sandbox.WithMaxMemoryBytes(eo.maxMemoryBytes),
			sandbox.WithProgramCacheSize(eo.cacheSize),
			sandbox.WithLogger(logger),
		),
	}
}

// Options returns the analysis options the engine was created with.
func (e *Engine) Options() AnalysisOptions {
	return e.options
}

// Close releases the compiled queries.
func (e *Engine) Close() {
	e.queries.Close()
}

// Analyze runs rules against one file with a transient Engine.
func Analyze(ctx context.Context, language ast.Language, ruleList []*rules.DecodedRule, filename string, content []byte, options AnalysisOptions) []rules.RuleResult {
	e := New(options)
	defer e.Close()
	return e.Analyze(ctx, language, ruleList, filename, content)
}

// Analyze runs every rule of language against one file.
//
// Description:
//
//	Rules of another language are skipped and produce no result. The file
//	is parsed once; when no tree can be built, every applicable rule gets
//	a result carrying no-root-node and no violations. Otherwise each rule
//	is matched and executed in order. A rule cut short by cancellation of
//	ctx has no result; the rule's own deadline still yields rule-timeout.
//
// Inputs:
//
//	ctx      - Cancellation stops the file between rules.
//	language - Language of the file.
//	ruleList - Decoded rules; only those of language are applied.
//	filename - Reported in results and passed to rule code.
//	content  - File content.
//
// Outputs:
//
//	[]rules.RuleResult - One result per applicable rule, in rule order.
func (e *Engine) Analyze(ctx context.Context, language ast.Language, ruleList []*rules.DecodedRule, filename string, content []byte) []rules.RuleResult {
	applicable := make([]*rules.DecodedRule, 0, len(ruleList))
	for _, r := range ruleList {
		if r.Language == language {
			applicable = append(applicable, r)
		}
	}
	results := make([]rules.RuleResult, 0, len(applicable))
	if len(applicable) == 0 {
		return results
	}

	ctx, span := startFileSpan(ctx, language, filename, len(applicable))
	var spanErr error
	defer func() { telemetry.EndSpan(span, spanErr) }()

	parsed, err := e.parser.Parse(ctx, language, filename, content)
	if err != nil {
		spanErr = err
		if errors.Is(err, ast.ErrParseCanceled) {
			return results
		}
		if e.options.UseDebug {
			e.logger.Debug("no syntax tree", slog.String("file", filename), slog.String("error", err.Error()))
		}
		for _, r := range applicable {
			res := rules.NewRuleResult(r.Name, filename)
			res.AddError(rules.CodeNoRootNode)
			results = append(results, res)
		}
		recordFileMetrics(ctx, language, results)
		return results
	}
	defer parsed.Close()

	code := string(content)
	for _, r := range applicable {
		if ctx.Err() != nil {
			break
		}
		res, ok := e.runRule(ctx, r, parsed, code)
		if !ok {
			break
		}
		results = append(results, res)
	}

	recordFileMetrics(ctx, language, results)
	return results
}

// runRule matches and executes one rule. ok is false when cancellation of
// ctx interrupted the rule.
func (e *Engine) runRule(ctx context.Context, rule *rules.DecodedRule, parsed *ast.ParsedFile, code string) (res rules.RuleResult, ok bool) {
	start := time.Now()
	filename := parsed.Filename()

	invalid := func(err error) rules.RuleResult {
		res := rules.NewRuleResult(rule.Name, filename)
		res.AddError(rules.CodeInvalidQuery)
		msg := err.Error()
		res.ExecutionError = &msg
		res.ExecutionTimeMs = time.Since(start).Milliseconds()
		return res
	}

	q, err := e.queries.Get(rule, parsed.SitterLanguage())
	if err != nil {
		return invalid(err), true
	}
	matches, err := match.MatchRule(ctx, parsed, q)
	if err != nil {
		if ctx.Err() != nil {
			return rules.RuleResult{}, false
		}
		return invalid(err), true
	}

	res = e.executor.Execute(ctx, rule, filename, code, matches)
	res.ExecutionTimeMs = time.Since(start).Milliseconds()
	if ctx.Err() != nil && len(res.Errors) > 0 {
		return rules.RuleResult{}, false
	}

	if e.options.UseDebug {
		e.logger.Debug("rule applied",
			slog.String("rule", rule.Name),
			slog.String("file", filename),
			slog.Int("matches", len(matches)),
			slog.Int("violations", len(res.Violations)),
			slog.Int64("duration_ms", res.ExecutionTimeMs))
	}
	return res, true
}
