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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

const reportCall = `
function visit(query, filename, code) {
	const c = query.captures.call;
	addError(buildError(c.start.line, c.start.col, c.end.line, c.end.col, "call found"));
}`

const threeLines = "import os\nprint(42)\nx = 1\n"

func callRule(name string) rules.Rule {
	return rules.NewTreeSitterRule(name, ast.LanguagePython, "(call) @call", reportCall)
}

func writeFiles(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return root
}

func decode(t *testing.T, rs ...rules.Rule) []*rules.DecodedRule {
	t.Helper()
	decoded, excluded := rules.Prepare(rs, nil)
	require.Empty(t, excluded)
	return decoded
}

// =============================================================================
// Analyze Tests
// =============================================================================

func TestAnalyze_SingleViolation(t *testing.T) {
	results := Analyze(context.Background(), ast.LanguagePython, decode(t, callRule("python/call")),
		"a.py", []byte(threeLines), AnalysisOptions{})

	require.Len(t, results, 1)
	res := results[0]
	assert.Equal(t, "python/call", res.RuleName)
	assert.Equal(t, "a.py", res.Filename)
	assert.Empty(t, res.Errors)
	assert.GreaterOrEqual(t, res.ExecutionTimeMs, int64(0))
	require.Len(t, res.Violations, 1)
	assert.Equal(t, rules.Position{Line: 2, Col: 1}, res.Violations[0].Start)
	assert.Equal(t, rules.Position{Line: 2, Col: 10}, res.Violations[0].End)
	assert.Equal(t, rules.SeverityError, res.Violations[0].Severity)
}

func TestAnalyze_LanguageMismatchProducesNothing(t *testing.T) {
	goRule := rules.NewTreeSitterRule("go/call", ast.LanguageGo, "(call_expression) @call", reportCall)
	results := Analyze(context.Background(), ast.LanguagePython, decode(t, goRule),
		"a.py", []byte(threeLines), AnalysisOptions{})
	assert.Empty(t, results)
}

func TestAnalyze_NoRootNode(t *testing.T) {
	rs := decode(t, callRule("r1"), callRule("r2"))
	results := Analyze(context.Background(), ast.LanguagePython, rs, "empty.py", nil, AnalysisOptions{})

	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, []string{rules.CodeNoRootNode}, res.Errors)
		assert.Empty(t, res.Violations)
	}
}

func TestAnalyze_InvalidQuery(t *testing.T) {
	bad := rules.NewTreeSitterRule("bad", ast.LanguagePython, "(not_a_node) @x", reportCall)
	results := Analyze(context.Background(), ast.LanguagePython, decode(t, bad, callRule("good")),
		"a.py", []byte(threeLines), AnalysisOptions{})

	require.Len(t, results, 2)
	assert.Equal(t, []string{rules.CodeInvalidQuery}, results[0].Errors)
	assert.Empty(t, results[1].Errors)
	assert.Len(t, results[1].Violations, 1)
}

func TestAnalyze_OutputCapture(t *testing.T) {
	r := rules.NewTreeSitterRule("log", ast.LanguagePython, "(call) @call",
		`function visit(q) { console.log("seen " + q.captures.call.text); }`)

	results := Analyze(context.Background(), ast.LanguagePython, decode(t, r), "a.py", []byte(threeLines),
		AnalysisOptions{LogOutput: true})
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Output)
	assert.Equal(t, "seen print(42)", *results[0].Output)
}

// =============================================================================
// Run Tests
// =============================================================================

func TestRun_TamperedRuleIsExcluded(t *testing.T) {
	root := writeFiles(t, map[string]string{"a.py": threeLines})
	good := callRule("python/good")
	tampered := callRule("python/tampered")
	tampered.Checksum = strings.Repeat("a", 64)

	e := New(AnalysisOptions{})
	defer e.Close()
	report, err := e.Run(context.Background(), Request{
		Root:  root,
		Files: []string{"a.py"},
		Rules: []rules.Rule{good, tampered},
	})
	require.NoError(t, err)

	require.Len(t, report.Results, 1)
	assert.Equal(t, "python/good", report.Results[0].RuleName)
	require.Len(t, report.Excluded, 1)
	assert.Equal(t, "python/tampered", report.Excluded[0].RuleName)
	assert.Equal(t, rules.CodeChecksumMismatch, report.Excluded[0].Code)
	assert.Len(t, report.Rules, 1)
}

func TestRun_PartitionsByLanguage(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.py":     threeLines,
		"b/c.py":   "print(1)\nprint(2)\n",
		"main.go":  "package main\n\nfunc main() { println(1) }\n",
		"notes.md": "print(1)\n",
	})
	goRule := rules.NewTreeSitterRule("go/call", ast.LanguageGo, "(call_expression) @call", reportCall)

	e := New(AnalysisOptions{})
	defer e.Close()
	report, err := e.Run(context.Background(), Request{
		Root:    root,
		Files:   []string{"a.py", "b/c.py", "main.go", "notes.md"},
		Rules:   []rules.Rule{callRule("python/call"), goRule},
		Workers: 2,
	})
	require.NoError(t, err)

	byFile := map[string]rules.RuleResult{}
	for _, r := range report.Results {
		byFile[r.Filename] = r
	}
	require.Len(t, byFile, 3)
	assert.Equal(t, "python/call", byFile["a.py"].RuleName)
	assert.Len(t, byFile["b/c.py"].Violations, 2)
	assert.Equal(t, "go/call", byFile["main.go"].RuleName)
	assert.Len(t, byFile["main.go"].Violations, 1)

	assert.Equal(t, 4, report.Stats.TotalViolations)
	assert.Equal(t, 3, report.Stats.FilesAnalyzed)
	assert.Equal(t, 3, report.FilesScheduled)
}

func TestRun_Idempotent(t *testing.T) {
	root := writeFiles(t, map[string]string{
		"a.py": threeLines,
		"b.py": "print(1)\nprint(2)\nprint(3)\n",
	})
	req := Request{Root: root, Files: []string{"a.py", "b.py"}, Rules: []rules.Rule{callRule("r1"), callRule("r2")}}

	e := New(AnalysisOptions{})
	defer e.Close()

	strip := func(rs []rules.RuleResult) []rules.RuleResult {
		out := make([]rules.RuleResult, len(rs))
		for i, r := range rs {
			r.ExecutionTimeMs = 0
			out[i] = r
		}
		return out
	}

	first, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := e.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, strip(first.Results), strip(second.Results))
	assert.Len(t, first.Results, 4)
}

func TestRun_TimeoutDoesNotBlockOtherRules(t *testing.T) {
	root := writeFiles(t, map[string]string{"a.py": threeLines, "b.py": threeLines})
	slow := rules.NewTreeSitterRule("slow", ast.LanguagePython, "(call) @call", `function visit() { while (true) {} }`)

	e := New(AnalysisOptions{Timeout: 100 * time.Millisecond})
	defer e.Close()

	start := time.Now()
	report, err := e.Run(context.Background(), Request{
		Root:  root,
		Files: []string{"a.py", "b.py"},
		Rules: []rules.Rule{slow, callRule("fast")},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, report.Stats.TimedOut, 2)
	for _, r := range report.Results {
		switch r.RuleName {
		case "slow":
			assert.Equal(t, []string{rules.CodeRuleTimeout}, r.Errors)
		case "fast":
			assert.Empty(t, r.Errors)
			assert.Len(t, r.Violations, 1)
		}
	}
	assert.Equal(t, "slow", report.Stats.SortedRuleTimes()[0].Rule)
}

func TestRun_FileReadError(t *testing.T) {
	root := writeFiles(t, map[string]string{"a.py": threeLines})

	e := New(AnalysisOptions{})
	defer e.Close()
	report, err := e.Run(context.Background(), Request{
		Root:  root,
		Files: []string{"a.py", "missing.py"},
		Rules: []rules.Rule{callRule("r")},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.FileReadErrors)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "a.py", report.Results[0].Filename)
}

func TestRun_Canceled(t *testing.T) {
	root := writeFiles(t, map[string]string{"a.py": threeLines})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := New(AnalysisOptions{})
	defer e.Close()
	report, err := e.Run(ctx, Request{Root: root, Files: []string{"a.py"}, Rules: []rules.Rule{callRule("r")}})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Empty(t, report.Results)
}

func TestRun_FileSpansNestUnderRunSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})

	root := writeFiles(t, map[string]string{"a.py": threeLines, "b.py": threeLines})
	e := New(AnalysisOptions{})
	defer e.Close()
	_, err := e.Run(context.Background(), Request{Root: root, Files: []string{"a.py", "b.py"}, Rules: []rules.Rule{callRule("r")}})
	require.NoError(t, err)

	var run sdktrace.ReadOnlySpan
	var fileSpans []sdktrace.ReadOnlySpan
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "engine.Run":
			run = span
		case "engine.AnalyzeFile":
			fileSpans = append(fileSpans, span)
		}
	}
	require.NotNil(t, run)
	assert.Equal(t, codes.Ok, run.Status().Code)
	require.Len(t, fileSpans, 2)
	for _, span := range fileSpans {
		assert.Equal(t, run.SpanContext().SpanID(), span.Parent().SpanID())
	}
}

func TestAnalyze_CancellationDuringRuleDropsItsResult(t *testing.T) {
	slow := rules.NewTreeSitterRule("slow", ast.LanguagePython, "(call) @call", `function visit() { while (true) {} }`)
	decoded := decode(t, slow, callRule("fast"))

	e := New(AnalysisOptions{Timeout: 10 * time.Second})
	defer e.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	results := e.Analyze(ctx, ast.LanguagePython, decoded, "a.py", []byte(threeLines))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, results, "an interrupted rule is not reported as timed out")
}

// =============================================================================
// Stats Tests
// =============================================================================

func TestWorkerCount(t *testing.T) {
	tests := []struct{ cpus, want int }{
		{0, 1}, {1, 1}, {2, 1}, {4, 2}, {8, 6}, {16, 13}, {64, 56},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, WorkerCount(tt.cpus), "cpus=%d", tt.cpus)
	}
}

func TestAggregate(t *testing.T) {
	timedOut := rules.NewRuleResult("b", "y.py")
	timedOut.AddError(rules.CodeRuleTimeout)
	timedOut.ExecutionTimeMs = 50

	results := []rules.RuleResult{
		{RuleName: "a", Filename: "x.py", Violations: make([]rules.Violation, 2), ExecutionTimeMs: 10},
		{RuleName: "a", Filename: "y.py", Violations: make([]rules.Violation, 1), ExecutionTimeMs: 15},
		{RuleName: "c", Filename: "x.py", ExecutionTimeMs: 25},
		timedOut,
	}

	s := Aggregate(results)
	assert.Equal(t, 3, s.TotalViolations)
	assert.Equal(t, 2, s.FilesAnalyzed)
	require.Len(t, s.TimedOut, 1)
	assert.Equal(t, "b", s.TimedOut[0].RuleName)
	assert.Equal(t, []RuleTime{
		{Rule: "b", ExecutionTimeMs: 50},
		{Rule: "a", ExecutionTimeMs: 25},
		{Rule: "c", ExecutionTimeMs: 25},
	}, s.SortedRuleTimes())
}
