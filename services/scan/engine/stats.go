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
	"cmp"
	"runtime"
	"slices"

	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

// Stats summarizes the results of a run.
type Stats struct {
	TotalViolations int

	// RuleExecutionTimeMs is the summed execution time per rule.
	RuleExecutionTimeMs map[string]int64

	// TimedOut holds the results that hit the deadline.
	TimedOut []rules.RuleResult

	// FilesAnalyzed counts distinct files with at least one result.
	FilesAnalyzed int
}

// RuleTime is one entry of SortedRuleTimes.
type RuleTime struct {
	Rule            string
	ExecutionTimeMs int64
}

// Aggregate computes Stats over results.
func Aggregate(results []rules.RuleResult) Stats {
	s := Stats{RuleExecutionTimeMs: make(map[string]int64)}
	seen := make(map[string]struct{})
	for _, r := range results {
		s.TotalViolations += len(r.Violations)
		s.RuleExecutionTimeMs[r.RuleName] += r.ExecutionTimeMs
		if r.HasError(rules.CodeRuleTimeout) {
			s.TimedOut = append(s.TimedOut, r)
		}
		seen[r.Filename] = struct{}{}
	}
	s.FilesAnalyzed = len(seen)
	return s
}

// SortedRuleTimes returns per-rule execution times, slowest first. Ties
// are ordered by rule name.
func (s Stats) SortedRuleTimes() []RuleTime {
	out := make([]RuleTime, 0, len(s.RuleExecutionTimeMs))
	for name, ms := range s.RuleExecutionTimeMs {
		out = append(out, RuleTime{Rule: name, ExecutionTimeMs: ms})
	}
	slices.SortFunc(out, func(a, b RuleTime) int {
		if c := cmp.Compare(b.ExecutionTimeMs, a.ExecutionTimeMs); c != 0 {
			return c
		}
		return cmp.Compare(a.Rule, b.Rule)
	})
	return out
}

func runtimeCPUs() int {
	return runtime.NumCPU()
}
