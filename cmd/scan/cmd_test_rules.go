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
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScan/pkg/ux"
	"github.com/AleutianAI/AleutianScan/services/scan/engine"
	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

// ruleTestOutcome is the result of one embedded rule test.
type ruleTestOutcome struct {
	rule     string
	filename string
	want     int
	got      int
	err      string
}

func (o ruleTestOutcome) passed() bool {
	return o.err == "" && o.want == o.got
}

func newTestRulesCmd(stdout, _ io.Writer) *cobra.Command {
	var rulesFile string

	cmd := &cobra.Command{
		Use:   "test-rules -r <rules.json>",
		Short: "Run the tests embedded in a rules file",
		Long: `Run the tests embedded in a rules file.

Every rule test carries a code sample and the number of violations the
rule must report on it. A rule that fails verification fails all of its
tests.

Exit Codes:
  0 - Every test passed
  1 - At least one test failed or the rules file is unreadable`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if rulesFile == "" {
				return newUsageError("no rules file specified, use -r")
			}
			sets, err := rules.LoadRuleSetsFromFile(rulesFile)
			if err != nil {
				return fmt.Errorf("cannot read ruleset: %w", err)
			}

			outcomes := runRuleTests(cmd.Context(), rules.RulesFromRuleSets(sets))
			failed := printRuleTestOutcomes(ux.NewPrinter(stdout), outcomes)
			if failed > 0 {
				return fmt.Errorf("%d of %d rule tests failed", failed, len(outcomes))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&rulesFile, "rules", "r", "", "rules to test (json file)")
	return cmd
}

// runRuleTests runs every embedded test of ruleList, in order.
func runRuleTests(ctx context.Context, ruleList []rules.Rule) []ruleTestOutcome {
	options := engine.AnalysisOptions{}
	var outcomes []ruleTestOutcome

	for i := range ruleList {
		rule := &ruleList[i]
		if len(rule.Tests) == 0 {
			continue
		}

		decoded, err := rules.VerifyAndDecode(rule)
		for _, test := range rule.Tests {
			outcome := ruleTestOutcome{rule: rule.Name, filename: test.Filename, want: test.AnnotationCount}
			if err != nil {
				outcome.err = rules.ErrorCode(err)
				outcomes = append(outcomes, outcome)
				continue
			}

			code, derr := rules.DecodeBase64Text(test.CodeBase64)
			if derr != nil {
				outcome.err = rules.ErrorCode(derr)
				outcomes = append(outcomes, outcome)
				continue
			}

			results := engine.Analyze(ctx, decoded.Language, []*rules.DecodedRule{decoded},
				test.Filename, []byte(code), options)
			for _, r := range results {
				outcome.got += len(r.Violations)
				if len(r.Errors) > 0 {
					outcome.err = strings.Join(r.Errors, ",")
				}
			}
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes
}

// printRuleTestOutcomes prints one line per test and returns the number
// of failures.
func printRuleTestOutcomes(out *ux.Printer, outcomes []ruleTestOutcome) int {
	failed := 0
	for _, o := range outcomes {
		switch {
		case o.passed():
			out.Success("rule %s on %s: %d violations", o.rule, o.filename, o.got)
		case o.err != "":
			failed++
			out.Error("rule %s on %s: %s", o.rule, o.filename, o.err)
		default:
			failed++
			out.Error("rule %s on %s: expected %d violations, got %d", o.rule, o.filename, o.want, o.got)
		}
	}
	out.Line("%d tests, %d failed", len(outcomes), failed)
	return failed
}
