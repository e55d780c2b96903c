// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rules

import (
	"log/slog"
)

// Exclusion records a rule that was refused by the trust loader.
type Exclusion struct {
	RuleName string
	Language string
	Code     string
	Err      error
}

// VerifyAndDecode runs Verify then Decode on a single rule.
func VerifyAndDecode(rule *Rule) (*DecodedRule, error) {
	verified, err := Verify(rule)
	if err != nil {
		return nil, err
	}
	return Decode(verified)
}

// Prepare verifies and decodes every rule.
//
// Description:
//
//	Each rule is handled on its own: a rule that fails verification or
//	decoding is excluded and logged, the remaining rules are returned in
//	input order.
//
// Inputs:
//
//	rules  - Rules as loaded from a catalog or file.
//	logger - Receives one warning per excluded rule. May be nil.
//
// Outputs:
//
//	[]*DecodedRule - Rules that may be scheduled.
//	[]Exclusion    - Refused rules with their error codes.
func Prepare(rules []Rule, logger *slog.Logger) ([]*DecodedRule, []Exclusion) {
	if logger == nil {
		logger = slog.Default()
	}

	decoded := make([]*DecodedRule, 0, len(rules))
	var excluded []Exclusion
	for i := range rules {
		rule := &rules[i]
		d, err := VerifyAndDecode(rule)
		if err != nil {
			ex := Exclusion{
				RuleName: rule.Name,
				Language: string(rule.Language),
				Code:     ErrorCode(err),
				Err:      err,
			}
			excluded = append(excluded, ex)
			logger.Warn("rule excluded",
				slog.String("rule", rule.Name),
				slog.String("code", ex.Code),
				slog.String("error", err.Error()))
			continue
		}
		decoded = append(decoded, d)
	}
	return decoded, excluded
}
