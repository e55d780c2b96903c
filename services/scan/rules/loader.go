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
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
)

// ErrInvalidRulesFile indicates a rules file that is neither a ruleset
// array nor an object with a "rulesets" field.
var ErrInvalidRulesFile = errors.New("invalid rules file")

// rulesFile is the object form of a rules file.
type rulesFile struct {
	RuleSets []RuleSet `json:"rulesets"`
}

// LoadRuleSetsFromFile reads rulesets from a JSON file.
//
// The file holds either {"rulesets": [...]} or a bare array of rulesets.
func LoadRuleSetsFromFile(path string) ([]RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file %s: %w", path, err)
	}
	sets, err := ParseRuleSets(data)
	if err != nil {
		return nil, fmt.Errorf("rules file %s: %w", path, err)
	}
	return sets, nil
}

// ParseRuleSets decodes the content of a rules file.
func ParseRuleSets(data []byte) ([]RuleSet, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrInvalidRulesFile)
	}

	switch trimmed[0] {
	case '[':
		var sets []RuleSet
		if err := json.Unmarshal(trimmed, &sets); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRulesFile, err)
		}
		return sets, nil
	case '{':
		var f rulesFile
		if err := json.Unmarshal(trimmed, &f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRulesFile, err)
		}
		if f.RuleSets == nil {
			return nil, fmt.Errorf("%w: missing \"rulesets\"", ErrInvalidRulesFile)
		}
		return f.RuleSets, nil
	default:
		return nil, fmt.Errorf("%w: expected a JSON array or object", ErrInvalidRulesFile)
	}
}

// RulesFromRuleSets flattens rulesets into one rule list, keeping order.
func RulesFromRuleSets(sets []RuleSet) []Rule {
	var out []Rule
	for _, s := range sets {
		out = append(out, s.Rules...)
	}
	return out
}

// LanguagesForRules returns the distinct languages of rules, sorted.
func LanguagesForRules(rules []*DecodedRule) []ast.Language {
	seen := make(map[ast.Language]struct{}, len(rules))
	var out []ast.Language
	for _, r := range rules {
		if _, ok := seen[r.Language]; ok {
			continue
		}
		seen[r.Language] = struct{}{}
		out = append(out, r.Language)
	}
	slices.Sort(out)
	return out
}

// FindRule returns the rule named name, if present.
func FindRule(rules []Rule, name string) (*Rule, int, bool) {
	for i := range rules {
		if rules[i].Name == name {
			return &rules[i], i, true
		}
	}
	return nil, -1, false
}
