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
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
)

// =============================================================================
// SEVERITY
// =============================================================================

// Severity is the severity attached to a rule and its violations.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityNotice  Severity = "NOTICE"
	SeverityUnknown Severity = "UNKNOWN"
)

// ParseSeverity parses a severity string. Unknown values map to
// SeverityUnknown.
func ParseSeverity(s string) Severity {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return SeverityError
	case "WARNING", "WARN":
		return SeverityWarning
	case "NOTICE", "NOTE", "INFO":
		return SeverityNotice
	default:
		return SeverityUnknown
	}
}

// UnmarshalText normalises the severity spelling.
func (s *Severity) UnmarshalText(text []byte) error {
	*s = ParseSeverity(string(text))
	return nil
}

// =============================================================================
// CATEGORY
// =============================================================================

// Category classifies what a rule checks.
type Category string

const (
	CategoryBestPractices Category = "BEST_PRACTICES"
	CategoryCodeStyle     Category = "CODE_STYLE"
	CategoryErrorProne    Category = "ERROR_PRONE"
	CategoryPerformance   Category = "PERFORMANCE"
	CategorySecurity      Category = "SECURITY"
)

// ParseCategory parses a category string, accepting lowercase and
// dash-separated spellings.
func ParseCategory(s string) (Category, error) {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	switch Category(normalized) {
	case CategoryBestPractices, CategoryCodeStyle, CategoryErrorProne,
		CategoryPerformance, CategorySecurity:
		return Category(normalized), nil
	default:
		return "", fmt.Errorf("unknown rule category %q", s)
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	_, err := ParseCategory(string(c))
	return err == nil
}

// UnmarshalText normalises the category spelling. Unknown categories are
// kept as given and rejected by Decode.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		*c = Category(strings.TrimSpace(string(text)))
		return nil
	}
	*c = parsed
	return nil
}

// =============================================================================
// RULE
// =============================================================================

// RuleType tells how a rule locates candidate code.
type RuleType string

const (
	// RuleTypeTreeSitterQuery rules carry a tree-sitter query. Only these
	// rules are executed by the engine.
	RuleTypeTreeSitterQuery RuleType = "TREE_SITTER_QUERY"
	RuleTypeASTCheck        RuleType = "AST_CHECK"
	RuleTypeRegex           RuleType = "REGEX"
)

// RuleTest is a self-test embedded in a rule: a code sample and the number
// of violations the rule must report on it.
type RuleTest struct {
	Filename        string `json:"filename"`
	CodeBase64      string `json:"code"`
	AnnotationCount int    `json:"annotation_count"`
}

// Rule is a rule as delivered by a catalog or a rules file.
//
// Description:
//
//	Every payload that carries meaning to the engine is base64 encoded:
//	the tree-sitter query, the JavaScript check logic and the descriptions.
//	A Rule is not runnable until Verify has accepted its checksum and Decode
//	has turned it into a DecodedRule.
//
// Thread Safety:
//
//	Read-only after loading; freely shared between workers.
type Rule struct {
	Name                   string            `json:"name"`
	ShortDescriptionBase64 *string           `json:"short_description,omitempty"`
	DescriptionBase64      *string           `json:"description,omitempty"`
	Category               Category          `json:"category"`
	Severity               Severity          `json:"severity"`
	Language               ast.Language      `json:"language"`
	RuleType               RuleType          `json:"type"`
	EntityChecked          *string           `json:"entity_checked,omitempty"`
	CodeBase64             string            `json:"code"`
	Checksum               string            `json:"checksum"`
	Pattern                *string           `json:"pattern,omitempty"`
	TreeSitterQueryBase64  *string           `json:"tree_sitter_query,omitempty"`
	Variables              map[string]string `json:"variables,omitempty"`
	Tests                  []RuleTest        `json:"tests,omitempty"`
}

// docsBaseURL is where rule documentation pages live.
const docsBaseURL = "https://docs.datadoghq.com/continuous_integration/static_analysis/rules/"

// URL returns the documentation page of the rule.
func (r *Rule) URL() string {
	return docsBaseURL + r.Name
}

// RuleSet is a named, ordered collection of rules fetched as a unit.
type RuleSet struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	Rules       []Rule  `json:"rules"`
}

// DecodedRule is a verified rule with its payloads decoded to text.
//
// Description:
//
//	DecodedRule values are only produced by Decode, which only accepts a
//	Verified rule, so holding one proves the checksum was checked. The
//	engine schedules DecodedRules; nothing downstream sees base64.
type DecodedRule struct {
	Name      string
	Language  ast.Language
	Severity  Severity
	Category  Category
	Query     string
	Code      string
	Checksum  string
	Variables map[string]string
}
