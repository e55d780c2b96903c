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
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
)

// ComputeChecksum returns the lowercase hex SHA-256 of the rule's canonical
// content: the base64 query followed by the base64 code, before decoding.
func ComputeChecksum(rule *Rule) string {
	h := sha256.New()
	if rule.TreeSitterQueryBase64 != nil {
		h.Write([]byte(*rule.TreeSitterQueryBase64))
	}
	h.Write([]byte(rule.CodeBase64))
	return hex.EncodeToString(h.Sum(nil))
}

// Verified is a rule whose declared checksum matched its content.
//
// The zero value holds no rule; Verified values are only created by Verify.
type Verified struct {
	rule *Rule
}

// Rule returns the verified rule.
func (v Verified) Rule() *Rule { return v.rule }

// Verify checks the declared checksum of rule.
//
// Description:
//
//	The comparison is case-insensitive on the hex digits and ignores
//	surrounding whitespace. A rule that fails verification must never reach
//	the matcher or the executor.
//
// Outputs:
//
//	Verified - Proof of verification, passed to Decode.
//	error    - ErrChecksumMismatch on mismatch.
func Verify(rule *Rule) (Verified, error) {
	if rule == nil {
		return Verified{}, fmt.Errorf("%w: nil rule", ErrChecksumMismatch)
	}
	want := strings.ToLower(strings.TrimSpace(rule.Checksum))
	got := ComputeChecksum(rule)
	if want != got {
		return Verified{}, fmt.Errorf("%w: rule %s declares %q, content hashes to %q",
			ErrChecksumMismatch, rule.Name, rule.Checksum, got)
	}
	return Verified{rule: rule}, nil
}

// Decode turns a verified rule into a DecodedRule.
//
// Outputs:
//
//	*DecodedRule - The rule with its query and code as text.
//	error        - ErrUnsupportedRuleType for rules that are not tree-sitter
//	               queries, ast.ErrUnsupportedLanguage, ErrInvalidCategory,
//	               ErrMissingQuery, ErrDecodingBase64 for invalid base64 and
//	               ErrCodeNotText for payloads that are not UTF-8.
func Decode(v Verified) (*DecodedRule, error) {
	rule := v.rule
	if rule == nil {
		return nil, fmt.Errorf("%w: rule was not verified", ErrChecksumMismatch)
	}
	if rule.RuleType != RuleTypeTreeSitterQuery {
		return nil, fmt.Errorf("%w: rule %s has type %q", ErrUnsupportedRuleType, rule.Name, rule.RuleType)
	}
	if !rule.Language.Valid() {
		return nil, fmt.Errorf("%w: rule %s has language %q", ast.ErrUnsupportedLanguage, rule.Name, rule.Language)
	}
	if rule.Category != "" && !rule.Category.Valid() {
		return nil, fmt.Errorf("%w: rule %s has category %q", ErrInvalidCategory, rule.Name, rule.Category)
	}
	if rule.TreeSitterQueryBase64 == nil {
		return nil, fmt.Errorf("%w: rule %s", ErrMissingQuery, rule.Name)
	}

	query, err := decodeText(*rule.TreeSitterQueryBase64)
	if err != nil {
		return nil, fmt.Errorf("rule %s query: %w", rule.Name, err)
	}
	code, err := decodeText(rule.CodeBase64)
	if err != nil {
		return nil, fmt.Errorf("rule %s code: %w", rule.Name, err)
	}

	return &DecodedRule{
		Name:      rule.Name,
		Language:  rule.Language,
		Severity:  rule.Severity,
		Category:  rule.Category,
		Query:     query,
		Code:      code,
		Checksum:  strings.ToLower(strings.TrimSpace(rule.Checksum)),
		Variables: rule.Variables,
	}, nil
}

// DecodeBase64Text decodes a standard base64 payload that must be UTF-8.
func DecodeBase64Text(s string) (string, error) {
	return decodeText(s)
}

func decodeText(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecodingBase64, err)
	}
	if !utf8.Valid(raw) {
		return "", ErrCodeNotText
	}
	return string(raw), nil
}

// Seal sets the rule's checksum from its current content.
func Seal(rule *Rule) {
	rule.Checksum = ComputeChecksum(rule)
}

// NewTreeSitterRule builds a sealed tree-sitter rule from plain-text query
// and code. Severity defaults to ERROR and category to BEST_PRACTICES.
func NewTreeSitterRule(name string, language ast.Language, query, code string) Rule {
	q := base64.StdEncoding.EncodeToString([]byte(query))
	r := Rule{
		Name:                  name,
		Category:              CategoryBestPractices,
		Severity:              SeverityError,
		Language:              language,
		RuleType:              RuleTypeTreeSitterQuery,
		CodeBase64:            base64.StdEncoding.EncodeToString([]byte(code)),
		TreeSitterQueryBase64: &q,
	}
	Seal(&r)
	return r
}
