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
	"errors"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
)

// Error codes recorded in RuleResult.Errors. The strings are part of the
// report format and must not change.
const (
	CodeErrorDecodingBase64 = "error-decoding-base64"
	CodeCodeNotBase64       = "code-not-base64"
	CodeLanguageMismatch    = "language-mismatch"
	CodeNoRootNode          = "no-root-node"
	CodeChecksumMismatch    = "checksum-mismatch"
	CodeRuleTimeout         = "rule-timeout"
	CodeRuleExecutionError  = "rule-execution-error"
	CodeUnsupportedRuleType = "unsupported-rule-type"
	CodeInvalidQuery        = "invalid-query"
	CodeFileReadError       = "file-read-error"
	CodeUnsupportedLanguage = "unsupported-language"
	CodeInvalidCategory     = "invalid-category"
	CodeRuleMemoryLimit     = "rule-memory-limit"
)

// Sentinel errors for the trust loader.
var (
	// ErrChecksumMismatch indicates the declared checksum does not match the
	// rule content.
	ErrChecksumMismatch = errors.New("rule checksum mismatch")

	// ErrDecodingBase64 indicates the query or code is not valid base64.
	ErrDecodingBase64 = errors.New("error decoding base64")

	// ErrCodeNotText indicates a payload decoded to bytes that are not UTF-8.
	ErrCodeNotText = errors.New("decoded payload is not text")

	// ErrUnsupportedRuleType indicates a rule the engine cannot execute.
	ErrUnsupportedRuleType = errors.New("unsupported rule type")

	// ErrMissingQuery indicates a tree-sitter rule without a query.
	ErrMissingQuery = errors.New("rule has no tree-sitter query")

	// ErrInvalidCategory indicates a rule category the engine does not know.
	ErrInvalidCategory = errors.New("unknown rule category")
)

// ErrorCode maps a trust loader error to its report code. Unknown errors
// map to CodeRuleExecutionError.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrChecksumMismatch):
		return CodeChecksumMismatch
	case errors.Is(err, ErrDecodingBase64), errors.Is(err, ErrMissingQuery):
		return CodeErrorDecodingBase64
	case errors.Is(err, ErrCodeNotText):
		return CodeCodeNotBase64
	case errors.Is(err, ErrUnsupportedRuleType):
		return CodeUnsupportedRuleType
	case errors.Is(err, ast.ErrUnsupportedLanguage):
		return CodeUnsupportedLanguage
	case errors.Is(err, ErrInvalidCategory):
		return CodeInvalidCategory
	default:
		return CodeRuleExecutionError
	}
}
