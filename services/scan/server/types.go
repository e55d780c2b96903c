// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package server

import (
	"github.com/AleutianAI/AleutianScan/services/scan/ast"
	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

// AnalysisRequest is the body of POST /v1/analyze.
type AnalysisRequest struct {
	// Filename is reported in results and passed to rule code.
	Filename string `json:"filename" binding:"required"`

	// Language is the language of the submitted code.
	Language ast.Language `json:"language" binding:"required"`

	// FileEncoding must be utf-8.
	FileEncoding string `json:"file_encoding" binding:"required,oneof=utf-8 UTF-8 utf8"`

	// CodeBase64 is the file content, base64 encoded.
	CodeBase64 string `json:"code" binding:"required"`

	// Rules are run against the file. Each must carry a valid checksum.
	Rules []RequestRule `json:"rules" binding:"required,min=1,dive"`

	// Options tune the run. Optional.
	Options *RequestOptions `json:"options,omitempty"`
}

// RequestRule is a rule as submitted to the server.
type RequestRule struct {
	ID                    string            `json:"id" binding:"required"`
	Language              ast.Language      `json:"language" binding:"required"`
	Type                  rules.RuleType    `json:"type" binding:"required"`
	TreeSitterQueryBase64 string            `json:"tree_sitter_query"`
	CodeBase64            string            `json:"code" binding:"required"`
	Checksum              string            `json:"checksum"`
	Category              rules.Category    `json:"category,omitempty"`
	Severity              rules.Severity    `json:"severity,omitempty"`
	Variables             map[string]string `json:"variables,omitempty"`
}

// RequestOptions mirrors engine.AnalysisOptions.
type RequestOptions struct {
	LogOutput bool `json:"log_output"`
	UseDebug  bool `json:"use_debug"`
	TimeoutMs int  `json:"timeout_ms" binding:"omitempty,min=1,max=60000"`
}

// AnalysisResponse is the body returned by POST /v1/analyze.
//
// Errors lists request-level error codes: code-not-base64 when the file
// cannot be decoded, and one entry per distinct code of excluded rules
// (language-mismatch, checksum-mismatch, error-decoding-base64, ...).
type AnalysisResponse struct {
	RuleResponses []rules.RuleResult `json:"rule_responses"`
	Errors        []string           `json:"errors"`
}

// VersionResponse is the body of GET /v1/version.
type VersionResponse struct {
	Version  string `json:"version"`
	Revision string `json:"revision,omitempty"`
}

// HealthResponse is the body of GET /v1/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// ErrorResponse is returned for requests that cannot be processed.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is the error code.
	Code string `json:"code,omitempty"`

	// Details provides additional error context.
	Details string `json:"details,omitempty"`
}
