// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ast

import (
	"errors"
	"fmt"
)

// Sentinel errors for parse outcomes.
//
// These errors can be checked using errors.Is() to determine the
// category of failure without inspecting error messages.
var (
	// ErrUnsupportedLanguage indicates that no grammar is compiled in for
	// the requested language.
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrNoRootNode indicates that the parser could not produce a usable
	// tree. This is a normal per-file outcome, not a failure of the scan:
	// callers record it and skip the file for every rule.
	//
	// Common causes:
	//   - Empty content
	//   - Binary content (NUL bytes, invalid UTF-8)
	//   - Parser returned a tree with a null root
	ErrNoRootNode = errors.New("no root node")

	// ErrFileTooLarge indicates the content exceeds the configured limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrParseCanceled indicates that parsing was canceled via context.
	ErrParseCanceled = errors.New("parse canceled")
)

// ParseError provides detailed information about a parse failure.
//
// ParseError wraps an underlying sentinel with the file and language being
// parsed. It can be unwrapped to access the underlying cause.
//
// Example:
//
//	parsed, err := ast.Parse(ctx, ast.LanguagePython, "a.py", content)
//	if errors.Is(err, ast.ErrNoRootNode) {
//	    // record no-root-node for every rule and move on
//	}
type ParseError struct {
	// FilePath is the path to the file being parsed.
	FilePath string

	// Language is the language the file was parsed as.
	Language Language

	// Message describes the failure in human-readable form.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error returns "file (language): message".
func (e *ParseError) Error() string {
	if e.FilePath == "" {
		return fmt.Sprintf("(%s): %s", e.Language, e.Message)
	}
	return fmt.Sprintf("%s (%s): %s", e.FilePath, e.Language, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// newParseError builds a ParseError whose message is the cause's text
// plus optional detail.
func newParseError(filePath string, language Language, cause error, detail string) *ParseError {
	msg := cause.Error()
	if detail != "" {
		msg = msg + ": " + detail
	}
	return &ParseError{
		FilePath: filePath,
		Language: language,
		Message:  msg,
		Cause:    cause,
	}
}

// IsNoRootNode reports whether err is or wraps ErrNoRootNode.
func IsNoRootNode(err error) bool {
	return errors.Is(err, ErrNoRootNode)
}
