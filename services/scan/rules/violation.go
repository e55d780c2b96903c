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
	"fmt"
	"slices"
)

// Position is a 1-based line/column location.
type Position struct {
	Line int `json:"line"`
	Col  int `json:"col"`
}

// Valid reports whether both coordinates are 1-based.
func (p Position) Valid() bool {
	return p.Line >= 1 && p.Col >= 1
}

// Before reports whether p sorts strictly before o.
func (p Position) Before(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Col < o.Col
}

// EditType is the kind of a single edit in a fix.
type EditType string

const (
	EditTypeAdd    EditType = "ADD"
	EditTypeRemove EditType = "REMOVE"
	EditTypeUpdate EditType = "UPDATE"
)

// ErrInvalidEdit is returned by Edit.Validate.
var ErrInvalidEdit = errors.New("invalid edit")

// Edit is one atomic text change proposed by a fix.
//
// ADD inserts Content at Start. REMOVE deletes Start..End. UPDATE replaces
// Start..End with Content.
type Edit struct {
	Start    Position  `json:"start"`
	End      *Position `json:"end,omitempty"`
	EditType EditType  `json:"edit_type"`
	Content  *string   `json:"content,omitempty"`
}

// Validate enforces the content invariants: ADD and UPDATE carry non-empty
// content, REMOVE carries none, REMOVE and UPDATE carry an end position.
func (e Edit) Validate() error {
	if !e.Start.Valid() {
		return fmt.Errorf("%w: start %d:%d is not 1-based", ErrInvalidEdit, e.Start.Line, e.Start.Col)
	}
	if e.End != nil && (!e.End.Valid() || e.End.Before(e.Start)) {
		return fmt.Errorf("%w: end %d:%d precedes start or is not 1-based", ErrInvalidEdit, e.End.Line, e.End.Col)
	}

	hasContent := e.Content != nil && *e.Content != ""
	switch e.EditType {
	case EditTypeAdd:
		if !hasContent {
			return fmt.Errorf("%w: add requires content", ErrInvalidEdit)
		}
	case EditTypeUpdate:
		if !hasContent {
			return fmt.Errorf("%w: update requires content", ErrInvalidEdit)
		}
		if e.End == nil {
			return fmt.Errorf("%w: update requires an end position", ErrInvalidEdit)
		}
	case EditTypeRemove:
		if e.Content != nil {
			return fmt.Errorf("%w: remove must not carry content", ErrInvalidEdit)
		}
		if e.End == nil {
			return fmt.Errorf("%w: remove requires an end position", ErrInvalidEdit)
		}
	default:
		return fmt.Errorf("%w: unknown edit type %q", ErrInvalidEdit, e.EditType)
	}
	return nil
}

// Fix is a suggested change: a description and edits that belong together.
type Fix struct {
	Description string `json:"description"`
	Edits       []Edit `json:"edits"`
}

// Validate checks every edit; a fix is only valid as a whole.
func (f Fix) Validate() error {
	if len(f.Edits) == 0 {
		return fmt.Errorf("%w: fix %q has no edits", ErrInvalidEdit, f.Description)
	}
	for i, e := range f.Edits {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("fix %q edit %d: %w", f.Description, i, err)
		}
	}
	return nil
}

// Violation is one finding produced from one match.
type Violation struct {
	Start    Position `json:"start"`
	End      Position `json:"end"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Category Category `json:"category"`
	Fixes    []Fix    `json:"fixes"`
}

// RuleResult is the outcome of running one rule against one file.
//
// Description:
//
//	Errors holds the error codes (see codes.go) raised during the unit of
//	work; ExecutionError carries the message of a fatal execution fault.
//	Output is what the rule logged with console.log, when output capture is
//	enabled. The orchestrator owns RuleResults after aggregation; they are
//	not modified afterwards.
type RuleResult struct {
	RuleName        string      `json:"rule_name"`
	Filename        string      `json:"filename"`
	Violations      []Violation `json:"violations"`
	Errors          []string    `json:"errors"`
	ExecutionError  *string     `json:"execution_error"`
	Output          *string     `json:"output"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`
}

// NewRuleResult returns an empty result with non-nil slices so that the
// JSON form always carries arrays.
func NewRuleResult(ruleName, filename string) RuleResult {
	return RuleResult{
		RuleName:   ruleName,
		Filename:   filename,
		Violations: []Violation{},
		Errors:     []string{},
	}
}

// HasError reports whether code is in the result's error list.
func (r RuleResult) HasError(code string) bool {
	return slices.Contains(r.Errors, code)
}

// AddError appends code once.
func (r *RuleResult) AddError(code string) {
	if !r.HasError(code) {
		r.Errors = append(r.Errors, code)
	}
}
