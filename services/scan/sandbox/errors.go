// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

// Sentinel errors for rule execution.
var (
	// ErrTimeout indicates the unit exceeded its wall-clock deadline.
	ErrTimeout = errors.New("rule execution timed out")

	// ErrViolationBudget indicates the unit emitted too many violations.
	ErrViolationBudget = errors.New("violation budget exhausted")

	// ErrOutputBudget indicates the unit wrote too much console output.
	ErrOutputBudget = errors.New("output budget exhausted")

	// ErrFixBudget indicates a violation carried too many fixes or a fix
	// too many edits.
	ErrFixBudget = errors.New("fix budget exhausted")

	// ErrMemoryBudget indicates the heap grew past the unit's budget.
	ErrMemoryBudget = errors.New("memory budget exhausted")

	// ErrNoVisitFunction indicates the rule code defines no visit function.
	ErrNoVisitFunction = errors.New("rule does not define a visit function")

	// ErrCompile indicates the rule code is not valid JavaScript.
	ErrCompile = errors.New("rule code does not compile")

	// ErrHostPanic indicates a panic in host code called by the rule.
	ErrHostPanic = errors.New("host panic during rule execution")
)

// ExecutionError describes why a unit stopped early.
type ExecutionError struct {
	Rule     string
	Filename string
	Err      error
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("rule %s on %s: %v", e.Rule, e.Filename, e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Code returns the report error code for the failure.
func (e *ExecutionError) Code() string {
	switch {
	case errors.Is(e.Err, ErrTimeout):
		return rules.CodeRuleTimeout
	case errors.Is(e.Err, ErrMemoryBudget):
		return rules.CodeRuleMemoryLimit
	default:
		return rules.CodeRuleExecutionError
	}
}
