// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sandbox runs rule check logic in an isolated JavaScript runtime
// with a wall-clock deadline and resource budgets.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/AleutianAI/AleutianScan/services/scan/match"
	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

// Executor runs decoded rules over match contexts.
//
// Description:
//
//	Each (file, rule) unit gets a fresh goja runtime, so no state survives
//	between files. Rule code is compiled once per rule and the compiled
//	program is shared read-only by all runtimes; at most ProgramCacheSize
//	programs are kept, least recently used first out. The only capabilities
//	visible to rule code are the builders installed by the prelude, getCode
//	and console.log.
//
// Thread Safety:
//
//	Safe for concurrent use. A runtime never leaves the goroutine that
//	created it.
type Executor struct {
	options Options
	logger  *slog.Logger

	mu       sync.Mutex
	programs *lru.Cache[string, compiled]
}

type compiled struct {
	program *goja.Program
	err     error
}

// NewExecutor creates an Executor with the given options.
func NewExecutor(opts ...Option) *Executor {
	options := DefaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.ProgramCacheSize <= 0 {
		options.ProgramCacheSize = DefaultProgramCacheSize
	}
	programs, err := lru.New[string, compiled](options.ProgramCacheSize)
	if err != nil {
		panic(fmt.Sprintf("sandbox: program cache of size %d: %v", options.ProgramCacheSize, err))
	}
	return &Executor{
		options:  options,
		logger:   logger,
		programs: programs,
	}
}

// Options returns the executor's effective options.
func (e *Executor) Options() Options {
	return e.options
}

// maxFixFaults is the number of dropped-fix errors kept per unit.
const maxFixFaults = 16

// unit is the mutable state of one (file, rule) execution.
type unit struct {
	violations []rules.Violation
	fixFaults  []error
	// faultCount counts every dropped fix, including those not kept.
	faultCount int
	output     strings.Builder
}

func (u *unit) addFaults(faults []error) {
	u.faultCount += len(faults)
	if room := maxFixFaults - len(u.fixFaults); room > 0 {
		u.fixFaults = append(u.fixFaults, faults[:min(room, len(faults))]...)
	}
}

func (u *unit) faultMessage() string {
	msg := "invalid fix dropped: " + errors.Join(u.fixFaults...).Error()
	if more := u.faultCount - len(u.fixFaults); more > 0 {
		msg += fmt.Sprintf("\n(and %d more)", more)
	}
	return msg
}

// Execute runs rule over every match of one file.
//
// Description:
//
//	visit(query, filename, code) is called once per match, in order. A
//	timeout, a JavaScript exception or an exhausted budget stops the unit;
//	violations emitted before the stop are kept. A fix that fails
//	validation is dropped on its own: its violation is still reported and
//	the result records rule-execution-error.
//
// Inputs:
//
//	ctx      - Cancellation interrupts the running script.
//	rule     - The decoded rule.
//	filename - Passed to visit.
//	code     - The file content, passed to visit.
//	matches  - Contexts from match.MatchRule, in source order.
//
// Outputs:
//
//	rules.RuleResult - Always returned; failures are recorded as error
//	                   codes and ExecutionError.
func (e *Executor) Execute(ctx context.Context, rule *rules.DecodedRule, filename, code string, matches []match.MatchContext) rules.RuleResult {
	start := time.Now()
	result := rules.NewRuleResult(rule.Name, filename)

	st, err := e.run(ctx, rule, filename, code, matches)
	result.Violations = append(result.Violations, st.violations...)

	if st.faultCount > 0 {
		result.AddError(rules.CodeRuleExecutionError)
		msg := st.faultMessage()
		result.ExecutionError = &msg
	}
	if e.options.CaptureOutput && st.output.Len() > 0 {
		out := st.output.String()
		result.Output = &out
	}
	if err != nil {
		var execErr *ExecutionError
		if !errors.As(err, &execErr) {
			execErr = &ExecutionError{Rule: rule.Name, Filename: filename, Err: err}
		}
		result.AddError(execErr.Code())
		msg := execErr.Err.Error()
		result.ExecutionError = &msg
	}
	result.ExecutionTimeMs = time.Since(start).Milliseconds()

	e.logger.Debug("rule executed",
		slog.String("rule", rule.Name),
		slog.String("file", filename),
		slog.Int("matches", len(matches)),
		slog.Int("violations", len(result.Violations)),
		slog.Int64("duration_ms", result.ExecutionTimeMs),
		slog.Any("errors", result.Errors))
	return result
}

// Program returns the compiled rule code, compiling it on first use.
func (e *Executor) Program(rule *rules.DecodedRule) (*goja.Program, error) {
	key := rule.Name + "\x00" + rule.Checksum

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.programs.Get(key); ok {
		return c.program, c.err
	}
	p, err := goja.Compile(rule.Name+".js", rule.Code, false)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrCompile, err)
	}
	e.programs.Add(key, compiled{program: p, err: err})
	return p, err
}

// CachedPrograms returns the number of compiled programs held.
func (e *Executor) CachedPrograms() int {
	return e.programs.Len()
}

func (e *Executor) run(ctx context.Context, rule *rules.DecodedRule, filename, code string, matches []match.MatchContext) (st *unit, err error) {
	st = &unit{}
	if len(matches) == 0 {
		return st, nil
	}
	fail := func(cause error) error {
		return &ExecutionError{Rule: rule.Name, Filename: filename, Err: cause}
	}

	program, err := e.Program(rule)
	if err != nil {
		return st, fail(err)
	}

	rt := goja.New()
	if e.options.MaxCallStackSize > 0 {
		rt.SetMaxCallStackSize(e.options.MaxCallStackSize)
	}

	timeout := e.options.Timeout
	deadline := time.Now().Add(timeout)
	timer := time.AfterFunc(timeout, func() {
		rt.Interrupt(fmt.Errorf("%w after %s", ErrTimeout, timeout))
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		rt.Interrupt(ctx.Err())
	})
	defer stop()
	if limit := e.options.MaxMemoryBytes; limit > 0 {
		stopWatch := watchMemory(limit, e.options.MemorySampleInterval, func(err error) {
			rt.Interrupt(err)
		})
		defer stopWatch()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fail(fmt.Errorf("%w: %v", ErrHostPanic, r))
		}
	}()

	conv := converter{
		rt:       rt,
		maxFixes: e.options.MaxFixes,
		maxEdits: e.options.MaxEdits,
		alive: func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return nil
		},
	}
	if err := e.install(rt, conv, rule, code, st); err != nil {
		return st, fail(classify(err))
	}
	if _, err := rt.RunProgram(program); err != nil {
		return st, fail(classify(err))
	}

	visit, ok := goja.AssertFunction(rt.Get("visit"))
	if !ok {
		return st, fail(ErrNoVisitFunction)
	}

	fileValue := rt.ToValue(filename)
	codeValue := rt.ToValue(code)
	for _, m := range matches {
		query := conv.queryValue(m, filename, code, rule.Variables)
		if _, err := visit(goja.Undefined(), query, fileValue, codeValue); err != nil {
			return st, fail(classify(err))
		}
	}
	return st, nil
}

// install runs the prelude and binds the host callbacks.
func (e *Executor) install(rt *goja.Runtime, conv converter, rule *rules.DecodedRule, code string, st *unit) error {
	emit := func(call goja.FunctionCall) goja.Value {
		if e.options.MaxViolations > 0 && len(st.violations) >= e.options.MaxViolations {
			rt.Interrupt(fmt.Errorf("%w: more than %d violations", ErrViolationBudget, e.options.MaxViolations))
			return goja.Undefined()
		}
		v, faults, err := conv.violation(call.Argument(0), rule)
		if err != nil {
			if stopsUnit(err) {
				rt.Interrupt(err)
				return goja.Undefined()
			}
			panic(rt.NewTypeError("addError: %s", err.Error()))
		}
		st.addFaults(faults)
		st.violations = append(st.violations, v)
		return goja.Undefined()
	}

	log := func(call goja.FunctionCall) goja.Value {
		if !e.options.CaptureOutput {
			return goja.Undefined()
		}
		line := call.Argument(0).String()
		if limit := e.options.MaxOutputBytes; limit > 0 && st.output.Len()+len(line)+1 > limit {
			rt.Interrupt(fmt.Errorf("%w: more than %d bytes", ErrOutputBudget, limit))
			return goja.Undefined()
		}
		if st.output.Len() > 0 {
			st.output.WriteByte('\n')
		}
		st.output.WriteString(line)
		return goja.Undefined()
	}

	getCode := func(call goja.FunctionCall) goja.Value {
		start, err := conv.position(call.Argument(0), "start")
		if err != nil {
			panic(rt.NewTypeError("getCode: %s", err.Error()))
		}
		end, err := conv.position(call.Argument(1), "end")
		if err != nil {
			panic(rt.NewTypeError("getCode: %s", err.Error()))
		}
		src := code
		if arg := call.Argument(2); present(arg) {
			src = arg.String()
		}
		return rt.ToValue(SliceCode(src, start, end))
	}

	initValue, err := rt.RunProgram(prelude)
	if err != nil {
		return err
	}
	setup, ok := goja.AssertFunction(initValue)
	if !ok {
		return errors.New("prelude did not evaluate to a function")
	}
	if _, err := setup(goja.Undefined(), rt.ToValue(emit), rt.ToValue(log)); err != nil {
		return err
	}
	return rt.Set("getCode", getCode)
}

// classify unwraps interrupts into the error that caused them.
func classify(err error) error {
	var interrupted *goja.InterruptedError
	if !errors.As(err, &interrupted) {
		return err
	}
	cause, ok := interrupted.Value().(error)
	if !ok {
		return fmt.Errorf("interrupted: %v", interrupted.Value())
	}
	if errors.Is(cause, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, cause)
	}
	return cause
}

// SliceCode returns the text between two 1-based positions, with columns
// counted in bytes as tree-sitter reports them. Out-of-range positions are
// clamped.
func SliceCode(code string, start, end rules.Position) string {
	from := offset(code, start)
	to := offset(code, end)
	if to < from {
		return ""
	}
	return code[from:to]
}

func offset(code string, p rules.Position) int {
	pos := 0
	for line := 1; line < p.Line; line++ {
		next := strings.IndexByte(code[pos:], '\n')
		if next < 0 {
			return len(code)
		}
		pos += next + 1
	}
	lineEnd := len(code)
	if next := strings.IndexByte(code[pos:], '\n'); next >= 0 {
		lineEnd = pos + next
	}
	return min(pos+p.Col-1, lineEnd)
}
