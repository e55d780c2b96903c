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
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dop251/goja"

	"github.com/AleutianAI/AleutianScan/services/scan/match"
	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

// aliveEvery is how many host loop iterations run between liveness checks.
const aliveEvery = 256

// converter moves values across the JavaScript boundary for one runtime.
type converter struct {
	rt       *goja.Runtime
	maxFixes int
	maxEdits int

	// alive reports why the unit must stop, or nil while it may go on.
	alive func() error
}

// check runs the liveness check every aliveEvery iterations.
func (c converter) check(i int) error {
	if c.alive == nil || i%aliveEvery != 0 {
		return nil
	}
	return c.alive()
}

// stopsUnit reports whether a conversion error must end the unit instead
// of being reported to the rule as a type error.
func stopsUnit(err error) bool {
	return errors.Is(err, ErrFixBudget) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrMemoryBudget) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// =============================================================================
// GO -> JS
// =============================================================================

func nodeValue(n match.CapturedNode) map[string]any {
	return map[string]any{
		"astType":   n.Kind,
		"start":     map[string]any{"line": n.Start.Line, "col": n.Start.Col},
		"end":       map[string]any{"line": n.End.Line, "col": n.End.Col},
		"text":      n.Text,
		"fieldName": n.FieldName,
	}
}

// queryValue builds the object passed as the first argument of visit.
func (c converter) queryValue(m match.MatchContext, filename, code string, variables map[string]string) goja.Value {
	captures := make(map[string]any, len(m.Captures))
	lists := make(map[string]any, len(m.Captures))
	for name, nodes := range m.Captures {
		if len(nodes) == 0 {
			continue
		}
		captures[name] = nodeValue(nodes[0])
		all := make([]any, len(nodes))
		for i, n := range nodes {
			all[i] = nodeValue(n)
		}
		lists[name] = all
	}

	vars := make(map[string]any, len(variables))
	for k, v := range variables {
		vars[k] = v
	}

	return c.rt.ToValue(map[string]any{
		"captures":     captures,
		"capturesList": lists,
		"context": map[string]any{
			"filename":  filename,
			"code":      code,
			"variables": vars,
		},
	})
}

// =============================================================================
// JS -> GO
// =============================================================================

func present(v goja.Value) bool {
	return v != nil && !goja.IsUndefined(v) && !goja.IsNull(v)
}

func (c converter) get(obj *goja.Object, name string) goja.Value {
	if obj == nil {
		return nil
	}
	return obj.Get(name)
}

func (c converter) object(v goja.Value, what string) (*goja.Object, error) {
	if !present(v) {
		return nil, fmt.Errorf("%s is missing", what)
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("%s is not an object", what)
	}
	return obj, nil
}

func (c converter) integer(v goja.Value, what string) (int, error) {
	if !present(v) {
		return 0, fmt.Errorf("%s is missing", what)
	}
	switch n := v.Export().(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s is not a number", what)
	}
}

func (c converter) position(v goja.Value, what string) (rules.Position, error) {
	obj, err := c.object(v, what)
	if err != nil {
		return rules.Position{}, err
	}
	line, err := c.integer(c.get(obj, "line"), what+".line")
	if err != nil {
		return rules.Position{}, err
	}
	col, err := c.integer(c.get(obj, "col"), what+".col")
	if err != nil {
		return rules.Position{}, err
	}
	p := rules.Position{Line: line, Col: col}
	if !p.Valid() {
		return rules.Position{}, fmt.Errorf("%s %d:%d is not 1-based", what, line, col)
	}
	return p, nil
}

// array converts a JavaScript array of at most limit entries. A zero limit
// leaves the length unchecked; the copy loop still honours alive.
func (c converter) array(v goja.Value, what string, limit int) ([]goja.Value, error) {
	if !present(v) {
		return nil, nil
	}
	obj, err := c.object(v, what)
	if err != nil {
		return nil, err
	}
	if obj.ClassName() != "Array" {
		return nil, fmt.Errorf("%s is not an array", what)
	}
	n := obj.Get("length").ToInteger()
	if limit > 0 && n > int64(limit) {
		return nil, fmt.Errorf("%w: %s has %d entries, limit is %d", ErrFixBudget, what, n, limit)
	}
	out := make([]goja.Value, 0, min(n, aliveEvery))
	for i := range int(n) {
		if err := c.check(i); err != nil {
			return nil, err
		}
		out = append(out, obj.Get(strconv.Itoa(i)))
	}
	return out, nil
}

// violation converts an emitted violation object.
//
// Fixes that fail validation are dropped one by one; their errors are
// returned as fixFaults and do not invalidate the violation. Budget and
// liveness errors are returned as err and satisfy stopsUnit.
func (c converter) violation(v goja.Value, rule *rules.DecodedRule) (rules.Violation, []error, error) {
	obj, err := c.object(v, "violation")
	if err != nil {
		return rules.Violation{}, nil, err
	}
	start, err := c.position(c.get(obj, "start"), "violation start")
	if err != nil {
		return rules.Violation{}, nil, err
	}
	end, err := c.position(c.get(obj, "end"), "violation end")
	if err != nil {
		return rules.Violation{}, nil, err
	}
	if end.Before(start) {
		return rules.Violation{}, nil, fmt.Errorf("violation end %d:%d precedes start %d:%d",
			end.Line, end.Col, start.Line, start.Col)
	}

	out := rules.Violation{
		Start:    start,
		End:      end,
		Severity: rule.Severity,
		Category: rule.Category,
		Fixes:    []rules.Fix{},
	}
	if msg := c.get(obj, "message"); present(msg) {
		out.Message = msg.String()
	}
	if sev := c.get(obj, "severity"); present(sev) {
		out.Severity = rules.ParseSeverity(sev.String())
	}
	if cat := c.get(obj, "category"); present(cat) {
		if parsed, err := rules.ParseCategory(cat.String()); err == nil {
			out.Category = parsed
		}
	}

	fixValues, err := c.array(c.get(obj, "fixes"), "violation fixes", c.maxFixes)
	if err != nil {
		return rules.Violation{}, nil, err
	}
	var faults []error
	for i, fv := range fixValues {
		if err := c.check(i); err != nil {
			return rules.Violation{}, nil, err
		}
		fix, err := c.fix(fv)
		if err != nil && stopsUnit(err) {
			return rules.Violation{}, nil, err
		}
		if err == nil {
			err = fix.Validate()
		}
		if err != nil {
			faults = append(faults, fmt.Errorf("fix %d: %w", i, err))
			continue
		}
		out.Fixes = append(out.Fixes, fix)
	}
	return out, faults, nil
}

func (c converter) fix(v goja.Value) (rules.Fix, error) {
	obj, err := c.object(v, "fix")
	if err != nil {
		return rules.Fix{}, err
	}
	fix := rules.Fix{Edits: []rules.Edit{}}
	if d := c.get(obj, "description"); present(d) {
		fix.Description = d.String()
	}
	edits, err := c.array(c.get(obj, "edits"), "fix edits", c.maxEdits)
	if err != nil {
		return rules.Fix{}, err
	}
	for i, ev := range edits {
		if err := c.check(i); err != nil {
			return rules.Fix{}, err
		}
		e, err := c.edit(ev)
		if err != nil {
			return rules.Fix{}, fmt.Errorf("edit %d: %w", i, err)
		}
		fix.Edits = append(fix.Edits, e)
	}
	return fix, nil
}

func (c converter) edit(v goja.Value) (rules.Edit, error) {
	obj, err := c.object(v, "edit")
	if err != nil {
		return rules.Edit{}, err
	}
	start, err := c.position(c.get(obj, "start"), "edit start")
	if err != nil {
		return rules.Edit{}, err
	}
	e := rules.Edit{Start: start}
	if ev := c.get(obj, "end"); present(ev) {
		end, err := c.position(ev, "edit end")
		if err != nil {
			return rules.Edit{}, err
		}
		e.End = &end
	}
	if t := c.get(obj, "editType"); present(t) {
		e.EditType = rules.EditType(strings.ToUpper(t.String()))
	}
	if content := c.get(obj, "content"); present(content) {
		s := content.String()
		e.Content = &s
	}
	return e, nil
}
