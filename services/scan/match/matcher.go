// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package match

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
)

// CapturedNode is a copy of one captured syntax node. It stays valid after
// the ParsedFile it came from is closed.
type CapturedNode struct {
	Kind      string
	Start     ast.Point
	End       ast.Point
	StartByte uint32
	EndByte   uint32
	Text      string
	FieldName string
}

// MatchContext is one query match: capture name to captured nodes.
type MatchContext struct {
	PatternIndex int
	Captures     map[string][]CapturedNode

	// startByte is the earliest start byte among the captures.
	startByte uint32
	id        uint32
}

// First returns the first node captured under name.
func (m MatchContext) First(name string) (CapturedNode, bool) {
	nodes := m.Captures[name]
	if len(nodes) == 0 {
		return CapturedNode{}, false
	}
	return nodes[0], true
}

// StartByte returns the earliest start byte among the match's captures.
func (m MatchContext) StartByte() uint32 { return m.startByte }

// MatchRule runs q over the tree of parsed.
//
// Description:
//
//	Every query match that survives predicate filtering (#eq?, #match? and
//	the other tree-sitter text predicates) becomes one MatchContext.
//	Captures whose names start with "_" are anchors and are not exported.
//	Matches are returned in source order: by earliest capture start byte,
//	then pattern index, then match id. The tree is not modified.
//
// Inputs:
//
//	ctx    - Checked between matches; cancellation returns ctx.Err().
//	parsed - The parsed file. Must be open.
//	q      - A query compiled against parsed.SitterLanguage().
//
// Outputs:
//
//	[]MatchContext - Zero or more contexts. Never nil on success.
//	error          - ctx.Err() or a grammar mismatch.
func MatchRule(ctx context.Context, parsed *ast.ParsedFile, q *Query) ([]MatchContext, error) {
	if q.language != parsed.SitterLanguage() {
		return nil, fmt.Errorf("%w: rule %s compiled for another grammar than %s",
			ErrInvalidQuery, q.ruleName, parsed.Filename())
	}

	root := parsed.Root()
	if root.IsNull() {
		return []MatchContext{}, nil
	}

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	cursor.Exec(q.query, root.Sitter())

	content := parsed.Content()
	out := []MatchContext{}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, ok := cursor.NextMatch()
		if !ok {
			break
		}
		m = cursor.FilterPredicates(m, content)
		if len(m.Captures) == 0 {
			continue
		}
		if mc, ok := buildContext(parsed, q, m); ok {
			out = append(out, mc)
		}
	}

	slices.SortStableFunc(out, func(a, b MatchContext) int {
		if c := cmp.Compare(a.startByte, b.startByte); c != 0 {
			return c
		}
		if c := cmp.Compare(a.PatternIndex, b.PatternIndex); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	return out, nil
}

func buildContext(parsed *ast.ParsedFile, q *Query, m *sitter.QueryMatch) (MatchContext, bool) {
	mc := MatchContext{
		PatternIndex: int(m.PatternIndex),
		Captures:     make(map[string][]CapturedNode, len(m.Captures)),
		id:           m.ID,
	}

	first := true
	for _, c := range m.Captures {
		node := parsed.NodeFor(c.Node)
		if node.IsNull() {
			continue
		}
		if first || node.StartByte() < mc.startByte {
			mc.startByte = node.StartByte()
			first = false
		}

		name := q.query.CaptureNameForId(c.Index)
		if strings.HasPrefix(name, "_") {
			continue
		}
		mc.Captures[name] = append(mc.Captures[name], CapturedNode{
			Kind:      node.Kind(),
			Start:     node.Start(),
			End:       node.End(),
			StartByte: node.StartByte(),
			EndByte:   node.EndByte(),
			Text:      node.Text(),
			FieldName: node.FieldName(),
		})
	}
	return mc, !first
}
