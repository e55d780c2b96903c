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
	"fortio.org/safecast"
	sitter "github.com/smacker/go-tree-sitter"
)

// Point is a 1-based line/column position in a source file.
//
// Columns count bytes from the start of the line, plus one.
type Point struct {
	Line int
	Col  int
}

// PointFromSitter converts a 0-based tree-sitter point to a 1-based Point.
//
// Values that would overflow int are clamped; tree-sitter rows and columns
// are uint32 so this only matters on 32-bit platforms.
func PointFromSitter(p sitter.Point) Point {
	row, err := safecast.Conv[int](p.Row)
	if err != nil {
		row = int(^uint(0)>>1) - 1
	}
	col, err := safecast.Conv[int](p.Column)
	if err != nil {
		col = int(^uint(0)>>1) - 1
	}
	return Point{Line: row + 1, Col: col + 1}
}

// Node is a language-neutral view of one syntax-tree node.
//
// Description:
//
//	Node pairs a tree-sitter node with the source it was parsed from so that
//	text can be read without threading the content through every call. The
//	zero Node is the null node.
//
// Thread Safety:
//
//	A Node is only valid while its ParsedFile is open and must not be used
//	from a goroutine other than the one that owns the ParsedFile.
type Node struct {
	n   *sitter.Node
	src []byte
}

// wrap returns a Node for n, or the null Node when n is nil or null.
func wrap(n *sitter.Node, src []byte) Node {
	if n == nil || n.IsNull() {
		return Node{}
	}
	return Node{n: n, src: src}
}

// IsNull reports whether the node is absent.
func (n Node) IsNull() bool {
	return n.n == nil
}

// Kind returns the grammar's node type (for example "call_expression").
func (n Node) Kind() string {
	if n.n == nil {
		return ""
	}
	return n.n.Type()
}

// IsNamed reports whether the node is a named node in the grammar.
func (n Node) IsNamed() bool {
	return n.n != nil && n.n.IsNamed()
}

// HasError reports whether the subtree contains syntax errors.
func (n Node) HasError() bool {
	return n.n != nil && n.n.HasError()
}

// Start returns the 1-based start position.
func (n Node) Start() Point {
	if n.n == nil {
		return Point{}
	}
	return PointFromSitter(n.n.StartPoint())
}

// End returns the 1-based end position (exclusive column).
func (n Node) End() Point {
	if n.n == nil {
		return Point{}
	}
	return PointFromSitter(n.n.EndPoint())
}

// StartByte returns the byte offset of the node start.
func (n Node) StartByte() uint32 {
	if n.n == nil {
		return 0
	}
	return n.n.StartByte()
}

// EndByte returns the byte offset just past the node end.
func (n Node) EndByte() uint32 {
	if n.n == nil {
		return 0
	}
	return n.n.EndByte()
}

// Text returns the source text covered by the node.
func (n Node) Text() string {
	if n.n == nil {
		return ""
	}
	return n.n.Content(n.src)
}

// ChildCount returns the number of children, named and anonymous.
func (n Node) ChildCount() int {
	if n.n == nil {
		return 0
	}
	return int(n.n.ChildCount())
}

// Child returns the i-th child or the null node.
func (n Node) Child(i int) Node {
	if n.n == nil || i < 0 || i >= n.ChildCount() {
		return Node{}
	}
	return wrap(n.n.Child(i), n.src)
}

// NamedChildCount returns the number of named children.
func (n Node) NamedChildCount() int {
	if n.n == nil {
		return 0
	}
	return int(n.n.NamedChildCount())
}

// NamedChild returns the i-th named child or the null node.
func (n Node) NamedChild(i int) Node {
	if n.n == nil || i < 0 || i >= n.NamedChildCount() {
		return Node{}
	}
	return wrap(n.n.NamedChild(i), n.src)
}

// ChildByFieldName returns the child stored under a grammar field.
func (n Node) ChildByFieldName(field string) Node {
	if n.n == nil {
		return Node{}
	}
	return wrap(n.n.ChildByFieldName(field), n.src)
}

// Parent returns the parent node or the null node for the root.
func (n Node) Parent() Node {
	if n.n == nil {
		return Node{}
	}
	return wrap(n.n.Parent(), n.src)
}

// FieldName returns the field under which the node is stored in its
// parent, or "" when it is not a field child.
func (n Node) FieldName() string {
	parent := n.Parent()
	if parent.IsNull() {
		return ""
	}
	for i := 0; i < parent.ChildCount(); i++ {
		child := parent.n.Child(i)
		if child == nil {
			continue
		}
		if child.StartByte() == n.n.StartByte() &&
			child.EndByte() == n.n.EndByte() &&
			child.Type() == n.n.Type() {
			return parent.n.FieldNameForChild(i)
		}
	}
	return ""
}

// Walk visits the subtree in pre-order (source order). Returning false from
// fn skips the children of the current node.
func (n Node) Walk(fn func(Node) bool) {
	if n.n == nil {
		return
	}
	if !fn(n) {
		return
	}
	for i := 0; i < n.ChildCount(); i++ {
		n.Child(i).Walk(fn)
	}
}

// Sitter exposes the underlying tree-sitter node for the matcher.
func (n Node) Sitter() *sitter.Node {
	return n.n
}
