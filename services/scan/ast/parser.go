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
	"bytes"
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
)

// ParsedFile owns the concrete syntax tree of one file.
//
// Description:
//
//	ParsedFile is built once per (filename, language, content) triple and is
//	immutable afterwards. The scan engine creates it inside a worker, runs
//	every applicable rule against it and closes it before the worker moves to
//	the next file.
//
// Thread Safety:
//
//	Not safe for concurrent use. A ParsedFile belongs to the goroutine that
//	created it.
type ParsedFile struct {
	filename string
	language Language
	sitter   *sitter.Language
	content  []byte
	tree     *sitter.Tree
}

// Filename returns the path the file was parsed under.
func (p *ParsedFile) Filename() string { return p.filename }

// Language returns the language the file was parsed as.
func (p *ParsedFile) Language() Language { return p.language }

// SitterLanguage returns the exact grammar used, which queries must be
// compiled against.
func (p *ParsedFile) SitterLanguage() *sitter.Language { return p.sitter }

// Content returns the source bytes. Callers must not modify them.
func (p *ParsedFile) Content() []byte { return p.content }

// Root returns the root node of the tree.
func (p *ParsedFile) Root() Node {
	if p.tree == nil {
		return Node{}
	}
	return wrap(p.tree.RootNode(), p.content)
}

// NodeFor wraps a tree-sitter node that belongs to this file's tree, such
// as a query capture.
func (p *ParsedFile) NodeFor(n *sitter.Node) Node {
	return wrap(n, p.content)
}

// Close releases the tree-sitter tree. Nodes obtained from the file are
// invalid afterwards.
func (p *ParsedFile) Close() {
	if p.tree != nil {
		p.tree.Close()
		p.tree = nil
	}
}

// Parser turns source text into a ParsedFile.
//
// Description:
//
//	Parser hides grammar differences behind one call. A new tree-sitter
//	parser is created per Parse call, so a single Parser value can be used
//	from many goroutines.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Parser struct {
	options ParserOptions
}

// ParserOptions configures Parser behavior.
type ParserOptions struct {
	// MaxFileSize is the maximum content size in bytes. Larger content
	// returns ErrFileTooLarge.
	// Default: 10MB
	MaxFileSize int
}

// DefaultParserOptions returns the default options.
func DefaultParserOptions() ParserOptions {
	return ParserOptions{
		MaxFileSize: 10 * 1024 * 1024,
	}
}

// ParserOption is a functional option for configuring Parser.
type ParserOption func(*ParserOptions)

// WithMaxFileSize sets the maximum content size.
func WithMaxFileSize(size int) ParserOption {
	return func(o *ParserOptions) {
		o.MaxFileSize = size
	}
}

// NewParser creates a Parser with the given options.
func NewParser(opts ...ParserOption) *Parser {
	options := DefaultParserOptions()
	for _, opt := range opts {
		opt(&options)
	}
	return &Parser{options: options}
}

var defaultParser = NewParser()

// Parse parses content with the default Parser.
func Parse(ctx context.Context, language Language, filename string, content []byte) (*ParsedFile, error) {
	return defaultParser.Parse(ctx, language, filename, content)
}

// Parse builds the syntax tree for one file.
//
// Description:
//
//	Selects the grammar for language (and the filename-specific variant, if
//	any), parses content and validates that a root node exists.
//
// Inputs:
//
//	ctx      - Context for cancellation of the tree-sitter parse.
//	language - Language tag; must be one of AllLanguages.
//	filename - Path used for variant selection and error messages.
//	content  - Source bytes. Retained by the ParsedFile; do not modify.
//
// Outputs:
//
//	*ParsedFile - The parsed file. The caller must Close it.
//	error       - ErrNoRootNode (wrapped in *ParseError) when the content
//	              cannot produce a usable tree; ErrUnsupportedLanguage,
//	              ErrFileTooLarge or ErrParseCanceled otherwise.
func (p *Parser) Parse(ctx context.Context, language Language, filename string, content []byte) (*ParsedFile, error) {
	ctx, span := startParseSpan(ctx, language, filename, len(content))
	defer span.End()
	start := time.Now()

	parsed, err := p.parse(ctx, language, filename, content)

	recordParseMetrics(ctx, language, time.Since(start), err == nil)
	setParseSpanResult(span, err)
	return parsed, err
}

func (p *Parser) parse(ctx context.Context, language Language, filename string, content []byte) (*ParsedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, newParseError(filename, language, ErrParseCanceled, err.Error())
	}

	grammar, ok := GrammarFor(language)
	if !ok {
		return nil, newParseError(filename, language, ErrUnsupportedLanguage, "")
	}

	if p.options.MaxFileSize > 0 && len(content) > p.options.MaxFileSize {
		return nil, newParseError(filename, language, ErrFileTooLarge,
			fmt.Sprintf("%d bytes exceeds %d", len(content), p.options.MaxFileSize))
	}

	if len(content) == 0 {
		return nil, newParseError(filename, language, ErrNoRootNode, "empty content")
	}
	if bytes.IndexByte(content, 0) >= 0 || !utf8.Valid(content) {
		return nil, newParseError(filename, language, ErrNoRootNode, "binary content")
	}

	lang := grammar.SitterLanguage(filename)
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		if ctx.Err() != nil {
			return nil, newParseError(filename, language, ErrParseCanceled, err.Error())
		}
		return nil, newParseError(filename, language, ErrNoRootNode, err.Error())
	}
	if tree == nil {
		return nil, newParseError(filename, language, ErrNoRootNode, "parser returned no tree")
	}

	root := tree.RootNode()
	if root == nil || root.IsNull() {
		tree.Close()
		return nil, newParseError(filename, language, ErrNoRootNode, "")
	}

	return &ParsedFile{
		filename: filename,
		language: language,
		sitter:   lang,
		content:  content,
		tree:     tree,
	}, nil
}
