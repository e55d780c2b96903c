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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Parse Tests
// =============================================================================

func TestParse_EveryLanguage(t *testing.T) {
	tests := []struct {
		language Language
		filename string
		source   string
		rootKind string
	}{
		{LanguageCSharp, "a.cs", "class A { void M() {} }\n", "compilation_unit"},
		{LanguageDockerfile, "Dockerfile", "FROM alpine:3.19\nRUN echo hi\n", "source_file"},
		{LanguageGo, "a.go", "package main\n\nfunc main() {}\n", "source_file"},
		{LanguageJava, "A.java", "class A { void m() {} }\n", "program"},
		{LanguageJavaScript, "a.js", "const x = 1;\n", "program"},
		{LanguageJSON, "a.json", "{\"a\": [1, 2]}\n", "stream"},
		{LanguagePython, "a.py", "def f():\n    return 1\n", "module"},
		{LanguageRust, "a.rs", "fn main() {}\n", "source_file"},
		{LanguageTypeScript, "a.ts", "let x: number = 1;\n", "program"},
		{LanguageTypeScript, "a.tsx", "const e = <div>hi</div>;\n", "program"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			parsed, err := Parse(context.Background(), tt.language, tt.filename, []byte(tt.source))
			require.NoError(t, err)
			defer parsed.Close()

			root := parsed.Root()
			require.False(t, root.IsNull())
			assert.Equal(t, tt.rootKind, root.Kind())
			assert.Equal(t, tt.language, parsed.Language())
			assert.Equal(t, Point{Line: 1, Col: 1}, root.Start())
		})
	}
}

func TestParse_NoRootNode(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
	}{
		{"empty", []byte{}},
		{"nul bytes", []byte("print(1)\x00\x01\x02")},
		{"invalid utf8", []byte{0xff, 0xfe, 0xfd}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := Parse(context.Background(), LanguagePython, "a.py", tt.content)
			assert.Nil(t, parsed)
			require.Error(t, err)
			assert.True(t, IsNoRootNode(err))

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr))
			assert.Equal(t, "a.py", parseErr.FilePath)
		})
	}
}

func TestParse_UnsupportedLanguage(t *testing.T) {
	_, err := Parse(context.Background(), Language("cobol"), "a.cbl", []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)
}

func TestParse_FileTooLarge(t *testing.T) {
	p := NewParser(WithMaxFileSize(4))
	_, err := p.Parse(context.Background(), LanguagePython, "a.py", []byte("x = 1\n"))
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

func TestParse_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Parse(ctx, LanguagePython, "a.py", []byte("x = 1\n"))
	assert.ErrorIs(t, err, ErrParseCanceled)
}

// =============================================================================
// Node Tests
// =============================================================================

func TestNode_Traversal(t *testing.T) {
	src := "def greet(name):\n    return name\n"
	parsed, err := Parse(context.Background(), LanguagePython, "a.py", []byte(src))
	require.NoError(t, err)
	defer parsed.Close()

	fn := parsed.Root().NamedChild(0)
	require.Equal(t, "function_definition", fn.Kind())

	name := fn.ChildByFieldName("name")
	assert.Equal(t, "greet", name.Text())
	assert.Equal(t, "name", name.FieldName())
	assert.Equal(t, Point{Line: 1, Col: 5}, name.Start())
	assert.Equal(t, Point{Line: 1, Col: 10}, name.End())
	assert.Equal(t, "function_definition", name.Parent().Kind())

	assert.True(t, fn.NamedChild(99).IsNull())
	assert.True(t, fn.ChildByFieldName("nope").IsNull())
}

func TestNode_WalkIsSourceOrder(t *testing.T) {
	src := "a = 1\nb = 2\nc = 3\n"
	parsed, err := Parse(context.Background(), LanguagePython, "a.py", []byte(src))
	require.NoError(t, err)
	defer parsed.Close()

	var names []string
	parsed.Root().Walk(func(n Node) bool {
		if n.Kind() == "identifier" {
			names = append(names, n.Text())
		}
		return true
	})
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestNode_NullIsSafe(t *testing.T) {
	var n Node
	assert.True(t, n.IsNull())
	assert.Equal(t, "", n.Kind())
	assert.Equal(t, "", n.Text())
	assert.Equal(t, 0, n.ChildCount())
	assert.True(t, n.Parent().IsNull())
	assert.Equal(t, "", n.FieldName())
	n.Walk(func(Node) bool {
		t.Fatal("walk must not visit the null node")
		return false
	})
}

// =============================================================================
// Language Tests
// =============================================================================

func TestLanguageFromPath(t *testing.T) {
	tests := []struct {
		path string
		want Language
		ok   bool
	}{
		{"src/main.go", LanguageGo, true},
		{"pkg/app.PY", LanguagePython, true},
		{"web/index.tsx", LanguageTypeScript, true},
		{"web/index.mjs", LanguageJavaScript, true},
		{"Program.cs", LanguageCSharp, true},
		{"lib.rs", LanguageRust, true},
		{"App.java", LanguageJava, true},
		{"package.json", LanguageJSON, true},
		{"deploy/Dockerfile", LanguageDockerfile, true},
		{"deploy/Dockerfile.prod", LanguageDockerfile, true},
		{"deploy/api.dockerfile", LanguageDockerfile, true},
		{"README.md", "", false},
		{"Makefile", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, ok := LanguageFromPath(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLanguage_TextRoundTrip(t *testing.T) {
	text, err := LanguagePython.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "PYTHON", string(text))

	var l Language
	require.NoError(t, l.UnmarshalText([]byte("CSHARP")))
	assert.Equal(t, LanguageCSharp, l)

	require.NoError(t, l.UnmarshalText([]byte("golang")))
	assert.Equal(t, LanguageGo, l)

	require.NoError(t, l.UnmarshalText([]byte("COBOL")))
	assert.Equal(t, Language("cobol"), l)
	assert.False(t, l.Valid())
}

func TestGrammar_Variants(t *testing.T) {
	g, ok := GrammarFor(LanguageTypeScript)
	require.True(t, ok)
	assert.NotSame(t, g.SitterLanguage("a.ts"), g.SitterLanguage("a.tsx"))
	assert.Same(t, g.SitterLanguage("a.ts"), g.SitterLanguage(""))

	for _, lang := range AllLanguages {
		assert.True(t, lang.Valid(), lang)
	}
}
