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
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/dockerfile"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"github.com/smacker/go-tree-sitter/yaml"
)

// Grammar binds a Language to its tree-sitter grammar.
//
// Description:
//
//	Grammars are selected by tag from a closed table built at package
//	initialisation; there is no runtime registration. Some languages carry a
//	variant grammar chosen by file extension (TypeScript uses the TSX grammar
//	for ".tsx" files).
//
// Thread Safety:
//
//	Grammar values are immutable. The underlying *sitter.Language is shared
//	read-only by every parser and query that uses it.
type Grammar struct {
	language Language
	base     *sitter.Language
	variants map[string]*sitter.Language
}

// grammars is the closed table of compiled-in grammars.
//
// JSON has no dedicated grammar in go-tree-sitter; JSON documents are valid
// YAML 1.2 flow documents so the YAML grammar parses them.
var grammars = map[Language]*Grammar{
	LanguageCSharp:     {language: LanguageCSharp, base: csharp.GetLanguage()},
	LanguageDockerfile: {language: LanguageDockerfile, base: dockerfile.GetLanguage()},
	LanguageGo:         {language: LanguageGo, base: golang.GetLanguage()},
	LanguageJava:       {language: LanguageJava, base: java.GetLanguage()},
	LanguageJavaScript: {language: LanguageJavaScript, base: javascript.GetLanguage()},
	LanguageJSON:       {language: LanguageJSON, base: yaml.GetLanguage()},
	LanguagePython:     {language: LanguagePython, base: python.GetLanguage()},
	LanguageRust:       {language: LanguageRust, base: rust.GetLanguage()},
	LanguageTypeScript: {
		language: LanguageTypeScript,
		base:     typescript.GetLanguage(),
		variants: map[string]*sitter.Language{".tsx": tsx.GetLanguage()},
	},
}

// GrammarFor returns the grammar for a language.
func GrammarFor(language Language) (*Grammar, bool) {
	g, ok := grammars[language]
	return g, ok
}

// Language returns the language tag of the grammar.
func (g *Grammar) Language() Language {
	return g.language
}

// SitterLanguage returns the tree-sitter language to use for a file.
//
// The filename only matters for languages with variants; an empty filename
// always selects the base grammar.
func (g *Grammar) SitterLanguage(filename string) *sitter.Language {
	if len(g.variants) > 0 && filename != "" {
		if v, ok := g.variants[strings.ToLower(filepath.Ext(filename))]; ok {
			return v
		}
	}
	return g.base
}
