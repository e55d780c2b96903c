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
	"fmt"
	"path/filepath"
	"strings"
)

// Language identifies a source language supported by the scanner.
//
// Description:
//
//	Language is a closed set of tags, one per grammar compiled into the
//	binary. The canonical in-memory form is lowercase ("python"); the wire
//	form used by rule catalogs is uppercase ("PYTHON"). Both are accepted
//	when decoding.
type Language string

const (
	LanguageCSharp     Language = "csharp"
	LanguageDockerfile Language = "dockerfile"
	LanguageGo         Language = "go"
	LanguageJava       Language = "java"
	LanguageJavaScript Language = "javascript"
	LanguageJSON       Language = "json"
	LanguagePython     Language = "python"
	LanguageRust       Language = "rust"
	LanguageTypeScript Language = "typescript"
)

// AllLanguages lists every supported language in a stable order.
var AllLanguages = []Language{
	LanguageCSharp,
	LanguageDockerfile,
	LanguageGo,
	LanguageJava,
	LanguageJavaScript,
	LanguageJSON,
	LanguagePython,
	LanguageRust,
	LanguageTypeScript,
}

// languageAliases maps accepted spellings to canonical languages.
var languageAliases = map[string]Language{
	"csharp":     LanguageCSharp,
	"c#":         LanguageCSharp,
	"cs":         LanguageCSharp,
	"dockerfile": LanguageDockerfile,
	"docker":     LanguageDockerfile,
	"go":         LanguageGo,
	"golang":     LanguageGo,
	"java":       LanguageJava,
	"javascript": LanguageJavaScript,
	"js":         LanguageJavaScript,
	"json":       LanguageJSON,
	"python":     LanguagePython,
	"py":         LanguagePython,
	"rust":       LanguageRust,
	"rs":         LanguageRust,
	"typescript": LanguageTypeScript,
	"ts":         LanguageTypeScript,
}

// extensionLanguages maps lowercase file extensions to languages.
var extensionLanguages = map[string]Language{
	".cs":         LanguageCSharp,
	".dockerfile": LanguageDockerfile,
	".go":         LanguageGo,
	".java":       LanguageJava,
	".js":         LanguageJavaScript,
	".jsx":        LanguageJavaScript,
	".mjs":        LanguageJavaScript,
	".cjs":        LanguageJavaScript,
	".json":       LanguageJSON,
	".py":         LanguagePython,
	".py3":        LanguagePython,
	".pyi":        LanguagePython,
	".rs":         LanguageRust,
	".ts":         LanguageTypeScript,
	".tsx":        LanguageTypeScript,
	".mts":        LanguageTypeScript,
	".cts":        LanguageTypeScript,
}

// ParseLanguage converts a user or catalog supplied name into a Language.
//
// Matching is case-insensitive and accepts common aliases ("js", "golang").
// Returns ErrUnsupportedLanguage when the name is unknown.
func ParseLanguage(name string) (Language, error) {
	lang, ok := languageAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, name)
	}
	return lang, nil
}

// String returns the canonical lowercase name.
func (l Language) String() string {
	return string(l)
}

// Valid reports whether l is one of the supported languages.
func (l Language) Valid() bool {
	_, ok := grammars[l]
	return ok
}

// MarshalText encodes the language in the uppercase catalog form.
func (l Language) MarshalText() ([]byte, error) {
	return []byte(strings.ToUpper(string(l))), nil
}

// UnmarshalText accepts any spelling understood by ParseLanguage. Unknown
// names decode to a Language that is not Valid, so one foreign rule does
// not fail a whole rules file.
func (l *Language) UnmarshalText(text []byte) error {
	lang, err := ParseLanguage(string(text))
	if err != nil {
		*l = Language(strings.ToLower(strings.TrimSpace(string(text))))
		return nil
	}
	*l = lang
	return nil
}

// LanguageFromPath detects the language of a file from its name.
//
// Description:
//
//	Detection uses the extension first, then Dockerfile naming conventions
//	("Dockerfile", "Dockerfile.prod", "api.dockerfile").
//
// Outputs:
//
//	Language - The detected language.
//	bool     - False when the file is not handled by any grammar.
func LanguageFromPath(path string) (Language, bool) {
	base := filepath.Base(path)
	if lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(base))]; ok {
		return lang, true
	}

	lower := strings.ToLower(base)
	if lower == "dockerfile" || strings.HasPrefix(lower, "dockerfile.") {
		return LanguageDockerfile, true
	}
	return "", false
}
