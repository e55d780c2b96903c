// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package files discovers the files of a repository that can be analyzed.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"

	"github.com/AleutianAI/AleutianScan/services/scan/ast"
)

// DefaultMaxFileSize is the largest file ListFiles returns.
const DefaultMaxFileSize = 10 * 1024 * 1024

// ErrNotDirectory is returned when the root is not a directory.
var ErrNotDirectory = errors.New("not a directory")

// skippedDirs are never descended into.
var skippedDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// ListOptions configures ListFiles.
type ListOptions struct {
	// IgnoreGlobs are doublestar patterns relative to the root. A pattern
	// also ignores everything below a directory it matches, and a plain
	// path prefix ("vendor/") ignores that subtree.
	IgnoreGlobs []string

	// UseGitignore also skips paths excluded by the .gitignore files of
	// the tree and .git/info/exclude, with git's precedence and negations.
	UseGitignore bool

	// MaxFileSize skips larger files. Zero selects DefaultMaxFileSize.
	MaxFileSize int64
}

// ListFiles returns the analyzable files under root as slash-separated
// paths relative to root, sorted.
//
// Description:
//
//	Walks root, skipping VCS directories, ignored paths, symlinks, binary
//	files (NUL in the first 512 bytes) and files over the size limit.
//	Unreadable entries are skipped.
//
// Outputs:
//
//	[]string - Relative paths.
//	error    - ErrNotDirectory or an invalid ignore pattern.
func ListFiles(root string, opts ListOptions) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("listing %s: %w", root, ErrNotDirectory)
	}

	patterns := slices.Clone(opts.IgnoreGlobs)
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}
	var vcsIgnore gitignore.Matcher
	if opts.UseGitignore {
		if vcsIgnore, err = readGitignore(root); err != nil {
			return nil, fmt.Errorf("reading gitignore under %s: %w", root, err)
		}
	}
	ignored := func(rel string, isDir bool) bool {
		if IsIgnored(rel, patterns) {
			return true
		}
		return vcsIgnore != nil && vcsIgnore.Match(strings.Split(rel, "/"), isDir)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var out []string
	walkFn := func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if skippedDirs[d.Name()] || ignored(rel, true) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || ignored(rel, false) {
			return nil
		}

		fi, err := d.Info()
		if err != nil || fi.Size() > maxSize {
			return nil
		}
		if isBinaryFile(path) {
			return nil
		}

		out = append(out, rel)
		return nil
	}

	if err := filepath.WalkDir(root, walkFn); err != nil {
		return nil, err
	}
	slices.Sort(out)
	return out, nil
}

// IsIgnored reports whether the relative path rel is excluded by one of
// patterns.
func IsIgnored(rel string, patterns []string) bool {
	for _, p := range patterns {
		p = strings.TrimPrefix(p, "./")
		if p == "" {
			continue
		}
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(strings.TrimSuffix(p, "/")+"/**", rel); ok {
			return true
		}
		if !hasMeta(p) && strings.HasPrefix(rel, p) {
			return true
		}
	}
	return false
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}

// readGitignore loads .git/info/exclude and every .gitignore below root,
// ordered so deeper files and later lines take precedence.
func readGitignore(root string) (gitignore.Matcher, error) {
	ps, err := gitignore.ReadPatterns(osfs.New(root), nil)
	if err != nil {
		return nil, err
	}
	return gitignore.NewMatcher(ps), nil
}

// isBinaryFile sniffs the first 512 bytes for a NUL byte.
func isBinaryFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil || n == 0 {
		return false
	}
	return slices.Contains(buf[:n], 0)
}

// DetectLanguage returns the language of path.
func DetectLanguage(path string) (ast.Language, bool) {
	return ast.LanguageFromPath(path)
}

// FilterFilesForLanguage returns the paths whose detected language is
// language, preserving order.
func FilterFilesForLanguage(paths []string, language ast.Language) []string {
	var out []string
	for _, p := range paths {
		if lang, ok := DetectLanguage(p); ok && lang == language {
			out = append(out, p)
		}
	}
	return out
}
