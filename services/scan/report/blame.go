// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ErrNotGitRepository is returned when git information is requested for a
// directory outside a git work tree.
var ErrNotGitRepository = errors.New("not a git repository")

// Blamer resolves the commit that last touched a line.
type Blamer interface {
	// SHA returns the commit of line (1-based) in filename, relative to the
	// repository directory. ok is false when unknown.
	SHA(filename string, line int) (sha string, ok bool)
}

// GitBlamer runs git blame in a repository.
type GitBlamer struct {
	dir     string
	timeout time.Duration
}

// NewGitBlamer checks that dir is inside a git work tree.
func NewGitBlamer(dir string) (*GitBlamer, error) {
	b := &GitBlamer{dir: dir, timeout: 10 * time.Second}
	out, err := b.git("rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(out) != "true" {
		return nil, fmt.Errorf("%w: %s", ErrNotGitRepository, dir)
	}
	return b, nil
}

// SHA implements Blamer.
func (b *GitBlamer) SHA(filename string, line int) (string, bool) {
	if line < 1 {
		return "", false
	}
	n := strconv.Itoa(line)
	out, err := b.git("blame", "--porcelain", "-L", n+","+n, "--", filename)
	if err != nil {
		return "", false
	}
	return parsePorcelainSHA(out)
}

func (b *GitBlamer) git(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", b.dir}, args...)...)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return "", err
	}
	return stdout.String(), nil
}

// parsePorcelainSHA reads the commit id from the first porcelain header
// line: "<sha> <orig-line> <final-line> [<count>]".
func parsePorcelainSHA(out string) (string, bool) {
	first, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(first)
	if len(fields) < 3 || len(fields[0]) < 40 {
		return "", false
	}
	// Lines not committed yet blame to the zero id.
	if strings.Trim(fields[0], "0") == "" {
		return "", false
	}
	return fields[0], true
}
