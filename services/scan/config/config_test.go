// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfigFile_YAML(t *testing.T) {
	dir := t.TempDir()
	content := "rulesets:\n  - python-best-practices\n  - python-security\nignore-paths:\n  - vendor/\nignore-gitignore: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "static-analysis.datadog.yml"), []byte(content), 0o644))

	cfg, err := ReadConfigFile(dir)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, []string{"python-best-practices", "python-security"}, cfg.RuleSets)
	assert.Equal(t, []string{"vendor/"}, cfg.IgnorePaths)
	assert.True(t, cfg.IgnoreGitignore)
	assert.Equal(t, filepath.Join(dir, "static-analysis.datadog.yml"), cfg.Path)
}

func TestReadConfigFile_TOML(t *testing.T) {
	dir := t.TempDir()
	content := "rulesets = [\"go-best-practices\"]\nignore-paths = [\"gen/**\"]\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "static-analysis.datadog.toml"), []byte(content), 0o644))

	cfg, err := ReadConfigFile(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"go-best-practices"}, cfg.RuleSets)
	assert.Equal(t, []string{"gen/**"}, cfg.IgnorePaths)
	assert.False(t, cfg.IgnoreGitignore)
}

func TestReadConfigFile_LookupOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "static-analysis.datadog.yaml"), []byte("rulesets: [b]\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "static-analysis.datadog.toml"), []byte("rulesets = [\"c\"]\n"), 0o644))

	cfg, err := ReadConfigFile(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, cfg.RuleSets)
}

func TestReadConfigFile_Absent(t *testing.T) {
	cfg, err := ReadConfigFile(t.TempDir())
	assert.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		isTOML bool
	}{
		{"no rulesets", "ignore-paths: [a]\n", false},
		{"empty rulesets", "rulesets: []\n", false},
		{"blank ruleset", "rulesets: ['']\n", false},
		{"bad yaml", "rulesets: [a\n", false},
		{"bad toml", "rulesets = \n", true},
		{"blank ignore path", "rulesets: [a]\nignore-paths: ['']\n", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.isTOML)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}
