// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config reads the repository configuration file that names the
// rulesets to apply and the paths to ignore.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileNames are the configuration file names, in lookup order.
var FileNames = []string{
	"static-analysis.datadog.yml",
	"static-analysis.datadog.yaml",
	"static-analysis.datadog.toml",
}

// ErrInvalidConfig indicates a configuration file that does not decode or
// does not validate.
var ErrInvalidConfig = errors.New("invalid configuration file")

// ConfigFile is the repository configuration.
//
// # Validation
//
// Uses go-playground/validator:
//   - RuleSets: required, at least one non-empty name
//   - IgnorePaths: each entry non-empty
type ConfigFile struct {
	RuleSets        []string `yaml:"rulesets" toml:"rulesets" validate:"required,min=1,dive,required"`
	IgnorePaths     []string `yaml:"ignore-paths" toml:"ignore-paths" validate:"omitempty,dive,required"`
	IgnoreGitignore bool     `yaml:"ignore-gitignore" toml:"ignore-gitignore"`

	// Path is the file the configuration was read from.
	Path string `yaml:"-" toml:"-"`
}

var validate = validator.New()

// Validate checks the configuration constraints.
func (c *ConfigFile) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ReadConfigFile loads the configuration file of dir.
//
// Outputs:
//
//	*ConfigFile - The configuration, or nil when dir has none.
//	error       - Read, decode or validation failure.
func ReadConfigFile(dir string) (*ConfigFile, error) {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}

		cfg, err := Parse(data, strings.HasSuffix(name, ".toml"))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		cfg.Path = path
		return cfg, nil
	}
	return nil, nil
}

// Parse decodes and validates configuration content, as TOML when isTOML
// is set and as YAML otherwise.
func Parse(data []byte, isTOML bool) (*ConfigFile, error) {
	var cfg ConfigFile
	if isTOML {
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
