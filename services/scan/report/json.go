// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report renders rule results as JSON or SARIF.
package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

// Format is an output format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatSARIF Format = "sarif"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatJSON, FormatSARIF:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q (want json or sarif)", s)
	}
}

// WriteJSON writes results as a JSON array.
func WriteJSON(w io.Writer, results []rules.RuleResult) error {
	if results == nil {
		results = []rules.RuleResult{}
	}
	enc := json.NewEncoder(w)
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("encoding json report: %w", err)
	}
	return nil
}
