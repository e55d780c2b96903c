// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"bytes"
	"testing"
)

func TestSpinner_DefaultsToDotsType(t *testing.T) {
	spin := NewPlainPrinter(&bytes.Buffer{}).Spinner("Loading...")
	if spin.spinType != SpinnerDots {
		t.Errorf("expected SpinnerDots, got %v", spin.spinType)
	}
	if spin.message != "Loading..." {
		t.Errorf("expected message 'Loading...', got %q", spin.message)
	}
}

func TestSpinner_WithType(t *testing.T) {
	spin := NewPlainPrinter(&bytes.Buffer{}).Spinner("Loading...").WithType(SpinnerCompass)
	if spin.spinType != SpinnerCompass {
		t.Errorf("expected SpinnerCompass, got %v", spin.spinType)
	}
}

func TestSpinner_PlainWriterPrintsNothing(t *testing.T) {
	var buf bytes.Buffer
	spin := NewPlainPrinter(&buf).Spinner("Analyzing")

	spin.Start()
	if !spin.Running() {
		t.Error("spinner should be running after Start")
	}
	spin.UpdateMessage("Analyzing 3 files")
	spin.Stop()
	spin.Stop()

	if spin.Running() {
		t.Error("spinner should not be running after Stop")
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}
}

func TestSpinner_StyledAnimatesAndClears(t *testing.T) {
	var buf bytes.Buffer
	p := &Printer{w: &buf, styled: true}
	spin := p.Spinner("Analyzing")

	spin.Start()
	spin.Start()
	spin.Stop()

	if !bytes.HasSuffix(buf.Bytes(), []byte("\r\033[K")) {
		t.Errorf("expected the spinner line to be cleared, got %q", buf.String())
	}
}
