// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sandbox

import (
	"github.com/dop251/goja"
)

// preludeSource defines the API visible to rule code. It evaluates to a
// function that receives the two host callbacks, so the callbacks are never
// reachable as globals.
const preludeSource = `(function (emit, log) {
	"use strict";

	function Violation(startLine, startCol, endLine, endCol, message, severity, category) {
		this.start = { line: startLine, col: startCol };
		this.end = { line: endLine, col: endCol };
		this.message = message;
		this.severity = severity;
		this.category = category;
		this.fixes = [];
	}
	Violation.prototype.addFix = function (fix) {
		this.fixes.push(fix);
		return this;
	};

	function edit(startLine, startCol, endLine, endCol, editType, content) {
		var e = { start: { line: startLine, col: startCol }, editType: editType };
		if (endLine !== undefined && endLine !== null) {
			e.end = { line: endLine, col: endCol };
		}
		if (content !== undefined && content !== null) {
			e.content = content;
		}
		return e;
	}

	function render(args) {
		var parts = [];
		for (var i = 0; i < args.length; i++) {
			var a = args[i];
			parts.push(typeof a === "string" ? a : JSON.stringify(a));
		}
		return parts.join(" ");
	}

	globalThis.buildError = function (startLine, startCol, endLine, endCol, message, severity, category) {
		return new Violation(startLine, startCol, endLine, endCol, message, severity, category);
	};
	globalThis.buildFix = function (description, edits) {
		return { description: description, edits: edits || [] };
	};
	globalThis.buildEdit = edit;
	globalThis.buildEditAdd = function (line, col, content) {
		return edit(line, col, null, null, "ADD", content);
	};
	globalThis.buildEditRemove = function (startLine, startCol, endLine, endCol) {
		return edit(startLine, startCol, endLine, endCol, "REMOVE");
	};
	globalThis.buildEditUpdate = function (startLine, startCol, endLine, endCol, content) {
		return edit(startLine, startCol, endLine, endCol, "UPDATE", content);
	};
	globalThis.addError = function (violation) {
		emit(violation);
	};
	globalThis.console = {
		log: function () { log(render(arguments)); }
	};
})`

// prelude is compiled once; a *goja.Program may be run by any number of
// runtimes.
var prelude = goja.MustCompile("prelude.js", preludeSource, false)
