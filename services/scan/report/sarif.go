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
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/AleutianAI/AleutianScan/services/scan/rules"
)

// SARIF constants of the report.
const (
	SarifVersion   = string(sarif.Version210)
	SarifSchema    = "https://json.schemastore.org/sarif-2.1.0.json"
	ToolName       = "datadog-static-analyzer"
	InformationURI = "https://www.datadoghq.com"
	categoryPrefix = "DATADOG_CATEGORY:"
	tagsProperty   = "tags"
	shaFingerprint = "SHA"
)

// Options controls SARIF generation.
type Options struct {
	// AddGitInfo fills partialFingerprints.SHA with the commit of the
	// violation's first line.
	AddGitInfo bool

	// RepoDir is the repository the result file names are relative to.
	RepoDir string

	// Debug logs blame failures.
	Debug bool

	// Blamer overrides the git blamer. Used when AddGitInfo is set.
	Blamer Blamer

	// Logger receives debug records. Default: slog.Default().
	Logger *slog.Logger
}

// LevelFromSeverity maps a severity to a SARIF level.
func LevelFromSeverity(s rules.Severity) string {
	switch s {
	case rules.SeverityNotice:
		return "note"
	case rules.SeverityWarning:
		return "warning"
	case rules.SeverityError:
		return "error"
	default:
		return "none"
	}
}

// GenerateSARIF builds the SARIF document of a run.
//
// Description:
//
//	The driver lists every rule in order; results reference them by
//	ruleIndex. Level and category tag come from the rule; results whose
//	rule is not in ruleList carry neither ruleIndex nor level.
//
// Inputs:
//
//	ruleList - The rules used for the run.
//	results  - The run's results. Only violations become SARIF results.
//	opts     - Generation options.
//
// Outputs:
//
//	*sarif.Report - The document.
//	error         - ErrNotGitRepository when AddGitInfo is set without a
//	                Blamer and RepoDir is not a git work tree.
func GenerateSARIF(ruleList []rules.Rule, results []rules.RuleResult, opts Options) (*sarif.Report, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	blamer := opts.Blamer
	if opts.AddGitInfo && blamer == nil {
		gb, err := NewGitBlamer(opts.RepoDir)
		if err != nil {
			return nil, err
		}
		blamer = gb
	}

	doc, err := sarif.New(sarif.Version210, false)
	if err != nil {
		return nil, fmt.Errorf("creating sarif report: %w", err)
	}
	doc.Schema = SarifSchema

	run := sarif.NewRunWithInformationURI(ToolName, InformationURI)
	index := make(map[string]int, len(ruleList))
	for i := range ruleList {
		r := &ruleList[i]
		if _, dup := index[r.Name]; !dup {
			index[r.Name] = i
		}
		run.Tool.Driver.Rules = append(run.Tool.Driver.Rules, descriptor(r))
	}

	for _, rr := range results {
		i, known := index[rr.RuleName]
		for _, v := range rr.Violations {
			res := sarif.NewRuleResult(rr.RuleName).
				WithMessage(sarif.NewTextMessage(v.Message)).
				WithLocations([]*sarif.Location{locationOf(rr.Filename, v.Start, v.End)}).
				WithFix(fixesOf(rr.Filename, v.Fixes))
			res.Properties = sarif.Properties{tagsProperty: []string{}}
			if known {
				res.WithRuleIndex(i).WithLevel(LevelFromSeverity(ruleList[i].Severity))
				res.Properties[tagsProperty] = []string{strings.ToUpper(categoryPrefix + string(ruleList[i].Category))}
			}

			fingerprints := map[string]interface{}{}
			if opts.AddGitInfo {
				if sha, ok := blamer.SHA(rr.Filename, v.Start.Line); ok {
					fingerprints[shaFingerprint] = sha
				} else if opts.Debug {
					logger.Debug("cannot get git blame info",
						slog.String("file", rr.Filename), slog.Int("line", v.Start.Line))
				}
			}
			res.WithPartialFingerPrints(fingerprints)
			run.AddResult(res)
		}
	}

	doc.AddRun(run)
	return doc, nil
}

// WriteSARIF generates the document and writes it as indented JSON.
func WriteSARIF(w io.Writer, ruleList []rules.Rule, results []rules.RuleResult, opts Options) error {
	doc, err := GenerateSARIF(ruleList, results, opts)
	if err != nil {
		return err
	}
	if err := doc.PrettyWrite(w); err != nil {
		return fmt.Errorf("encoding sarif report: %w", err)
	}
	return nil
}

func descriptor(r *rules.Rule) *sarif.ReportingDescriptor {
	d := sarif.NewRule(r.Name).WithHelpURI(r.URL())
	if r.DescriptionBase64 != nil {
		d.WithFullDescription(sarif.NewMultiformatMessageString(decodeOr(*r.DescriptionBase64, "invalid full description")))
	}
	if r.ShortDescriptionBase64 != nil {
		d.WithShortDescription(sarif.NewMultiformatMessageString(decodeOr(*r.ShortDescriptionBase64, "invalid short description")))
	}
	return d
}

func decodeOr(b64, fallback string) string {
	text, err := rules.DecodeBase64Text(b64)
	if err != nil {
		return fallback
	}
	return text
}

func regionOf(start, end rules.Position) *sarif.Region {
	return sarif.NewRegion().
		WithStartLine(start.Line).
		WithStartColumn(start.Col).
		WithEndLine(end.Line).
		WithEndColumn(end.Col)
}

func locationOf(filename string, start, end rules.Position) *sarif.Location {
	return sarif.NewLocationWithPhysicalLocation(sarif.NewPhysicalLocation().
		WithArtifactLocation(sarif.NewSimpleArtifactLocation(filename)).
		WithRegion(regionOf(start, end)))
}

func fixesOf(filename string, fixes []rules.Fix) []*sarif.Fix {
	out := make([]*sarif.Fix, 0, len(fixes))
	for _, f := range fixes {
		change := sarif.NewArtifactChange(sarif.NewSimpleArtifactLocation(filename))
		for _, e := range f.Edits {
			change.WithReplacement(replacementOf(e))
		}
		out = append(out, sarif.NewFix().
			WithDescriptionText(f.Description).
			WithArtifactChanges([]*sarif.ArtifactChange{change}))
	}
	return out
}

// replacementOf mirrors an edit: ADD deletes the empty region at its
// start, REMOVE deletes the empty region at its start without content, and
// UPDATE deletes start..end and inserts the content.
func replacementOf(e rules.Edit) *sarif.Replacement {
	switch e.EditType {
	case rules.EditTypeUpdate:
		end := rules.Position{}
		if e.End != nil {
			end = *e.End
		}
		return sarif.NewReplacement(regionOf(e.Start, end)).WithInsertedContent(contentOf(e.Content))
	case rules.EditTypeAdd:
		return sarif.NewReplacement(regionOf(e.Start, e.Start)).WithInsertedContent(contentOf(e.Content))
	default:
		return sarif.NewReplacement(regionOf(e.Start, e.Start))
	}
}

func contentOf(s *string) *sarif.ArtifactContent {
	if s == nil {
		return sarif.NewArtifactContent()
	}
	return sarif.NewArtifactContent().WithText(*s)
}
