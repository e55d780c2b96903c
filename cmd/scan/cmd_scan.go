// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianScan/pkg/logging"
	"github.com/AleutianAI/AleutianScan/pkg/ux"
	"github.com/AleutianAI/AleutianScan/services/scan/ast"
	"github.com/AleutianAI/AleutianScan/services/scan/catalog"
	"github.com/AleutianAI/AleutianScan/services/scan/config"
	"github.com/AleutianAI/AleutianScan/services/scan/engine"
	"github.com/AleutianAI/AleutianScan/services/scan/files"
	"github.com/AleutianAI/AleutianScan/services/scan/report"
	"github.com/AleutianAI/AleutianScan/services/scan/rules"
	"github.com/AleutianAI/AleutianScan/services/scan/telemetry"
)

// =============================================================================
// FLAGS
// =============================================================================

// scanFlags are the flags of the root command.
type scanFlags struct {
	directory   string
	rulesFile   string
	debug       string
	format      string
	output      string
	cpus        int
	ignorePaths []string
	perfStats   bool
	addGitInfo  bool
	version     bool

	// catalogURL overrides the catalog endpoint. Hidden.
	catalogURL string

	// cacheDir enables the on-disk ruleset cache.
	cacheDir string
}

// scanConfig is the resolved configuration of one run.
type scanConfig struct {
	directory     string
	useConfigFile bool
	useDebug      bool
	format        report.Format
	output        string
	cpus          int
	ignorePaths   []string
	useGitignore  bool
	rules         []rules.Rule
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags scanFlags

	cmd := &cobra.Command{
		Use:   "scan -i <directory> -o <output> [-r <rules.json>]",
		Short: "Run static-analysis rules against a source tree",
		Long: `Run tree-sitter static-analysis rules against every supported file of a
directory and write the results as JSON or SARIF.

Rules come from the directory's static-analysis.datadog.yml (rulesets are
fetched from the catalog) or from a rules file given with -r, never both.

Examples:
  scan -i ./repo -r rules.json -o results.json
  scan -i ./repo -o results.sarif -f sarif --add-git-info
  scan -i ./repo -r rules.json -o out.json -p "**/test_*.py" -x`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.version {
				fmt.Fprintln(stdout, version)
				return nil
			}
			return runScan(cmd.Context(), flags, stdout, stderr)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	f := cmd.Flags()
	f.StringVarP(&flags.directory, "directory", "i", "", "directory to scan (valid existing directory)")
	f.StringVarP(&flags.rulesFile, "rules", "r", "", "rules to use (json file)")
	f.StringVarP(&flags.debug, "debug", "d", "no", "use debug mode (yes/no)")
	f.StringVarP(&flags.format, "format", "f", string(report.FormatJSON), "output format (json/sarif)")
	f.StringVarP(&flags.output, "output", "o", "", "output file")
	f.IntVarP(&flags.cpus, "cpus", "c", 0, "number of CPUs to use (default: all cores)")
	f.StringArrayVarP(&flags.ignorePaths, "ignore-path", "p", nil, "path or glob to ignore (repeatable)")
	f.BoolVarP(&flags.perfStats, "performance-statistics", "x", false, "print per-rule execution statistics")
	f.BoolVarP(&flags.addGitInfo, "add-git-info", "g", false, "add git blame information to the SARIF report")
	f.BoolVarP(&flags.version, "version", "v", false, "print the version")
	f.StringVar(&flags.cacheDir, "cache-dir", "", "cache fetched rulesets in this directory")
	f.StringVar(&flags.catalogURL, "catalog-url", "", "override the ruleset catalog endpoint")
	_ = f.MarkHidden("catalog-url")

	cmd.AddCommand(newServeCmd(stdout, stderr))
	cmd.AddCommand(newTestRulesCmd(stdout, stderr))
	return cmd
}

// =============================================================================
// RUN
// =============================================================================

func runScan(ctx context.Context, flags scanFlags, stdout, stderr io.Writer) error {
	useDebug := flags.debug == "yes"
	level := logging.LevelWarn
	if useDebug {
		level = logging.LevelDebug
	}
	logger, err := logging.New(logging.Config{Level: level, Output: stderr, Service: "scan"})
	if err != nil {
		return err
	}
	defer logger.Close()

	cfg, err := resolveConfig(ctx, flags, logger.Slog())
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	paths, err := files.ListFiles(cfg.directory, files.ListOptions{
		IgnoreGlobs:  cfg.ignorePaths,
		UseGitignore: cfg.useGitignore,
	})
	if err != nil {
		return fmt.Errorf("unable to get the list of files to analyze: %w", err)
	}

	out := ux.NewPrinter(stdout)
	printConfiguration(out, cfg)

	eng := engine.New(engine.AnalysisOptions{LogOutput: true, UseDebug: cfg.useDebug},
		engine.WithLogger(logger.Slog()))
	defer eng.Close()

	spin := out.Spinner(fmt.Sprintf("Analyzing %d files", len(paths)))
	spin.Start()
	rep, err := eng.Run(ctx, engine.Request{
		Root:    cfg.directory,
		Files:   paths,
		Rules:   cfg.rules,
		Workers: engine.WorkerCount(cfg.cpus),
	})
	spin.Stop()
	if err != nil {
		return fmt.Errorf("analysis interrupted: %w", err)
	}

	for _, ex := range rep.Excluded {
		out.Warning("rule %s excluded (%s)", ex.RuleName, ex.Code)
	}
	out.Line("Found %d violations in %d files using %d rules within %d secs",
		rep.Stats.TotalViolations, rep.FilesScheduled, len(cfg.rules), int64(rep.Duration.Seconds()))

	if flags.perfStats {
		printPerformanceStatistics(out, rep.Stats)
	}

	if err := writeReport(cfg, flags.addGitInfo, rep.Results, logger.Slog()); err != nil {
		return err
	}
	return nil
}

// resolveConfig validates the flags and loads the rules.
func resolveConfig(ctx context.Context, flags scanFlags, logger *slog.Logger) (scanConfig, error) {
	var cfg scanConfig

	if flags.output == "" {
		return cfg, newUsageError("output file not specified")
	}
	if flags.directory == "" {
		return cfg, newUsageError("no directory passed, specify a directory with option -i")
	}
	if info, err := os.Stat(flags.directory); err != nil || !info.IsDir() {
		return cfg, errors.New("directory to analyze is not correct")
	}
	format, err := report.ParseFormat(flags.format)
	if err != nil {
		return cfg, newUsageError("%v", err)
	}

	cpus := flags.cpus
	if cpus <= 0 {
		cpus = runtime.NumCPU()
	}

	cfg = scanConfig{
		directory:    flags.directory,
		useDebug:     flags.debug == "yes",
		format:       format,
		output:       flags.output,
		cpus:         cpus,
		useGitignore: true,
	}

	configFile, err := config.ReadConfigFile(flags.directory)
	if err != nil {
		return cfg, err
	}

	if configFile != nil {
		if flags.rulesFile != "" {
			return cfg, newUsageError("a rule file cannot be specified when a configuration file is present.")
		}
		cfg.useConfigFile = true
		cfg.useGitignore = !configFile.IgnoreGitignore
		cfg.ignorePaths = append(cfg.ignorePaths, configFile.IgnorePaths...)

		client, closeClient, err := newCatalogClient(flags, logger)
		if err != nil {
			return cfg, err
		}
		defer closeClient()

		cfg.rules, err = client.FetchRules(ctx, configFile.RuleSets)
		if err != nil {
			return cfg, fmt.Errorf("error when reading rules from API: %w", err)
		}
	} else {
		if flags.rulesFile == "" {
			return cfg, newUsageError("no configuration and no rule files specified. " +
				"Please have a static-analysis.datadog.yml file or specify rules with -r")
		}
		sets, err := rules.LoadRuleSetsFromFile(flags.rulesFile)
		if err != nil {
			return cfg, fmt.Errorf("cannot read ruleset: %w", err)
		}
		cfg.rules = rules.RulesFromRuleSets(sets)
	}

	cfg.ignorePaths = append(cfg.ignorePaths, flags.ignorePaths...)
	return cfg, nil
}

func newCatalogClient(flags scanFlags, logger *slog.Logger) (*catalog.Client, func(), error) {
	opts := []catalog.ClientOption{catalog.WithLogger(logger)}
	if flags.catalogURL != "" {
		opts = append(opts, catalog.WithBaseURL(flags.catalogURL))
	}

	closeFn := func() {}
	if flags.cacheDir != "" {
		cache, err := catalog.OpenCache(catalog.CacheConfig{Path: flags.cacheDir, Logger: logger})
		if err != nil {
			return nil, nil, fmt.Errorf("open ruleset cache: %w", err)
		}
		opts = append(opts, catalog.WithCache(cache))
		closeFn = func() {
			if err := cache.Close(); err != nil {
				logger.Warn("cannot close ruleset cache", slog.String("error", err.Error()))
			}
		}
	}

	return catalog.NewClient(catalog.CredentialsFromEnv(os.LookupEnv), opts...), closeFn, nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func printConfiguration(out *ux.Printer, cfg scanConfig) {
	method := "rule file"
	if cfg.useConfigFile {
		method = "config file (static-analysis.datadog.[yml|yaml|toml])"
	}

	langs := make([]string, 0)
	for _, l := range languagesOf(cfg.rules) {
		langs = append(langs, strings.ToUpper(string(l)))
	}

	out.Title("Configuration")
	out.KeyValue("config method    ", method)
	out.KeyValue("cores available  ", runtime.NumCPU())
	out.KeyValue("cores used       ", cfg.cpus)
	out.KeyValue("#rules loaded    ", len(cfg.rules))
	out.KeyValue("source directory ", cfg.directory)
	out.KeyValue("output file      ", cfg.output)
	out.KeyValue("output format    ", cfg.format)
	out.KeyValue("ignore paths     ", strings.Join(cfg.ignorePaths, ","))
	out.KeyValue("use config file  ", cfg.useConfigFile)
	out.KeyValue("use debug        ", cfg.useDebug)
	out.KeyValue("rules languages  ", strings.Join(langs, ","))
}

func printPerformanceStatistics(out *ux.Printer, stats engine.Stats) {
	out.Section("Rule execution time")
	for _, rt := range stats.SortedRuleTimes() {
		out.Line("rule %q execution time %d ms", rt.Rule, rt.ExecutionTimeMs)
	}

	out.Section("Rule timed out")
	if len(stats.TimedOut) == 0 {
		out.Line("No rule timed out")
	}
	for _, r := range stats.TimedOut {
		out.Warning("Rule %s timed out on file %s", r.RuleName, r.Filename)
	}
}

func writeReport(cfg scanConfig, addGitInfo bool, results []rules.RuleResult, logger *slog.Logger) (err error) {
	f, err := os.Create(cfg.output)
	if err != nil {
		return fmt.Errorf("cannot create file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("error when writing results: %w", cerr)
		}
	}()

	switch cfg.format {
	case report.FormatSARIF:
		return report.WriteSARIF(f, cfg.rules, results, report.Options{
			AddGitInfo: addGitInfo,
			RepoDir:    cfg.directory,
			Debug:      cfg.useDebug,
			Logger:     logger,
		})
	default:
		return report.WriteJSON(f, results)
	}
}

// languagesOf returns the distinct languages of ruleList, sorted.
func languagesOf(ruleList []rules.Rule) []ast.Language {
	var out []ast.Language
	for _, r := range ruleList {
		if r.Language.Valid() && !slices.Contains(out, r.Language) {
			out = append(out, r.Language)
		}
	}
	slices.Sort(out)
	return out
}
