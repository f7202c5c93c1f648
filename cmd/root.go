// Package cmd implements the meterstat CLI command tree.
// This file defines the root command and registers all global persistent flags.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/app"
	"github.com/derickschaefer/meterstat/internal/config"
	"github.com/derickschaefer/meterstat/internal/render"
)

// globalFlags holds the parsed values of all persistent (global) flags.
// Commands read from this struct via the deps they receive.
var globalFlags struct {
	Config   string
	Backend  string
	DB       string
	Format   string
	Out      string
	LogLevel string
	Timeout  string
	Rate     float64
	Quiet    bool
	Verbose  bool
}

// rootCmd is the base command. Running `meterstat` with no subcommand
// prints help.
var rootCmd = &cobra.Command{
	Use:   "meterstat",
	Short: "Energy-meter measurement statistics",
	Long: `meterstat turns per-device CSV exports from energy meters into daily
percentile profiles.

Measurements live in an object store (S3 or a local bolt database) as
<project>/All/<YYYY.MM.DD>/*.csv. The recompute command rebuilds each
project's weekday and weekend percentile tables when its newest day changes.

Quick start:
  meterstat config init                 # write meterstat.json
  meterstat projects                    # list projects in the store
  meterstat recompute                   # refresh every project's statistics
  meterstat serve                       # HTTP API for the dashboard`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called by main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig resolves config and applies CLI flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalFlags.Config)
	if err != nil {
		return nil, err
	}

	cfg.Quiet = globalFlags.Quiet
	cfg.Out = globalFlags.Out

	if globalFlags.Backend != "" {
		cfg.Backend = globalFlags.Backend
	}
	if globalFlags.DB != "" {
		cfg.DBPath = globalFlags.DB
	}
	if globalFlags.Format != "" {
		cfg.Format = globalFlags.Format
	}
	if globalFlags.LogLevel != "" {
		cfg.LogLevel = globalFlags.LogLevel
	}
	if globalFlags.Timeout != "" {
		d, err := time.ParseDuration(globalFlags.Timeout)
		if err != nil {
			return nil, fmt.Errorf("--timeout: %w", err)
		}
		cfg.Timeout = d
	}
	if globalFlags.Rate > 0 {
		cfg.Rate = globalFlags.Rate
	}
	if !render.ValidFormat(cfg.Format) {
		return nil, fmt.Errorf("unknown format %q (use %v)", cfg.Format, render.Formats)
	}
	return cfg, nil
}

// buildDeps resolves and validates config and constructs the dependency
// container. Called at the start of each store-backed command's RunE.
func buildDeps() (*app.Deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.New(cfg)
}

// buildReaderDeps is buildDeps for commands that never write the local
// database and may run alongside recompute.
func buildReaderDeps() (*app.Deps, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return app.NewReader(cfg)
}

func init() {
	pf := rootCmd.PersistentFlags()

	pf.StringVar(&globalFlags.Config, "config", "",
		"config file (default: meterstat.json or meterstat.yaml in the working directory)")
	pf.StringVar(&globalFlags.Backend, "backend", "",
		"object store backend: s3|bolt (overrides METERSTAT_BACKEND)")
	pf.StringVar(&globalFlags.DB, "db", "",
		"local bolt database path (default: ~/.meterstat/meterstat.db)")
	pf.StringVar(&globalFlags.Format, "format", "",
		"output format: table|json|jsonl|csv|tsv|md (default: table)")
	pf.StringVar(&globalFlags.Out, "out", "",
		"write output to file instead of stdout")
	pf.StringVar(&globalFlags.LogLevel, "log-level", "",
		"log level: debug|info|warn|error (default: info)")
	pf.StringVar(&globalFlags.Timeout, "timeout", "",
		"per-request object store timeout (e.g. 30s, 2m)")
	pf.Float64Var(&globalFlags.Rate, "rate", 0,
		"max object store requests per second (default: 20)")
	pf.BoolVar(&globalFlags.Quiet, "quiet", false,
		"suppress all non-error output")
	pf.BoolVar(&globalFlags.Verbose, "verbose", false,
		"show timing stats after output")
}
