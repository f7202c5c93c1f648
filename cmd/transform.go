package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/transform"
)

// ─── normalize ────────────────────────────────────────────────────────────────

var normalizeTimeColumn string

var normalizeCmd = &cobra.Command{
	Use:   "normalize <file|->",
	Short: "Parse a raw meter CSV export into a time-indexed table",
	Long: `Normalize reads one CSV export (BOM and ';' or ',' delimiters are
detected), finds the timestamp column, coerces every other cell to a number
and writes rows sorted by time with duplicate timestamps collapsed.

With no --format, output is JSONL when stdout is a pipe so that it can feed
aggregate, summary or chart, and a table on a terminal.`,
	Example: `  meterstat normalize export.csv
  meterstat normalize export.csv | meterstat aggregate - --rule 15min
  cat export.csv | meterstat normalize - --time-column named --format csv`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		mode, err := parseMode(normalizeTimeColumn)
		if err != nil {
			return err
		}
		tbl, warnings, err := loadTable(cmd, args[0], mode)
		if err != nil {
			return err
		}
		result := newResult(model.KindTable, "normalize", tbl, tbl.Len(), start)
		result.Warnings = warnings
		return emit(cmd, result, pipeFormat())
	},
}

// ─── aggregate ────────────────────────────────────────────────────────────────

var (
	aggregateRule      string
	aggregateStat      string
	aggregateColumns   []string
	aggregateMaxPoints int
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate <file|->",
	Short: "Bucket a table by a time rule: mean, p95, max and min per bucket",
	Long: `Aggregate buckets rows into fixed windows anchored at midnight and
reduces every column per bucket. Buckets without samples are empty rows.

Input is a raw CSV export or JSONL from 'meterstat normalize'.
Rules: <n><unit> with unit s, sec, second(s), min, minute(s), T, h or hour(s)
(e.g. 30s, 5min, 15T, 1h, "20 seconds").`,
	Example: `  meterstat aggregate export.csv --rule 15min
  meterstat aggregate export.csv --rule 1h --stat p95 --columns P_total,U_L1
  meterstat normalize export.csv | meterstat aggregate - --rule 1min --stat mean --max-points 500`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		rule, err := transform.ParseRule(aggregateRule)
		if err != nil {
			return err
		}
		tbl, warnings, err := loadTable(cmd, args[0], 0)
		if err != nil {
			return err
		}
		if len(aggregateColumns) > 0 {
			if tbl, err = transform.Select(tbl, aggregateColumns); err != nil {
				return err
			}
		}

		var result *model.Result
		if aggregateStat == "" || aggregateStat == "all" {
			agg, err := transform.Aggregate(tbl, rule)
			if err != nil {
				return err
			}
			agg.Mean = transform.Stride(agg.Mean, aggregateMaxPoints)
			agg.P95 = transform.Stride(agg.P95, aggregateMaxPoints)
			agg.Max = transform.Stride(agg.Max, aggregateMaxPoints)
			agg.Min = transform.Stride(agg.Min, aggregateMaxPoints)
			result = newResult(model.KindAggregate, "aggregate "+rule.String(), agg, agg.Mean.Len(), start)
		} else {
			out, err := transform.Reduce(tbl, rule, aggregateStat)
			if err != nil {
				return err
			}
			out = transform.Stride(out, aggregateMaxPoints)
			result = newResult(model.KindTable, fmt.Sprintf("aggregate %s %s", rule, aggregateStat), out, out.Len(), start)
		}
		result.Warnings = warnings
		return emit(cmd, result, pipeFormat())
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(aggregateCmd)

	normalizeCmd.Flags().StringVar(&normalizeTimeColumn, "time-column", "first",
		"how to find timestamps: first (first column) or named (timestamp/time/datetime/date)")

	aggregateCmd.Flags().StringVar(&aggregateRule, "rule", "5min", "bucket width: 30s, 5min, 15T, 1h ...")
	aggregateCmd.Flags().StringVar(&aggregateStat, "stat", "all",
		"statistic: all|"+strings.Join(transform.Stats, "|"))
	aggregateCmd.Flags().StringSliceVar(&aggregateColumns, "columns", nil, "keep only these columns")
	aggregateCmd.Flags().IntVar(&aggregateMaxPoints, "max-points", 0, "thin output to at most N rows (0 = all)")
}
