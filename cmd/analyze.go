package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/analyze"
	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/transform"
)

// ─── summary ──────────────────────────────────────────────────────────────────

var summaryColumns []string

var summaryCmd = &cobra.Command{
	Use:   "summary <file|->",
	Short: "Descriptive statistics per column: count, missing, mean, std, quartiles",
	Example: `  meterstat summary export.csv
  meterstat normalize export.csv | meterstat summary - --columns P_total --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		tbl, warnings, err := loadTable(cmd, args[0], 0)
		if err != nil {
			return err
		}
		if len(summaryColumns) > 0 {
			if tbl, err = transform.Select(tbl, summaryColumns); err != nil {
				return err
			}
		}
		sums := analyze.SummarizeTable(tbl)
		result := newResult(model.KindSummary, "summary", sums, len(sums), start)
		result.Warnings = warnings
		return emit(cmd, result, resolveFormat(""))
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(summaryCmd)

	summaryCmd.Flags().StringSliceVar(&summaryColumns, "columns", nil, "summarize only these columns")
}
