package cmd

import (
	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/chart"
	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/transform"
)

// ─── chart ────────────────────────────────────────────────────────────────────

var (
	chartColumn string
	chartRule   string
	chartBars   bool
	chartWidth  int
	chartHeight int
	chartTitle  string
)

var chartCmd = &cobra.Command{
	Use:   "chart <file|->",
	Short: "Draw one column of a table as a terminal chart",
	Long: `Chart reads a raw CSV export or normalized JSONL and draws one column.
Missing values are gaps, not zeros. With --rule the column is first averaged
into buckets; --bars draws one bar per row and suits hourly or coarser data.

Width follows $COLUMNS or the terminal size, else 80.`,
	Example: `  meterstat chart export.csv --column P_total
  meterstat chart export.csv --column P_total --rule 1h --bars
  meterstat normalize export.csv | meterstat chart - --column U_L1 --rule 5min --height 16`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tbl, _, err := loadTable(cmd, args[0], 0)
		if err != nil {
			return err
		}
		if chartRule != "" {
			rule, err := transform.ParseRule(chartRule)
			if err != nil {
				return err
			}
			if tbl, err = transform.Reduce(tbl, rule, model.StatMean); err != nil {
				return err
			}
		}
		s, err := chart.FromColumn(tbl, chartColumn)
		if err != nil {
			return err
		}
		return drawSeries(cmd, s)
	},
}

// drawSeries writes s with the chart flags to --out or stdout.
func drawSeries(cmd *cobra.Command, s chart.Series) error {
	w, closeFn, err := outputWriter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer closeFn()
	if chartBars {
		return chart.Bars(w, s, chart.BarOptions{Width: chartWidth})
	}
	return chart.Line(w, s, chart.LineOptions{Width: chartWidth, Height: chartHeight, Title: chartTitle})
}

func addChartFlags(c *cobra.Command) {
	c.Flags().BoolVar(&chartBars, "bars", false, "one horizontal bar per point instead of a curve")
	c.Flags().IntVar(&chartWidth, "width", 0, "chart width in characters (default: terminal width)")
	c.Flags().IntVar(&chartHeight, "height", 12, "curve height in rows")
	c.Flags().StringVar(&chartTitle, "title", "", "chart title (default: series name)")
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(chartCmd)

	chartCmd.Flags().StringVar(&chartColumn, "column", "P_total", "column to draw")
	chartCmd.Flags().StringVar(&chartRule, "rule", "", "average into buckets first (e.g. 5min, 1h)")
	addChartFlags(chartCmd)
}
