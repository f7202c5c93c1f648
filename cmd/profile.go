package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/chart"
	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/objstore"
	"github.com/derickschaefer/meterstat/internal/profile"
	"github.com/derickschaefer/meterstat/internal/rawcsv"
	"github.com/derickschaefer/meterstat/internal/recompute"
)

// ─── profile ──────────────────────────────────────────────────────────────────

var (
	profileWidth  int
	profileTarget string
	profileChart  bool
)

var profileCmd = &cobra.Command{
	Use:   "profile <project> <YYYY.MM.DD>",
	Short: "Average one day's target column onto a fixed time-of-day grid",
	Long: `Profile builds the per-bucket mean of the target column for one day, the
same series that feeds the weekday/weekend percentile tables. Buckets with no
samples are missing.

Without --agg-minutes the project's plot_agg_minutes setting is used.`,
	Example: `  meterstat profile "Plant North(12)" 2025.01.07
  meterstat profile "Plant North(12)" 2025.01.07 --agg-minutes 60 --chart --bars
  meterstat profile "Plant North(12)" 2025.01.07 --target P_L1 --format csv`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()
		ctx := cmd.Context()
		project, day := args[0], args[1]

		width := profileWidth
		if width <= 0 {
			if width, err = recompute.AggMinutes(ctx, deps.Store, project, deps.Config.AggMinutes); err != nil {
				return err
			}
		}
		target := profileTarget
		if target == "" {
			target = deps.Config.TargetColumn
		}

		p, rep, err := deps.Builder().Build(ctx, project, day, target, width)
		if err != nil {
			return err
		}
		if profileChart {
			return drawSeries(cmd, chart.FromProfile(fmt.Sprintf("%s %s %s", project, day, target), p))
		}

		result := newResult(model.KindProfile, "profile", p, p.Present(), start)
		for _, f := range rep.Files {
			if f.Status != profile.FileOK {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s skipped: %s", f.Key, f.Status))
			}
		}
		if p.Present() == 0 {
			result.Warnings = append(result.Warnings, "no data for this period")
		}
		return emit(cmd, result, resolveFormat(deps.Config.Format))
	},
}

// ─── state ────────────────────────────────────────────────────────────────────

var stateCmd = &cobra.Command{
	Use:   "state <project>",
	Short: "Show the recompute state recorded with a project's statistics",
	Long: `The state records the newest day's fingerprint (file count, newest key,
newest modification time) and the parameters used for the last recompute.
A recompute is skipped while both are unchanged.`,
	Example: `  meterstat state "Plant North(12)"
  meterstat state "Plant North(12)" --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		state, found, err := recompute.LoadState(cmd.Context(), deps.Store, args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no recompute state for %s\n\n  Use: meterstat recompute %q", args[0], args[0])
		}
		result := newResult(model.KindState, "state", state, 1, start)
		return emit(cmd, result, resolveFormat(deps.Config.Format))
	},
}

// ─── stats ────────────────────────────────────────────────────────────────────

var statsChart string

var statsCmd = &cobra.Command{
	Use:   "stats <project> <weekday|weekend>",
	Short: "Show a published percentile table",
	Long: `Prints <project>/Stat/weekday.csv or weekend.csv: for every time-of-day
bucket the P0.5 … P99.5 percentiles across all days of that class.

--chart <label> draws one percentile column instead.`,
	Example: `  meterstat stats "Plant North(12)" weekday
  meterstat stats "Plant North(12)" weekend --chart P95
  meterstat stats "Plant North(12)" weekday --format csv --out weekday.csv`,
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{"weekday", "weekend"},
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		var name string
		switch args[1] {
		case "weekday":
			name = objstore.WeekdayFile
		case "weekend":
			name = objstore.WeekendFile
		default:
			return fmt.Errorf("class must be weekday or weekend, got %q", args[1])
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		key := objstore.StatKey(args[0], name)
		data, err := objstore.GetOptional(cmd.Context(), deps.Store, key)
		if err != nil {
			return err
		}
		if len(data) == 0 {
			return fmt.Errorf("%s not found: no data for this period", key)
		}
		q, err := rawcsv.ReadQuantiles(data)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if statsChart != "" {
			s, err := chart.FromQuantiles(args[0]+" "+args[1], q, statsChart)
			if err != nil {
				return err
			}
			return drawSeries(cmd, s)
		}
		result := newResult(model.KindQuantiles, "stats "+args[1], q, len(q.Rows), start)
		return emit(cmd, result, resolveFormat(deps.Config.Format))
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(statsCmd)

	profileCmd.Flags().IntVar(&profileWidth, "agg-minutes", 0, "bucket width in minutes, must divide 1440 (default: project setting)")
	profileCmd.Flags().StringVar(&profileTarget, "target", "", "column to profile (default: target_column from config)")
	profileCmd.Flags().BoolVar(&profileChart, "chart", false, "draw the profile instead of printing it")
	addChartFlags(profileCmd)

	statsCmd.Flags().StringVar(&statsChart, "chart", "", "draw one percentile column, e.g. P25 or P95")
	addChartFlags(statsCmd)
}
