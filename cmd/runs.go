package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect recompute run history",
	Long: `Every 'meterstat recompute' appends one record to the local database,
whichever object store backend is configured.`,
}

// ─── runs list ────────────────────────────────────────────────────────────────

var runsLimit int

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	Example: `  meterstat runs list
  meterstat runs list --limit 5 --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		runs, err := deps.DB.ListRuns(runsLimit)
		if err != nil {
			return fmt.Errorf("reading run history: %w", err)
		}
		result := newResult(model.KindRuns, "runs list", runs, len(runs), start)
		return emit(cmd, result, resolveFormat(deps.Config.Format))
	},
}

// ─── runs show ────────────────────────────────────────────────────────────────

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the per-project outcomes of one run (id prefix accepted)",
	Example: `  meterstat runs show 3f2a9c1e`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		rec, ok, err := deps.DB.GetRun(args[0])
		if err != nil {
			return fmt.Errorf("reading run history: %w", err)
		}
		if !ok {
			return fmt.Errorf("no run matching %q\n\n  Use: meterstat runs list", args[0])
		}
		result := newResult(model.KindRun, "runs show", rec, len(rec.Outcomes), start)
		return emit(cmd, result, resolveFormat(deps.Config.Format))
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsListCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to show (0 = all)")
}
