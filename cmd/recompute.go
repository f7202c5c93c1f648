package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/util"
)

// metricsJob is the Pushgateway job name for batch runs.
const metricsJob = "meterstat_recompute"

var (
	recomputeTarget string
	recomputeNoPush bool
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute [project...]",
	Short: "Rebuild weekday/weekend percentile tables where inputs changed",
	Long: `Recompute visits each project (all discovered projects when none are
named) and rebuilds <project>/Stat/weekday.csv and weekend.csv when the newest
day partition, the target column, the bucket width or the percentile set
changed since the last run, or when either table is missing.

Days are split by the base and region holiday calendars. Each project runs
independently: a failing project is reported and the run moves on. The exit
status is non-zero if any project failed.

The run is recorded in the local database ('meterstat runs list') and, when
a Pushgateway is configured, its metrics are pushed there.`,
	Example: `  meterstat recompute
  meterstat recompute "Plant North(12)" "Plant South(13)"
  meterstat recompute --target P_L1 --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		ctx, stop := signalContext()
		defer stop()

		sched := deps.Scheduler()
		if recomputeTarget != "" {
			sched.TargetColumn = recomputeTarget
		}
		rec, runErr := sched.Run(ctx, args)

		if !recomputeNoPush && deps.Config.Pushgateway != "" {
			pctx, cancel := context.WithTimeout(context.Background(), deps.Config.Timeout)
			if err := deps.Metrics.Push(pctx, deps.Config.Pushgateway, metricsJob); err != nil {
				deps.Logger.Warn().Err(err).Msg("metrics push failed")
			}
			cancel()
		}

		result := newResult(model.KindRun, "recompute", rec, len(rec.Outcomes), start)
		if err := emit(cmd, result, resolveFormat(deps.Config.Format)); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
		return failures(rec)
	},
}

// failures joins the per-project errors of a run.
func failures(rec model.RunRecord) error {
	var errs util.MultiError
	for _, o := range rec.Outcomes {
		if o.Status == model.StatusError {
			errs.Add(fmt.Errorf("%s: %s", o.Project, o.Error))
		}
	}
	if err := errs.Err(); err != nil {
		return fmt.Errorf("%d of %d projects failed: %w", len(errs.Errors), len(rec.Outcomes), err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(recomputeCmd)

	recomputeCmd.Flags().StringVar(&recomputeTarget, "target", "", "column to profile (default: target_column from config)")
	recomputeCmd.Flags().BoolVar(&recomputeNoPush, "no-push", false, "do not push metrics to the Pushgateway")
}
