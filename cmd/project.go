package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/calendar"
	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/objstore"
	"github.com/derickschaefer/meterstat/internal/profile"
	"github.com/derickschaefer/meterstat/internal/transform"
	"github.com/derickschaefer/meterstat/internal/util"
)

// ─── projects ─────────────────────────────────────────────────────────────────

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List projects in the object store",
	Long: `A project is a top-level prefix named like "Plant North(12)" that holds
day partitions under All/.`,
	Example: `  meterstat projects
  meterstat projects --format json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		projects, err := objstore.Projects(cmd.Context(), deps.Store)
		if err != nil {
			return fmt.Errorf("listing projects: %w", err)
		}
		result := newResult(model.KindList, "projects", projects, len(projects), start)
		return emit(cmd, result, resolveFormat(deps.Config.Format))
	},
}

// ─── days ─────────────────────────────────────────────────────────────────────

var daysCmd = &cobra.Command{
	Use:     "days <project>",
	Short:   "List a project's day partitions (YYYY.MM.DD), oldest first",
	Example: `  meterstat days "Plant North(12)"`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		days, err := objstore.Days(cmd.Context(), deps.Store, args[0])
		if err != nil {
			return fmt.Errorf("listing days: %w", err)
		}
		result := newResult(model.KindList, "days", days, len(days), start)
		if len(days) == 0 {
			result.Warnings = append(result.Warnings, "no day partitions for "+args[0])
		}
		return emit(cmd, result, resolveFormat(deps.Config.Format))
	},
}

// ─── files ────────────────────────────────────────────────────────────────────

var filesCmd = &cobra.Command{
	Use:     "files <project> <YYYY.MM.DD>",
	Short:   "List the CSV files of one day partition",
	Example: `  meterstat files "Plant North(12)" 2025.01.07`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		files, err := objstore.DayFiles(cmd.Context(), deps.Store, args[0], args[1])
		if err != nil {
			return fmt.Errorf("listing files: %w", err)
		}
		result := newResult(model.KindObjects, "files", files, len(files), start)
		return emit(cmd, result, resolveFormat(deps.Config.Format))
	},
}

// ─── day ──────────────────────────────────────────────────────────────────────

var (
	dayRule      string
	dayStat      string
	dayColumns   []string
	dayMaxPoints int
)

var dayCmd = &cobra.Command{
	Use:   "day <project> <YYYY.MM.DD>",
	Short: "Merge every file of a day into one table, optionally aggregated",
	Long: `Day reads all CSV files of a partition, normalizes them, and merges their
columns on the timestamp; a later file wins where timestamps collide.
Unreadable files are skipped and reported as warnings.`,
	Example: `  meterstat day "Plant North(12)" 2025.01.07 --rule 1min
  meterstat day "Plant North(12)" 2025.01.07 --rule 15min --stat max --columns P_total
  meterstat day "Plant North(12)" 2025.01.07 --format jsonl | meterstat summary -`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		d, err := deps.Builder().LoadDay(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		tbl := d.Table
		if len(dayColumns) > 0 && !tbl.Empty() {
			if tbl, err = transform.Select(tbl, dayColumns); err != nil {
				return err
			}
		}
		if dayRule != "" {
			rule, err := transform.ParseRule(dayRule)
			if err != nil {
				return err
			}
			if tbl, err = transform.Reduce(tbl, rule, dayStat); err != nil {
				return err
			}
		}
		tbl = transform.Stride(tbl, dayMaxPoints)

		result := newResult(model.KindTable, "day", tbl, tbl.Len(), start)
		for _, f := range d.Report.Files {
			if f.Status != profile.FileOK {
				result.Warnings = append(result.Warnings, fmt.Sprintf("%s skipped: %s %s", f.Key, f.Status, f.Err))
			}
		}
		if tbl.Empty() {
			result.Warnings = append(result.Warnings, "no data for this period")
		}
		return emit(cmd, result, resolveFormat(deps.Config.Format))
	},
}

// ─── calendar ─────────────────────────────────────────────────────────────────

var calendarCmd = &cobra.Command{
	Use:   "calendar <project> <YYYY-MM-DD>",
	Short: "Classify a date as weekday or weekend/holiday for a project",
	Long: `A date is non-working when it appears in the base calendar
(Calendar/calendar_<year>.json) or any of the project's region calendars
(<project>/Stat/calendar_<year>_region_*.json).`,
	Example: `  meterstat calendar "Plant North(12)" 2025-01-06`,
	Args:    cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		date, err := util.ParseDate(args[1])
		if err != nil {
			return err
		}
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		cls := calendar.NewClassifier(deps.Store, deps.Logger)
		set, err := cls.Holidays(cmd.Context(), args[0], date.Year())
		if err != nil {
			return err
		}
		nonWorking := set.Contains(calendar.DateOf(date))
		class := "weekday"
		if nonWorking {
			class = "weekend"
		}
		fields := []model.Field{
			{Key: "project", Value: args[0]},
			{Key: "date", Value: date.Format("2006-01-02")},
			{Key: "weekday", Value: date.Weekday().String()},
			{Key: "class", Value: class},
			{Key: "non_working_days_in_year", Value: strconv.Itoa(len(set))},
		}
		result := newResult(model.KindFields, "calendar", fields, len(fields), start)
		return emit(cmd, result, resolveFormat(deps.Config.Format))
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(projectsCmd)
	rootCmd.AddCommand(daysCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(dayCmd)
	rootCmd.AddCommand(calendarCmd)

	dayCmd.Flags().StringVar(&dayRule, "rule", "", "aggregate into buckets (e.g. 1min, 15min); empty = raw rows")
	dayCmd.Flags().StringVar(&dayStat, "stat", model.StatMean, "statistic for --rule: mean|p95|max|min")
	dayCmd.Flags().StringSliceVar(&dayColumns, "columns", nil, "keep only these columns")
	dayCmd.Flags().IntVar(&dayMaxPoints, "max-points", 0, "thin output to at most N rows (0 = all)")
}
