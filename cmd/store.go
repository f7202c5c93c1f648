package cmd

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/config"
	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/objstore"
	"github.com/derickschaefer/meterstat/internal/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect and manage the object store and the local database",
	Long: `Commands for loading measurement exports into the configured object
store, browsing its keys, and maintaining the local bbolt database.

With --backend bolt the local database is the object store. Run history is
always kept locally.`,
}

// ─── store import ─────────────────────────────────────────────────────────────

var storeImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Upload a directory tree laid out as <project>/All/<day>/*.csv",
	Long: `Import walks dir and writes every regular file to the object store under
its path relative to dir. The bolt backend keeps each file's modification
time, so day fingerprints match the files on disk.`,
	Example: `  meterstat store import ./export --backend bolt
  meterstat store import /mnt/meters`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		ctx, stop := signalContext()
		defer stop()

		dst := deps.Store
		if deps.Config.Backend == config.BackendBolt {
			dst = objstore.NewBolt(deps.DB)
		}
		st, err := objstore.ImportDir(ctx, dst, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d files (%s) into %s\n",
			st.Files, humanBytes(st.Bytes), deps.Config.Backend)
		return nil
	},
}

// ─── store ls ─────────────────────────────────────────────────────────────────

var storeLsCmd = &cobra.Command{
	Use:   "ls [prefix]",
	Short: "List object keys under a prefix",
	Example: `  meterstat store ls
  meterstat store ls "Plant North(12)/All/2025.01.07/"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		prefix := ""
		if len(args) == 1 {
			prefix = args[0]
		}
		objs, err := deps.Store.List(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		result := newResult(model.KindObjects, "store ls", objs, len(objs), start)
		return emit(cmd, result, resolveFormat(deps.Config.Format))
	},
}

// ─── store get ────────────────────────────────────────────────────────────────

var storeGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Write one object's bytes to stdout (or --out)",
	Example: `  meterstat store get "Plant North(12)/Stat/weekday.csv"
  meterstat store get "Plant North(12)/config/process_settings.json" --out settings.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		data, err := deps.Store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		w, closeFn, err := outputWriter(cmd.OutOrStdout())
		if err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			closeFn()
			return err
		}
		return closeFn()
	},
}

// ─── store rm ─────────────────────────────────────────────────────────────────

var storeRmCmd = &cobra.Command{
	Use:   "rm <key>...",
	Short: "Delete objects from the bolt backend",
	Long: `Rm removes keys from the local bolt object store, for example a
corrupt export or a stale Stat/state.json to force a recompute.
Objects in S3 are never deleted.`,
	Example: `  meterstat store rm "Plant North(12)/Stat/state.json" --backend bolt`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		if deps.Config.Backend != config.BackendBolt {
			return fmt.Errorf("store rm only works with the bolt backend (current: %s)", deps.Config.Backend)
		}
		for _, key := range args {
			if err := deps.DB.DeleteObject(key); err != nil {
				return fmt.Errorf("deleting %s: %w", key, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Deleted %s\n", key)
		}
		return nil
	},
}

// ─── store stats ──────────────────────────────────────────────────────────────

var storeStatsCmd = &cobra.Command{
	Use:     "stats",
	Short:   "Show row counts and sizes for each local bucket",
	Example: `  meterstat store stats`,
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		stats, err := deps.DB.Stats()
		if err != nil {
			return fmt.Errorf("reading store stats: %w", err)
		}
		sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

		fmt.Fprintf(cmd.OutOrStdout(), "Database: %s\n\n", deps.DB.Path())
		printSimpleTable(cmd.OutOrStdout(), []string{"BUCKET", "ROWS", "SIZE"}, func(add func(...string)) {
			for _, s := range stats {
				add(s.Name, fmt.Sprintf("%d", s.Count), humanBytes(s.Bytes))
			}
		})
		return nil
	},
}

// ─── store clear ──────────────────────────────────────────────────────────────

var (
	storeClearAll    bool
	storeClearBucket string
)

var storeClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete entries from the local database",
	Long: `Delete entries from one or all local buckets.

Clearing "objects" empties the bolt backend; S3 is never touched.
bbolt reuses freed pages but does not shrink the file.`,
	Example: `  meterstat store clear --bucket runs
  meterstat store clear --all`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !storeClearAll && storeClearBucket == "" {
			return fmt.Errorf("specify --all or --bucket <name>\n\nBuckets: %s", strings.Join(store.AllBuckets, ", "))
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}
		defer deps.Close()

		if storeClearAll {
			if err := deps.DB.ClearAll(); err != nil {
				return fmt.Errorf("clearing all buckets: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Cleared all buckets")
			return nil
		}
		if err := deps.DB.ClearBucket(storeClearBucket); err != nil {
			return fmt.Errorf("clearing bucket %q: %w", storeClearBucket, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleared bucket %q\n", storeClearBucket)
		return nil
	},
}

// ─── Registration ─────────────────────────────────────────────────────────────

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.AddCommand(storeImportCmd)
	storeCmd.AddCommand(storeLsCmd)
	storeCmd.AddCommand(storeGetCmd)
	storeCmd.AddCommand(storeRmCmd)
	storeCmd.AddCommand(storeStatsCmd)
	storeCmd.AddCommand(storeClearCmd)

	storeClearCmd.Flags().BoolVar(&storeClearAll, "all", false, "clear every bucket")
	storeClearCmd.Flags().StringVar(&storeClearBucket, "bucket", "", "clear one bucket: "+strings.Join(store.AllBuckets, ", "))
}
