package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/normalize"
	"github.com/derickschaefer/meterstat/internal/pipeline"
	"github.com/derickschaefer/meterstat/internal/rawcsv"
	"github.com/derickschaefer/meterstat/internal/render"
)

// resolveFormat returns the effective format string, falling back to "table".
func resolveFormat(cfgFormat string) string {
	if globalFlags.Format != "" {
		return globalFlags.Format
	}
	if cfgFormat != "" {
		return cfgFormat
	}
	return render.FormatTable
}

// pipeFormat is resolveFormat for commands that sit inside a pipeline:
// without an explicit --format they write JSONL unless stdout is a terminal.
func pipeFormat() string {
	if globalFlags.Format != "" {
		return globalFlags.Format
	}
	if pipeline.IsTTY() || globalFlags.Out != "" {
		return render.FormatTable
	}
	return render.FormatJSONL
}

// outputWriter returns the --out file when set, otherwise def. The returned
// closer must always be called.
func outputWriter(def io.Writer) (io.Writer, func() error, error) {
	if globalFlags.Out == "" {
		return def, func() error { return nil }, nil
	}
	f, err := os.Create(globalFlags.Out)
	if err != nil {
		return nil, nil, fmt.Errorf("creating output file: %w", err)
	}
	return f, f.Close, nil
}

// emit renders result in format to --out or the command's stdout, then
// prints warnings (and timing with --verbose) to stderr.
func emit(cmd *cobra.Command, result *model.Result, format string) error {
	w, closeFn, err := outputWriter(cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := render.Render(w, result, format); err != nil {
		closeFn()
		return err
	}
	if err := closeFn(); err != nil {
		return err
	}
	if !globalFlags.Quiet {
		render.PrintFooter(cmd.ErrOrStderr(), result, globalFlags.Verbose)
	}
	return nil
}

// newResult wraps data in a Result envelope.
func newResult(kind, command string, data interface{}, items int, started time.Time) *model.Result {
	return &model.Result{
		Kind:        kind,
		GeneratedAt: time.Now(),
		Command:     command,
		Data:        data,
		Stats: model.ResultStats{
			Items:      items,
			DurationMs: time.Since(started).Milliseconds(),
		},
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// readInput reads the named file, or stdin for "-".
func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		in := cmd.InOrStdin()
		if in == os.Stdin && !pipeline.StdinPiped() {
			return nil, fmt.Errorf("no input on stdin (pipe data in or pass a file)")
		}
		return io.ReadAll(in)
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	return data, nil
}

// loadTable reads a measurement table from a raw CSV export or from JSONL
// written by `meterstat normalize`.
func loadTable(cmd *cobra.Command, name string, mode normalize.Mode) (model.Table, []string, error) {
	data, err := readInput(cmd, name)
	if err != nil {
		return model.Table{}, nil, err
	}
	if pipeline.LooksLikeJSONL(data) {
		tbl, err := pipeline.ReadTable(bytes.NewReader(data))
		return tbl, nil, err
	}

	raw, err := rawcsv.Parse(data)
	if err != nil {
		return model.Table{}, nil, fmt.Errorf("%s: %w", name, err)
	}
	tbl, rep := normalize.Normalize(raw, normalize.Options{Mode: mode})
	var warnings []string
	if rep.Dropped > 0 {
		warnings = append(warnings, fmt.Sprintf("%d rows dropped: unparseable timestamps", rep.Dropped))
	}
	if rep.Duplicates > 0 {
		warnings = append(warnings, fmt.Sprintf("%d duplicate timestamps: later rows kept", rep.Duplicates))
	}
	if tbl.Empty() {
		warnings = append(warnings, "no rows with parseable timestamps")
	}
	return tbl, warnings, nil
}

// parseMode maps --time-column to a normalize.Mode.
func parseMode(s string) (normalize.Mode, error) {
	switch s {
	case "", "first":
		return normalize.FirstColumn, nil
	case "named":
		return normalize.NamedColumn, nil
	}
	return 0, fmt.Errorf("--time-column must be first or named, got %q", s)
}

// printSimpleTable renders a simple table with headers using tablewriter.
// The add callback is called with row values as variadic strings.
func printSimpleTable(w io.Writer, headers []string, fill func(add func(...string))) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(headers)
	tw.SetBorder(true)
	tw.SetRowLine(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAutoWrapText(false)

	fill(func(cols ...string) {
		tw.Append(cols)
	})
	tw.Render()
}

// printKVTable renders a two-column key/value list with aligned values.
func printKVTable(w io.Writer, rows [][]string) {
	maxKey := 0
	for _, r := range rows {
		if len(r[0]) > maxKey {
			maxKey = len(r[0])
		}
	}
	for _, r := range rows {
		fmt.Fprintf(w, "  %s%s  %s\n", r[0], strings.Repeat(" ", maxKey-len(r[0])), r[1])
	}
}

func humanBytes(b int64) string {
	switch {
	case b >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
