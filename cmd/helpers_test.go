package cmd

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/normalize"
	"github.com/derickschaefer/meterstat/internal/pipeline"
	"github.com/derickschaefer/meterstat/internal/render"
)

func TestOutputWriterDefault(t *testing.T) {
	globalFlags.Out = ""
	w, closeFn, err := outputWriter(os.Stdout)
	if err != nil {
		t.Fatalf("outputWriter default: %v", err)
	}
	if w != os.Stdout {
		t.Fatalf("expected stdout writer passthrough")
	}
	if err := closeFn(); err != nil {
		t.Fatalf("default closer should be nil error, got: %v", err)
	}
}

func TestOutputWriterFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out.txt")
	globalFlags.Out = p
	t.Cleanup(func() { globalFlags.Out = "" })

	w, closeFn, err := outputWriter(os.Stdout)
	if err != nil {
		t.Fatalf("outputWriter file: %v", err)
	}
	if w == os.Stdout {
		t.Fatalf("expected file writer, got stdout")
	}
	if err := closeFn(); err != nil {
		t.Fatalf("closing output writer: %v", err)
	}
	if _, err := os.Stat(p); err != nil {
		t.Fatalf("expected output file to exist: %v", err)
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]normalize.Mode{
		"":      normalize.FirstColumn,
		"first": normalize.FirstColumn,
		"named": normalize.NamedColumn,
	} {
		got, err := parseMode(in)
		if err != nil || got != want {
			t.Fatalf("parseMode(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parseMode("last"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestPipeFormatExplicit(t *testing.T) {
	globalFlags.Format = render.FormatCSV
	t.Cleanup(func() { globalFlags.Format = "" })

	if got := pipeFormat(); got != render.FormatCSV {
		t.Fatalf("pipeFormat with --format csv = %q", got)
	}
	if got := resolveFormat("json"); got != render.FormatCSV {
		t.Fatalf("flag should win over config, got %q", got)
	}
}

func TestResolveFormatFallback(t *testing.T) {
	globalFlags.Format = ""
	if got := resolveFormat(""); got != render.FormatTable {
		t.Fatalf("resolveFormat fallback = %q", got)
	}
	if got := resolveFormat("md"); got != "md" {
		t.Fatalf("config format ignored, got %q", got)
	}
}

func stdinCommand(input string) *cobra.Command {
	c := &cobra.Command{}
	c.SetIn(strings.NewReader(input))
	return c
}

func TestLoadTableFromCSV(t *testing.T) {
	csv := "Time;P_total\n" +
		"2025-01-07 10:00:30;3\n" +
		"not a time;9\n" +
		"2025-01-07 10:00:00;1,5\n"
	tbl, warnings, err := loadTable(stdinCommand(csv), "-", normalize.FirstColumn)
	if err != nil {
		t.Fatalf("loadTable: %v", err)
	}
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", tbl.Len())
	}
	if !tbl.Index[0].Before(tbl.Index[1]) {
		t.Fatalf("rows not sorted by time: %v", tbl.Index)
	}
	if got := tbl.Values[0][0]; got != 1.5 {
		t.Fatalf("first value = %v, want 1.5", got)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "1 rows dropped") {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
}

func TestLoadTableFromJSONL(t *testing.T) {
	src := model.NewTable([]string{"P_total", "U"})
	src.Index = []time.Time{
		time.Date(2025, 1, 7, 10, 0, 0, 0, time.UTC),
		time.Date(2025, 1, 7, 10, 1, 0, 0, time.UTC),
	}
	src.Values[0] = []float64{1, math.NaN()}
	src.Values[1] = []float64{230, 231}

	var buf bytes.Buffer
	if err := pipeline.WriteTable(&buf, src); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
	tbl, warnings, err := loadTable(stdinCommand(buf.String()), "-", normalize.FirstColumn)
	if err != nil {
		t.Fatalf("loadTable: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("JSONL input should not warn, got %v", warnings)
	}
	if tbl.Len() != 2 || len(tbl.Columns) != 2 {
		t.Fatalf("unexpected shape: %d rows, columns %v", tbl.Len(), tbl.Columns)
	}
	if !math.IsNaN(tbl.Values[0][1]) {
		t.Fatalf("null should read back as NaN, got %v", tbl.Values[0][1])
	}
}

func TestLoadTableMissingFile(t *testing.T) {
	_, _, err := loadTable(&cobra.Command{}, filepath.Join(t.TempDir(), "nope.csv"), normalize.FirstColumn)
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestFailures(t *testing.T) {
	rec := model.RunRecord{Outcomes: []model.ProjectOutcome{
		{Project: "Plant(1)", Status: model.StatusOK},
		{Project: "Plant(2)", Status: model.StatusError, Error: "listing days: timeout"},
		{Project: "Plant(3)", Status: model.StatusSkippedNoChanges},
	}}
	err := failures(rec)
	if err == nil {
		t.Fatalf("expected error for failed project")
	}
	if !strings.Contains(err.Error(), "1 of 3 projects failed") || !strings.Contains(err.Error(), "Plant(2)") {
		t.Fatalf("unexpected error text: %v", err)
	}
	if err := failures(model.RunRecord{}); err != nil {
		t.Fatalf("empty run should not fail: %v", err)
	}
}

func TestHumanBytes(t *testing.T) {
	cases := map[int64]string{512: "512 B", 2048: "2.0 KB", 3 << 20: "3.0 MB"}
	for in, want := range cases {
		if got := humanBytes(in); got != want {
			t.Fatalf("humanBytes(%d) = %q, want %q", in, got, want)
		}
	}
}
