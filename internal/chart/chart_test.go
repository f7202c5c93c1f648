package chart_test

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/derickschaefer/meterstat/internal/chart"
	"github.com/derickschaefer/meterstat/internal/model"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

func hourly(values ...float64) chart.Series {
	vals := make([]float64, 24)
	for i := range vals {
		vals[i] = math.NaN()
	}
	copy(vals, values)
	return chart.FromProfile("P_total", model.DayProfile{Day: "2025.01.07", BucketMinutes: 60, Values: vals})
}

func lines(s string) []string {
	return strings.Split(strings.TrimRight(s, "\n"), "\n")
}

// ─── Series constructors ──────────────────────────────────────────────────────

func TestFromProfileLabels(t *testing.T) {
	s := hourly(1, 2)
	if s.Len() != 24 {
		t.Fatalf("expected 24 points, got %d", s.Len())
	}
	if s.Labels[0] != "00:00" || s.Labels[23] != "23:00" {
		t.Errorf("labels: %s .. %s", s.Labels[0], s.Labels[23])
	}
}

func TestFromQuantiles(t *testing.T) {
	q := model.QuantileTable{
		BucketMinutes: 720,
		Percentiles:   []model.Percentile{{Level: 0.25, Label: "P25"}, {Level: 0.75, Label: "P75"}},
		Rows:          [][]float64{{1, 2}, {3, 4}},
	}
	s, err := chart.FromQuantiles("weekday", q, "P75")
	if err != nil {
		t.Fatalf("FromQuantiles: %v", err)
	}
	if s.Name != "weekday P75" || s.Values[1] != 4 || s.Labels[1] != "12:00" {
		t.Errorf("got %+v", s)
	}
	if _, err := chart.FromQuantiles("weekday", q, "P50"); !errors.Is(err, model.ErrInvalidArgument) {
		t.Errorf("expected invalid argument for unknown label, got %v", err)
	}
}

func TestFromColumnLabels(t *testing.T) {
	t0 := time.Date(2025, 1, 7, 10, 0, 0, 0, time.UTC)
	tbl := model.NewTable([]string{"P_total"})
	tbl.Index = []time.Time{t0, t0.Add(30 * time.Second)}
	tbl.Values = [][]float64{{1, 2}}

	s, err := chart.FromColumn(tbl, "P_total")
	if err != nil {
		t.Fatalf("FromColumn: %v", err)
	}
	if s.Labels[1] != "10:00:30" {
		t.Errorf("same-day label: %s", s.Labels[1])
	}

	tbl.Index[1] = t0.Add(24 * time.Hour)
	s, _ = chart.FromColumn(tbl, "P_total")
	if s.Labels[1] != "01-08 10:00" {
		t.Errorf("multi-day label: %s", s.Labels[1])
	}

	if _, err := chart.FromColumn(tbl, "U"); err == nil {
		t.Error("expected error for missing column")
	}
}

// ─── Bars ─────────────────────────────────────────────────────────────────────

func TestBarsBasic(t *testing.T) {
	var buf strings.Builder
	if err := chart.Bars(&buf, hourly(10, math.NaN(), 40), chart.BarOptions{Width: 60}); err != nil {
		t.Fatalf("Bars: %v", err)
	}
	out := lines(buf.String())
	if len(out) != 25 {
		t.Fatalf("expected header + 24 rows, got %d", len(out))
	}
	if !strings.HasPrefix(out[0], "P_total  00:00 – 23:00") {
		t.Errorf("header: %q", out[0])
	}
	short := strings.Count(out[1], "█")
	long := strings.Count(out[3], "█")
	if short == 0 || long <= short {
		t.Errorf("bar lengths should grow with value: %d vs %d", short, long)
	}
	if strings.Contains(out[2], "█") || !strings.Contains(out[2], ".") {
		t.Errorf("missing value row should have no bar: %q", out[2])
	}
}

func TestBarsNegativeValuesShowZeroLine(t *testing.T) {
	var buf strings.Builder
	if err := chart.Bars(&buf, hourly(-5, 5), chart.BarOptions{Width: 50}); err != nil {
		t.Fatalf("Bars: %v", err)
	}
	out := lines(buf.String())
	neg, pos := out[1], out[2]
	if strings.Index(neg, "█") >= strings.Index(pos, "█") {
		t.Errorf("negative bar should start left of positive bar:\n%s\n%s", neg, pos)
	}
	if !strings.Contains(buf.String(), "│") {
		t.Error("expected zero line")
	}
}

func TestBarsAllMissing(t *testing.T) {
	var buf strings.Builder
	err := chart.Bars(&buf, hourly(), chart.BarOptions{})
	if !errors.Is(err, chart.ErrTooFewPoints) {
		t.Errorf("expected ErrTooFewPoints, got %v", err)
	}
}

// ─── Line ─────────────────────────────────────────────────────────────────────

func TestLineShape(t *testing.T) {
	vals := make([]float64, 24)
	for i := range vals {
		vals[i] = float64(i)
	}
	var buf strings.Builder
	err := chart.Line(&buf, hourly(vals...), chart.LineOptions{Width: 40, Height: 6, Title: "ramp"})
	if err != nil {
		t.Fatalf("Line: %v", err)
	}
	out := lines(buf.String())
	if len(out) != 1+6+2 {
		t.Fatalf("expected title + 6 rows + 2 axis lines, got %d:\n%s", len(out), buf.String())
	}
	if out[0] != "ramp  (00:00 to 23:00)" {
		t.Errorf("title: %q", out[0])
	}
	if !strings.Contains(out[1], "23.0") || !strings.Contains(out[6], "0") {
		t.Errorf("axis ticks missing:\n%s", buf.String())
	}
	if !strings.Contains(out[7], "└") {
		t.Errorf("bottom axis: %q", out[7])
	}
	if !strings.HasSuffix(strings.TrimRight(out[8], " "), "23:00") {
		t.Errorf("time axis: %q", out[8])
	}
}

func TestLineGapsStayBlank(t *testing.T) {
	vals := []float64{1, 2, 3, math.NaN(), math.NaN(), math.NaN(), 3, 2}
	s := chart.Series{Name: "x", Labels: []string{"a", "b", "c", "d", "e", "f", "g", "h"}, Values: vals}
	var buf strings.Builder
	if err := chart.Line(&buf, s, chart.LineOptions{Width: 20, Height: 4}); err != nil {
		t.Fatalf("Line: %v", err)
	}
	out := lines(buf.String())
	// Plot columns 6..11 cover the NaN run; they start after the axis rune,
	// whose position depends on the tick label width.
	origin := axisColumn(out[1:5]) + 1
	if origin == 0 {
		t.Fatalf("no tick on the value axis:\n%s", buf.String())
	}
	for _, row := range out[1:5] {
		body := []rune(row)
		if len(body) != 20 {
			t.Fatalf("row width: %q", row)
		}
		for c := origin + 6; c <= origin+11; c++ {
			if body[c] != ' ' {
				t.Errorf("gap column drawn: %q", row)
			}
		}
	}
}

// axisColumn is the rune index of the first tick mark; every row pads its
// label to the same width.
func axisColumn(rows []string) int {
	for _, row := range rows {
		for i, r := range []rune(row) {
			if r == '┤' {
				return i
			}
		}
	}
	return -1
}

func TestLineNeedsTwoValues(t *testing.T) {
	var buf strings.Builder
	err := chart.Line(&buf, hourly(5), chart.LineOptions{})
	if !errors.Is(err, chart.ErrTooFewPoints) {
		t.Errorf("expected ErrTooFewPoints, got %v", err)
	}
}
