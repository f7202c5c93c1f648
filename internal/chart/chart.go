// Package chart draws terminal charts of time-of-day series: a day profile,
// one percentile of a published table, or one column of a measurement table.
//
//   - Line: a multi-row curve with a labelled value axis and time axis
//   - Bars: one horizontal bar per point, for coarse profiles such as hourly
//
// Missing values (NaN) are gaps, never zeros.
package chart

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/derickschaefer/meterstat/internal/model"
)

// ErrTooFewPoints is returned when a series has nothing drawable.
var ErrTooFewPoints = errors.New("not enough values to chart")

// Series is a labelled sequence of values. Labels and Values have equal length.
type Series struct {
	Name   string
	Labels []string
	Values []float64
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.Values) }

// finite returns the non-NaN values.
func (s Series) finite() []float64 {
	out := make([]float64, 0, len(s.Values))
	for _, v := range s.Values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

// FromProfile labels each bucket of p with its HH:MM start.
func FromProfile(name string, p model.DayProfile) Series {
	s := Series{Name: name, Values: p.Values, Labels: make([]string, len(p.Values))}
	for i := range p.Values {
		s.Labels[i] = model.BucketLabel(i, p.BucketMinutes)
	}
	return s
}

// FromQuantiles extracts one percentile column of q by label.
func FromQuantiles(name string, q model.QuantileTable, label string) (Series, error) {
	col := -1
	for j, p := range q.Percentiles {
		if p.Label == label {
			col = j
			break
		}
	}
	if col < 0 {
		return Series{}, fmt.Errorf("percentile %q not in table (have %s): %w",
			label, strings.Join(model.PercentileLabels(q.Percentiles), ", "), model.ErrInvalidArgument)
	}
	s := Series{Name: name + " " + label, Labels: make([]string, len(q.Rows)), Values: make([]float64, len(q.Rows))}
	for i, row := range q.Rows {
		s.Labels[i] = q.TimeLabel(i)
		s.Values[i] = row[col]
	}
	return s, nil
}

// FromColumn extracts one column of t. Labels are clock times when every
// row falls on one calendar day, date and time otherwise.
func FromColumn(t model.Table, column string) (Series, error) {
	vals, ok := t.Column(column)
	if !ok {
		return Series{}, fmt.Errorf("column %q not found: %w", column, model.ErrInvalidArgument)
	}
	layout := "15:04:05"
	if t.Len() > 0 && !sameDay(t.Index[0], t.Index[t.Len()-1]) {
		layout = "01-02 15:04"
	}
	s := Series{Name: column, Values: vals, Labels: make([]string, t.Len())}
	for i, ts := range t.Index {
		s.Labels[i] = ts.Format(layout)
	}
	return s, nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ─── Bars ─────────────────────────────────────────────────────────────────────

// BarOptions controls bar rendering.
type BarOptions struct {
	// Width is the total line width; 0 reads $COLUMNS, falling back to 80.
	Width int
}

// Bars writes one bar per point. NaN points print "." and no bar. Bars
// grow from zero, leftwards for negative values.
//
//	P_total  00:00 – 23:00
//	00:00   12.5  ██████
//	01:00      .
//	02:00   40.0  ████████████████████
func Bars(w io.Writer, s Series, opts BarOptions) error {
	vals := s.finite()
	if len(vals) == 0 {
		return fmt.Errorf("chart %s: %w", s.Name, ErrTooFewPoints)
	}
	width := opts.Width
	if width <= 0 {
		width = termWidth()
	}

	lo, hi := span(vals)
	lo, hi = math.Min(lo, 0), math.Max(hi, 0)
	scale := hi - lo
	if scale == 0 {
		scale = 1
	}

	labelW, valueW := 0, 0
	for i, v := range s.Values {
		labelW = max(labelW, len(s.Labels[i]))
		valueW = max(valueW, len(formatFloat(v)))
	}
	area := max(width-labelW-valueW-4, 4)
	zero := int(math.Round(-lo / scale * float64(area)))

	fmt.Fprintf(w, "%s  %s – %s\n", s.Name, s.Labels[0], s.Labels[len(s.Labels)-1])
	for i, v := range s.Values {
		fmt.Fprintf(w, "%-*s  %*s  %s\n", labelW, s.Labels[i], valueW, formatFloat(v),
			strings.TrimRight(bar(v, lo, scale, area, zero), " "))
	}
	return nil
}

// bar renders v into a field of area cells with the zero line at cell zero.
func bar(v, lo, scale float64, area, zero int) string {
	if math.IsNaN(v) {
		return ""
	}
	cells := []rune(strings.Repeat(" ", area))
	end := int(math.Round((v - lo) / scale * float64(area)))
	from, to := zero, end
	if to < from {
		from, to = to, from
	}
	if from == to && v != 0 {
		to = from + 1
	}
	for i := max(from, 0); i < to && i < area; i++ {
		cells[i] = '█'
	}
	if lo < 0 && zero < area && cells[zero] == ' ' {
		cells[zero] = '│'
	}
	return string(cells)
}

// ─── Line ─────────────────────────────────────────────────────────────────────

// LineOptions controls curve rendering.
type LineOptions struct {
	// Width includes the value axis; 0 reads $COLUMNS, falling back to 80.
	Width int
	// Height is the number of plot rows; 0 means 12.
	Height int
	// Title defaults to the series name.
	Title string
}

// Line draws s as a curve. Points are averaged into as many columns as fit.
func Line(w io.Writer, s Series, opts LineOptions) error {
	vals := s.finite()
	if len(vals) < 2 {
		return fmt.Errorf("chart %s: need 2 values, have %d: %w", s.Name, len(vals), ErrTooFewPoints)
	}
	width := opts.Width
	if width <= 0 {
		width = termWidth()
	}
	height := opts.Height
	if height <= 0 {
		height = 12
	}
	title := opts.Title
	if title == "" {
		title = s.Name
	}

	lo, hi := span(vals)
	ticks := yTicks(lo, hi, height)
	tickW := 0
	for _, t := range ticks {
		tickW = max(tickW, len(formatFloat(t)))
	}
	plotW := max(width-tickW-1, 10)

	rows := place(columns(s.Values, plotW), lo, hi, height)
	canvas := draw(rows, height)

	fmt.Fprintf(w, "%s  (%s to %s)\n", title, s.Labels[0], s.Labels[len(s.Labels)-1])
	for r := 0; r < height; r++ {
		label, axis := "", " "
		for _, t := range ticks {
			if math.Abs(rowOf(t, lo, hi, height)-float64(r)) < 0.5 {
				label, axis = formatFloat(t), "┤"
				break
			}
		}
		fmt.Fprintf(w, "%*s%s%s\n", tickW, label, axis, string(canvas[r]))
	}
	fmt.Fprintf(w, "%s└%s\n", strings.Repeat(" ", tickW), strings.Repeat("─", plotW))
	fmt.Fprintf(w, "%s %s\n", strings.Repeat(" ", tickW), timeAxis(s.Labels, plotW))
	return nil
}

// columns averages values into n equal slices; all-NaN slices stay NaN.
// With fewer values than columns each value repeats across its slice.
func columns(values []float64, n int) []float64 {
	out := make([]float64, n)
	total := len(values)
	for c := range out {
		lo := c * total / n
		hi := max((c+1)*total/n, lo+1)
		sum, count := 0.0, 0
		for _, v := range values[lo:min(hi, total)] {
			if !math.IsNaN(v) {
				sum += v
				count++
			}
		}
		out[c] = math.NaN()
		if count > 0 {
			out[c] = sum / float64(count)
		}
	}
	return out
}

// place maps each column to a canvas row; -1 marks a gap.
func place(cols []float64, lo, hi float64, height int) []int {
	rows := make([]int, len(cols))
	for c, v := range cols {
		if math.IsNaN(v) {
			rows[c] = -1
			continue
		}
		rows[c] = min(max(int(math.Round(rowOf(v, lo, hi, height))), 0), height-1)
	}
	return rows
}

// draw connects consecutive columns with box-drawing characters.
func draw(rows []int, height int) [][]rune {
	canvas := make([][]rune, height)
	for r := range canvas {
		canvas[r] = []rune(strings.Repeat(" ", len(rows)))
	}
	for c, r := range rows {
		if r < 0 {
			continue
		}
		prev := -1
		if c > 0 {
			prev = rows[c-1]
		}
		next := -1
		if c+1 < len(rows) {
			next = rows[c+1]
		}

		switch {
		case prev < 0 && next < 0:
			canvas[r][c] = '·'
		case prev >= 0 && prev < r:
			// arriving from above
			canvas[r][c] = '╰'
			if next >= 0 && next < r {
				canvas[r][c] = '─'
			}
		case prev >= 0 && prev > r:
			// arriving from below
			canvas[r][c] = '╭'
			if next >= 0 && next > r {
				canvas[r][c] = '─'
			}
		case next >= 0 && next < r:
			canvas[r][c] = '╯'
		case next >= 0 && next > r:
			canvas[r][c] = '╮'
		default:
			canvas[r][c] = '─'
		}

		if prev >= 0 && prev != r {
			a, b := min(prev, r), max(prev, r)
			for fill := a + 1; fill < b; fill++ {
				if canvas[fill][c] == ' ' {
					canvas[fill][c] = '│'
				}
			}
		}
	}
	return canvas
}

// ─── Axes ─────────────────────────────────────────────────────────────────────

func span(vals []float64) (lo, hi float64) {
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	return lo, hi
}

// rowOf is the fractional canvas row of v; row 0 is the top (hi).
func rowOf(v, lo, hi float64, height int) float64 {
	if hi == lo {
		return float64(height) / 2
	}
	return (hi - v) / (hi - lo) * float64(height-1)
}

// yTicks spreads three or four labels from lo to hi.
func yTicks(lo, hi float64, height int) []float64 {
	if hi == lo {
		return []float64{lo}
	}
	n := 4
	if height <= 6 {
		n = 3
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = lo + float64(i)*(hi-lo)/float64(n-1)
	}
	return out
}

// timeAxis places the first, middle and last labels under the plot.
func timeAxis(labels []string, width int) string {
	line := []rune(strings.Repeat(" ", width))
	put := func(pos int, s string) {
		for i, ch := range s {
			if p := pos + i; p >= 0 && p < width {
				line[p] = ch
			}
		}
	}
	first, mid, last := labels[0], labels[len(labels)/2], labels[len(labels)-1]
	put(0, first)
	put(width/2-len(mid)/2, mid)
	put(width-len(last), last)
	return string(line)
}

// formatFloat keeps axis and bar labels short: K/M suffixes for large
// magnitudes, two or four decimals below 100, "." for missing.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "."
	}
	abs := math.Abs(v)
	switch {
	case abs == 0:
		return "0"
	case abs >= 1e6:
		return strconv.FormatFloat(v/1e6, 'f', 1, 64) + "M"
	case abs >= 1e3:
		return strconv.FormatFloat(v/1e3, 'f', 1, 64) + "K"
	}
	prec := 2
	switch {
	case abs >= 100:
		prec = 1
	case abs < 1:
		prec = 4
	}
	s := strings.TrimRight(strconv.FormatFloat(v, 'f', prec, 64), "0")
	if strings.HasSuffix(s, ".") {
		s += "0"
	}
	return s
}

func termWidth() int {
	if cols := os.Getenv("COLUMNS"); cols != "" {
		if n, err := strconv.Atoi(cols); err == nil && n > 20 {
			return n
		}
	}
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w
	}
	return 80
}
