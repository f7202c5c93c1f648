// Package transform implements the stateless table operators: fixed-width
// time bucketing with mean/p95/max/min reductions, and point thinning for
// chart payloads. Each operator returns a new Table; no side effects, no I/O.
package transform

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/montanaflynn/stats"

	"github.com/derickschaefer/meterstat/internal/analyze"
	"github.com/derickschaefer/meterstat/internal/model"
)

// ─── Rules ────────────────────────────────────────────────────────────────────

// AllowedUnits lists the accepted rule units, for error messages.
const AllowedUnits = "s, sec, second(s), min, minute(s), T, h, hour(s)"

// Rule is a fixed-width time bucket such as "1min" or "20s".
type Rule struct {
	Width time.Duration
	Spec  string
}

func (r Rule) String() string { return r.Spec }

var ruleRE = regexp.MustCompile(`^(\d*)\s*([a-z]+)$`)

// ParseRule parses "<N><unit>" with a unit from AllowedUnits
// (case-insensitive), e.g. "20s", "15T" or "1 minute". N defaults to 1.
func ParseRule(spec string) (Rule, error) {
	s := strings.ToLower(strings.TrimSpace(spec))
	m := ruleRE.FindStringSubmatch(s)
	if m == nil {
		return Rule{}, badRule(spec)
	}
	n := 1
	if m[1] != "" {
		v, err := strconv.Atoi(m[1])
		if err != nil || v <= 0 {
			return Rule{}, badRule(spec)
		}
		n = v
	}
	var unit time.Duration
	switch m[2] {
	case "s", "sec", "second", "seconds":
		unit = time.Second
	case "min", "t", "minute", "minutes":
		unit = time.Minute
	case "h", "hour", "hours":
		unit = time.Hour
	default:
		return Rule{}, badRule(spec)
	}
	return Rule{Width: time.Duration(n) * unit, Spec: strings.TrimSpace(spec)}, nil
}

// MustRule is ParseRule for compile-time constant rules.
func MustRule(spec string) Rule {
	r, err := ParseRule(spec)
	if err != nil {
		panic(err)
	}
	return r
}

func badRule(spec string) error {
	return fmt.Errorf("aggregation rule %q: want <N><unit> with unit one of %s: %w",
		spec, AllowedUnits, model.ErrInvalidArgument)
}

// ─── Aggregate ────────────────────────────────────────────────────────────────

// Reducer collapses the non-NaN values of one bucket. It is never called
// with an empty slice.
type Reducer func(vals []float64) float64

var reducers = map[string]Reducer{
	model.StatMean: func(v []float64) float64 { m, _ := stats.Mean(v); return m },
	model.StatMax:  func(v []float64) float64 { m, _ := stats.Max(v); return m },
	model.StatMin:  func(v []float64) float64 { m, _ := stats.Min(v); return m },
	model.StatP95:  func(v []float64) float64 { return analyze.Quantile(v, 0.95) },
}

// Stats lists the statistic names accepted by Reduce.
var Stats = []string{model.StatMean, model.StatP95, model.StatMax, model.StatMin}

// Aggregate buckets tbl by rule and returns the mean, p95, max and min of
// every column per bucket. Buckets are anchored at midnight of the first
// sample's day and run from the first to the last occupied bucket; buckets
// without samples are NaN rows.
func Aggregate(tbl model.Table, rule Rule) (model.AggregateTable, error) {
	out := model.AggregateTable{Rule: rule.Spec}
	for _, dst := range []struct {
		stat string
		tbl  *model.Table
	}{
		{model.StatMean, &out.Mean},
		{model.StatP95, &out.P95},
		{model.StatMax, &out.Max},
		{model.StatMin, &out.Min},
	} {
		reduced, err := Reduce(tbl, rule, dst.stat)
		if err != nil {
			return model.AggregateTable{}, err
		}
		*dst.tbl = reduced
	}
	return out, nil
}

// Reduce is Aggregate for a single statistic.
func Reduce(tbl model.Table, rule Rule, stat string) (model.Table, error) {
	if rule.Width <= 0 {
		return model.Table{}, badRule(rule.Spec)
	}
	fn, ok := reducers[stat]
	if !ok {
		return model.Table{}, fmt.Errorf("unknown statistic %q (use %s): %w",
			stat, strings.Join(Stats, ", "), model.ErrInvalidArgument)
	}
	if tbl.Empty() {
		return model.NewTable(tbl.Columns), nil
	}

	first := tbl.Index[0]
	anchor := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, first.Location())
	slot := func(t time.Time) int { return int(t.Sub(anchor) / rule.Width) }

	lo := slot(first)
	hi := slot(tbl.Index[len(tbl.Index)-1])
	n := hi - lo + 1

	out := model.NewTable(tbl.Columns)
	out.Index = make([]time.Time, n)
	for i := range out.Index {
		out.Index[i] = anchor.Add(time.Duration(lo+i) * rule.Width)
	}

	// Rows are sorted, so each bucket is a contiguous run of the index.
	starts := make([]int, n+1)
	row := 0
	for b := 0; b < n; b++ {
		starts[b] = row
		for row < len(tbl.Index) && slot(tbl.Index[row])-lo == b {
			row++
		}
	}
	starts[n] = row

	buf := make([]float64, 0, 64)
	for c := range tbl.Columns {
		col := tbl.Values[c]
		vals := make([]float64, n)
		for b := 0; b < n; b++ {
			buf = buf[:0]
			for _, v := range col[starts[b]:starts[b+1]] {
				if !math.IsNaN(v) {
					buf = append(buf, v)
				}
			}
			if len(buf) == 0 {
				vals[b] = math.NaN()
				continue
			}
			vals[b] = fn(buf)
		}
		out.Values[c] = vals
	}
	return out, nil
}

// ─── Stride ───────────────────────────────────────────────────────────────────

// Stride keeps every k-th row so that at most maxPoints rows remain.
// maxPoints <= 0 returns tbl unchanged.
func Stride(tbl model.Table, maxPoints int) model.Table {
	n := tbl.Len()
	if maxPoints <= 0 || n <= maxPoints {
		return tbl
	}
	step := int(math.Ceil(float64(n) / float64(maxPoints)))
	out := model.NewTable(tbl.Columns)
	for i := 0; i < n; i += step {
		out.Index = append(out.Index, tbl.Index[i])
	}
	for c := range tbl.Columns {
		vals := make([]float64, 0, len(out.Index))
		for i := 0; i < n; i += step {
			vals = append(vals, tbl.Values[c][i])
		}
		out.Values[c] = vals
	}
	return out
}

// ─── Filter ───────────────────────────────────────────────────────────────────

// Select returns a table with only the named columns, in the given order.
// Unknown names are reported as an error.
func Select(tbl model.Table, columns []string) (model.Table, error) {
	out := model.NewTable(columns)
	out.Index = tbl.Index
	for i, name := range columns {
		vals, ok := tbl.Column(name)
		if !ok {
			return model.Table{}, fmt.Errorf("column %q not found", name)
		}
		out.Values[i] = vals
	}
	return out, nil
}

// Between returns the rows with start <= t < end. A zero bound is open.
func Between(tbl model.Table, start, end time.Time) model.Table {
	out := model.NewTable(tbl.Columns)
	var keep []int
	for i, t := range tbl.Index {
		if !start.IsZero() && t.Before(start) {
			continue
		}
		if !end.IsZero() && !t.Before(end) {
			continue
		}
		keep = append(keep, i)
	}
	out.Index = make([]time.Time, len(keep))
	for j, i := range keep {
		out.Index[j] = tbl.Index[i]
	}
	for c := range tbl.Columns {
		vals := make([]float64, len(keep))
		for j, i := range keep {
			vals[j] = tbl.Values[c][i]
		}
		out.Values[c] = vals
	}
	return out
}
