// Package analyze computes statistical summaries over measurement columns
// and the per-bucket percentile bands across a group of day profiles.
// All functions are pure; no I/O.
package analyze

import (
	"fmt"
	"math"
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/derickschaefer/meterstat/internal/model"
)

// ─── Quantiles ────────────────────────────────────────────────────────────────

// Quantile returns the q-quantile (0 ≤ q ≤ 1) of values by linear
// interpolation between closest ranks: position q*(n-1) in sorted order.
// NaN values are ignored; with no remaining values the result is NaN.
func Quantile(values []float64, q float64) float64 {
	sorted := finiteSorted(values)
	return quantileSorted(sorted, q)
}

func finiteSorted(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

func quantileSorted(sorted []float64, q float64) float64 {
	n := len(sorted)
	if n == 0 || math.IsNaN(q) {
		return math.NaN()
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[n-1]
	}
	idx := q * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := idx - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Quantiles builds the percentile table for one group of day profiles.
//
// Each bucket position is an independent sample of one value per day; NaN
// contributions are ignored. An empty group, or a bucket where every day is
// NaN, yields NaN. The table always has 24*60/widthMinutes rows.
func Quantiles(profiles []model.DayProfile, widthMinutes int, percentiles []model.Percentile) (model.QuantileTable, error) {
	if widthMinutes <= 0 || (24*60)%widthMinutes != 0 {
		return model.QuantileTable{}, fmt.Errorf("quantiles: bucket width %d min does not divide a day: %w",
			widthMinutes, model.ErrInvalidArgument)
	}
	if len(percentiles) == 0 {
		percentiles = model.DefaultPercentiles
	}
	n := 24 * 60 / widthMinutes

	q := model.QuantileTable{
		BucketMinutes: widthMinutes,
		Percentiles:   append([]model.Percentile(nil), percentiles...),
		Rows:          make([][]float64, n),
		Days:          len(profiles),
	}
	column := make([]float64, len(profiles))
	for i := 0; i < n; i++ {
		for d, p := range profiles {
			if i < len(p.Values) {
				column[d] = p.Values[i]
			} else {
				column[d] = math.NaN()
			}
		}
		sorted := finiteSorted(column)
		row := make([]float64, len(percentiles))
		for j, pc := range percentiles {
			row[j] = quantileSorted(sorted, pc.Level)
		}
		q.Rows[i] = row
	}
	return q, nil
}

// ─── Summary ──────────────────────────────────────────────────────────────────

// Summary holds descriptive statistics for one column.
type Summary struct {
	Column     string  `json:"column"`
	Count      int     `json:"count"`       // total rows
	Missing    int     `json:"missing"`     // NaN count
	MissingPct float64 `json:"missing_pct"` // percent missing
	Mean       float64 `json:"mean"`
	Std        float64 `json:"std"`
	Min        float64 `json:"min"`
	P25        float64 `json:"p25"`
	Median     float64 `json:"median"`
	P75        float64 `json:"p75"`
	P95        float64 `json:"p95"`
	Max        float64 `json:"max"`
}

// Summarize computes descriptive statistics over values.
// NaN values are excluded from all numeric computations but counted.
func Summarize(column string, values []float64) Summary {
	s := Summary{Column: column, Count: len(values)}
	sorted := finiteSorted(values)
	s.Missing = len(values) - len(sorted)
	if s.Count > 0 {
		s.MissingPct = float64(s.Missing) / float64(s.Count) * 100
	}
	if len(sorted) == 0 {
		nan := math.NaN()
		s.Mean, s.Std, s.Min, s.P25, s.Median, s.P75, s.P95, s.Max = nan, nan, nan, nan, nan, nan, nan, nan
		return s
	}

	s.Mean, _ = stats.Mean(sorted)
	if len(sorted) > 1 {
		s.Std, _ = stats.StandardDeviationSample(sorted)
	}
	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	s.P25 = quantileSorted(sorted, 0.25)
	s.Median = quantileSorted(sorted, 0.5)
	s.P75 = quantileSorted(sorted, 0.75)
	s.P95 = quantileSorted(sorted, 0.95)
	return s
}

// SummarizeTable summarizes every column of t in column order.
func SummarizeTable(t model.Table) []Summary {
	out := make([]Summary, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = Summarize(c, t.Values[i])
	}
	return out
}
