package analyze_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derickschaefer/meterstat/internal/analyze"
	"github.com/derickschaefer/meterstat/internal/model"
)

// ─── Helpers ──────────────────────────────────────────────────────────────────

// flatProfile returns a day profile where every bucket holds v.
func flatProfile(day string, width int, v float64) model.DayProfile {
	n := 24 * 60 / width
	vals := make([]float64, n)
	for i := range vals {
		vals[i] = v
	}
	return model.DayProfile{Day: day, BucketMinutes: width, Values: vals}
}

func nanProfile(day string, width int) model.DayProfile {
	return flatProfile(day, width, math.NaN())
}

// ─── Quantile ─────────────────────────────────────────────────────────────────

func TestQuantileLinearInterpolation(t *testing.T) {
	vals := []float64{4, 1, 3, 2}
	assert.Equal(t, 1.0, analyze.Quantile(vals, 0))
	assert.Equal(t, 4.0, analyze.Quantile(vals, 1))
	assert.InDelta(t, 2.5, analyze.Quantile(vals, 0.5), 1e-12)
	// idx = 0.25*3 = 0.75 → 1 + 0.75*(2-1)
	assert.InDelta(t, 1.75, analyze.Quantile(vals, 0.25), 1e-12)
	// idx = 0.95*3 = 2.85 → 3 + 0.85*(4-3)
	assert.InDelta(t, 3.85, analyze.Quantile(vals, 0.95), 1e-12)
}

func TestQuantileIgnoresNaN(t *testing.T) {
	vals := []float64{math.NaN(), 10, math.NaN(), 20}
	assert.InDelta(t, 15.0, analyze.Quantile(vals, 0.5), 1e-12)
	assert.True(t, math.IsNaN(analyze.Quantile([]float64{math.NaN()}, 0.5)))
	assert.True(t, math.IsNaN(analyze.Quantile(nil, 0.5)))
}

func TestQuantileDoesNotMutateInput(t *testing.T) {
	vals := []float64{3, 1, 2}
	analyze.Quantile(vals, 0.5)
	assert.Equal(t, []float64{3, 1, 2}, vals)
}

// ─── Quantiles ────────────────────────────────────────────────────────────────

func TestQuantilesShapeAndMonotonic(t *testing.T) {
	var profiles []model.DayProfile
	for d := 0; d < 7; d++ {
		p := flatProfile("d", 60, 0)
		for i := range p.Values {
			p.Values[i] = float64(d*10 + i)
		}
		profiles = append(profiles, p)
	}
	q, err := analyze.Quantiles(profiles, 60, nil)
	require.NoError(t, err)
	require.Len(t, q.Rows, 24)
	assert.Equal(t, 7, q.Days)
	assert.Equal(t, model.DefaultPercentiles, q.Percentiles)

	for i, row := range q.Rows {
		require.Len(t, row, len(model.DefaultPercentiles))
		for j := 1; j < len(row); j++ {
			assert.LessOrEqual(t, row[j-1], row[j], "bucket %d not monotonic", i)
		}
	}
	// Bucket 0 samples 0,10,...,60: median-ish P25 at idx 1.5 → 15.
	assert.InDelta(t, 15.0, q.Rows[0][3], 1e-9)
}

func TestQuantilesSingleDayDegenerate(t *testing.T) {
	q, err := analyze.Quantiles([]model.DayProfile{flatProfile("d", 15, 42)}, 15, nil)
	require.NoError(t, err)
	require.Len(t, q.Rows, 96)
	for _, row := range q.Rows {
		for _, v := range row {
			assert.Equal(t, 42.0, v)
		}
	}
}

func TestQuantilesEmptyGroupIsAllNaN(t *testing.T) {
	q, err := analyze.Quantiles(nil, 5, nil)
	require.NoError(t, err)
	require.Len(t, q.Rows, 288)
	assert.Equal(t, 0, q.Days)
	for _, row := range q.Rows {
		for _, v := range row {
			assert.True(t, math.IsNaN(v))
		}
	}
}

func TestQuantilesIgnoresNaNDays(t *testing.T) {
	profiles := []model.DayProfile{
		flatProfile("a", 60, 1),
		nanProfile("b", 60),
		flatProfile("c", 60, 3),
	}
	profiles[0].Values[5] = math.NaN()
	profiles[2].Values[5] = math.NaN()

	q, err := analyze.Quantiles(profiles, 60, []model.Percentile{{Level: 0.5, Label: "P50"}})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, q.Rows[0][0], 1e-12)
	assert.True(t, math.IsNaN(q.Rows[5][0]))
}

func TestQuantilesRejectsBadWidth(t *testing.T) {
	for _, w := range []int{0, -5, 7, 1000} {
		_, err := analyze.Quantiles(nil, w, nil)
		require.Error(t, err, "width %d", w)
		assert.True(t, errors.Is(err, model.ErrInvalidArgument))
	}
}

// ─── Summarize ────────────────────────────────────────────────────────────────

func TestSummarizeBasicCounts(t *testing.T) {
	s := analyze.Summarize("P_total", []float64{1, 2, math.NaN(), 4, 5})
	assert.Equal(t, "P_total", s.Column)
	assert.Equal(t, 5, s.Count)
	assert.Equal(t, 1, s.Missing)
	assert.InDelta(t, 20.0, s.MissingPct, 1e-9)
	assert.InDelta(t, 3.0, s.Mean, 1e-9)
	assert.Equal(t, 1.0, s.Min)
	assert.Equal(t, 5.0, s.Max)
	assert.InDelta(t, 3.0, s.Median, 1e-9)
	// sample std of 1,2,4,5 = sqrt(10/3)
	assert.InDelta(t, math.Sqrt(10.0/3.0), s.Std, 1e-9)
}

func TestSummarizeAllMissing(t *testing.T) {
	s := analyze.Summarize("x", []float64{math.NaN(), math.NaN()})
	assert.Equal(t, 2, s.Missing)
	assert.True(t, math.IsNaN(s.Mean))
	assert.True(t, math.IsNaN(s.Max))
}

func TestSummarizeSingleValueHasZeroStd(t *testing.T) {
	s := analyze.Summarize("x", []float64{7})
	assert.Equal(t, 0.0, s.Std)
	assert.Equal(t, 7.0, s.P95)
}

func TestSummarizeTable(t *testing.T) {
	tbl := model.NewTable([]string{"a", "b"})
	tbl.Values[0] = []float64{1, 2}
	tbl.Values[1] = []float64{math.NaN(), 4}
	out := analyze.SummarizeTable(tbl)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Column)
	assert.Equal(t, 1, out[1].Missing)
}
