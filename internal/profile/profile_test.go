package profile_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/objstore"
	"github.com/derickschaefer/meterstat/internal/profile"
)

var ctx = context.Background()

const project = "Site(1)"

func put(m *objstore.Memory, day, name, body string) {
	m.PutAt(objstore.DayPrefix(project, day)+name, []byte(body), time.Now())
}

func builder(m *objstore.Memory) *profile.Builder {
	return profile.NewBuilder(m, zerolog.Nop())
}

// ─── Build ────────────────────────────────────────────────────────────────────

func TestBuildMeansIntoBuckets(t *testing.T) {
	m := objstore.NewMemory()
	put(m, "2025.01.01", "a.csv", "timestamp;P_total;U\n"+
		"2025-01-01 00:00:00,5;1,0;230\n"+
		"2025-01-01 00:04:59;3,0;230\n"+
		"2025-01-01 00:05:00;10;230\n"+
		"2025-01-01 23:59:59;7;230\n")

	p, rep, err := builder(m).Build(ctx, project, "2025.01.01", "P_total", 5)
	require.NoError(t, err)
	require.Len(t, p.Values, 288)
	assert.Equal(t, 5, p.BucketMinutes)
	assert.InDelta(t, 2.0, p.Values[0], 1e-12)
	assert.Equal(t, 10.0, p.Values[1])
	assert.Equal(t, 7.0, p.Values[287])
	assert.True(t, math.IsNaN(p.Values[2]))
	assert.Equal(t, 3, p.Present())
	assert.Equal(t, model.ProfileBaseDate.Add(5*time.Minute), p.BucketTime(1))

	require.Len(t, rep.Files, 1)
	assert.Equal(t, profile.FileOK, rep.Files[0].Status)
	assert.Equal(t, 4, rep.Rows)
}

func TestBuildIgnoresSamplesOutsideDay(t *testing.T) {
	m := objstore.NewMemory()
	put(m, "2025.01.02", "a.csv", "timestamp;P_total\n"+
		"2025-01-01 23:59:00;100\n"+
		"2025-01-02 00:00:00;1\n"+
		"2025-01-03 00:00:00;100\n")
	p, _, err := builder(m).Build(ctx, project, "2025.01.02", "P_total", 60)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Present())
	assert.Equal(t, 1.0, p.Values[0])
}

func TestBuildSkipsBadFilesAndLaterFileWins(t *testing.T) {
	m := objstore.NewMemory()
	put(m, "2025.01.01", "01.csv", "timestamp;P_total\n2025-01-01 00:00:00;1\n2025-01-01 01:00:00;5\n")
	put(m, "2025.01.01", "02.csv", "timestamp;P_total\n2025-01-01 00:00:00;3\n")
	put(m, "2025.01.01", "03.csv", "timestamp;Q\n2025-01-01 00:00:00;99\n")
	put(m, "2025.01.01", "04.csv", "only-one-column\nx\n")
	put(m, "2025.01.01", "05.csv", "timestamp;P_total\nnot a time;99\n")
	put(m, "2025.01.01", "notes.txt", "ignored")

	p, rep, err := builder(m).Build(ctx, project, "2025.01.01", "P_total", 60)
	require.NoError(t, err)
	assert.Equal(t, 3.0, p.Values[0], "later file wins on duplicate timestamp")
	assert.Equal(t, 5.0, p.Values[1])

	statuses := make(map[string]profile.FileStatus)
	for _, f := range rep.Files {
		statuses[f.Key[len(objstore.DayPrefix(project, "2025.01.01")):]] = f.Status
	}
	assert.Equal(t, map[string]profile.FileStatus{
		"01.csv": profile.FileOK,
		"02.csv": profile.FileOK,
		"03.csv": profile.FileNoTarget,
		"04.csv": profile.FileParseError,
		"05.csv": profile.FileNoTimestamps,
	}, statuses)
	assert.Equal(t, 3, rep.Skipped())
	assert.Equal(t, 1, rep.Duplicates)
}

func TestBuildAbsentDayIsAllNaN(t *testing.T) {
	p, rep, err := builder(objstore.NewMemory()).Build(ctx, project, "2025.01.01", "P_total", 15)
	require.NoError(t, err)
	require.Len(t, p.Values, 96)
	assert.Equal(t, 0, p.Present())
	assert.Empty(t, rep.Files)
}

func TestBuildRejectsBadArguments(t *testing.T) {
	b := builder(objstore.NewMemory())
	for _, w := range []int{0, 7, -5} {
		_, _, err := b.Build(ctx, project, "2025.01.01", "P_total", w)
		assert.True(t, errors.Is(err, model.ErrInvalidArgument), "width %d", w)
	}
	_, _, err := b.Build(ctx, project, "2025-01-01", "P_total", 5)
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
}

func TestBuildFixedLength(t *testing.T) {
	m := objstore.NewMemory()
	put(m, "2025.01.01", "a.csv", "timestamp;P_total\n2025-01-01 12:00:00;1\n")
	for _, w := range []int{1, 2, 3, 5, 10, 15, 20, 30, 60, 120, 1440} {
		p, _, err := builder(m).Build(ctx, project, "2025.01.01", "P_total", w)
		require.NoError(t, err)
		assert.Len(t, p.Values, 1440/w)
	}
}

// ─── LoadDay ──────────────────────────────────────────────────────────────────

func TestLoadDayMergesColumns(t *testing.T) {
	m := objstore.NewMemory()
	put(m, "2025.01.01", "a.csv", "timestamp;P_total;UpTime\n2025-01-01 10:00:00;1;5\n")
	put(m, "2025.01.01", "b.csv", "timestamp;P_total;U\n2025-01-01 12:30:00;2;230\n2025-01-01 10:00:00;9;231\n")

	d, err := builder(m).LoadDay(ctx, project, "2025.01.01")
	require.NoError(t, err)
	assert.Equal(t, []string{"P_total", "U"}, d.Table.Columns)
	require.Equal(t, 2, d.Table.Len())
	assert.Equal(t, []float64{9, 2}, d.Table.Values[0])
	assert.Equal(t, []float64{231, 230}, d.Table.Values[1])
	assert.Equal(t, []int{10, 12}, d.Hours)
}

func TestLoadDayDropsRowsOutsideDay(t *testing.T) {
	m := objstore.NewMemory()
	put(m, "2025.01.07", "a.csv", "timestamp;P_total\n2025-01-07 10:00:00;1\n2025-01-07 10:00:30;2\n")
	put(m, "2025.01.07", "b.csv", "timestamp;P_total\n1970-01-01 00:00:00;9\n2025-01-08 00:00:00;9\n")

	d, err := builder(m).LoadDay(ctx, project, "2025.01.07")
	require.NoError(t, err)
	require.Equal(t, 2, d.Table.Len())
	assert.Equal(t, time.Date(2025, 1, 7, 10, 0, 0, 0, time.UTC), d.Table.Index[0])
	assert.Equal(t, []int{10}, d.Hours)
	assert.Equal(t, 2, d.Report.OutOfDay)
	assert.Equal(t, 2, d.Report.Rows)
}

func TestLoadDayInvalidLabel(t *testing.T) {
	_, err := builder(objstore.NewMemory()).LoadDay(ctx, project, "yesterday")
	assert.True(t, errors.Is(err, model.ErrInvalidArgument))
}

// ─── Merge ────────────────────────────────────────────────────────────────────

func TestMergeFillsMissingColumnsWithNaN(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := model.NewTable([]string{"x"})
	a.Index = []time.Time{t0}
	a.Values = [][]float64{{1}}
	b := model.NewTable([]string{"y"})
	b.Index = []time.Time{t0.Add(time.Second)}
	b.Values = [][]float64{{2}}

	out, dups := profile.Merge([]model.Table{a, b}, nil)
	assert.Equal(t, 0, dups)
	assert.Equal(t, []string{"x", "y"}, out.Columns)
	assert.Equal(t, 1.0, out.Values[0][0])
	assert.True(t, math.IsNaN(out.Values[0][1]))
	assert.True(t, math.IsNaN(out.Values[1][0]))
}
