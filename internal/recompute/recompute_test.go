package recompute_test

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/objstore"
	"github.com/derickschaefer/meterstat/internal/rawcsv"
	"github.com/derickschaefer/meterstat/internal/recompute"
	"github.com/derickschaefer/meterstat/internal/store"
)

var ctx = context.Background()

const project = "Plant(1)"

var modTime = time.Date(2025, 1, 9, 6, 0, 0, 0, time.UTC)

func putDay(m *objstore.Memory, proj, day, name, body string) {
	m.PutAt(objstore.DayPrefix(proj, day)+name, []byte(body), modTime)
}

// seed builds three days of hourly data; 2025.01.06 is a holiday.
func seed(m *objstore.Memory, proj string) {
	m.PutAt(objstore.BaseCalendarKey(2025), []byte(`{"year":2025,"months":[{"month":1,"days":"1,4,5,6*"}]}`), modTime)
	m.PutAt(objstore.SettingsKey(proj), []byte(`{"plot_agg_minutes": 60}`), modTime)
	putDay(m, proj, "2025.01.06", "a.csv", "timestamp;P_total\n2025-01-06 00:00:00;10\n2025-01-06 01:30:00;20\n")
	putDay(m, proj, "2025.01.07", "a.csv", "timestamp;P_total\n2025-01-07 00:00:00;1\n")
	putDay(m, proj, "2025.01.08", "a.csv", "timestamp;P_total\n2025-01-08 00:10:00;3\n")
}

func scheduler(m objstore.Store) *recompute.Scheduler {
	s := recompute.New(m, zerolog.Nop())
	s.Now = func() time.Time { return time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC) }
	return s
}

func get(t *testing.T, m *objstore.Memory, key string) []byte {
	t.Helper()
	data, err := m.Get(ctx, key)
	require.NoError(t, err, key)
	return data
}

// ─── End to end ───────────────────────────────────────────────────────────────

func TestRecomputeSplitsWeekdayAndWeekend(t *testing.T) {
	m := objstore.NewMemory()
	seed(m, project)

	out, err := scheduler(m).RunProject(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOK, out.Status)
	assert.Equal(t, recompute.ReasonInputChanged, out.Reason)
	assert.Equal(t, "2025.01.08", out.LastDay)
	assert.Equal(t, 2, out.DaysWeekday)
	assert.Equal(t, 1, out.DaysWeekend)

	weekend, err := rawcsv.ReadQuantiles(get(t, m, objstore.StatKey(project, objstore.WeekendFile)))
	require.NoError(t, err)
	require.Len(t, weekend.Rows, 24)
	assert.Equal(t, 60, weekend.BucketMinutes)
	for j := range weekend.Percentiles {
		assert.Equal(t, 10.0, weekend.Rows[0][j])
		assert.Equal(t, 20.0, weekend.Rows[1][j])
		assert.True(t, math.IsNaN(weekend.Rows[2][j]))
	}

	weekday, err := rawcsv.ReadQuantiles(get(t, m, objstore.StatKey(project, objstore.WeekdayFile)))
	require.NoError(t, err)
	require.Len(t, weekday.Rows, 24)
	// P25 and P75 of {1, 3}.
	assert.InDelta(t, 1.5, weekday.Rows[0][3], 1e-9)
	assert.InDelta(t, 2.5, weekday.Rows[0][4], 1e-9)
	assert.True(t, math.IsNaN(weekday.Rows[1][0]))

	header := strings.SplitN(string(get(t, m, objstore.StatKey(project, objstore.WeekdayFile))), "\n", 2)[0]
	assert.Equal(t, "\ufefftime;P0.5;P2.5;P5;P25;P75;P95;P97.5;P99.5", strings.TrimRight(header, "\r"))

	state, found, err := recompute.LoadState(ctx, m, project)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, model.RecomputeState{
		SchemaVersion:          2,
		ComputedAt:             "2025-01-09T12:00:00Z",
		LastDay:                "2025.01.08",
		LastDayFileCount:       1,
		LastDayMaxKey:          "Plant(1)/All/2025.01.08/a.csv",
		LastDayMaxLastModified: "2025-01-09T06:00:00",
		AggMinutes:             60,
		TargetColumn:           "P_total",
		Percentiles:            []float64{0.005, 0.025, 0.05, 0.25, 0.75, 0.95, 0.975, 0.995},
		PercentileLabels:       []string{"P0.5", "P2.5", "P5", "P25", "P75", "P95", "P97.5", "P99.5"},
		DaysTotal:              3,
		DaysWeekday:            2,
		DaysWeekend:            1,
	}, state)

	raw := get(t, m, objstore.StatKey(project, objstore.StateFile))
	assert.True(t, bytes.HasPrefix(raw, []byte("{\n  \"schema_version\": 2,")))
	assert.True(t, bytes.HasSuffix(raw, []byte("}\n")))
}

func TestRecomputeIsIdempotent(t *testing.T) {
	m := objstore.NewMemory()
	seed(m, project)
	s := scheduler(m)

	_, err := s.RunProject(ctx, project)
	require.NoError(t, err)
	keys := []string{
		objstore.StatKey(project, objstore.WeekdayFile),
		objstore.StatKey(project, objstore.WeekendFile),
		objstore.StatKey(project, objstore.StateFile),
	}
	before := make(map[string][]byte)
	for _, k := range keys {
		before[k] = get(t, m, k)
	}

	s.Now = func() time.Time { return time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC) }
	out, err := s.RunProject(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkippedNoChanges, out.Status)
	assert.Empty(t, out.Reason)
	for _, k := range keys {
		assert.Equal(t, before[k], get(t, m, k), k)
	}
}

// ─── Triggers ─────────────────────────────────────────────────────────────────

func TestRecomputeTriggers(t *testing.T) {
	cases := []struct {
		name   string
		change func(m *objstore.Memory)
		reason string
	}{
		{"new file on last day", func(m *objstore.Memory) {
			putDay(m, project, "2025.01.08", "b.csv", "timestamp;P_total\n2025-01-08 05:00:00;4\n")
		}, recompute.ReasonInputChanged},
		{"new day", func(m *objstore.Memory) {
			putDay(m, project, "2025.01.09", "a.csv", "timestamp;P_total\n2025-01-09 05:00:00;4\n")
		}, recompute.ReasonInputChanged},
		{"touched file", func(m *objstore.Memory) {
			m.PutAt(objstore.DayPrefix(project, "2025.01.08")+"a.csv",
				[]byte("timestamp;P_total\n2025-01-08 00:10:00;3\n"), modTime.Add(time.Second))
		}, recompute.ReasonInputChanged},
		{"agg width changed", func(m *objstore.Memory) {
			m.PutAt(objstore.SettingsKey(project), []byte(`{"plot_agg_minutes": 30}`), modTime)
		}, recompute.ReasonParamsChanged},
		{"weekday output emptied", func(m *objstore.Memory) {
			m.PutAt(objstore.StatKey(project, objstore.WeekdayFile), nil, modTime)
		}, recompute.ReasonOutputsMissing},
		{"state corrupted", func(m *objstore.Memory) {
			m.PutAt(objstore.StatKey(project, objstore.StateFile), []byte("{not json"), modTime)
		}, recompute.ReasonInputChanged},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := objstore.NewMemory()
			seed(m, project)
			s := scheduler(m)
			_, err := s.RunProject(ctx, project)
			require.NoError(t, err)

			tc.change(m)
			out, err := s.RunProject(ctx, project)
			require.NoError(t, err)
			assert.Equal(t, model.StatusOK, out.Status)
			assert.Equal(t, tc.reason, out.Reason)

			again, err := s.RunProject(ctx, project)
			require.NoError(t, err)
			assert.Equal(t, model.StatusSkippedNoChanges, again.Status)
		})
	}
}

func TestChangeOnEarlierDayIsNotDetected(t *testing.T) {
	m := objstore.NewMemory()
	seed(m, project)
	s := scheduler(m)
	_, err := s.RunProject(ctx, project)
	require.NoError(t, err)

	putDay(m, project, "2025.01.06", "late.csv", "timestamp;P_total\n2025-01-06 03:00:00;1\n")
	out, err := s.RunProject(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkippedNoChanges, out.Status)
}

func TestProjectWithoutDays(t *testing.T) {
	m := objstore.NewMemory()
	m.PutAt(objstore.SettingsKey(project), []byte(`{}`), modTime)
	m.PutAt(objstore.DataPrefix(project)+"not-a-day/a.csv", []byte("x"), modTime)

	out, err := scheduler(m).RunProject(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSkippedNoDays, out.Status)
	ok, err := objstore.Exists(ctx, m, objstore.StatKey(project, objstore.StateFile))
	require.NoError(t, err)
	assert.False(t, ok)
}

// ─── Run ──────────────────────────────────────────────────────────────────────

func TestRunIsolatesProjectFailures(t *testing.T) {
	m := objstore.NewMemory()
	seed(m, project)
	seed(m, "Broken(2)")
	m.PutAt(objstore.SettingsKey("Broken(2)"), []byte(`{"plot_agg_minutes": 7}`), modTime)
	m.PutAt("Empty(3)/config/process_settings.json", []byte(`{}`), modTime)

	db, err := store.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	s := scheduler(m)
	s.Runs = db
	rec, err := s.Run(ctx, nil)
	require.NoError(t, err)

	require.Len(t, rec.Outcomes, 2, "Empty(3) has no All/ data and is not discovered")
	assert.Equal(t, "Broken(2)", rec.Outcomes[0].Project)
	assert.Equal(t, model.StatusError, rec.Outcomes[0].Status)
	assert.Contains(t, rec.Outcomes[0].Error, "1440")
	assert.Equal(t, project, rec.Outcomes[1].Project)
	assert.Equal(t, model.StatusOK, rec.Outcomes[1].Status)

	runs, err := db.ListRuns(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rec.ID, runs[0].ID)
	assert.Equal(t, map[model.Status]int{model.StatusOK: 1, model.StatusError: 1}, runs[0].Counts())
}

func TestRunExplicitProjects(t *testing.T) {
	m := objstore.NewMemory()
	seed(m, project)
	seed(m, "Other(2)")

	rec, err := scheduler(m).Run(ctx, []string{"Other(2)"})
	require.NoError(t, err)
	require.Len(t, rec.Outcomes, 1)
	assert.Equal(t, "Other(2)", rec.Outcomes[0].Project)
}

func TestRunStopsOnCancel(t *testing.T) {
	m := objstore.NewMemory()
	seed(m, project)
	cctx, cancel := context.WithCancel(ctx)
	cancel()

	rec, err := scheduler(m).Run(cctx, []string{project})
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Empty(t, rec.Outcomes)
}

// ─── Settings & State ─────────────────────────────────────────────────────────

func TestAggMinutes(t *testing.T) {
	cases := map[string]int{
		``:                                 5,
		`{}`:                               5,
		`{"plot_agg_minutes": 15}`:         15,
		`{"plot_agg_minutes": "30"}`:       30,
		`{"plot_agg_minutes": 0}`:          5,
		`{"plot_agg_minutes": -10}`:        5,
		`{"plot_agg_minutes": "ten"}`:      5,
		`{"plot_agg_minutes": null}`:       5,
		`not json`:                         5,
		"\ufeff{\"plot_agg_minutes\": 10}": 10,
	}
	for body, want := range cases {
		m := objstore.NewMemory()
		if body != "" {
			m.PutAt(objstore.SettingsKey(project), []byte(body), modTime)
		}
		got, err := recompute.AggMinutes(ctx, m, project, 5)
		require.NoError(t, err)
		assert.Equal(t, want, got, "settings %q", body)
	}
}

func TestLoadState(t *testing.T) {
	m := objstore.NewMemory()
	_, found, err := recompute.LoadState(ctx, m, project)
	require.NoError(t, err)
	assert.False(t, found)

	m.PutAt(objstore.StatKey(project, objstore.StateFile), []byte("[]"), modTime)
	_, _, err = recompute.LoadState(ctx, m, project)
	assert.True(t, errors.Is(err, recompute.ErrMalformedState))

	want := model.RecomputeState{SchemaVersion: 2, LastDay: "2025.01.01", AggMinutes: 15}
	require.NoError(t, recompute.SaveState(ctx, m, project, want))
	got, found, err := recompute.LoadState(ctx, m, project)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)
}
