package calendar_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derickschaefer/meterstat/internal/calendar"
	"github.com/derickschaefer/meterstat/internal/objstore"
)

var ctx = context.Background()

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func put(m *objstore.Memory, key, body string) {
	m.PutAt(key, []byte(body), time.Now())
}

// ─── Parse ────────────────────────────────────────────────────────────────────

func TestParseIgnoresMarkersAndInvalidDays(t *testing.T) {
	set, err := calendar.Parse([]byte(`{"year": 2025, "months": [
		{"month": 1, "days": "1, 2,3*,8+, x, 32"},
		{"month": 2, "days": "28,29,30"},
		{"month": 13, "days": "1"},
		{"month": "3", "days": [8, "9*"]}
	]}`))
	require.NoError(t, err)

	for _, d := range []calendar.Date{
		{2025, time.January, 1}, {2025, time.January, 2}, {2025, time.January, 3},
		{2025, time.January, 8}, {2025, time.February, 28},
		{2025, time.March, 8}, {2025, time.March, 9},
	} {
		assert.True(t, set.Contains(d), d.String())
	}
	assert.Len(t, set, 7)
}

func TestParseAcceptsBOMAndStringYear(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"year":"2024","months":[{"month":2,"days":"29"}]}`)...)
	set, err := calendar.Parse(data)
	require.NoError(t, err)
	assert.True(t, set.Contains(calendar.Date{Year: 2024, Month: time.February, Day: 29}))
}

func TestParseErrors(t *testing.T) {
	_, err := calendar.Parse([]byte(`not json`))
	assert.Error(t, err)
	_, err = calendar.Parse([]byte(`{"months": []}`))
	assert.Error(t, err)
}

// ─── Classifier ───────────────────────────────────────────────────────────────

func TestClassifierUnionsBaseAndRegion(t *testing.T) {
	m := objstore.NewMemory()
	put(m, "Calendar/calendar_2025.json", `{"year":2025,"months":[{"month":1,"days":"1,4,5"}]}`)
	put(m, "Site(1)/Stat/calendar_2025_region_a.json", `{"year":2025,"months":[{"month":1,"days":"9"}]}`)
	put(m, "Site(1)/Stat/calendar_2025_region_b.JSON", `{"year":2025,"months":[{"month":1,"days":"10"}]}`)
	put(m, "Site(1)/Stat/calendar_2025_region_c.txt", `{"year":2025,"months":[{"month":1,"days":"11"}]}`)

	c := calendar.NewClassifier(m, zerolog.Nop())
	for day, want := range map[int]bool{1: true, 2: false, 9: true, 10: true, 11: false} {
		got, err := c.IsNonWorking(ctx, "Site(1)", date(2025, 1, day))
		require.NoError(t, err)
		assert.Equal(t, want, got, "day %d", day)
	}

	// Region calendars are project-scoped.
	other, err := c.IsNonWorking(ctx, "Other(2)", date(2025, 1, 9))
	require.NoError(t, err)
	assert.False(t, other)
}

func TestClassifierMissingBaseIsEmpty(t *testing.T) {
	c := calendar.NewClassifier(objstore.NewMemory(), zerolog.Nop())
	got, err := c.IsNonWorking(ctx, "Site(1)", date(2030, 6, 1))
	require.NoError(t, err)
	assert.False(t, got)
}

func TestClassifierSkipsCorruptRegionAndLogs(t *testing.T) {
	m := objstore.NewMemory()
	put(m, "Calendar/calendar_2025.json", `{"year":2025,"months":[{"month":5,"days":"1"}]}`)
	put(m, "Site(1)/Stat/calendar_2025_region_bad.json", `{"year":`)
	put(m, "Site(1)/Stat/calendar_2025_region_good.json", `{"year":2025,"months":[{"month":5,"days":"2"}]}`)

	var buf bytes.Buffer
	c := calendar.NewClassifier(m, zerolog.New(&buf))

	set, err := c.Holidays(ctx, "Site(1)", 2025)
	require.NoError(t, err)
	assert.True(t, set.Contains(calendar.Date{Year: 2025, Month: time.May, Day: 1}))
	assert.True(t, set.Contains(calendar.Date{Year: 2025, Month: time.May, Day: 2}))
	assert.Contains(t, buf.String(), "calendar_2025_region_bad.json")
}

func TestClassifierCorruptBaseIsError(t *testing.T) {
	m := objstore.NewMemory()
	put(m, "Calendar/calendar_2025.json", `{{`)
	c := calendar.NewClassifier(m, zerolog.Nop())
	_, err := c.IsNonWorking(ctx, "Site(1)", date(2025, 1, 1))
	assert.Error(t, err)
}

func TestClassifierCachesPerRun(t *testing.T) {
	m := objstore.NewMemory()
	put(m, "Calendar/calendar_2025.json", `{"year":2025,"months":[{"month":1,"days":"1"}]}`)
	c := calendar.NewClassifier(m, zerolog.Nop())

	_, err := c.IsNonWorking(ctx, "Site(1)", date(2025, 1, 1))
	require.NoError(t, err)

	// Changing the stored calendar does not affect the cached run.
	put(m, "Calendar/calendar_2025.json", `{"year":2025,"months":[]}`)
	got, err := c.IsNonWorking(ctx, "Site(1)", date(2025, 1, 1))
	require.NoError(t, err)
	assert.True(t, got)

	base, region := c.Cache.Len()
	assert.Equal(t, 1, base)
	assert.Equal(t, 1, region)

	// A fresh classifier sees the new document.
	fresh := calendar.NewClassifier(m, zerolog.Nop())
	got, err = fresh.IsNonWorking(ctx, "Site(1)", date(2025, 1, 1))
	require.NoError(t, err)
	assert.False(t, got)
}
