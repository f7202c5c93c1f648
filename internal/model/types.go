// Package model defines the canonical data types used throughout meterstat.
// These types are the single source of truth for measurement tables,
// day profiles, percentile tables and the recompute state record, plus the
// result envelope that every command returns.
package model

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidArgument marks configuration or parameter errors that are fatal
// at the point of use (bad aggregation rule, bad bucket width).
var ErrInvalidArgument = errors.New("invalid argument")

// ─── Tables ───────────────────────────────────────────────────────────────────

// RawTable is a parsed CSV before normalization. Cells are untouched strings.
type RawTable struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// Table is a time-indexed numeric table.
// Values is column-major: Values[c][i] is column c at Index[i].
// NaN marks a missing or uncoercible value.
type Table struct {
	Index   []time.Time `json:"index"`
	Columns []string    `json:"columns"`
	Values  [][]float64 `json:"values"`
}

// NewTable returns an empty table carrying the given column set.
func NewTable(columns []string) Table {
	cols := append([]string(nil), columns...)
	return Table{
		Index:   []time.Time{},
		Columns: cols,
		Values:  make([][]float64, len(cols)),
	}
}

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Index) }

// Empty reports whether the table has no rows.
func (t Table) Empty() bool { return len(t.Index) == 0 }

// ColumnIndex returns the position of name, or -1.
func (t Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns the values of the named column and whether it exists.
func (t Table) Column(name string) ([]float64, bool) {
	i := t.ColumnIndex(name)
	if i < 0 {
		return nil, false
	}
	return t.Values[i], true
}

// Aggregation statistic names, also the keys of AggregateTable.ByStat.
const (
	StatMean = "mean"
	StatP95  = "p95"
	StatMax  = "max"
	StatMin  = "min"
)

// AggregateTable holds the four per-bucket reductions of a Table.
// All four share the same bucket-start index.
type AggregateTable struct {
	Rule string `json:"rule"`
	Mean Table  `json:"mean"`
	P95  Table  `json:"p95"`
	Max  Table  `json:"max"`
	Min  Table  `json:"min"`
}

// ByStat returns the table for a statistic name.
func (a AggregateTable) ByStat(stat string) (Table, bool) {
	switch stat {
	case StatMean:
		return a.Mean, true
	case StatP95:
		return a.P95, true
	case StatMax:
		return a.Max, true
	case StatMin:
		return a.Min, true
	}
	return Table{}, false
}

// ─── Profiles ─────────────────────────────────────────────────────────────────

// ProfileBaseDate anchors every day profile so that bucket i of any real
// day lines up with bucket i of any other.
var ProfileBaseDate = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// DayProfile is one day's target column averaged onto a fixed bucket grid.
// len(Values) == 24*60/BucketMinutes always; missing buckets are NaN.
type DayProfile struct {
	Day           string    `json:"day"` // YYYY.MM.DD
	BucketMinutes int       `json:"bucket_minutes"`
	Values        []float64 `json:"values"`
}

// BucketTime returns the synthetic timestamp of bucket i.
func (p DayProfile) BucketTime(i int) time.Time {
	return ProfileBaseDate.Add(time.Duration(i*p.BucketMinutes) * time.Minute)
}

// Present counts the non-NaN buckets.
func (p DayProfile) Present() int {
	n := 0
	for _, v := range p.Values {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Percentile is a quantile level with its column label.
type Percentile struct {
	Level float64 `json:"level"`
	Label string  `json:"label"`
}

// DefaultPercentiles are the central-interval bounds computed for every
// profile group: 98%, 95%, 90% and 50% bands.
var DefaultPercentiles = []Percentile{
	{0.005, "P0.5"},
	{0.025, "P2.5"},
	{0.05, "P5"},
	{0.25, "P25"},
	{0.75, "P75"},
	{0.95, "P95"},
	{0.975, "P97.5"},
	{0.995, "P99.5"},
}

// PercentileLevels returns the levels of ps in order.
func PercentileLevels(ps []Percentile) []float64 {
	out := make([]float64, len(ps))
	for i, p := range ps {
		out[i] = p.Level
	}
	return out
}

// PercentileLabels returns the labels of ps in order.
func PercentileLabels(ps []Percentile) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Label
	}
	return out
}

// QuantileTable holds, per time-of-day bucket, one value per percentile.
// Rows[i][j] is percentile j at bucket i.
type QuantileTable struct {
	BucketMinutes int          `json:"bucket_minutes"`
	Percentiles   []Percentile `json:"percentiles"`
	Rows          [][]float64  `json:"rows"`
	Days          int          `json:"days"`
}

// TimeLabel formats bucket i as HH:MM.
func (q QuantileTable) TimeLabel(i int) string {
	return BucketLabel(i, q.BucketMinutes)
}

// BucketLabel formats bucket i of a width-minute grid as HH:MM.
func BucketLabel(i, widthMinutes int) string {
	m := i * widthMinutes
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// ─── Object store ─────────────────────────────────────────────────────────────

// ObjectInfo is the listing metadata for one stored object.
type ObjectInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// ─── Recompute ────────────────────────────────────────────────────────────────

// Fingerprint summarises the most recent day's partition contents.
type Fingerprint struct {
	Day             string `json:"day"`
	FileCount       int    `json:"file_count"`
	MaxKey          string `json:"max_key"`
	MaxLastModified string `json:"max_last_modified"`
}

// ComputeParams are the parameters whose change forces a recompute.
type ComputeParams struct {
	TargetColumn string    `json:"target_column"`
	AggMinutes   int       `json:"agg_minutes"`
	Percentiles  []float64 `json:"percentiles"`
}

// Equal compares params field by field; percentile lists must match in order.
func (p ComputeParams) Equal(o ComputeParams) bool {
	if p.TargetColumn != o.TargetColumn || p.AggMinutes != o.AggMinutes {
		return false
	}
	if len(p.Percentiles) != len(o.Percentiles) {
		return false
	}
	for i := range p.Percentiles {
		if p.Percentiles[i] != o.Percentiles[i] {
			return false
		}
	}
	return true
}

// StateSchemaVersion is written into every state.json.
const StateSchemaVersion = 2

// RecomputeState is the persisted record gating recomputation.
type RecomputeState struct {
	SchemaVersion          int       `json:"schema_version"`
	ComputedAt             string    `json:"computed_at"`
	LastDay                string    `json:"last_day"`
	LastDayFileCount       int       `json:"last_day_file_count"`
	LastDayMaxKey          string    `json:"last_day_max_key"`
	LastDayMaxLastModified string    `json:"last_day_max_last_modified"`
	AggMinutes             int       `json:"agg_minutes"`
	TargetColumn           string    `json:"target_column"`
	Percentiles            []float64 `json:"percentiles"`
	PercentileLabels       []string  `json:"percentile_labels"`
	DaysTotal              int       `json:"days_total"`
	DaysWeekday            int       `json:"days_weekday"`
	DaysWeekend            int       `json:"days_weekend"`
}

// Fingerprint extracts the stored input fingerprint.
func (s RecomputeState) Fingerprint() Fingerprint {
	return Fingerprint{
		Day:             s.LastDay,
		FileCount:       s.LastDayFileCount,
		MaxKey:          s.LastDayMaxKey,
		MaxLastModified: s.LastDayMaxLastModified,
	}
}

// Params extracts the stored compute parameters.
func (s RecomputeState) Params() ComputeParams {
	return ComputeParams{
		TargetColumn: s.TargetColumn,
		AggMinutes:   s.AggMinutes,
		Percentiles:  s.Percentiles,
	}
}

// Status is the terminal outcome of one project's recompute.
type Status string

const (
	StatusOK               Status = "ok"
	StatusSkippedNoChanges Status = "skipped_no_changes"
	StatusSkippedNoDays    Status = "skipped_no_days"
	StatusError            Status = "error"
)

// ProjectOutcome is one project's line in a recompute run.
type ProjectOutcome struct {
	Project     string `json:"project"`
	Status      Status `json:"status"`
	Reason      string `json:"reason,omitempty"`
	LastDay     string `json:"last_day,omitempty"`
	DaysWeekday int    `json:"days_weekday,omitempty"`
	DaysWeekend int    `json:"days_weekend,omitempty"`
	Error       string `json:"error,omitempty"`
	DurationMs  int64  `json:"duration_ms"`
}

// RunRecord is the persisted history entry for one batch recompute.
type RunRecord struct {
	ID         string           `json:"id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Outcomes   []ProjectOutcome `json:"outcomes"`
}

// Counts tallies outcomes by status.
func (r RunRecord) Counts() map[Status]int {
	out := make(map[Status]int)
	for _, o := range r.Outcomes {
		out[o.Status]++
	}
	return out
}

// ─── Result Envelope ─────────────────────────────────────────────────────────

// ResultStats carries timing metadata for a command result.
type ResultStats struct {
	DurationMs int64 `json:"duration_ms"`
	Items      int   `json:"items"`
}

// Result is the uniform envelope returned by every command.
// The Data field holds the typed payload; Kind identifies what is in it.
// Renderers switch on Kind to format output appropriately.
type Result struct {
	Kind        string      `json:"kind"`
	GeneratedAt time.Time   `json:"generated_at"`
	Command     string      `json:"command"`
	Data        interface{} `json:"data"`
	Warnings    []string    `json:"warnings,omitempty"`
	Stats       ResultStats `json:"stats"`
}

// Kind constants for Result.Kind.
const (
	KindTable     = "table"
	KindAggregate = "aggregate"
	KindProfile   = "profile"
	KindQuantiles = "quantiles"
	KindState     = "state"
	KindSummary   = "summary"
	KindObjects   = "objects"
	KindList      = "list"
	KindRun       = "run"
	KindRuns      = "runs"
	KindFields    = "fields"
)

// Field is one key/value line of a KindFields result.
type Field struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
