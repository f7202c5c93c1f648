// Package normalize turns a RawTable into a time-indexed numeric Table.
//
// Two policies locate the timestamp column:
//
//	FirstColumn  always the first column. The statistics pipeline uses this.
//	NamedColumn  a column called timestamp/time/datetime/date, else the
//	             first column whose cells parse as timestamps, else the
//	             first column. The interactive API uses this.
//
// Rows whose timestamp does not parse are dropped. Columns in the hidden
// set are removed; every other column is coerced to float64 cell by cell
// (NaN on failure). The output is sorted by time with duplicate timestamps
// resolved in favour of the last-seen row.
package normalize

import (
	"sort"
	"strings"
	"time"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/util"
)

// Mode selects how the timestamp column is located.
type Mode int

const (
	FirstColumn Mode = iota
	NamedColumn
)

func (m Mode) String() string {
	if m == NamedColumn {
		return "named"
	}
	return "first"
}

// HiddenColumns are never part of a normalized table (case-insensitive).
var HiddenColumns = []string{"uptime"}

var timeColumnNames = []string{"timestamp", "time", "datetime", "date"}

// Options configures Normalize. The zero value is the pipeline policy.
type Options struct {
	Mode       Mode
	Strategies []Strategy // nil = DefaultStrategies
	Hidden     []string   // nil = HiddenColumns
}

// Report describes what Normalize did with a raw table.
type Report struct {
	TimeColumn string `json:"time_column"`
	Strategy   string `json:"strategy"`
	Rows       int    `json:"rows"`
	Dropped    int    `json:"dropped"`    // rows with unparseable timestamps
	Duplicates int    `json:"duplicates"` // rows superseded by a later duplicate
}

// Normalize converts rt into a Table. It never fails: an input without
// parseable timestamps yields an empty table carrying the value columns.
func Normalize(rt model.RawTable, opts Options) (model.Table, Report) {
	strategies := opts.Strategies
	if strategies == nil {
		strategies = DefaultStrategies
	}
	hidden := opts.Hidden
	if hidden == nil {
		hidden = HiddenColumns
	}

	cols := make([]string, len(rt.Columns))
	for i, c := range rt.Columns {
		cols[i] = strings.TrimSpace(c)
	}
	if len(cols) == 0 {
		return model.NewTable(nil), Report{}
	}

	timeIdx, parsed := locateTime(rt, cols, opts.Mode, strategies)
	rep := Report{TimeColumn: cols[timeIdx], Strategy: parsed.Strategy}

	// Value columns: everything except the time column and hidden ones.
	var keep []int
	var names []string
	for i, c := range cols {
		if i == timeIdx || isHidden(c, hidden) {
			continue
		}
		keep = append(keep, i)
		names = append(names, c)
	}

	type row struct {
		t   time.Time
		pos int
	}
	rows := make([]row, 0, len(rt.Rows))
	for i := range rt.Rows {
		if !parsed.OK[i] {
			rep.Dropped++
			continue
		}
		rows = append(rows, row{t: parsed.Times[i], pos: i})
	}
	sort.SliceStable(rows, func(a, b int) bool { return rows[a].t.Before(rows[b].t) })

	// Keep the last occurrence of each timestamp.
	uniq := rows[:0]
	for i, r := range rows {
		if i+1 < len(rows) && rows[i+1].t.Equal(r.t) {
			rep.Duplicates++
			continue
		}
		uniq = append(uniq, r)
	}

	out := model.NewTable(names)
	out.Index = make([]time.Time, len(uniq))
	for c := range out.Values {
		out.Values[c] = make([]float64, len(uniq))
	}
	for i, r := range uniq {
		out.Index[i] = r.t
		src := rt.Rows[r.pos]
		for c, ci := range keep {
			cell := ""
			if ci < len(src) {
				cell = src[ci]
			}
			out.Values[c][i] = util.ParseNumber(cell)
		}
	}
	rep.Rows = out.Len()
	return out, rep
}

func locateTime(rt model.RawTable, cols []string, mode Mode, strategies []Strategy) (int, Parsed) {
	column := func(i int) []string {
		cells := make([]string, len(rt.Rows))
		for r, rec := range rt.Rows {
			if i < len(rec) {
				cells[r] = rec[i]
			}
		}
		return cells
	}

	if mode == NamedColumn {
		for _, want := range timeColumnNames {
			for i, c := range cols {
				if strings.EqualFold(c, want) {
					return i, ParseColumn(column(i), strategies)
				}
			}
		}
		// Epoch parsing would accept any numeric column, so detection only
		// uses textual layouts.
		detect := textual(strategies)
		for i := range cols {
			cells := column(i)
			if p := ParseColumn(cells, detect); accepted(p.Count, len(cells)) {
				return i, ParseColumn(cells, strategies)
			}
		}
	}
	return 0, ParseColumn(column(0), strategies)
}

func textual(strategies []Strategy) []Strategy {
	out := make([]Strategy, 0, len(strategies))
	for _, s := range strategies {
		if s.Name != "epoch" {
			out = append(out, s)
		}
	}
	return out
}

func isHidden(name string, hidden []string) bool {
	for _, h := range hidden {
		if strings.EqualFold(name, h) {
			return true
		}
	}
	return false
}
