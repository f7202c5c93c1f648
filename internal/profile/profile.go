// Package profile assembles one day of raw exports into either a merged
// measurement table or a fixed-grid day profile of one column.
//
// A day partition holds any number of CSV exports. Files are read in key
// order and each one is judged on its own: an unreadable, unparseable or
// incomplete file is recorded in the Report and skipped. Rows from all
// surviving files are merged in time order; where two rows share a
// timestamp the one read later wins.
package profile

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rs/zerolog"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/normalize"
	"github.com/derickschaefer/meterstat/internal/objstore"
	"github.com/derickschaefer/meterstat/internal/rawcsv"
	"github.com/derickschaefer/meterstat/internal/transform"
	"github.com/derickschaefer/meterstat/internal/util"
)

// FileStatus is the outcome of reading one file.
type FileStatus string

const (
	FileOK           FileStatus = "ok"
	FileReadError    FileStatus = "read_error"
	FileParseError   FileStatus = "parse_error"
	FileNoTarget     FileStatus = "no_target_column"
	FileNoTimestamps FileStatus = "no_timestamps"
)

// FileResult records what happened to one file.
type FileResult struct {
	Key     string     `json:"key"`
	Status  FileStatus `json:"status"`
	Rows    int        `json:"rows"`
	Dropped int        `json:"dropped,omitempty"`
	Err     string     `json:"error,omitempty"`
}

// Report describes how a day was assembled.
type Report struct {
	Project    string       `json:"project"`
	Day        string       `json:"day"`
	Files      []FileResult `json:"files"`
	Rows       int          `json:"rows"`
	Duplicates int          `json:"duplicates"`
	OutOfDay   int          `json:"out_of_day,omitempty"`
}

// Skipped counts files that did not contribute.
func (r Report) Skipped() int {
	n := 0
	for _, f := range r.Files {
		if f.Status != FileOK {
			n++
		}
	}
	return n
}

// Builder reads day partitions from a Store.
type Builder struct {
	Store  objstore.Store
	Logger zerolog.Logger
	// Mode locates the timestamp column; the zero value is FirstColumn.
	Mode normalize.Mode
}

// NewBuilder returns a Builder using the FirstColumn timestamp policy.
func NewBuilder(s objstore.Store, log zerolog.Logger) *Builder {
	return &Builder{Store: s, Logger: log}
}

// ValidateWidth checks that width minutes tile a day exactly.
func ValidateWidth(width int) error {
	if width <= 0 || (24*60)%width != 0 {
		return fmt.Errorf("bucket width %d min must be a positive divisor of 1440: %w", width, model.ErrInvalidArgument)
	}
	return nil
}

// ─── Build ────────────────────────────────────────────────────────────────────

// Build returns the day profile of target for one day: the mean of target
// per width-minute bucket, anchored at the day's midnight and re-indexed
// onto the synthetic grid. Buckets without samples, and whole days without
// usable files, are NaN. Errors are returned only for invalid arguments and
// for failures to list the partition.
func (b *Builder) Build(ctx context.Context, project, day, target string, width int) (model.DayProfile, Report, error) {
	if err := ValidateWidth(width); err != nil {
		return model.DayProfile{}, Report{}, err
	}
	start, err := util.ParseDay(day)
	if err != nil {
		return model.DayProfile{}, Report{}, fmt.Errorf("%v: %w", err, model.ErrInvalidArgument)
	}

	tbl, rep, err := b.load(ctx, project, day, []string{target})
	if err != nil {
		return model.DayProfile{}, rep, err
	}

	n := 24 * 60 / width
	p := model.DayProfile{Day: day, BucketMinutes: width, Values: make([]float64, n)}
	buckets := make([][]float64, n)
	if vals, ok := tbl.Column(target); ok {
		w := time.Duration(width) * time.Minute
		for i, t := range tbl.Index {
			off := t.Sub(start)
			if off < 0 || off >= 24*time.Hour || math.IsNaN(vals[i]) {
				continue
			}
			k := int(off / w)
			buckets[k] = append(buckets[k], vals[i])
		}
	}
	for i, bucket := range buckets {
		if len(bucket) == 0 {
			p.Values[i] = math.NaN()
			continue
		}
		p.Values[i], _ = stats.Mean(bucket)
	}

	b.Logger.Debug().Str("project", project).Str("day", day).
		Int("files", len(rep.Files)).Int("skipped", rep.Skipped()).
		Int("buckets", p.Present()).Msg("day profile built")
	return p, rep, nil
}

// ─── LoadDay ──────────────────────────────────────────────────────────────────

// Day is a merged day of measurements.
type Day struct {
	Table  model.Table `json:"table"`
	Hours  []int       `json:"hours"` // distinct hours with at least one row
	Report Report      `json:"report"`
}

// LoadDay merges every column of every usable file of a day. Rows stamped
// outside the day are dropped and counted in Report.OutOfDay.
func (b *Builder) LoadDay(ctx context.Context, project, day string) (Day, error) {
	start, err := util.ParseDay(day)
	if err != nil {
		return Day{}, fmt.Errorf("invalid day %q: %w", day, model.ErrInvalidArgument)
	}
	tbl, rep, err := b.load(ctx, project, day, nil)
	if err != nil {
		return Day{}, err
	}
	if n := tbl.Len(); n > 0 {
		tbl = transform.Between(tbl, start, start.Add(24*time.Hour))
		if rep.OutOfDay = n - tbl.Len(); rep.OutOfDay > 0 {
			b.Logger.Warn().Str("project", project).Str("day", day).
				Int("rows", rep.OutOfDay).Msg("ignoring rows outside the day")
		}
		rep.Rows = tbl.Len()
	}
	return Day{Table: tbl, Hours: hoursPresent(tbl), Report: rep}, nil
}

func hoursPresent(t model.Table) []int {
	seen := make(map[int]bool)
	var out []int
	for _, ts := range t.Index {
		h := ts.Hour()
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	sort.Ints(out)
	return out
}

// ─── Loading ──────────────────────────────────────────────────────────────────

// load reads the partition. With required columns set, files lacking any of
// them are skipped and only those columns are kept.
func (b *Builder) load(ctx context.Context, project, day string, required []string) (model.Table, Report, error) {
	rep := Report{Project: project, Day: day}
	files, err := objstore.DayFiles(ctx, b.Store, project, day)
	if err != nil {
		return model.Table{}, rep, err
	}

	var parts []model.Table
	for _, f := range files {
		tbl, res, err := b.readFile(ctx, f.Key, required)
		if err != nil {
			return model.Table{}, rep, err
		}
		rep.Files = append(rep.Files, res)
		if res.Status != FileOK {
			b.Logger.Debug().Str("key", f.Key).Str("status", string(res.Status)).Str("reason", res.Err).
				Msg("skipping file")
			continue
		}
		parts = append(parts, tbl)
	}

	merged, dups := Merge(parts, required)
	rep.Rows = merged.Len()
	rep.Duplicates = dups
	return merged, rep, nil
}

// readFile returns a non-nil error only when ctx is done.
func (b *Builder) readFile(ctx context.Context, key string, required []string) (model.Table, FileResult, error) {
	res := FileResult{Key: key}
	data, err := b.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return model.Table{}, res, err
		}
		res.Status, res.Err = FileReadError, err.Error()
		return model.Table{}, res, nil
	}
	raw, err := rawcsv.Parse(data)
	if err != nil {
		res.Status, res.Err = FileParseError, err.Error()
		return model.Table{}, res, nil
	}
	tbl, nrep := normalize.Normalize(raw, normalize.Options{Mode: b.Mode})
	res.Dropped = nrep.Dropped
	for _, c := range required {
		if tbl.ColumnIndex(c) < 0 {
			res.Status, res.Err = FileNoTarget, fmt.Sprintf("column %q not found", c)
			return model.Table{}, res, nil
		}
	}
	if tbl.Empty() {
		res.Status, res.Err = FileNoTimestamps, fmt.Sprintf("no parseable timestamps in column %q", nrep.TimeColumn)
		return model.Table{}, res, nil
	}
	if required != nil {
		// Column presence was checked above.
		sel := model.NewTable(required)
		sel.Index = tbl.Index
		for i, c := range required {
			sel.Values[i], _ = tbl.Column(c)
		}
		tbl = sel
	}
	res.Status, res.Rows = FileOK, tbl.Len()
	return tbl, res, nil
}

// Merge concatenates tables in order and returns them as one time-sorted
// table with unique timestamps: for equal timestamps the row from the later
// table wins. columns fixes the output column set; nil takes the union of
// input columns in first-seen order. Missing cells are NaN.
func Merge(parts []model.Table, columns []string) (model.Table, int) {
	if columns == nil {
		seen := make(map[string]bool)
		for _, p := range parts {
			for _, c := range p.Columns {
				if !seen[c] {
					seen[c] = true
					columns = append(columns, c)
				}
			}
		}
	}

	type row struct {
		t    time.Time
		part int
		pos  int
	}
	var rows []row
	for pi, p := range parts {
		for i, t := range p.Index {
			rows = append(rows, row{t, pi, i})
		}
	}
	sort.SliceStable(rows, func(a, b int) bool { return rows[a].t.Before(rows[b].t) })

	uniq := rows[:0]
	dups := 0
	for i, r := range rows {
		if i+1 < len(rows) && rows[i+1].t.Equal(r.t) {
			dups++
			continue
		}
		uniq = append(uniq, r)
	}

	// Column position of each output column within each part.
	pos := make([][]int, len(parts))
	for pi, p := range parts {
		pos[pi] = make([]int, len(columns))
		for ci, c := range columns {
			pos[pi][ci] = p.ColumnIndex(c)
		}
	}

	out := model.NewTable(columns)
	out.Index = make([]time.Time, len(uniq))
	for ci := range columns {
		out.Values[ci] = make([]float64, len(uniq))
	}
	for i, r := range uniq {
		out.Index[i] = r.t
		for ci := range columns {
			src := pos[r.part][ci]
			if src < 0 {
				out.Values[ci][i] = math.NaN()
				continue
			}
			out.Values[ci][i] = parts[r.part].Values[src][r.pos]
		}
	}
	return out, dups
}
