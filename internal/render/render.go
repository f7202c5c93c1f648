// Package render converts Result values into human-readable or machine-parseable
// output. Every tabular Kind is first flattened into a header and string rows;
// table, CSV/TSV, Markdown and JSONL are all written from that one shape.
// JSON always serialises the full Result envelope.
package render

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/derickschaefer/meterstat/internal/analyze"
	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/pipeline"
	"github.com/derickschaefer/meterstat/internal/transform"
)

// Format constants matching --format flag values.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
	FormatTSV   = "tsv"
	FormatMD    = "md"
)

// Formats lists the accepted --format values.
var Formats = []string{FormatTable, FormatJSON, FormatJSONL, FormatCSV, FormatTSV, FormatMD}

// ValidFormat reports whether f is a known format.
func ValidFormat(f string) bool {
	for _, x := range Formats {
		if x == f {
			return true
		}
	}
	return false
}

// Render writes result to w in the specified format.
func Render(w io.Writer, result *model.Result, format string) error {
	switch format {
	case FormatJSON:
		return renderJSON(w, result)
	case FormatJSONL:
		return renderJSONL(w, result)
	case FormatCSV:
		return renderDelimited(w, result, ',')
	case FormatTSV:
		return renderDelimited(w, result, '\t')
	case FormatMD:
		return renderMarkdown(w, result)
	default:
		return renderTable(w, result)
	}
}

// ─── Flattening ───────────────────────────────────────────────────────────────

// grid is a result flattened to rows of display strings.
type grid struct {
	header []string
	rows   [][]string
	// footer is printed under table output only.
	footer string
}

// tabulate flattens the Kinds that have a natural row shape.
func tabulate(result *model.Result) (grid, bool) {
	switch d := result.Data.(type) {
	case model.Table:
		return tableGrid(d), true
	case model.AggregateTable:
		return aggregateGrid(d), true
	case model.DayProfile:
		g := grid{header: []string{"time", "value"}}
		for i, v := range d.Values {
			g.rows = append(g.rows, []string{model.BucketLabel(i, d.BucketMinutes), formatValue(v)})
		}
		return g, true
	case model.QuantileTable:
		g := grid{header: append([]string{"time"}, model.PercentileLabels(d.Percentiles)...)}
		for i, row := range d.Rows {
			rec := []string{d.TimeLabel(i)}
			for _, v := range row {
				rec = append(rec, formatValue(v))
			}
			g.rows = append(g.rows, rec)
		}
		return g, true
	case model.RecomputeState:
		return fieldsGrid(stateFields(d)), true
	case []analyze.Summary:
		g := grid{header: []string{"column", "count", "missing", "missing_pct", "mean", "std", "min", "p25", "median", "p75", "p95", "max"}}
		for _, s := range d {
			g.rows = append(g.rows, []string{
				s.Column, strconv.Itoa(s.Count), strconv.Itoa(s.Missing),
				strconv.FormatFloat(s.MissingPct, 'f', 1, 64),
				formatValue(s.Mean), formatValue(s.Std), formatValue(s.Min), formatValue(s.P25),
				formatValue(s.Median), formatValue(s.P75), formatValue(s.P95), formatValue(s.Max),
			})
		}
		return g, true
	case []model.ObjectInfo:
		g := grid{header: []string{"key", "size", "last_modified"}}
		for _, o := range d {
			g.rows = append(g.rows, []string{o.Key, strconv.FormatInt(o.Size, 10), o.LastModified.UTC().Format(time.RFC3339)})
		}
		return g, true
	case []string:
		g := grid{header: []string{result.Command}}
		if i := strings.LastIndex(result.Command, " "); i >= 0 {
			g.header[0] = result.Command[i+1:]
		}
		for _, s := range d {
			g.rows = append(g.rows, []string{s})
		}
		return g, true
	case model.RunRecord:
		g := outcomesGrid(d.Outcomes)
		g.footer = runFooter(d)
		return g, true
	case []model.RunRecord:
		g := grid{header: []string{"id", "started", "duration", "ok", "skipped", "error"}}
		for _, r := range d {
			c := r.Counts()
			g.rows = append(g.rows, []string{
				shortID(r.ID),
				r.StartedAt.UTC().Format(time.RFC3339),
				r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
				strconv.Itoa(c[model.StatusOK]),
				strconv.Itoa(c[model.StatusSkippedNoChanges] + c[model.StatusSkippedNoDays]),
				strconv.Itoa(c[model.StatusError]),
			})
		}
		return g, true
	case []model.Field:
		return fieldsGrid(d), true
	}
	return grid{}, false
}

func tableGrid(t model.Table) grid {
	g := grid{header: append([]string{"time"}, t.Columns...)}
	for i, ts := range t.Index {
		rec := []string{formatTime(ts)}
		for c := range t.Columns {
			rec = append(rec, formatValue(t.Values[c][i]))
		}
		g.rows = append(g.rows, rec)
	}
	return g
}

// aggregateGrid lays the four statistics side by side: column.stat.
func aggregateGrid(a model.AggregateTable) grid {
	g := grid{header: []string{"time"}}
	var tables []model.Table
	for _, stat := range transform.Stats {
		t, _ := a.ByStat(stat)
		tables = append(tables, t)
	}
	base := tables[0]
	for _, c := range base.Columns {
		for _, stat := range transform.Stats {
			g.header = append(g.header, c+"."+stat)
		}
	}
	for i, ts := range base.Index {
		rec := []string{formatTime(ts)}
		for c := range base.Columns {
			for _, t := range tables {
				rec = append(rec, formatValue(t.Values[c][i]))
			}
		}
		g.rows = append(g.rows, rec)
	}
	return g
}

func outcomesGrid(outs []model.ProjectOutcome) grid {
	g := grid{header: []string{"project", "status", "reason", "last_day", "weekday", "weekend", "ms", "error"}}
	for _, o := range outs {
		g.rows = append(g.rows, []string{
			o.Project, string(o.Status), o.Reason, o.LastDay,
			strconv.Itoa(o.DaysWeekday), strconv.Itoa(o.DaysWeekend),
			strconv.FormatInt(o.DurationMs, 10), o.Error,
		})
	}
	return g
}

func runFooter(r model.RunRecord) string {
	c := r.Counts()
	return fmt.Sprintf("run %s: %d projects, ok=%d skipped_no_changes=%d skipped_no_days=%d error=%d, %s",
		shortID(r.ID), len(r.Outcomes),
		c[model.StatusOK], c[model.StatusSkippedNoChanges], c[model.StatusSkippedNoDays], c[model.StatusError],
		r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
}

func fieldsGrid(fields []model.Field) grid {
	g := grid{header: []string{"field", "value"}}
	for _, f := range fields {
		g.rows = append(g.rows, []string{f.Key, f.Value})
	}
	return g
}

func stateFields(s model.RecomputeState) []model.Field {
	levels := make([]string, len(s.Percentiles))
	for i, p := range s.Percentiles {
		levels[i] = strconv.FormatFloat(p, 'f', -1, 64)
	}
	return []model.Field{
		{Key: "schema_version", Value: strconv.Itoa(s.SchemaVersion)},
		{Key: "computed_at", Value: s.ComputedAt},
		{Key: "last_day", Value: s.LastDay},
		{Key: "last_day_file_count", Value: strconv.Itoa(s.LastDayFileCount)},
		{Key: "last_day_max_key", Value: s.LastDayMaxKey},
		{Key: "last_day_max_last_modified", Value: s.LastDayMaxLastModified},
		{Key: "agg_minutes", Value: strconv.Itoa(s.AggMinutes)},
		{Key: "target_column", Value: s.TargetColumn},
		{Key: "percentiles", Value: strings.Join(levels, ", ")},
		{Key: "percentile_labels", Value: strings.Join(s.PercentileLabels, ", ")},
		{Key: "days_total", Value: strconv.Itoa(s.DaysTotal)},
		{Key: "days_weekday", Value: strconv.Itoa(s.DaysWeekday)},
		{Key: "days_weekend", Value: strconv.Itoa(s.DaysWeekend)},
	}
}

// ─── JSON ─────────────────────────────────────────────────────────────────────

func renderJSON(w io.Writer, result *model.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonSafe(result))
}

// jsonSafe replaces NaN cells, which encoding/json rejects, with null.
func jsonSafe(result *model.Result) interface{} {
	switch d := result.Data.(type) {
	case model.Table, model.AggregateTable, model.DayProfile, model.QuantileTable, []analyze.Summary:
		out := *result
		out.Data = nanToNull(d)
		return &out
	}
	return result
}

// nanToNull round-trips v through a generic shape with NaN as nil.
func nanToNull(v interface{}) interface{} {
	switch d := v.(type) {
	case model.Table:
		vals := make([][]interface{}, len(d.Values))
		for i, col := range d.Values {
			vals[i] = floats(col)
		}
		return map[string]interface{}{"index": d.Index, "columns": d.Columns, "values": vals}
	case model.AggregateTable:
		return map[string]interface{}{
			"rule": d.Rule, "mean": nanToNull(d.Mean), "p95": nanToNull(d.P95),
			"max": nanToNull(d.Max), "min": nanToNull(d.Min),
		}
	case model.DayProfile:
		return map[string]interface{}{"day": d.Day, "bucket_minutes": d.BucketMinutes, "values": floats(d.Values)}
	case model.QuantileTable:
		rows := make([][]interface{}, len(d.Rows))
		for i, r := range d.Rows {
			rows[i] = floats(r)
		}
		return map[string]interface{}{
			"bucket_minutes": d.BucketMinutes, "percentiles": d.Percentiles, "rows": rows, "days": d.Days,
		}
	case []analyze.Summary:
		out := make([]map[string]interface{}, len(d))
		for i, s := range d {
			out[i] = map[string]interface{}{
				"column": s.Column, "count": s.Count, "missing": s.Missing, "missing_pct": s.MissingPct,
				"mean": num(s.Mean), "std": num(s.Std), "min": num(s.Min), "p25": num(s.P25),
				"median": num(s.Median), "p75": num(s.P75), "p95": num(s.P95), "max": num(s.Max),
			}
		}
		return out
	}
	return v
}

func floats(vs []float64) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		out[i] = num(v)
	}
	return out
}

func num(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// ─── JSONL ────────────────────────────────────────────────────────────────────

// renderJSONL writes one object per row keyed by header. Numeric cells are
// numbers, "." cells are null. Tables use the pipeline format so the output
// can be piped back into aggregate.
func renderJSONL(w io.Writer, result *model.Result) error {
	if t, ok := result.Data.(model.Table); ok {
		return pipeline.WriteTable(w, t)
	}
	enc := json.NewEncoder(w)
	g, ok := tabulate(result)
	if !ok {
		return enc.Encode(jsonSafe(result))
	}
	for _, row := range g.rows {
		obj := make(map[string]interface{}, len(g.header))
		for i, h := range g.header {
			obj[h] = jsonCell(row[i], i == 0)
		}
		if err := enc.Encode(obj); err != nil {
			return err
		}
	}
	return nil
}

func jsonCell(s string, key bool) interface{} {
	if key {
		return s
	}
	if s == "." {
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return s
}

// ─── Table ────────────────────────────────────────────────────────────────────

func renderTable(w io.Writer, result *model.Result) error {
	g, ok := tabulate(result)
	if !ok {
		return renderJSON(w, result)
	}
	if len(g.rows) == 0 {
		fmt.Fprintln(w, "(no rows)")
		if g.footer != "" {
			fmt.Fprintln(w, g.footer)
		}
		return nil
	}

	tw := tablewriter.NewWriter(w)
	header := make([]string, len(g.header))
	for i, h := range g.header {
		header[i] = strings.ToUpper(h)
	}
	tw.SetHeader(header)
	tw.SetAutoFormatHeaders(false)
	tw.SetBorder(true)
	tw.SetRowLine(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetColumnAlignment(alignments(g))
	tw.SetAutoWrapText(false)
	tw.AppendBulk(g.rows)
	tw.Render()

	if g.footer != "" {
		fmt.Fprintln(w, g.footer)
	}
	return nil
}

// alignments right-aligns columns whose cells are all numeric or ".".
func alignments(g grid) []int {
	out := make([]int, len(g.header))
	for c := range g.header {
		out[c] = tablewriter.ALIGN_RIGHT
		for _, row := range g.rows {
			cell := row[c]
			if cell == "." || cell == "" {
				continue
			}
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				out[c] = tablewriter.ALIGN_LEFT
				break
			}
		}
	}
	return out
}

// ─── CSV / TSV ────────────────────────────────────────────────────────────────

func renderDelimited(w io.Writer, result *model.Result, sep rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = sep

	if g, ok := tabulate(result); ok {
		_ = cw.Write(g.header)
		for _, row := range g.rows {
			_ = cw.Write(row)
		}
	} else {
		// Fallback: serialize as JSON on a single line
		b, _ := json.Marshal(jsonSafe(result))
		_ = cw.Write([]string{string(b)})
	}

	cw.Flush()
	return cw.Error()
}

// ─── Markdown ─────────────────────────────────────────────────────────────────

func renderMarkdown(w io.Writer, result *model.Result) error {
	g, ok := tabulate(result)
	if !ok {
		return renderJSON(w, result)
	}
	esc := make([]string, len(g.header))
	seps := make([]string, len(g.header))
	for i, h := range g.header {
		esc[i] = mdEscape(h)
		seps[i] = strings.Repeat("-", max(3, len(h)))
	}
	fmt.Fprintf(w, "| %s |\n|%s|\n", strings.Join(esc, " | "), strings.Join(seps, "|"))
	for _, row := range g.rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = mdEscape(c)
		}
		fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}
	if g.footer != "" {
		fmt.Fprintf(w, "\n%s\n", g.footer)
	}
	return nil
}

// ─── Warnings / Stats Footer ─────────────────────────────────────────────────

// PrintFooter writes warnings, and with verbose set a stats line, to w.
func PrintFooter(w io.Writer, result *model.Result, verbose bool) {
	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "⚠  %s\n", warn)
	}
	if verbose {
		fmt.Fprintf(w, "\n[%s • %d items • %dms]\n",
			result.GeneratedAt.Format(time.RFC3339),
			result.Stats.Items,
			result.Stats.DurationMs,
		)
	}
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// formatValue formats a measurement for display.
// Always shows at least one decimal place (e.g. 4.0, not 4).
// Trims unnecessary trailing zeros beyond the first (e.g. 3.400000 → 3.4).
// Missing values (NaN) render as ".".
func formatValue(v float64) string {
	if math.IsNaN(v) {
		return "."
	}
	s := strings.TrimRight(fmt.Sprintf("%.6f", v), "0")
	if strings.HasSuffix(s, ".") {
		s += "0" // "4." → "4.0"
	}
	return s
}

// formatTime shows fractional seconds only when present.
func formatTime(t time.Time) string {
	if t.Nanosecond() != 0 {
		return t.Format("2006-01-02 15:04:05.000000")
	}
	return t.Format("2006-01-02 15:04:05")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func mdEscape(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// FieldsFromMap turns a map into sorted Fields.
func FieldsFromMap(m map[string]string) []model.Field {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]model.Field, len(keys))
	for i, k := range keys {
		out[i] = model.Field{Key: k, Value: m[k]}
	}
	return out
}
