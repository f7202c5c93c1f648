// Package rawcsv reads measurement CSV exports into RawTables and writes the
// semicolon/decimal-comma percentile tables consumed by the dashboard.
package rawcsv

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/util"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrTooFewColumns is returned when no delimiter yields at least two columns.
var ErrTooFewColumns = errors.New("csv has fewer than 2 columns")

// ─── Reading ──────────────────────────────────────────────────────────────────

// Parse decodes raw CSV bytes. The semicolon export format is tried first,
// then the delimiter sniffed from the header line, then tab and comma.
// The first delimiter producing two or more columns wins.
func Parse(data []byte) (model.RawTable, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return model.RawTable{}, fmt.Errorf("empty csv")
	}

	tried := make(map[rune]bool)
	var lastErr error
	for _, sep := range []rune{';', sniff(data), '\t', ','} {
		if sep == 0 || tried[sep] {
			continue
		}
		tried[sep] = true
		rt, err := parseWith(data, sep)
		if err != nil {
			lastErr = err
			continue
		}
		if len(rt.Columns) >= 2 {
			return rt, nil
		}
	}
	if lastErr != nil {
		return model.RawTable{}, fmt.Errorf("parsing csv: %w", lastErr)
	}
	return model.RawTable{}, ErrTooFewColumns
}

// sniff picks the most frequent candidate delimiter on the header line.
func sniff(data []byte) rune {
	line, _, _ := bufio.NewReader(bytes.NewReader(data)).ReadLine()
	best, bestN := rune(0), 0
	for _, c := range []rune{';', '\t', ',', '|'} {
		if n := strings.Count(string(line), string(c)); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

func parseWith(data []byte, sep rune) (model.RawTable, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return model.RawTable{}, err
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = strings.TrimSpace(h)
	}

	rt := model.RawTable{Columns: cols}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return model.RawTable{}, err
		}
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		row := make([]string, len(cols))
		copy(row, rec)
		rt.Rows = append(rt.Rows, row)
	}
	return rt, nil
}

// ─── Percentile Tables ────────────────────────────────────────────────────────

// WriteQuantiles writes q as a UTF-8 (BOM) CSV with header
// time;P0.5;...;P99.5, decimal commas and empty cells for NaN.
func WriteQuantiles(w io.Writer, q model.QuantileTable) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	header := append([]string{"time"}, model.PercentileLabels(q.Percentiles)...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, row := range q.Rows {
		rec := make([]string, 0, len(row)+1)
		rec = append(rec, q.TimeLabel(i))
		for _, v := range row {
			rec = append(rec, util.FormatDecimalComma(v))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeQuantiles is WriteQuantiles into a byte slice.
func EncodeQuantiles(q model.QuantileTable) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteQuantiles(&buf, q); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadQuantiles parses a table written by WriteQuantiles. The bucket width is
// taken from the first two time labels; rows keep file order.
func ReadQuantiles(data []byte) (model.QuantileTable, error) {
	rt, err := Parse(data)
	if err != nil {
		return model.QuantileTable{}, err
	}
	if len(rt.Columns) < 2 || !strings.EqualFold(rt.Columns[0], "time") {
		return model.QuantileTable{}, fmt.Errorf("percentile table: missing time column")
	}

	q := model.QuantileTable{}
	for _, label := range rt.Columns[1:] {
		q.Percentiles = append(q.Percentiles, model.Percentile{Level: levelFor(label), Label: label})
	}
	var minutes []int
	for _, rec := range rt.Rows {
		m, ok := parseClock(rec[0])
		if !ok {
			continue
		}
		minutes = append(minutes, m)
		row := make([]float64, len(rec)-1)
		for j, cell := range rec[1:] {
			row[j] = util.ParseNumber(cell)
		}
		q.Rows = append(q.Rows, row)
	}
	if len(q.Rows) == 0 {
		return model.QuantileTable{}, fmt.Errorf("percentile table: no rows")
	}
	q.BucketMinutes = 24 * 60 / len(q.Rows)
	if len(minutes) >= 2 && minutes[1] > minutes[0] {
		q.BucketMinutes = minutes[1] - minutes[0]
	}
	return q, nil
}

func parseClock(s string) (int, bool) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, false
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// levelFor maps a "P97.5" style label to 0.975; unknown labels map to NaN.
func levelFor(label string) float64 {
	for _, p := range model.DefaultPercentiles {
		if p.Label == label {
			return p.Level
		}
	}
	v := util.ParseNumber(strings.TrimPrefix(label, "P"))
	return v / 100
}
