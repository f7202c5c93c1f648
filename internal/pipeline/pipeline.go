// Package pipeline provides helpers for reading and writing measurement
// tables via stdin/stdout as JSONL, the pipe format between commands.
//
// Each line is one row: {"time": "<RFC 3339>", "<column>": number|null, ...}.
// Column order follows key order on the first line that introduces each
// column.
package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"

	"github.com/derickschaefer/meterstat/internal/model"
)

// TimeKey is the row key holding the timestamp.
const TimeKey = "time"

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// ReadTable reads JSONL rows from r (stdin) into a Table. Missing cells
// and nulls are NaN.
func ReadTable(r io.Reader) (model.Table, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	var (
		columns []string
		colPos  = make(map[string]int)
		index   []time.Time
		rows    []map[int]float64
	)

	lineNum := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineNum++
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		fields, err := orderedObject([]byte(line))
		if err != nil {
			return model.Table{}, fmt.Errorf("line %d: invalid JSON: %w", lineNum, err)
		}

		var (
			ts    time.Time
			found bool
			row   = make(map[int]float64)
		)
		for _, f := range fields {
			if f.key == TimeKey {
				s, ok := f.val.(string)
				if !ok {
					return model.Table{}, fmt.Errorf("line %d: %q must be a string", lineNum, TimeKey)
				}
				ts, err = parseTime(s)
				if err != nil {
					return model.Table{}, fmt.Errorf("line %d: invalid time %q", lineNum, s)
				}
				found = true
				continue
			}
			pos, ok := colPos[f.key]
			if !ok {
				pos = len(columns)
				colPos[f.key] = pos
				columns = append(columns, f.key)
			}
			switch v := f.val.(type) {
			case nil:
				row[pos] = math.NaN()
			case float64:
				row[pos] = v
			default:
				return model.Table{}, fmt.Errorf("line %d: column %q: unexpected value type %T", lineNum, f.key, f.val)
			}
		}
		if !found {
			return model.Table{}, fmt.Errorf("line %d: missing %q", lineNum, TimeKey)
		}
		index = append(index, ts)
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return model.Table{}, fmt.Errorf("reading input: %w", err)
	}
	if len(index) == 0 {
		return model.Table{}, fmt.Errorf("no rows read from input (is stdin empty?)")
	}

	tbl := model.NewTable(columns)
	tbl.Index = index
	for c := range columns {
		tbl.Values[c] = make([]float64, len(rows))
		for i, row := range rows {
			v, ok := row[c]
			if !ok {
				v = math.NaN()
			}
			tbl.Values[c][i] = v
		}
	}
	return tbl, nil
}

// WriteTable writes t as JSONL to w, one row per line, columns in order.
func WriteTable(w io.Writer, t model.Table) error {
	bw := bufio.NewWriter(w)
	for i, ts := range t.Index {
		var buf bytes.Buffer
		buf.WriteString(`{"` + TimeKey + `":"`)
		buf.WriteString(ts.Format(time.RFC3339Nano))
		buf.WriteByte('"')
		for c, name := range t.Columns {
			key, _ := json.Marshal(name)
			buf.WriteByte(',')
			buf.Write(key)
			buf.WriteByte(':')
			v := t.Values[c][i]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				buf.WriteString("null")
			} else {
				num, _ := json.Marshal(v)
				buf.Write(num)
			}
		}
		buf.WriteString("}\n")
		if _, err := bw.Write(buf.Bytes()); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// LooksLikeJSONL reports whether data starts with a JSON object, after
// leading whitespace and a UTF-8 BOM.
func LooksLikeJSONL(data []byte) bool {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	data = bytes.TrimLeft(data, " \t\r\n")
	return len(data) > 0 && data[0] == '{'
}

// IsTTY returns true if stdout is a terminal (not a pipe).
func IsTTY() bool {
	return isCharDevice(os.Stdout)
}

// StdinPiped returns true if stdin is a pipe or file rather than a terminal.
func StdinPiped() bool {
	return !isCharDevice(os.Stdin)
}

func isCharDevice(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// ─── Ordered decoding ─────────────────────────────────────────────────────────

type field struct {
	key string
	val interface{}
}

// orderedObject decodes one flat JSON object keeping key order.
func orderedObject(data []byte) ([]field, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("expected object")
	}
	var out []field
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		var val interface{}
		if err := dec.Decode(&val); err != nil {
			return nil, err
		}
		out = append(out, field{key, val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseTime(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}
