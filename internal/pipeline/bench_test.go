package pipeline_test

import (
	"bytes"
	"io"
	"math"
	"testing"
	"time"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/pipeline"
)

// dayTable is one day of 1 s samples over three columns, with every 97th
// power reading missing.
func dayTable() model.Table {
	const n = 24 * 60 * 60
	start := time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)
	tbl := model.NewTable([]string{"P_total", "U_L1", "I_L1"})
	tbl.Index = make([]time.Time, n)
	for c := range tbl.Values {
		tbl.Values[c] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		tbl.Index[i] = start.Add(time.Duration(i) * time.Second)
		p := 40 + 25*math.Sin(float64(i)/4000)
		if i%97 == 0 {
			p = math.NaN()
		}
		tbl.Values[0][i] = p
		tbl.Values[1][i] = 230 + math.Sin(float64(i)/60)
		tbl.Values[2][i] = 12.5
	}
	return tbl
}

func BenchmarkWriteTable(b *testing.B) {
	tbl := dayTable()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := pipeline.WriteTable(io.Discard, tbl); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkReadTable(b *testing.B) {
	var buf bytes.Buffer
	if err := pipeline.WriteTable(&buf, dayTable()); err != nil {
		b.Fatal(err)
	}
	data := buf.Bytes()
	b.SetBytes(int64(len(data)))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := pipeline.ReadTable(bytes.NewReader(data)); err != nil {
			b.Fatal(err)
		}
	}
}
