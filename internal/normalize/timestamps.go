package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// AcceptRatio is the share of rows a timestamp strategy must parse to be
// accepted for a whole column.
const AcceptRatio = 0.8

// Parsed is the outcome of running one strategy over a column.
// OK[i] is false where cell i did not parse; Times[i] is then zero.
type Parsed struct {
	Strategy string
	Times    []time.Time
	OK       []bool
	Count    int // number of parsed cells
}

func newParsed(name string, n int) Parsed {
	return Parsed{Strategy: name, Times: make([]time.Time, n), OK: make([]bool, n)}
}

func (p *Parsed) set(i int, t time.Time) {
	p.Times[i] = t
	p.OK[i] = true
	p.Count++
}

// Strategy parses a whole timestamp column and reports whether the result
// is good enough to use. Strategies never panic and never return errors.
type Strategy struct {
	Name  string
	Parse func(cells []string) (Parsed, bool)
}

// DefaultStrategies is the ordered fallback chain: the strict export format
// with fractional seconds, generic layouts, then epoch seconds.
var DefaultStrategies = []Strategy{
	{Name: "fractional", Parse: parseFractional},
	{Name: "generic", Parse: parseGeneric},
	{Name: "epoch", Parse: parseEpoch},
}

// ParseColumn runs strategies in order and returns the first accepted result.
// When none is accepted, the attempt that parsed the most cells is returned
// (earliest wins a tie) and rows that failed are dropped by the caller.
func ParseColumn(cells []string, strategies []Strategy) Parsed {
	var best Parsed
	haveBest := false
	for _, s := range strategies {
		p, ok := s.Parse(cells)
		if ok {
			return p
		}
		if !haveBest || p.Count > best.Count {
			best, haveBest = p, true
		}
	}
	if !haveBest {
		return newParsed("none", len(cells))
	}
	return best
}

func accepted(count, total int) bool {
	if total == 0 {
		return false
	}
	return float64(count) >= float64(total)*AcceptRatio
}

// ─── Fractional seconds ───────────────────────────────────────────────────────

var fractionalRE = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})[ T](\d{2}:\d{2}:\d{2})(?:[,.](\d+))?$`)

// parseFractional handles YYYY-MM-DD[ T]HH:MM:SS[,|.]frac where frac is the
// decimal expansion of a fraction of a second: ",5" and ",50" are both 500ms.
// The column qualifies only when AcceptRatio of the cells match the pattern.
func parseFractional(cells []string) (Parsed, bool) {
	p := newParsed("fractional", len(cells))
	matched := 0
	for i, raw := range cells {
		m := fractionalRE.FindStringSubmatch(strings.TrimSpace(raw))
		if m == nil {
			continue
		}
		matched++
		base, err := time.Parse("2006-01-02 15:04:05", m[1]+" "+m[2])
		if err != nil {
			continue
		}
		p.set(i, base.Add(time.Duration(fractionMicros(m[3]))*time.Microsecond))
	}
	if !accepted(matched, len(cells)) {
		return p, false
	}
	return p, accepted(p.Count, len(cells))
}

// fractionMicros reads digits as a decimal fraction truncated or right-padded
// to six places: "5" → 500000, "0001" → 100, "1234567" → 123456.
func fractionMicros(digits string) int {
	if len(digits) > 6 {
		digits = digits[:6]
	}
	digits += strings.Repeat("0", 6-len(digits))
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return n
}

// ─── Generic layouts ──────────────────────────────────────────────────────────

var genericLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006.01.02 15:04:05",
	"02.01.2006 15:04:05",
	"02.01.2006 15:04",
	"02.01.2006",
	"01/02/2006 15:04:05",
}

// parseGeneric tries a fixed list of layouts per cell. Zone offsets are
// dropped: timestamps keep their wall-clock reading.
func parseGeneric(cells []string) (Parsed, bool) {
	p := newParsed("generic", len(cells))
	for i, raw := range cells {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		for _, layout := range genericLayouts {
			t, err := time.Parse(layout, s)
			if err == nil {
				p.set(i, wallClock(t))
				break
			}
		}
	}
	return p, accepted(p.Count, len(cells))
}

func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// ─── Epoch seconds ────────────────────────────────────────────────────────────

func parseEpoch(cells []string) (Parsed, bool) {
	p := newParsed("epoch", len(cells))
	for i, raw := range cells {
		s := strings.ReplaceAll(strings.TrimSpace(raw), ",", ".")
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		sec, frac := math.Modf(v)
		p.set(i, time.Unix(int64(sec), int64(math.Round(frac*1e6))*1000).UTC())
	}
	return p, accepted(p.Count, len(cells))
}
