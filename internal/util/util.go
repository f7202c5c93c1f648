// Package util provides shared utilities: partition-day parsing, numeric
// cell coercion, number formatting and error aggregation.
package util

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ─── Day Labels ───────────────────────────────────────────────────────────────

const dayLayout = "2006.01.02"

var dayLabelRE = regexp.MustCompile(`^\d{4}\.\d{2}\.\d{2}$`)

// IsDayLabel reports whether s looks like a YYYY.MM.DD partition name.
func IsDayLabel(s string) bool {
	return dayLabelRE.MatchString(s)
}

// ParseDay parses a YYYY.MM.DD partition label into UTC midnight.
func ParseDay(s string) (time.Time, error) {
	if !IsDayLabel(s) {
		return time.Time{}, fmt.Errorf("invalid day %q: expected YYYY.MM.DD", s)
	}
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", s, err)
	}
	return t, nil
}

// FormatDay formats t as a YYYY.MM.DD partition label.
func FormatDay(t time.Time) string {
	return t.Format(dayLayout)
}

// ParseDate accepts either YYYY-MM-DD or YYYY.MM.DD.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(dayLayout, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
}

// FormatISO renders t in UTC as a zone-less ISO-8601 timestamp with a
// microsecond fraction only when non-zero: 2025-01-02T03:04:05[.123456].
func FormatISO(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 != 0 {
		return t.Format("2006-01-02T15:04:05.000000")
	}
	return t.Format("2006-01-02T15:04:05")
}

// FormatUTC renders t as ISO-8601 UTC with a trailing Z, second precision.
func FormatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// ─── Numeric Coercion ─────────────────────────────────────────────────────────

// ParseNumber coerces a raw measurement cell to float64.
// Regular and non-breaking spaces are removed, a decimal comma becomes a
// point and a trailing unit suffix ("kW", "%", "V") is stripped.
// Anything still unparseable is NaN; ParseNumber never fails.
func ParseNumber(s string) float64 {
	s = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "\t", "").Replace(s)
	s = strings.ReplaceAll(s, ",", ".")
	s = stripUnitSuffix(s)
	if s == "" {
		return math.NaN()
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func stripUnitSuffix(s string) string {
	end := len(s)
	for end > 0 && !isNumericChar(s[end-1]) {
		end--
	}
	return s[:end]
}

func isNumericChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9':
		return true
	case c == 'e', c == 'E', c == '+', c == '-', c == '.':
		return true
	}
	return false
}

// FormatDecimalComma formats v for a decimal-comma CSV cell in plain
// (non-exponent) notation. NaN renders as the empty string.
func FormatDecimalComma(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strings.Replace(decimal.NewFromFloat(v).String(), ".", ",", 1)
}

// ─── Error Helpers ────────────────────────────────────────────────────────────

// MultiError collects multiple errors and presents them as one.
type MultiError struct {
	Errors []error
}

func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

func (m *MultiError) Err() error {
	if len(m.Errors) == 0 {
		return nil
	}
	return m
}

func (m *MultiError) Error() string {
	msgs := make([]string, len(m.Errors))
	for i, e := range m.Errors {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
