// Package calendar classifies days as working or non-working from
// production-calendar documents kept in the object store.
//
// A calendar document lists every non-working day of one year (weekends
// included) month by month:
//
//	{"year": 2025, "months": [{"month": 1, "days": "1,2,3*,4,5,11+,12"}, ...]}
//
// Only the leading integer of each token counts; markers such as '*'
// (shortened day) or '+' (moved day off) are ignored. The base calendar
// applies to every project; region calendars add project-specific days.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/derickschaefer/meterstat/internal/objstore"
)

// Date is a calendar day without time or zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar day of t in its own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{y, m, d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// HolidaySet is the set of non-working days of one year.
type HolidaySet map[Date]struct{}

// Contains reports whether d is in the set.
func (s HolidaySet) Contains(d Date) bool {
	_, ok := s[d]
	return ok
}

// Union returns a new set holding the days of s and every other set.
func (s HolidaySet) Union(others ...HolidaySet) HolidaySet {
	out := make(HolidaySet, len(s))
	for d := range s {
		out[d] = struct{}{}
	}
	for _, o := range others {
		for d := range o {
			out[d] = struct{}{}
		}
	}
	return out
}

// ─── Parsing ──────────────────────────────────────────────────────────────────

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

var leadingInt = regexp.MustCompile(`^(\d+)`)

// flexInt accepts 2025 or "2025".
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("not an integer: %s", b)
	}
	*f = flexInt(n)
	return nil
}

// flexDays accepts "1,2,3*" or a JSON array of numbers/strings.
type flexDays string

func (f *flexDays) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexDays(s)
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		parts := make([]string, len(items))
		for i, it := range items {
			parts[i] = strings.Trim(string(it), `"`)
		}
		*f = flexDays(strings.Join(parts, ","))
	default:
		*f = flexDays(b)
	}
	return nil
}

type document struct {
	Year   *flexInt `json:"year"`
	Months []struct {
		Month json.RawMessage `json:"month"`
		Days  flexDays        `json:"days"`
	} `json:"months"`
}

// Parse decodes a calendar document (UTF-8, optional BOM). Tokens that are
// not numbers or do not form a valid date are dropped individually; a month
// entry with an unusable month number is skipped.
func Parse(data []byte) (HolidaySet, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding calendar: %w", err)
	}
	if doc.Year == nil {
		return nil, fmt.Errorf("decoding calendar: missing year")
	}
	year := int(*doc.Year)

	out := make(HolidaySet)
	for _, m := range doc.Months {
		var month flexInt
		if err := month.UnmarshalJSON(m.Month); err != nil || month < 1 || month > 12 {
			continue
		}
		for _, tok := range strings.Split(string(m.Days), ",") {
			mm := leadingInt.FindStringSubmatch(strings.TrimSpace(tok))
			if mm == nil {
				continue
			}
			day, _ := strconv.Atoi(mm[1])
			if !validDate(year, time.Month(month), day) {
				continue
			}
			out[Date{year, time.Month(month), day}] = struct{}{}
		}
	}
	return out, nil
}

func validDate(y int, m time.Month, d int) bool {
	if d < 1 || d > 31 {
		return false
	}
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return t.Year() == y && t.Month() == m && t.Day() == d
}

// ─── Cache ────────────────────────────────────────────────────────────────────

type regionKey struct {
	project string
	year    int
}

// Cache memoises loaded calendars for the lifetime of one run. Safe for
// concurrent use.
type Cache struct {
	mu     sync.Mutex
	base   map[int]HolidaySet
	region map[regionKey]HolidaySet
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{
		base:   make(map[int]HolidaySet),
		region: make(map[regionKey]HolidaySet),
	}
}

// Len returns the number of cached base and region entries.
func (c *Cache) Len() (base, region int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.base), len(c.region)
}

// ─── Classifier ───────────────────────────────────────────────────────────────

// Classifier answers working/non-working questions for project days.
type Classifier struct {
	Store  objstore.Store
	Cache  *Cache
	Logger zerolog.Logger
}

// NewClassifier returns a Classifier with a fresh cache.
func NewClassifier(s objstore.Store, log zerolog.Logger) *Classifier {
	return &Classifier{Store: s, Cache: NewCache(), Logger: log}
}

// Holidays returns the union of the base calendar and every region calendar
// of project for year. A missing base calendar is an empty set; a region
// calendar that cannot be read or decoded is logged and skipped.
func (c *Classifier) Holidays(ctx context.Context, project string, year int) (HolidaySet, error) {
	if c.Cache == nil {
		c.Cache = NewCache()
	}
	base, err := c.baseSet(ctx, year)
	if err != nil {
		return nil, err
	}
	region, err := c.regionSet(ctx, project, year)
	if err != nil {
		return nil, err
	}
	return base.Union(region), nil
}

// IsNonWorking reports whether day is a weekend or holiday for project.
func (c *Classifier) IsNonWorking(ctx context.Context, project string, day time.Time) (bool, error) {
	d := DateOf(day)
	set, err := c.Holidays(ctx, project, d.Year)
	if err != nil {
		return false, err
	}
	return set.Contains(d), nil
}

func (c *Classifier) baseSet(ctx context.Context, year int) (HolidaySet, error) {
	c.Cache.mu.Lock()
	set, ok := c.Cache.base[year]
	c.Cache.mu.Unlock()
	if ok {
		return set, nil
	}

	key := objstore.BaseCalendarKey(year)
	data, err := objstore.GetOptional(ctx, c.Store, key)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	set = HolidaySet{}
	if data != nil {
		set, err = Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	} else {
		c.Logger.Debug().Int("year", year).Str("key", key).Msg("no base calendar")
	}

	c.Cache.mu.Lock()
	c.Cache.base[year] = set
	c.Cache.mu.Unlock()
	return set, nil
}

func (c *Classifier) regionSet(ctx context.Context, project string, year int) (HolidaySet, error) {
	rk := regionKey{project, year}
	c.Cache.mu.Lock()
	set, ok := c.Cache.region[rk]
	c.Cache.mu.Unlock()
	if ok {
		return set, nil
	}

	prefix := objstore.RegionCalendarPrefix(project, year)
	objs, err := c.Store.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing region calendars %s: %w", prefix, err)
	}
	set = HolidaySet{}
	for _, o := range objs {
		if !strings.HasSuffix(strings.ToLower(o.Key), ".json") {
			continue
		}
		data, err := c.Store.Get(ctx, o.Key)
		if err != nil {
			c.Logger.Warn().Err(err).Str("key", o.Key).Msg("skipping unreadable region calendar")
			continue
		}
		days, err := Parse(data)
		if err != nil {
			c.Logger.Warn().Err(err).Str("key", o.Key).Msg("skipping malformed region calendar")
			continue
		}
		set = set.Union(days)
	}

	c.Cache.mu.Lock()
	c.Cache.region[rk] = set
	c.Cache.mu.Unlock()
	return set, nil
}
