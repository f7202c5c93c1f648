package objstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/util"
)

// Fixed object layout:
//
//	<project>/All/YYYY.MM.DD/*.csv                 raw exports
//	<project>/config/process_settings.json         per-project settings
//	<project>/Stat/weekday.csv, weekend.csv        published percentile tables
//	<project>/Stat/state.json                      recompute state
//	<project>/Stat/calendar_<Y>_region_*.json      regional calendars
//	Calendar/calendar_<Y>.json                     base calendar
//
// A project is a top-level prefix whose name ends in "(<digits>)".
const (
	DataDir     = "All"
	StatDir     = "Stat"
	ConfigDir   = "config"
	CalendarDir = "Calendar"

	WeekdayFile  = "weekday.csv"
	WeekendFile  = "weekend.csv"
	StateFile    = "state.json"
	SettingsFile = "process_settings.json"
)

var projectRE = regexp.MustCompile(`^.*\(\d+\)$`)

// IsProjectName reports whether name is a valid project prefix name.
func IsProjectName(name string) bool {
	return projectRE.MatchString(name)
}

// DataPrefix is "<project>/All/".
func DataPrefix(project string) string { return project + "/" + DataDir + "/" }

// DayPrefix is "<project>/All/<day>/".
func DayPrefix(project, day string) string { return DataPrefix(project) + day + "/" }

// StatKey is "<project>/Stat/<name>".
func StatKey(project, name string) string { return project + "/" + StatDir + "/" + name }

// SettingsKey is "<project>/config/process_settings.json".
func SettingsKey(project string) string { return project + "/" + ConfigDir + "/" + SettingsFile }

// BaseCalendarKey is "Calendar/calendar_<year>.json".
func BaseCalendarKey(year int) string {
	return fmt.Sprintf("%s/calendar_%d.json", CalendarDir, year)
}

// RegionCalendarPrefix is "<project>/Stat/calendar_<year>_region_".
func RegionCalendarPrefix(project string, year int) string {
	return StatKey(project, fmt.Sprintf("calendar_%d_region_", year))
}

// ─── Discovery ────────────────────────────────────────────────────────────────

// Projects lists project names that hold at least one object under All/,
// sorted.
func Projects(ctx context.Context, s Store) ([]string, error) {
	tops, err := s.Prefixes(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	var out []string
	for _, p := range tops {
		name := strings.TrimSuffix(p, "/")
		if !IsProjectName(name) {
			continue
		}
		days, err := s.Prefixes(ctx, DataPrefix(name))
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", name, err)
		}
		if len(days) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Days lists the YYYY.MM.DD partitions of a project in ascending order.
func Days(ctx context.Context, s Store, project string) ([]string, error) {
	base := DataPrefix(project)
	prefixes, err := s.Prefixes(ctx, base)
	if err != nil {
		return nil, fmt.Errorf("listing days of %s: %w", project, err)
	}
	var out []string
	for _, p := range prefixes {
		day := strings.TrimSuffix(strings.TrimPrefix(p, base), "/")
		if util.IsDayLabel(day) {
			out = append(out, day)
		}
	}
	sort.Strings(out)
	return out, nil
}

// DayFiles lists the .csv objects (case-insensitive suffix) in a day
// partition, sorted by key.
func DayFiles(ctx context.Context, s Store, project, day string) ([]model.ObjectInfo, error) {
	objs, err := s.List(ctx, DayPrefix(project, day))
	if err != nil {
		return nil, fmt.Errorf("listing %s/%s: %w", project, day, err)
	}
	var out []model.ObjectInfo
	for _, o := range objs {
		if strings.HasSuffix(strings.ToLower(o.Key), ".csv") {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// DayFingerprint summarises a day partition: csv count, greatest key and
// greatest LastModified (naive ISO-8601 in UTC, empty when no files).
func DayFingerprint(ctx context.Context, s Store, project, day string) (model.Fingerprint, error) {
	files, err := DayFiles(ctx, s, project, day)
	if err != nil {
		return model.Fingerprint{}, err
	}
	fp := model.Fingerprint{Day: day, FileCount: len(files)}
	var newest time.Time
	for _, f := range files {
		if f.Key > fp.MaxKey {
			fp.MaxKey = f.Key
		}
		if f.LastModified.After(newest) {
			newest = f.LastModified
		}
	}
	if !newest.IsZero() {
		fp.MaxLastModified = util.FormatISO(newest)
	}
	return fp, nil
}

// GetOptional is Get that maps ErrNotFound to (nil, nil).
func GetOptional(ctx context.Context, s Store, key string) ([]byte, error) {
	data, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return data, err
}

// Exists reports whether key is present.
func Exists(ctx context.Context, s Store, key string) (bool, error) {
	objs, err := s.List(ctx, key)
	if err != nil {
		return false, err
	}
	for _, o := range objs {
		if o.Key == key {
			return true, nil
		}
	}
	return false, nil
}
