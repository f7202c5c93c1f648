// Package recompute keeps each project's published percentile tables in
// step with its raw data.
//
// For every project the scheduler fingerprints the most recent day
// partition and compares it, together with the compute parameters, against
// the state.json written by the previous run. When nothing changed and both
// tables are present the project is skipped; otherwise every day is rebuilt,
// classified as working or non-working, and the weekday and weekend
// percentile tables are rewritten followed by a new state record.
package recompute

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/derickschaefer/meterstat/internal/analyze"
	"github.com/derickschaefer/meterstat/internal/calendar"
	"github.com/derickschaefer/meterstat/internal/metrics"
	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/objstore"
	"github.com/derickschaefer/meterstat/internal/profile"
	"github.com/derickschaefer/meterstat/internal/rawcsv"
	"github.com/derickschaefer/meterstat/internal/store"
	"github.com/derickschaefer/meterstat/internal/util"
)

const (
	DefaultTargetColumn = "P_total"
	DefaultAggMinutes   = 5

	// SettingsAggKey is the process_settings.json key holding the
	// per-project bucket width in minutes.
	SettingsAggKey = "plot_agg_minutes"
)

// Why a project was recomputed.
const (
	ReasonInputChanged   = "input_changed"
	ReasonParamsChanged  = "params_changed"
	ReasonOutputsMissing = "outputs_missing"
)

// ErrMalformedState is returned by LoadState when state.json exists but
// cannot be decoded.
var ErrMalformedState = errors.New("malformed state")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Scheduler runs the incremental recompute over a Store.
type Scheduler struct {
	Store   objstore.Store
	Builder *profile.Builder
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Runs, when set, receives one RunRecord per Run.
	Runs *store.Store

	TargetColumn       string
	FallbackAggMinutes int
	Percentiles        []model.Percentile
	Now                func() time.Time
}

// New returns a Scheduler with default parameters.
func New(s objstore.Store, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Store:              s,
		Builder:            profile.NewBuilder(s, log),
		Logger:             log,
		TargetColumn:       DefaultTargetColumn,
		FallbackAggMinutes: DefaultAggMinutes,
		Percentiles:        model.DefaultPercentiles,
		Now:                time.Now,
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) target() string {
	if s.TargetColumn == "" {
		return DefaultTargetColumn
	}
	return s.TargetColumn
}

func (s *Scheduler) fallback() int {
	if s.FallbackAggMinutes <= 0 {
		return DefaultAggMinutes
	}
	return s.FallbackAggMinutes
}

func (s *Scheduler) percentiles() []model.Percentile {
	if len(s.Percentiles) == 0 {
		return model.DefaultPercentiles
	}
	return s.Percentiles
}

func (s *Scheduler) builder() *profile.Builder {
	if s.Builder == nil {
		s.Builder = profile.NewBuilder(s.Store, s.Logger)
	}
	return s.Builder
}

// ─── Run ──────────────────────────────────────────────────────────────────────

// Run processes projects one after another; a nil or empty list means every
// discovered project. A failing project is recorded as StatusError and the
// run moves on. Calendars are cached for the duration of the call.
//
// The returned error is non-nil only when discovery fails or ctx ends; the
// record then holds the outcomes gathered so far.
func (s *Scheduler) Run(ctx context.Context, projects []string) (model.RunRecord, error) {
	rec := model.RunRecord{ID: store.NewRunID(), StartedAt: s.now().UTC()}

	if len(projects) == 0 {
		found, err := objstore.Projects(ctx, s.Store)
		if err != nil {
			return rec, err
		}
		projects = found
	}
	s.Logger.Info().Str("run", rec.ID).Int("projects", len(projects)).Msg("recompute started")

	cls := calendar.NewClassifier(s.Store, s.Logger)
	var runErr error
	for _, p := range projects {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		out, _ := s.runProject(ctx, p, cls)
		rec.Outcomes = append(rec.Outcomes, out)
	}
	rec.FinishedAt = s.now().UTC()

	counts := rec.Counts()
	s.Logger.Info().Str("run", rec.ID).
		Int(string(model.StatusOK), counts[model.StatusOK]).
		Int(string(model.StatusSkippedNoChanges), counts[model.StatusSkippedNoChanges]).
		Int(string(model.StatusSkippedNoDays), counts[model.StatusSkippedNoDays]).
		Int(string(model.StatusError), counts[model.StatusError]).
		Dur("elapsed", rec.FinishedAt.Sub(rec.StartedAt)).
		Msg("recompute finished")

	s.Metrics.ObserveRun(rec)
	if s.Runs != nil {
		if _, err := s.Runs.PutRun(rec); err != nil {
			s.Logger.Warn().Err(err).Str("run", rec.ID).Msg("could not record run history")
		}
	}
	return rec, runErr
}

// RunProject processes one project with a private calendar cache. The error
// mirrors Outcome.Error for StatusError outcomes.
func (s *Scheduler) RunProject(ctx context.Context, project string) (model.ProjectOutcome, error) {
	return s.runProject(ctx, project, calendar.NewClassifier(s.Store, s.Logger))
}

func (s *Scheduler) runProject(ctx context.Context, project string, cls *calendar.Classifier) (model.ProjectOutcome, error) {
	start := time.Now()
	out, err := s.recompute(ctx, project, cls)
	out.Project = project
	out.DurationMs = time.Since(start).Milliseconds()

	log := s.Logger.With().Str("project", project).Logger()
	if err != nil {
		out.Status, out.Error = model.StatusError, err.Error()
		log.Error().Err(err).Int64("ms", out.DurationMs).Msg("project failed")
	} else {
		log.Info().Str("status", string(out.Status)).Str("reason", out.Reason).
			Str("last_day", out.LastDay).Int64("ms", out.DurationMs).Msg("project done")
	}
	s.Metrics.ObserveProject(out.Status, time.Since(start))
	return out, err
}

// ─── One Project ──────────────────────────────────────────────────────────────

func (s *Scheduler) recompute(ctx context.Context, project string, cls *calendar.Classifier) (model.ProjectOutcome, error) {
	var out model.ProjectOutcome

	days, err := s.days(ctx, project)
	if err != nil {
		return out, err
	}
	if len(days) == 0 {
		out.Status = model.StatusSkippedNoDays
		return out, nil
	}
	lastDay := days[len(days)-1]
	out.LastDay = lastDay

	fp, err := objstore.DayFingerprint(ctx, s.Store, project, lastDay)
	if err != nil {
		return out, err
	}
	prev, _, err := LoadState(ctx, s.Store, project)
	if errors.Is(err, ErrMalformedState) {
		s.Logger.Warn().Err(err).Str("project", project).Msg("ignoring unreadable state")
		prev, err = model.RecomputeState{}, nil
	}
	if err != nil {
		return out, err
	}
	agg, err := AggMinutes(ctx, s.Store, project, s.fallback())
	if err != nil {
		return out, err
	}
	params := model.ComputeParams{
		TargetColumn: s.target(),
		AggMinutes:   agg,
		Percentiles:  model.PercentileLevels(s.percentiles()),
	}

	sameInput := prev.Fingerprint() == fp
	sameParams := prev.Params().Equal(params)
	outputsOK, err := s.outputsPresent(ctx, project)
	if err != nil {
		return out, err
	}
	switch {
	case sameInput && sameParams && outputsOK:
		out.Status = model.StatusSkippedNoChanges
		out.DaysWeekday, out.DaysWeekend = prev.DaysWeekday, prev.DaysWeekend
		return out, nil
	case !sameInput:
		out.Reason = ReasonInputChanged
	case !sameParams:
		out.Reason = ReasonParamsChanged
	default:
		out.Reason = ReasonOutputsMissing
	}
	s.Logger.Debug().Str("project", project).Str("reason", out.Reason).Int("days", len(days)).
		Int("agg_minutes", agg).Msg("recomputing all days")

	if err := profile.ValidateWidth(agg); err != nil {
		return out, fmt.Errorf("%s: %w", objstore.SettingsKey(project), err)
	}

	var weekday, weekend []model.DayProfile
	for _, day := range days {
		t, _ := util.ParseDay(day)
		nonWorking, err := cls.IsNonWorking(ctx, project, t)
		if err != nil {
			return out, err
		}
		p, rep, err := s.builder().Build(ctx, project, day, params.TargetColumn, agg)
		if err != nil {
			return out, fmt.Errorf("building %s: %w", day, err)
		}
		s.Metrics.AddSkippedFiles(rep.Skipped())
		if nonWorking {
			weekend = append(weekend, p)
		} else {
			weekday = append(weekday, p)
		}
	}

	if err := s.publish(ctx, project, objstore.WeekdayFile, weekday, agg); err != nil {
		return out, err
	}
	if err := s.publish(ctx, project, objstore.WeekendFile, weekend, agg); err != nil {
		return out, err
	}

	state := model.RecomputeState{
		SchemaVersion:          model.StateSchemaVersion,
		ComputedAt:             util.FormatUTC(s.now()),
		LastDay:                fp.Day,
		LastDayFileCount:       fp.FileCount,
		LastDayMaxKey:          fp.MaxKey,
		LastDayMaxLastModified: fp.MaxLastModified,
		AggMinutes:             agg,
		TargetColumn:           params.TargetColumn,
		Percentiles:            params.Percentiles,
		PercentileLabels:       model.PercentileLabels(s.percentiles()),
		DaysTotal:              len(days),
		DaysWeekday:            len(weekday),
		DaysWeekend:            len(weekend),
	}
	if err := SaveState(ctx, s.Store, project, state); err != nil {
		return out, err
	}

	s.Metrics.AddDays("weekday", len(weekday))
	s.Metrics.AddDays("weekend", len(weekend))
	out.Status = model.StatusOK
	out.DaysWeekday, out.DaysWeekend = len(weekday), len(weekend)
	return out, nil
}

// days lists the project's partitions that name a real calendar date.
func (s *Scheduler) days(ctx context.Context, project string) ([]string, error) {
	labels, err := objstore.Days(ctx, s.Store, project)
	if err != nil {
		return nil, err
	}
	out := labels[:0]
	for _, d := range labels {
		if _, err := util.ParseDay(d); err != nil {
			s.Logger.Warn().Str("project", project).Str("day", d).Msg("ignoring partition with invalid date")
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (s *Scheduler) outputsPresent(ctx context.Context, project string) (bool, error) {
	for _, name := range []string{objstore.WeekdayFile, objstore.WeekendFile} {
		data, err := objstore.GetOptional(ctx, s.Store, objstore.StatKey(project, name))
		if err != nil {
			return false, fmt.Errorf("reading %s: %w", name, err)
		}
		if len(data) == 0 {
			return false, nil
		}
	}
	return true, nil
}

func (s *Scheduler) publish(ctx context.Context, project, name string, group []model.DayProfile, agg int) error {
	q, err := analyze.Quantiles(group, agg, s.percentiles())
	if err != nil {
		return err
	}
	data, err := rawcsv.EncodeQuantiles(q)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	key := objstore.StatKey(project, name)
	if err := s.Store.Put(ctx, key, data, objstore.ContentTypeCSV); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// ─── State & Settings ─────────────────────────────────────────────────────────

// LoadState reads <project>/Stat/state.json. A missing or empty object
// yields the zero state and found == false; undecodable content yields the
// zero state and an error wrapping ErrMalformedState.
func LoadState(ctx context.Context, st objstore.Store, project string) (model.RecomputeState, bool, error) {
	key := objstore.StatKey(project, objstore.StateFile)
	data, err := objstore.GetOptional(ctx, st, key)
	if err != nil {
		return model.RecomputeState{}, false, fmt.Errorf("reading %s: %w", key, err)
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if len(bytes.TrimSpace(data)) == 0 {
		return model.RecomputeState{}, false, nil
	}
	var state model.RecomputeState
	if err := json.Unmarshal(data, &state); err != nil {
		return model.RecomputeState{}, true, fmt.Errorf("%s: %v: %w", key, err, ErrMalformedState)
	}
	return state, true, nil
}

// SaveState writes state as indented JSON with a trailing newline.
func SaveState(ctx context.Context, st objstore.Store, project string, state model.RecomputeState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	data = append(data, '\n')
	key := objstore.StatKey(project, objstore.StateFile)
	if err := st.Put(ctx, key, data, objstore.ContentTypeJSON); err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// AggMinutes returns plot_agg_minutes from the project's
// process_settings.json. A missing file or key, undecodable JSON, and
// values that are not a positive integer all give fallback. Only a failure
// to reach the store is an error.
func AggMinutes(ctx context.Context, st objstore.Store, project string, fallback int) (int, error) {
	key := objstore.SettingsKey(project)
	data, err := objstore.GetOptional(ctx, st, key)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", key, err)
	}
	if len(data) == 0 {
		return fallback, nil
	}
	var settings map[string]interface{}
	if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &settings); err != nil {
		return fallback, nil
	}
	v, ok := settings[SettingsAggKey]
	if !ok {
		return fallback, nil
	}
	n := 0
	switch x := v.(type) {
	case float64:
		n = int(x)
	case string:
		n, err = strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return fallback, nil
		}
	default:
		return fallback, nil
	}
	if n <= 0 {
		return fallback, nil
	}
	return n, nil
}
