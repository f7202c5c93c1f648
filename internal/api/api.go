// Package api serves the read-only HTTP API behind the dashboard: project
// and day discovery, on-the-fly aggregation of one day, and the published
// percentile tables.
package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/derickschaefer/meterstat/internal/calendar"
	"github.com/derickschaefer/meterstat/internal/metrics"
	"github.com/derickschaefer/meterstat/internal/model"
	"github.com/derickschaefer/meterstat/internal/objstore"
	"github.com/derickschaefer/meterstat/internal/profile"
	"github.com/derickschaefer/meterstat/internal/rawcsv"
	"github.com/derickschaefer/meterstat/internal/recompute"
	"github.com/derickschaefer/meterstat/internal/transform"
	"github.com/derickschaefer/meterstat/internal/util"
)

const (
	DefaultRule      = "1min"
	DefaultMaxPoints = 5000
	RequestTimeout   = 60 * time.Second

	msgNoData = "no data for this period"
)

// Server holds the handlers' dependencies.
type Server struct {
	Store   objstore.Store
	Builder *profile.Builder
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// Breaker, when set, reports the object store circuit state on /healthz.
	Breaker func() string
	Version string

	started time.Time
}

// New returns a Server reading from st.
func New(st objstore.Store, log zerolog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		Store:   st,
		Builder: profile.NewBuilder(st, log),
		Logger:  log,
		Metrics: m,
		started: time.Now(),
	}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(RequestTimeout))

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/projects", s.handleProjects)
		r.Route("/projects/{project}", func(r chi.Router) {
			r.Get("/days", s.handleDays)
			r.Get("/days/{day}/aggregate", s.handleAggregate)
			r.Get("/stats", s.handleStats)
			r.Get("/calendar/{date}", s.handleCalendar)
		})
	})
	return r
}

// logRequests logs one line per request and feeds the HTTP metrics.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.Metrics.ObserveHTTP(route, status, elapsed)
		s.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", elapsed).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	}
	if s.Version != "" {
		body["version"] = s.Version
	}
	if s.Breaker != nil {
		body["object_store"] = s.Breaker()
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := objstore.Projects(r.Context(), s.Store)
	if err != nil {
		s.fail(w, err)
		return
	}
	if projects == nil {
		projects = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"projects": projects})
}

func (s *Server) handleDays(w http.ResponseWriter, r *http.Request) {
	project, ok := pathParam(w, r, "project")
	if !ok {
		return
	}
	days, err := objstore.Days(r.Context(), s.Store, project)
	if err != nil {
		s.fail(w, err)
		return
	}
	if len(days) == 0 {
		respondError(w, http.StatusNotFound, msgNoData)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"project": project, "days": days})
}

// AggregateResponse is the body of the aggregate endpoint.
type AggregateResponse struct {
	Project      string          `json:"project"`
	Day          string          `json:"day"`
	Rule         string          `json:"rule"`
	Stat         string          `json:"stat"`
	Hours        []int           `json:"hours"`
	Columns      []string        `json:"columns"`
	Index        []time.Time     `json:"index"`
	Values       [][]interface{} `json:"values"`
	Files        int             `json:"files"`
	SkippedFiles int             `json:"skipped_files"`
	OutOfDay     int             `json:"out_of_day,omitempty"`
}

// handleAggregate loads one day, optionally narrows it to columns and a
// from/to time-of-day window, reduces it by rule and thins it to
// max_points rows.
func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	project, ok := pathParam(w, r, "project")
	if !ok {
		return
	}
	day, ok := pathParam(w, r, "day")
	if !ok {
		return
	}
	q := r.URL.Query()

	dayStart, err := util.ParseDay(day)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	spec := q.Get("rule")
	if spec == "" {
		spec = DefaultRule
	}
	rule, err := transform.ParseRule(spec)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	stat := q.Get("stat")
	if stat == "" {
		stat = model.StatMean
	}
	maxPoints := DefaultMaxPoints
	if v := q.Get("max_points"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "max_points must be a positive integer")
			return
		}
		maxPoints = n
	}
	from, to, err := window(dayStart, q.Get("from"), q.Get("to"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := s.Builder.LoadDay(r.Context(), project, day)
	if err != nil {
		s.fail(w, err)
		return
	}
	tbl := d.Table
	if cols := splitList(q.Get("columns")); len(cols) > 0 && !tbl.Empty() {
		tbl, err = transform.Select(tbl, cols)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	tbl = transform.Between(tbl, from, to)
	if tbl.Empty() {
		respondError(w, http.StatusNotFound, msgNoData)
		return
	}

	reduced, err := transform.Reduce(tbl, rule, stat)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	reduced = transform.Stride(reduced, maxPoints)

	values := make([][]interface{}, len(reduced.Values))
	for c, col := range reduced.Values {
		values[c] = nullable(col)
	}
	respondJSON(w, http.StatusOK, AggregateResponse{
		Project:      project,
		Day:          day,
		Rule:         rule.String(),
		Stat:         stat,
		Hours:        d.Hours,
		Columns:      reduced.Columns,
		Index:        reduced.Index,
		Values:       values,
		Files:        len(d.Report.Files),
		SkippedFiles: d.Report.Skipped(),
		OutOfDay:     d.Report.OutOfDay,
	})
}

// QuantileJSON is a percentile table with NaN cells as null.
type QuantileJSON struct {
	BucketMinutes int             `json:"bucket_minutes"`
	Labels        []string        `json:"labels"`
	Time          []string        `json:"time"`
	Rows          [][]interface{} `json:"rows"`
}

// StatsResponse is the body of the stats endpoint.
type StatsResponse struct {
	Project string                `json:"project"`
	State   *model.RecomputeState `json:"state"`
	Weekday *QuantileJSON         `json:"weekday"`
	Weekend *QuantileJSON         `json:"weekend"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	project, ok := pathParam(w, r, "project")
	if !ok {
		return
	}
	ctx := r.Context()
	resp := StatsResponse{Project: project}

	state, found, err := recompute.LoadState(ctx, s.Store, project)
	switch {
	case errors.Is(err, recompute.ErrMalformedState):
		s.Logger.Warn().Err(err).Str("project", project).Msg("unreadable state")
	case err != nil:
		s.fail(w, err)
		return
	case found:
		resp.State = &state
	}

	for name, dst := range map[string]**QuantileJSON{
		objstore.WeekdayFile: &resp.Weekday,
		objstore.WeekendFile: &resp.Weekend,
	} {
		data, err := objstore.GetOptional(ctx, s.Store, objstore.StatKey(project, name))
		if err != nil {
			s.fail(w, err)
			return
		}
		if len(data) == 0 {
			continue
		}
		qt, err := rawcsv.ReadQuantiles(data)
		if err != nil {
			s.Logger.Warn().Err(err).Str("project", project).Str("file", name).Msg("unreadable percentile table")
			continue
		}
		*dst = quantileJSON(qt)
	}

	if resp.State == nil && resp.Weekday == nil && resp.Weekend == nil {
		respondError(w, http.StatusNotFound, msgNoData)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	project, ok := pathParam(w, r, "project")
	if !ok {
		return
	}
	raw, ok := pathParam(w, r, "date")
	if !ok {
		return
	}
	date, err := util.ParseDate(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	cls := calendar.NewClassifier(s.Store, s.Logger)
	nonWorking, err := cls.IsNonWorking(r.Context(), project, date)
	if err != nil {
		s.fail(w, err)
		return
	}
	class := "weekday"
	if nonWorking {
		class = "weekend"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"project":     project,
		"date":        date.Format("2006-01-02"),
		"non_working": nonWorking,
		"class":       class,
	})
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidArgument):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, objstore.ErrNotFound):
		respondError(w, http.StatusNotFound, msgNoData)
	default:
		s.Logger.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// pathParam returns the unescaped URL parameter; chi routes on the raw path
// when the request path carries escapes.
func pathParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v, err := url.PathUnescape(chi.URLParam(r, name))
	if err != nil || v == "" {
		respondError(w, http.StatusBadRequest, "invalid "+name)
		return "", false
	}
	return v, true
}

// window turns optional HH:MM bounds into absolute times on day.
// window returns the [from, to) range inside day; empty bounds default to
// the day's midnights.
func window(day time.Time, from, to string) (time.Time, time.Time, error) {
	lo, hi := day, day.Add(24*time.Hour)
	if from != "" {
		m, err := clock(from)
		if err != nil {
			return lo, hi, err
		}
		lo = day.Add(time.Duration(m) * time.Minute)
	}
	if to != "" {
		m, err := clock(to)
		if err != nil {
			return lo, hi, err
		}
		hi = day.Add(time.Duration(m) * time.Minute)
	}
	return lo, hi, nil
}

func clock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		if s == "24:00" {
			return 24 * 60, nil
		}
		return 0, errors.New("time of day must be HH:MM")
	}
	return t.Hour()*60 + t.Minute(), nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nullable(vs []float64) []interface{} {
	out := make([]interface{}, len(vs))
	for i, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out[i] = v
	}
	return out
}

func quantileJSON(q model.QuantileTable) *QuantileJSON {
	out := &QuantileJSON{
		BucketMinutes: q.BucketMinutes,
		Labels:        model.PercentileLabels(q.Percentiles),
		Time:          make([]string, len(q.Rows)),
		Rows:          make([][]interface{}, len(q.Rows)),
	}
	for i, row := range q.Rows {
		out.Time[i] = q.TimeLabel(i)
		out.Rows[i] = nullable(row)
	}
	return out
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
