// Package app wires together configuration, logging, metrics, the local
// bolt database and the object store into a single Deps struct that
// commands receive at runtime.
package app

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/derickschaefer/meterstat/internal/config"
	"github.com/derickschaefer/meterstat/internal/metrics"
	"github.com/derickschaefer/meterstat/internal/objstore"
	"github.com/derickschaefer/meterstat/internal/pipeline"
	"github.com/derickschaefer/meterstat/internal/profile"
	"github.com/derickschaefer/meterstat/internal/recompute"
	"github.com/derickschaefer/meterstat/internal/store"
)

// Deps holds all runtime dependencies injected into command Run functions.
type Deps struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
	// DB is the local bolt database: run history always, and the object
	// data itself for the bolt backend.
	DB *store.Store
	// Store is the configured backend behind the rate limiter, retries and
	// circuit breaker.
	Store objstore.Store
	Guard *objstore.Guarded
}

// NewLogger builds the process logger: human-readable console output when
// stderr is a terminal, JSON lines otherwise.
func NewLogger(w io.Writer, level string, console bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// StderrIsTerminal reports whether stderr is attached to a terminal.
func StderrIsTerminal() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// New builds a Deps from resolved config. The config must already be
// validated. Call Close when done.
func New(cfg *config.Config) (*Deps, error) {
	return NewWithLogger(cfg, processLogger(cfg))
}

// NewReader is New for long-running readers; see NewReaderWithLogger.
func NewReader(cfg *config.Config) (*Deps, error) {
	return NewReaderWithLogger(cfg, processLogger(cfg))
}

func processLogger(cfg *config.Config) zerolog.Logger {
	log := NewLogger(os.Stderr, cfg.LogLevel, StderrIsTerminal())
	if cfg.Quiet {
		log = log.Level(zerolog.ErrorLevel)
	}
	return log
}

// NewWithLogger is New with an explicit logger.
func NewWithLogger(cfg *config.Config, log zerolog.Logger) (*Deps, error) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	d, err := assemble(cfg, log, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// NewReaderWithLogger builds Deps for long-running readers such as the HTTP
// server. With the s3 backend no local database is opened (DB is nil),
// leaving the write lock to recompute; with the bolt backend the database
// is opened read-only.
func NewReaderWithLogger(cfg *config.Config, log zerolog.Logger) (*Deps, error) {
	if cfg.Backend != config.BackendBolt {
		return assemble(cfg, log, nil)
	}
	db, err := store.OpenReadOnly(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	d, err := assemble(cfg, log, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// assemble builds the backend and its guard. db may be nil unless the
// backend is bolt.
func assemble(cfg *config.Config, log zerolog.Logger, db *store.Store) (*Deps, error) {
	var backend objstore.Store
	switch cfg.Backend {
	case config.BackendBolt:
		backend = objstore.NewBolt(db)
	case config.BackendS3:
		s3, err := objstore.NewS3(objstore.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			EndpointURL:     cfg.S3.EndpointURL,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
		if err != nil {
			return nil, err
		}
		backend = s3
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	m := metrics.New()
	guard := objstore.NewGuarded(backend, objstore.GuardOptions{
		RatePerSec: cfg.Rate,
		Timeout:    cfg.Timeout,
		Retries:    cfg.Retries,
		Logger:     log,
		Observe:    m.ObserveStore,
	})

	log.Debug().Str("backend", cfg.Backend).Str("db", cfg.DBPath).
		Float64("rate", cfg.Rate).Dur("timeout", cfg.Timeout).Msg("dependencies ready")

	return &Deps{
		Config:  cfg,
		Logger:  log,
		Metrics: m,
		DB:      db,
		Store:   guard,
		Guard:   guard,
	}, nil
}

// Close releases the bolt database.
func (d *Deps) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}

// Scheduler returns a recompute scheduler over the guarded store, recording
// run history in the bolt database.
func (d *Deps) Scheduler() *recompute.Scheduler {
	s := recompute.New(d.Store, d.Logger)
	s.Metrics = d.Metrics
	s.Runs = d.DB
	s.TargetColumn = d.Config.TargetColumn
	s.FallbackAggMinutes = d.Config.AggMinutes
	return s
}

// Builder returns a day-profile builder over the guarded store.
func (d *Deps) Builder() *profile.Builder {
	return profile.NewBuilder(d.Store, d.Logger)
}

// Interactive reports whether stdout is a terminal.
func (d *Deps) Interactive() bool {
	return pipeline.IsTTY()
}
