package objstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/derickschaefer/meterstat/internal/model"
)

const maxRetries = 4

// errAttemptTimeout marks a single attempt that ran past GuardOptions.Timeout
// while the caller's context was still live.
var errAttemptTimeout = errors.New("attempt timed out")

// GuardOptions configures a Guarded store.
type GuardOptions struct {
	RatePerSec float64       // sustained request rate; <= 0 disables limiting
	Timeout    time.Duration // per-attempt timeout; 0 = none
	Retries    int           // attempts per request; 0 = maxRetries
	Backoff    time.Duration // base backoff, doubled per attempt; 0 = 500ms
	// FailureThreshold consecutive failures open the breaker; 0 = 5.
	FailureThreshold uint32
	// OpenFor is how long the breaker stays open before probing; 0 = 30s.
	OpenFor time.Duration
	Logger  zerolog.Logger
	// Observe, when set, is called once per logical request.
	Observe func(op string, err error, elapsed time.Duration)
}

// Guarded wraps a Store with a token-bucket rate limiter, retry with
// exponential backoff on transient errors, and a circuit breaker.
// ErrNotFound and context cancellation are never retried and never count
// as breaker failures.
type Guarded struct {
	next    Store
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker
	opts    GuardOptions
}

// NewGuarded wraps next.
func NewGuarded(next Store, opts GuardOptions) *Guarded {
	if opts.Retries <= 0 {
		opts.Retries = maxRetries
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenFor <= 0 {
		opts.OpenFor = 30 * time.Second
	}

	var limiter *rate.Limiter
	if opts.RatePerSec > 0 {
		burst := int(opts.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), burst)
	}

	log := opts.Logger
	threshold := opts.FailureThreshold
	st := gobreaker.Settings{
		Name:    "objstore",
		Timeout: opts.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !transient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("object store circuit breaker state change")
		},
	}
	return &Guarded{next: next, limiter: limiter, cb: gobreaker.NewCircuitBreaker(st), opts: opts}
}

// State reports the breaker state (closed, half-open, open).
func (g *Guarded) State() string {
	return g.cb.State().String()
}

// transient reports whether err is worth retrying.
func transient(err error) bool {
	return !errors.Is(err, ErrNotFound) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded) &&
		!errors.Is(err, gobreaker.ErrOpenState) &&
		!errors.Is(err, gobreaker.ErrTooManyRequests)
}

// do runs fn under the limiter, the retry loop and the breaker.
func (g *Guarded) do(ctx context.Context, op, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	start := time.Now()
	v, err := g.attempts(ctx, op, key, fn)
	if g.opts.Observe != nil {
		g.opts.Observe(op, err, time.Since(start))
	}
	return v, err
}

func (g *Guarded) attempts(ctx context.Context, op, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	var lastErr error
	for attempt := 0; attempt < g.opts.Retries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Pow(2, float64(attempt-1))) * g.opts.Backoff
			g.opts.Logger.Debug().Str("op", op).Str("key", key).Int("attempt", attempt).
				Dur("backoff", backoff).Msg("retrying after backoff")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		v, err := g.cb.Execute(func() (interface{}, error) {
			actx := ctx
			if g.opts.Timeout > 0 {
				var cancel context.CancelFunc
				actx, cancel = context.WithTimeout(ctx, g.opts.Timeout)
				defer cancel()
			}
			v, err := fn(actx)
			if err != nil && actx.Err() != nil && ctx.Err() == nil {
				return nil, fmt.Errorf("%w: %v", errAttemptTimeout, err)
			}
			return v, err
		})
		if err == nil {
			return v, nil
		}
		if !transient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%s %s after %d attempts: %w", op, key, g.opts.Retries, lastErr)
}

func (g *Guarded) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := g.do(ctx, "get", key, func(ctx context.Context) (interface{}, error) {
		return g.next.Get(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (g *Guarded) List(ctx context.Context, prefix string) ([]model.ObjectInfo, error) {
	v, err := g.do(ctx, "list", prefix, func(ctx context.Context) (interface{}, error) {
		return g.next.List(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.ObjectInfo), nil
}

func (g *Guarded) Prefixes(ctx context.Context, prefix string) ([]string, error) {
	v, err := g.do(ctx, "prefixes", prefix, func(ctx context.Context) (interface{}, error) {
		return g.next.Prefixes(ctx, prefix)
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (g *Guarded) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := g.do(ctx, "put", key, func(ctx context.Context) (interface{}, error) {
		return nil, g.next.Put(ctx, key, data, contentType)
	})
	return err
}
