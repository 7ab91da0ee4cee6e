// Package retry executes a fallible unit of work with bounded exponential
// backoff. Rate-limited failures carrying an explicit Retry-After hint wait
// the larger of that hint (plus a safety buffer) and the computed backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/apierr"
)

// ShouldRetryFunc decides whether a failed attempt may be retried. attempt is
// zero-based: the initial attempt is 0.
type ShouldRetryFunc func(err error, attempt int) bool

// Policy holds the retry parameters.
type Policy struct {
	MaxRetries   int           // retries after the initial attempt
	InitialDelay time.Duration // backoff before the first retry
	MaxDelay     time.Duration // backoff cap
	Factor       float64       // exponential growth factor
	Jitter       bool          // scale delays by a uniform factor in [0.5, 1.0]

	// HeaderBuffer is added on top of an explicit Retry-After hint.
	HeaderBuffer time.Duration

	// ShouldRetry defaults to apierr.Retryable ignoring the attempt count.
	ShouldRetry ShouldRetryFunc

	// OnRetry is invoked before each backoff sleep, e.g. for metrics.
	OnRetry func(err error, attempt int, delay time.Duration)
}

// DefaultPolicy mirrors the documented defaults: 3 retries, 1s initial delay
// doubling to a 30s cap, jitter on.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2,
		Jitter:       true,
		HeaderBuffer: 500 * time.Millisecond,
	}
}

// Do runs op until it succeeds, exhausts the retry budget, or fails with a
// non-retryable error. With MaxRetries=N, op is invoked at most N+1 times.
// On exhaustion the last error is wrapped in *apierr.ExhaustedError carrying
// the retry count.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	shouldRetry := p.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = func(err error, _ int) bool { return apierr.Retryable(err) }
	}

	for attempt := 0; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if !shouldRetry(err, attempt) {
			return err
		}
		if attempt >= p.MaxRetries {
			return &apierr.ExhaustedError{Attempts: attempt, Last: err}
		}

		delay := p.delay(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(err, attempt, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// delay computes the wait before retrying the given attempt (zero-based).
func (p Policy) delay(attempt int, cause error) time.Duration {
	delay := p.backoff(attempt)

	// A 429 carrying an explicit reset wins over the backoff formula when
	// it asks for a longer wait.
	var e *apierr.Error
	if errors.As(cause, &e) && e.Kind == apierr.KindRateLimited && e.RetryAfter > 0 {
		if explicit := e.RetryAfter + p.HeaderBuffer; explicit > delay {
			delay = explicit
		}
	}
	return delay
}

// backoff returns the nominal exponential delay for attempt, jittered when
// enabled.
func (p Policy) backoff(attempt int) time.Duration {
	nominal := float64(p.InitialDelay) * math.Pow(p.Factor, float64(attempt))
	if capped := float64(p.MaxDelay); nominal > capped {
		nominal = capped
	}
	if p.Jitter {
		nominal *= 0.5 + 0.5*rand.Float64()
	}
	return time.Duration(nominal)
}

// Backoff exposes the nominal (pre-jitter) delay sequence for observability
// and tests.
func (p Policy) Backoff(attempt int) time.Duration {
	q := p
	q.Jitter = false
	return q.backoff(attempt)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryAfter extracts an explicit wait duration from upstream rate-limit
// headers: Retry-After (delta seconds or an HTTP date) or X-RateLimit-Reset
// (epoch seconds). Returns 0 when neither is present or parseable.
func RetryAfter(h http.Header, now time.Time) time.Duration {
	if v := h.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := at.Sub(now); d > 0 {
				return d
			}
		}
	}
	if v := h.Get("X-RateLimit-Reset"); v != "" {
		if epoch, err := strconv.ParseInt(v, 10, 64); err == nil {
			if d := time.Unix(epoch, 0).Sub(now); d > 0 {
				return d
			}
		}
	}
	return 0
}
