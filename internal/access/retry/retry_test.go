package retry_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/apierr"
	"github.com/masatokaneko/ledgerlink/internal/access/retry"
	"github.com/stretchr/testify/require"
)

// fastPolicy keeps the backoff small so the tests run quickly.
func fastPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:   3,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Factor:       2,
	}
}

func TestPermanentlyFailingWorkIsInvokedExactlyFourTimes(t *testing.T) {
	invocations := 0
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		invocations++
		return apierr.FromStatus(503, "down")
	})

	require.Equal(t, 4, invocations, "1 initial + 3 retries")

	var exhausted *apierr.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
	require.Equal(t, apierr.KindTransientUpstream, apierr.KindOf(exhausted.Last))
}

func TestNonRetryableErrorStopsImmediately(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"validation", apierr.Validation("missing company_id")},
		{"auth", apierr.Auth(401, "refresh rejected")},
		{"permanent upstream", apierr.FromStatus(404, "")},
		{"untyped", errors.New("plain")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			invocations := 0
			err := fastPolicy().Do(context.Background(), func(context.Context) error {
				invocations++
				return tc.err
			})

			require.Equal(t, 1, invocations)
			require.ErrorIs(t, err, tc.err)

			var exhausted *apierr.ExhaustedError
			require.False(t, errors.As(err, &exhausted), "non-retryable errors are not wrapped")
		})
	}
}

func TestSucceedsOnThirdAttempt(t *testing.T) {
	invocations := 0
	err := fastPolicy().Do(context.Background(), func(context.Context) error {
		invocations++
		if invocations < 3 {
			return apierr.FromStatus(503, "")
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 3, invocations)
}

func TestNominalBackoffSequence(t *testing.T) {
	p := retry.Policy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2,
		Jitter:       true, // Backoff reports the pre-jitter sequence regardless
	}

	require.Equal(t, 1*time.Second, p.Backoff(0))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 4*time.Second, p.Backoff(2))
	require.Equal(t, 30*time.Second, p.Backoff(10), "delays cap at MaxDelay")

	// Non-decreasing.
	for i := 1; i < 12; i++ {
		require.GreaterOrEqual(t, p.Backoff(i), p.Backoff(i-1))
	}
}

func TestJitterScalesWithinRange(t *testing.T) {
	p := retry.Policy{
		MaxRetries:   1,
		InitialDelay: 20 * time.Millisecond,
		MaxDelay:     time.Second,
		Factor:       2,
		Jitter:       true,
	}

	var delays []time.Duration
	p.OnRetry = func(_ error, _ int, delay time.Duration) {
		delays = append(delays, delay)
	}

	for range 20 {
		_ = p.Do(context.Background(), func(context.Context) error {
			return apierr.FromStatus(503, "")
		})
	}

	require.NotEmpty(t, delays)
	for _, d := range delays {
		require.GreaterOrEqual(t, d, 10*time.Millisecond, "jitter floor is half the nominal delay")
		require.LessOrEqual(t, d, 20*time.Millisecond)
	}
}

func TestRetryAfterHintOverridesBackoff(t *testing.T) {
	p := retry.Policy{
		MaxRetries:   1,
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Factor:       2,
		HeaderBuffer: 10 * time.Millisecond,
	}

	rateLimited := &apierr.Error{
		Kind:       apierr.KindRateLimited,
		Status:     429,
		RetryAfter: 60 * time.Millisecond,
	}

	start := time.Now()
	_ = p.Do(context.Background(), func(context.Context) error { return rateLimited })
	elapsed := time.Since(start)

	require.GreaterOrEqual(t, elapsed, 70*time.Millisecond,
		"wait must honour the explicit hint plus the safety buffer")
}

func TestContextCancellationAbortsBackoff(t *testing.T) {
	p := retry.Policy{
		MaxRetries:   3,
		InitialDelay: time.Hour,
		MaxDelay:     time.Hour,
		Factor:       2,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	invocations := 0
	start := time.Now()
	err := p.Do(ctx, func(context.Context) error {
		invocations++
		return apierr.FromStatus(503, "")
	})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, invocations)
	require.Less(t, time.Since(start), time.Second)
}

func TestRetryAfterHeaderParsing(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("delta seconds", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "2")
		require.Equal(t, 2*time.Second, retry.RetryAfter(h, now))
	})

	t.Run("http date", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", now.Add(30*time.Second).Format(http.TimeFormat))
		require.Equal(t, 30*time.Second, retry.RetryAfter(h, now))
	})

	t.Run("rate limit reset epoch", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-RateLimit-Reset", "1748779215") // 15s after now
		require.Equal(t, 15*time.Second, retry.RetryAfter(h, now))
	})

	t.Run("retry-after wins over reset", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "5")
		h.Set("X-RateLimit-Reset", "1748779260")
		require.Equal(t, 5*time.Second, retry.RetryAfter(h, now))
	})

	t.Run("absent headers", func(t *testing.T) {
		require.Zero(t, retry.RetryAfter(http.Header{}, now))
	})

	t.Run("garbage", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "soon")
		require.Zero(t, retry.RetryAfter(h, now))
	})
}
