// Package ratelimit paces outbound calls to each provider's published quota
// with one token bucket per provider. Buckets are independent and never
// share tokens; waiting is handled by rate.Limiter's reservation machinery,
// which blocks iteratively and honours context cancellation.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/masatokaneko/ledgerlink/internal/access/obs"
	"github.com/masatokaneko/ledgerlink/internal/access/provider"
)

// Registry owns the per-provider limiters, constructed once at startup.
type Registry struct {
	limiters map[string]*rate.Limiter
}

// NewRegistry builds one bucket per configured provider: refill rate is the
// published requests-per-minute quota, capacity is the burst.
func NewRegistry(providers *provider.Registry) (*Registry, error) {
	limiters := make(map[string]*rate.Limiter)
	for _, name := range providers.Names() {
		p, err := providers.Get(name)
		if err != nil {
			return nil, err
		}
		if p.RequestsPerMinute <= 0 {
			return nil, fmt.Errorf("ratelimit: provider %q has no quota configured", name)
		}
		perSecond := rate.Limit(float64(p.RequestsPerMinute) / 60.0)
		limiters[name] = rate.NewLimiter(perSecond, p.Burst)
	}
	return &Registry{limiters: limiters}, nil
}

// Acquire blocks until a slot is available for the provider or ctx is done.
func (r *Registry) Acquire(ctx context.Context, providerName string) error {
	limiter, ok := r.limiters[providerName]
	if !ok {
		return fmt.Errorf("ratelimit: unknown provider %q", providerName)
	}

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("ratelimit: wait for %s slot: %w", providerName, err)
	}
	obs.ObserveLimiterWait(providerName, time.Since(start))
	return nil
}

// TryAcquire consumes a slot without waiting, reporting whether one was
// available.
func (r *Registry) TryAcquire(providerName string) bool {
	limiter, ok := r.limiters[providerName]
	if !ok {
		return false
	}
	return limiter.Allow()
}

// Tokens reports the provider bucket's current token count. Exposed for
// observability and tests.
func (r *Registry) Tokens(providerName string) float64 {
	limiter, ok := r.limiters[providerName]
	if !ok {
		return 0
	}
	return limiter.Tokens()
}
