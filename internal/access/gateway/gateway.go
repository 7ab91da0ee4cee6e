// Package gateway is the single entry point for outbound provider calls. An
// invocation flows through validation, the request cache, the token manager,
// the provider's rate limiter and the retry controller, and every completed
// invocation leaves exactly one audit entry describing its final outcome.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/apierr"
	"github.com/masatokaneko/ledgerlink/internal/access/audit"
	"github.com/masatokaneko/ledgerlink/internal/access/cache"
	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/internal/access/obs"
	"github.com/masatokaneko/ledgerlink/internal/access/provider"
	"github.com/masatokaneko/ledgerlink/internal/access/ratelimit"
	"github.com/masatokaneko/ledgerlink/internal/access/retry"
	"github.com/masatokaneko/ledgerlink/internal/access/token"
	"github.com/masatokaneko/ledgerlink/pkg/slogx"
)

// DefaultCallTimeout bounds one whole invocation, including limiter waits and
// retry backoffs, when the caller's context carries no deadline of its own.
const DefaultCallTimeout = 2 * time.Minute

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 8 << 20

// Request describes one read call against a provider endpoint.
type Request struct {
	Provider string
	Endpoint string
	Params   map[string]string

	// Actor identifies the internal caller for the audit trail.
	Actor string
}

// Result is the outcome of a successful invocation.
type Result struct {
	Status    int
	Body      json.RawMessage
	FromCache bool

	// Attempts is how many upstream requests were issued; zero on a cache
	// hit.
	Attempts int
}

// Gateway mediates outbound provider calls.
type Gateway struct {
	Providers *provider.Registry
	Tokens    *token.Manager
	Limiter   *ratelimit.Registry
	Cache     *cache.Service
	Audit     *audit.Service
	Retry     retry.Policy

	// HTTPClient issues upstream requests. Per-request timeouts come from
	// the invocation context, so the client itself carries none.
	HTTPClient *http.Client

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Invoke performs one read call. Cached responses short-circuit the upstream
// entirely; otherwise the call acquires a token and a limiter slot per
// attempt and retries transient failures under the configured policy.
func (g *Gateway) Invoke(ctx context.Context, req Request) (Result, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	started := g.now()

	p, err := g.Providers.Get(req.Provider)
	if err != nil {
		verr := apierr.Validation(err.Error())
		g.record(ctx, req, started, 0, 0, verr)
		return Result{}, verr
	}

	if p.RequiresCompanyID {
		req.Params = withCompanyID(req.Params, p.DefaultCompanyID)
		if req.Params["company_id"] == "" {
			verr := apierr.Validation(fmt.Sprintf("provider %q requires a company_id parameter", p.Name))
			g.record(ctx, req, started, 0, 0, verr)
			return Result{}, verr
		}
	}

	if body, hit, err := g.Cache.Get(ctx, req.Endpoint, req.Params); err != nil {
		return Result{}, err
	} else if hit {
		res := Result{Status: http.StatusOK, Body: body, FromCache: true}
		g.record(ctx, req, started, res.Status, 0, nil)
		return res, nil
	}

	var (
		attempts int
		res      Result
	)
	policy := g.Retry
	base := policy.OnRetry
	policy.OnRetry = func(err error, attempt int, delay time.Duration) {
		obs.CountRetry(p.Name)
		slogx.FromContext(ctx).Warn("retrying upstream call",
			slog.String("provider", p.Name),
			slog.String("endpoint", req.Endpoint),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if base != nil {
			base(err, attempt, delay)
		}
	}

	err = policy.Do(ctx, func(ctx context.Context) error {
		attempts++
		r, err := g.callUpstream(ctx, p, req)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		g.record(ctx, req, started, statusOf(err), attempts, err)
		return Result{}, err
	}
	res.Attempts = attempts

	if ttl := p.CacheTTL(req.Endpoint); ttl > 0 {
		if err := g.Cache.Set(ctx, req.Endpoint, req.Params, res.Body, ttl); err != nil {
			// A cache write failure degrades performance, not correctness.
			slogx.FromContext(ctx).Warn("cache write failed",
				slog.String("endpoint", req.Endpoint), slog.Any("error", err))
		}
	}

	g.record(ctx, req, started, res.Status, attempts, nil)
	return res, nil
}

// callUpstream performs one attempt: token, limiter slot, HTTP round trip.
func (g *Gateway) callUpstream(ctx context.Context, p provider.Provider, req Request) (Result, error) {
	accessToken, err := g.Tokens.AccessToken(ctx, p.Name)
	if err != nil {
		return Result{}, err
	}

	if err := g.Limiter.Acquire(ctx, p.Name); err != nil {
		return Result{}, err
	}

	u, err := url.Parse(p.BaseURL + req.Endpoint)
	if err != nil {
		return Result{}, apierr.Validation(fmt.Sprintf("malformed endpoint %q: %v", req.Endpoint, err))
	}
	q := u.Query()
	for k, v := range req.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Accept", "application/json")

	start := g.now()
	resp, err := g.httpClient().Do(httpReq)
	if err != nil {
		obs.ObserveUpstreamRequest(p.Name, req.Endpoint, 0, time.Since(start))
		return Result{}, apierr.Network(fmt.Errorf("%s %s: %w", p.Name, req.Endpoint, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	obs.ObserveUpstreamRequest(p.Name, req.Endpoint, resp.StatusCode, time.Since(start))
	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if remaining, perr := strconv.ParseFloat(v, 64); perr == nil {
			obs.SetQuotaRemaining(p.Name, remaining)
		}
	}
	if err != nil {
		return Result{}, apierr.Network(fmt.Errorf("%s %s: read body: %w", p.Name, req.Endpoint, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if resp.StatusCode == http.StatusUnauthorized {
			// The token the manager handed out is no longer honoured
			// upstream; drop it so the next invocation refreshes.
			g.Tokens.Invalidate(p.Name)
		}
		e := apierr.FromStatus(resp.StatusCode, fmt.Sprintf("%s %s", p.Name, req.Endpoint))
		if e.Kind == apierr.KindRateLimited {
			e.RetryAfter = retry.RetryAfter(resp.Header, g.now())
		}
		return Result{}, e
	}

	return Result{Status: resp.StatusCode, Body: body}, nil
}

// record writes the invocation's single audit entry. Audit failures are
// logged rather than surfaced so they never mask the call's own outcome.
func (g *Gateway) record(ctx context.Context, req Request, started time.Time, status, attempts int, callErr error) {
	meta, _ := json.Marshal(map[string]any{
		"params":     req.Params,
		"attempts":   attempts,
		"from_cache": attempts == 0 && callErr == nil,
	})

	entry := domain.AuditEntry{
		EventType:      domain.EventOutboundCall,
		Actor:          req.Actor,
		Method:         http.MethodGet,
		Endpoint:       req.Endpoint,
		Request:        meta,
		ResponseStatus: status,
		LatencyMS:      g.now().Sub(started).Milliseconds(),
		Action:         "invoke",
		ResourceType:   "provider",
		ResourceID:     req.Provider,
	}
	if callErr != nil {
		entry.ErrorMessage = callErr.Error()
	}

	if _, err := g.Audit.Record(ctx, entry); err != nil {
		slogx.FromContext(ctx).Error("audit record failed",
			slog.String("endpoint", req.Endpoint), slog.Any("error", err))
	}
}

// statusOf pulls the HTTP status out of a classified failure, unwrapping a
// retry-exhaustion wrapper first.
func statusOf(err error) int {
	var ex *apierr.ExhaustedError
	if errors.As(err, &ex) {
		err = ex.Last
	}
	var e *apierr.Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}

func withCompanyID(params map[string]string, fallback string) map[string]string {
	if params == nil {
		params = make(map[string]string, 1)
	}
	if params["company_id"] == "" && fallback != "" {
		params["company_id"] = fallback
	}
	return params
}

func (g *Gateway) httpClient() *http.Client {
	if g.HTTPClient != nil {
		return g.HTTPClient
	}
	return http.DefaultClient
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}
