// Package provider holds the static configuration of the upstream accounting
// APIs the access layer mediates. Each provider carries its own OAuth
// endpoints, published rate quota, and cache TTL table; all per-provider
// state elsewhere (token cache, limiter bucket) is keyed off these names.
package provider

import (
	"fmt"
	"strings"
	"time"
)

// Supported providers.
const (
	Freee        = "freee"
	MoneyForward = "moneyforward"
)

// Provider describes one upstream accounting API.
type Provider struct {
	Name     string
	BaseURL  string
	TokenURL string

	ClientID     string
	ClientSecret string

	// RequestsPerMinute is the provider's published quota; Burst is the
	// bucket capacity (defaults to RequestsPerMinute).
	RequestsPerMinute int
	Burst             int

	// RequiresCompanyID marks providers whose read endpoints demand a
	// company identifier parameter.
	RequiresCompanyID bool
	DefaultCompanyID  string

	// CacheTTLs maps endpoint path prefixes to response TTLs. Longest
	// prefix wins; DefaultCacheTTL applies when nothing matches.
	CacheTTLs       map[string]time.Duration
	DefaultCacheTTL time.Duration
}

// Defaults returns the built-in definition for a known provider name, without
// client credentials. Unknown names return false.
func Defaults(name string) (Provider, bool) {
	switch name {
	case Freee:
		return Provider{
			Name:              Freee,
			BaseURL:           "https://api.freee.co.jp",
			TokenURL:          "https://accounts.secure.freee.co.jp/public_api/token",
			RequestsPerMinute: 5,
			Burst:             5,
			RequiresCompanyID: true,
			CacheTTLs: map[string]time.Duration{
				// Slowly-changing master data.
				"/api/1/account_items": 6 * time.Hour,
				"/api/1/partners":      6 * time.Hour,
				"/api/1/sections":      6 * time.Hour,
				"/api/1/tags":          6 * time.Hour,
				// Transactional journal data.
				"/api/1/deals":         5 * time.Minute,
				"/api/1/journals":      5 * time.Minute,
				"/api/1/trial_balance": 15 * time.Minute,
			},
			DefaultCacheTTL: 5 * time.Minute,
		}, true
	case MoneyForward:
		return Provider{
			Name:              MoneyForward,
			BaseURL:           "https://api.biz.moneyforward.com",
			TokenURL:          "https://api.biz.moneyforward.com/token",
			RequestsPerMinute: 10,
			Burst:             10,
			CacheTTLs: map[string]time.Duration{
				"/api/v3/office":   6 * time.Hour,
				"/api/v3/partners": 6 * time.Hour,
				"/api/v3/items":    6 * time.Hour,
				"/api/v3/billings": 5 * time.Minute,
				"/api/v3/quotes":   5 * time.Minute,
			},
			DefaultCacheTTL: 5 * time.Minute,
		}, true
	default:
		return Provider{}, false
	}
}

// CacheTTL resolves the response TTL for an endpoint using longest-prefix
// matching against the TTL table.
func (p Provider) CacheTTL(endpoint string) time.Duration {
	best := p.DefaultCacheTTL
	bestLen := -1
	for prefix, ttl := range p.CacheTTLs {
		if strings.HasPrefix(endpoint, prefix) && len(prefix) > bestLen {
			best = ttl
			bestLen = len(prefix)
		}
	}
	return best
}

// Registry owns the configured providers. It is built once at startup and
// injected into every access-layer component that needs per-provider scoping.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from explicit provider definitions.
func NewRegistry(providers ...Provider) (*Registry, error) {
	m := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider: name is required")
		}
		if _, dup := m[p.Name]; dup {
			return nil, fmt.Errorf("provider: duplicate provider %q", p.Name)
		}
		if p.Burst <= 0 {
			p.Burst = p.RequestsPerMinute
		}
		m[p.Name] = p
	}
	return &Registry{providers: m}, nil
}

// Get returns the provider definition for name.
func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return Provider{}, fmt.Errorf("provider: unknown provider %q", name)
	}
	return p, nil
}

// Names returns the configured provider names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
