// Package token keeps one currently-valid access token in memory per
// provider, refreshing transparently through the provider's token endpoint
// before expiry. Concurrent callers observing an expired token collapse into
// a single refresh via singleflight; later callers share the first caller's
// result instead of issuing duplicate refresh requests.
package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/masatokaneko/ledgerlink/internal/access/apierr"
	"github.com/masatokaneko/ledgerlink/internal/access/credential"
	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/internal/access/provider"
	"github.com/masatokaneko/ledgerlink/pkg/slogx"
)

// RefreshBuffer is how long before actual expiry a token is treated as
// stale. Refreshing early avoids racing the provider's clock.
const RefreshBuffer = 5 * time.Minute

// DefaultHTTPTimeout bounds a single token-endpoint exchange.
const DefaultHTTPTimeout = 30 * time.Second

// Manager hands out valid access tokens per provider.
type Manager struct {
	Store     *credential.FileStore
	Providers *provider.Registry

	// HTTPClient is used for token-endpoint exchanges. Defaults to a
	// client with DefaultHTTPTimeout.
	HTTPClient *http.Client

	// Now is the clock, overridable in tests. Defaults to time.Now.
	Now func() time.Time

	group singleflight.Group

	mu     sync.RWMutex
	cached map[string]domain.Credential
}

// AccessToken returns a currently-valid access token for the provider,
// refreshing it first when the cached one is inside the refresh buffer.
func (m *Manager) AccessToken(ctx context.Context, providerName string) (string, error) {
	now := m.now()

	if cred, ok := m.cachedCredential(providerName); ok && cred.FreshUntil(now, RefreshBuffer) {
		return cred.AccessToken, nil
	}

	// Collapse concurrent refreshes for the same provider into one flight.
	v, err, _ := m.group.Do(providerName, func() (any, error) {
		// A refresh that completed while we queued is good enough.
		if cred, ok := m.cachedCredential(providerName); ok && cred.FreshUntil(m.now(), RefreshBuffer) {
			return cred.AccessToken, nil
		}

		p, err := m.Providers.Get(providerName)
		if err != nil {
			return "", apierr.Validation(err.Error())
		}

		stored, err := m.Store.Get(providerName)
		if err != nil {
			return "", apierr.Auth(0, fmt.Sprintf("no credential stored for provider %q", providerName))
		}

		// A still-fresh persisted credential (e.g. after restart) is
		// adopted without touching the token endpoint.
		if stored.FreshUntil(m.now(), RefreshBuffer) {
			m.storeCached(providerName, stored)
			return stored.AccessToken, nil
		}

		cred, err := m.refresh(ctx, p, stored)
		if err != nil {
			return "", err
		}
		return cred.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the in-memory token for a provider, forcing the next
// AccessToken call to consult the store and refresh.
func (m *Manager) Invalidate(providerName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cached, providerName)
}

func (m *Manager) cachedCredential(providerName string) (domain.Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cred, ok := m.cached[providerName]
	return cred, ok
}

func (m *Manager) storeCached(providerName string, cred domain.Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cached == nil {
		m.cached = make(map[string]domain.Credential)
	}
	m.cached[providerName] = cred
}

// refresh exchanges the stored refresh token for a new access token and
// atomically persists the replacement credential.
func (m *Manager) refresh(ctx context.Context, p provider.Provider, stored domain.Credential) (domain.Credential, error) {
	log := slogx.FromContext(ctx)

	if !stored.CanRefresh() {
		return domain.Credential{}, apierr.Auth(0, "missing refresh token")
	}

	resp, err := m.exchange(ctx, p, stored.RefreshToken)
	if err != nil {
		return domain.Credential{}, err
	}

	now := m.now()
	cred := domain.Credential{
		Provider:     p.Name,
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second).UnixMilli(),
		Scope:        resp.Scope,
		TokenType:    resp.TokenType,
		CompanyID:    stored.CompanyID,
		CreatedAt:    now.UnixMilli(),
	}
	// Providers that don't rotate refresh tokens omit them from the
	// response; keep the one we have.
	if cred.RefreshToken == "" {
		cred.RefreshToken = stored.RefreshToken
	}

	if err := m.Store.Put(p.Name, cred); err != nil {
		return domain.Credential{}, fmt.Errorf("token: persist refreshed credential: %w", err)
	}
	m.storeCached(p.Name, cred)

	log.Info("access token refreshed",
		slog.String("provider", p.Name),
		slog.Time("expires_at", cred.ExpiryTime()),
	)
	return cred, nil
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	Scope        string `json:"scope"`
}

func (m *Manager) exchange(ctx context.Context, p provider.Provider, refreshToken string) (tokenResponse, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	form.Set("client_id", p.ClientID)
	if p.ClientSecret != "" {
		form.Set("client_secret", p.ClientSecret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, fmt.Errorf("token: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient().Do(req)
	if err != nil {
		return tokenResponse{}, apierr.Network(fmt.Errorf("token endpoint: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tokenResponse{}, apierr.Network(fmt.Errorf("token endpoint read: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Any token-endpoint failure is fatal for the call; the retry
		// controller never retries auth failures.
		return tokenResponse{}, apierr.Auth(resp.StatusCode, "token endpoint rejected refresh")
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return tokenResponse{}, apierr.Auth(resp.StatusCode, fmt.Sprintf("token endpoint returned malformed body: %v", err))
	}
	if tr.AccessToken == "" {
		return tokenResponse{}, apierr.Auth(resp.StatusCode, "token endpoint returned no access token")
	}
	return tr, nil
}

func (m *Manager) httpClient() *http.Client {
	if m.HTTPClient != nil {
		return m.HTTPClient
	}
	return &http.Client{Timeout: DefaultHTTPTimeout}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}
