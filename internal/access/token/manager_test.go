package token_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/apierr"
	"github.com/masatokaneko/ledgerlink/internal/access/credential"
	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/internal/access/provider"
	"github.com/masatokaneko/ledgerlink/internal/access/token"
	"github.com/masatokaneko/ledgerlink/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	manager  *token.Manager
	store    *credential.FileStore
	refreshN *atomic.Int64
}

// newFixture wires a Manager against a fake token endpoint that counts
// refresh requests and issues "at-N" access tokens.
func newFixture(t *testing.T, tokenStatus int) *fixture {
	t.Helper()

	var refreshN atomic.Int64
	endpoint := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.FormValue("grant_type"))

		n := refreshN.Add(1)
		if tokenStatus != http.StatusOK {
			w.WriteHeader(tokenStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-` + string(rune('0'+n)) + `","refresh_token":"rt-next","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(endpoint.Close)

	dir := t.TempDir()
	cipher, err := cryptox.NewCipher([]byte("test-key"))
	require.NoError(t, err)
	store := credential.NewFileStore(filepath.Join(dir, "credentials.enc"), cipher)

	reg, err := provider.NewRegistry(provider.Provider{
		Name:              "freee",
		BaseURL:           endpoint.URL,
		TokenURL:          endpoint.URL + "/token",
		ClientID:          "client",
		ClientSecret:      "secret",
		RequestsPerMinute: 5,
	})
	require.NoError(t, err)

	return &fixture{
		manager: &token.Manager{
			Store:      store,
			Providers:  reg,
			HTTPClient: endpoint.Client(),
		},
		store:    store,
		refreshN: &refreshN,
	}
}

func seed(t *testing.T, store *credential.FileStore, expiresIn time.Duration, refreshToken string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, store.Put("freee", domain.Credential{
		AccessToken:  "at-cached",
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(expiresIn).UnixMilli(),
		CreatedAt:    now.UnixMilli(),
	}))
}

func TestAccessTokenRefreshesExpiredCredential(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	seed(t, f.store, -time.Minute, "rt-seed")

	tok, err := f.manager.AccessToken(context.Background(), "freee")
	require.NoError(t, err)
	require.Equal(t, "at-1", tok)
	require.EqualValues(t, 1, f.refreshN.Load())

	// Refreshed credential is persisted with the rotated refresh token.
	cred, err := f.store.Get("freee")
	require.NoError(t, err)
	require.Equal(t, "at-1", cred.AccessToken)
	require.Equal(t, "rt-next", cred.RefreshToken)
}

func TestAccessTokenAdoptsFreshStoredCredential(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	seed(t, f.store, time.Hour, "rt-seed")

	// A persisted credential outside the buffer is served as-is, e.g.
	// right after a restart.
	tok, err := f.manager.AccessToken(context.Background(), "freee")
	require.NoError(t, err)
	require.Equal(t, "at-cached", tok)
	require.EqualValues(t, 0, f.refreshN.Load())
}

func TestAccessTokenReturnsCachedWhileFresh(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	seed(t, f.store, -time.Minute, "rt-seed")

	tok1, err := f.manager.AccessToken(context.Background(), "freee")
	require.NoError(t, err)
	tok2, err := f.manager.AccessToken(context.Background(), "freee")
	require.NoError(t, err)

	require.Equal(t, tok1, tok2)
	require.EqualValues(t, 1, f.refreshN.Load(), "fresh token must not trigger a second refresh")
}

func TestRefreshBufferBoundary(t *testing.T) {
	t.Run("expiring in 4 minutes triggers refresh", func(t *testing.T) {
		f := newFixture(t, http.StatusOK)
		seed(t, f.store, 4*time.Minute, "rt-seed")

		_, err := f.manager.AccessToken(context.Background(), "freee")
		require.NoError(t, err)
		require.EqualValues(t, 1, f.refreshN.Load())
	})

	t.Run("expiring in 10 minutes does not", func(t *testing.T) {
		f := newFixture(t, http.StatusOK)
		seed(t, f.store, 10*time.Minute, "rt-seed")

		tok, err := f.manager.AccessToken(context.Background(), "freee")
		require.NoError(t, err)
		require.Equal(t, "at-cached", tok)
		require.EqualValues(t, 0, f.refreshN.Load())
	})
}

func TestMissingRefreshTokenIsFatal(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	seed(t, f.store, -time.Minute, "")

	_, err := f.manager.AccessToken(context.Background(), "freee")
	require.Equal(t, apierr.KindAuth, apierr.KindOf(err))
	require.EqualValues(t, 0, f.refreshN.Load(), "must not call the token endpoint without a refresh token")
}

func TestTokenEndpointFailureSurfacesAuthError(t *testing.T) {
	f := newFixture(t, http.StatusBadRequest)
	seed(t, f.store, -time.Minute, "rt-seed")

	_, err := f.manager.AccessToken(context.Background(), "freee")
	require.Equal(t, apierr.KindAuth, apierr.KindOf(err))
	require.False(t, apierr.Retryable(err), "auth failures are not retryable")
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	seed(t, f.store, -time.Minute, "rt-seed")

	const callers = 32
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := range callers {
		go func() {
			defer wg.Done()
			tok, err := f.manager.AccessToken(context.Background(), "freee")
			require.NoError(t, err)
			tokens[i] = tok
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, f.refreshN.Load(), "concurrent expired observations must collapse into one refresh")
	for _, tok := range tokens {
		require.Equal(t, tokens[0], tok, "all callers share the in-flight result")
	}
}

func TestInvalidateForcesStoreReload(t *testing.T) {
	f := newFixture(t, http.StatusOK)
	seed(t, f.store, -time.Minute, "rt-seed")

	_, err := f.manager.AccessToken(context.Background(), "freee")
	require.NoError(t, err)
	require.EqualValues(t, 1, f.refreshN.Load())

	f.manager.Invalidate("freee")

	// The refreshed credential persisted by the first call is still fresh,
	// so the reload adopts it without a second token-endpoint exchange.
	tok, err := f.manager.AccessToken(context.Background(), "freee")
	require.NoError(t, err)
	require.Equal(t, "at-1", tok)
	require.EqualValues(t, 1, f.refreshN.Load())
}

func TestUnknownProvider(t *testing.T) {
	f := newFixture(t, http.StatusOK)

	_, err := f.manager.AccessToken(context.Background(), "xero")
	require.Equal(t, apierr.KindValidation, apierr.KindOf(err))
}
