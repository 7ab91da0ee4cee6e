package provider_test

import (
	"testing"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/provider"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	freee, ok := provider.Defaults(provider.Freee)
	require.True(t, ok)
	require.Equal(t, 5, freee.RequestsPerMinute)
	require.True(t, freee.RequiresCompanyID)

	mf, ok := provider.Defaults(provider.MoneyForward)
	require.True(t, ok)
	require.Equal(t, 10, mf.RequestsPerMinute)

	_, ok = provider.Defaults("quickbooks")
	require.False(t, ok)
}

func TestCacheTTLLongestPrefix(t *testing.T) {
	freee, _ := provider.Defaults(provider.Freee)

	require.Equal(t, 6*time.Hour, freee.CacheTTL("/api/1/account_items"))
	require.Equal(t, 6*time.Hour, freee.CacheTTL("/api/1/partners/123"))
	require.Equal(t, 5*time.Minute, freee.CacheTTL("/api/1/deals"))
	require.Equal(t, 5*time.Minute, freee.CacheTTL("/api/1/unknown"), "default TTL applies")
}

func TestRegistry(t *testing.T) {
	freee, _ := provider.Defaults(provider.Freee)
	mf, _ := provider.Defaults(provider.MoneyForward)

	reg, err := provider.NewRegistry(freee, mf)
	require.NoError(t, err)

	got, err := reg.Get(provider.Freee)
	require.NoError(t, err)
	require.Equal(t, freee.BaseURL, got.BaseURL)

	_, err = reg.Get("xero")
	require.Error(t, err)

	require.ElementsMatch(t, []string{"freee", "moneyforward"}, reg.Names())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	freee, _ := provider.Defaults(provider.Freee)

	_, err := provider.NewRegistry(freee, freee)
	require.Error(t, err)
}

func TestRegistryDefaultsBurst(t *testing.T) {
	reg, err := provider.NewRegistry(provider.Provider{Name: "p", RequestsPerMinute: 7})
	require.NoError(t, err)

	p, err := reg.Get("p")
	require.NoError(t, err)
	require.Equal(t, 7, p.Burst)
}
