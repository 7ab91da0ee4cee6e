package service_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/audit"
	"github.com/masatokaneko/ledgerlink/internal/access/cache"
	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/internal/access/service"
	"github.com/masatokaneko/ledgerlink/internal/access/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

func newServices(t *testing.T) (*cache.Service, *audit.Service) {
	t.Helper()
	dir := t.TempDir()

	cacheStore, err := sqlite.NewCacheStore("file:" + filepath.Join(dir, "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cacheStore.Close() })
	require.NoError(t, cacheStore.ApplyMigrations())

	auditStore, err := sqlite.NewAuditStore("file:" + filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditStore.Close() })
	require.NoError(t, auditStore.ApplyMigrations())

	return &cache.Service{Store: cacheStore}, &audit.Service{Store: auditStore}
}

func TestHousekeepingSweepsAndRollsUpOnStart(t *testing.T) {
	cacheSvc, auditSvc := newServices(t)
	ctx := context.Background()

	// Seed one already-expired cache entry and one live one.
	past := time.Now().Add(-time.Hour)
	cacheSvc.Now = func() time.Time { return past }
	require.NoError(t, cacheSvc.Set(ctx, "/api/1/deals", nil, json.RawMessage(`{}`), time.Minute))
	cacheSvc.Now = nil
	require.NoError(t, cacheSvc.Set(ctx, "/api/1/partners", nil, json.RawMessage(`{}`), time.Hour))

	// Seed a yesterday entry for the rollup.
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Truncate(24 * time.Hour).Add(10 * time.Hour)
	auditSvc.Now = func() time.Time { return yesterday }
	_, err := auditSvc.Record(ctx, domain.AuditEntry{
		EventType:      domain.EventOutboundCall,
		Actor:          "scheduler",
		Endpoint:       "/api/1/deals",
		ResponseStatus: 200,
		LatencyMS:      120,
	})
	require.NoError(t, err)
	auditSvc.Now = nil

	hk := service.NewHousekeepingService(cacheSvc, auditSvc, slog.New(slog.DiscardHandler), time.Hour)
	hk.Start()
	hk.Stop()

	_, hit, err := cacheSvc.Get(ctx, "/api/1/partners", nil)
	require.NoError(t, err)
	require.True(t, hit, "live entries survive the sweep")

	day := yesterday.Format("2006-01-02")
	summaries, err := auditSvc.Summaries(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, summaries, 2, "endpoint and actor groups for yesterday")
}

func TestHousekeepingDefaultsInterval(t *testing.T) {
	cacheSvc, auditSvc := newServices(t)
	hk := service.NewHousekeepingService(cacheSvc, auditSvc, slog.New(slog.DiscardHandler), 0)
	require.Equal(t, time.Hour, hk.Interval)
}
