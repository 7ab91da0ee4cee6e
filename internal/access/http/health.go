package http

import (
	"context"
	"net/http"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/store"
	"github.com/masatokaneko/ledgerlink/pkg/httpx"
)

// HealthResponse is the body of the health probe endpoints.
type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

// HealthChecks reports per-dependency readiness.
type HealthChecks struct {
	CacheDB string `json:"cache_db"`
	AuditDB string `json:"audit_db"`
}

// LivezHandler always returns 200 while the process is running.
func LivezHandler(startTime time.Time, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: version,
		})
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

// ReadyzHandler pings both databases and degrades to 503 when either is
// unreachable.
func ReadyzHandler(startTime time.Time, version string, cacheStore store.CacheStore, auditStore store.AuditStore) http.HandlerFunc {
	check := func(ctx context.Context, p pinger) string {
		if err := p.Ping(ctx); err != nil {
			return "error: " + err.Error()
		}
		return "ok"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		checks := &HealthChecks{
			CacheDB: check(r.Context(), cacheStore),
			AuditDB: check(r.Context(), auditStore),
		}

		status := "ok"
		code := http.StatusOK
		if checks.CacheDB != "ok" || checks.AuditDB != "ok" {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, code, HealthResponse{
			Status:  status,
			Uptime:  time.Since(startTime).String(),
			Version: version,
			Checks:  checks,
		})
	}
}
