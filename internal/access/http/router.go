// Package http exposes the access layer's operational endpoints: health
// probes, cache statistics, audit queries and Prometheus metrics. Business
// routes live with the callers; this surface exists for operators.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/audit"
	"github.com/masatokaneko/ledgerlink/internal/access/cache"
	"github.com/masatokaneko/ledgerlink/internal/access/obs"
	"github.com/masatokaneko/ledgerlink/internal/access/store"
	"github.com/masatokaneko/ledgerlink/pkg/httpx"
	"github.com/masatokaneko/ledgerlink/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	cacheStore store.CacheStore
	auditStore store.AuditStore

	CacheService *cache.Service
	AuditService *audit.Service
}

func NewRouter(
	buildVersion string,
	cacheStore store.CacheStore,
	auditStore store.AuditStore,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		cacheStore:   cacheStore,
		auditStore:   auditStore,
		logger:       logger,
	}

	// Set default middleware chain
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerSystem()
	r.registerStats()
	r.registerAudit()

	r.Mux.Handle("GET /metrics", obs.Handler())
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez", LivezHandler(r.startTime, r.buildVersion))
	r.Mux.Handle("GET /readyz", ReadyzHandler(r.startTime, r.buildVersion, r.cacheStore, r.auditStore))
}

func (r *Router) registerStats() {
	h := &StatsHandler{Cache: r.CacheService}
	r.Mux.Handle("GET /v1/stats/cache", h)
}

func (r *Router) registerAudit() {
	h := &AuditHandler{Audit: r.AuditService}
	r.Mux.Handle("GET /v1/audit", http.HandlerFunc(h.HandleQuery))
	r.Mux.Handle("GET /v1/audit/{id}/verify", http.HandlerFunc(h.HandleVerify))
}
