package http

import (
	"net/http"

	"github.com/masatokaneko/ledgerlink/internal/access/cache"
	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/pkg/httpx"
)

// StatsHandler serves request-cache hit/miss statistics.
type StatsHandler struct {
	Cache *cache.Service
}

type cacheStatsResponse struct {
	Endpoints []endpointStats `json:"endpoints"`
	Totals    endpointStats   `json:"totals"`
}

type endpointStats struct {
	Endpoint string  `json:"endpoint,omitempty"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
}

func toEndpointStats(s domain.EndpointStats) endpointStats {
	return endpointStats{
		Endpoint: s.Endpoint,
		Hits:     s.Hits,
		Misses:   s.Misses,
		HitRate:  s.HitRate(),
	}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	perEndpoint, totals, err := h.Cache.Stats(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "failed to read cache stats")
		return
	}

	resp := cacheStatsResponse{
		Endpoints: make([]endpointStats, 0, len(perEndpoint)),
		Totals:    toEndpointStats(totals),
	}
	for _, s := range perEndpoint {
		resp.Endpoints = append(resp.Endpoints, toEndpointStats(s))
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
