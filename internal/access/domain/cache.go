package domain

import (
	"encoding/json"
	"time"
)

// CacheEntry is one cached upstream response, keyed by a digest of the
// endpoint and its canonicalized parameters.
type CacheEntry struct {
	Key          string
	Endpoint     string
	Payload      json.RawMessage
	Metadata     json.RawMessage
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  int64
	LastAccessed time.Time
}

// Expired reports whether the entry is logically absent at now. Entries past
// expiry are treated as missing even before the sweep deletes them.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// EndpointStats holds hit/miss counters for one endpoint (or the global
// totals when Endpoint is empty).
type EndpointStats struct {
	Endpoint string `json:"endpoint,omitempty"`
	Hits     int64  `json:"hits"`
	Misses   int64  `json:"misses"`
}

// HitRate returns the fraction of lookups served from cache, or 0 when no
// lookups were recorded.
func (s EndpointStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
