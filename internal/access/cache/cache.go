// Package cache avoids redundant upstream calls for idempotent read
// endpoints. Entries are keyed by a digest of the endpoint and its
// canonicalized parameters and carry an endpoint-specific TTL; an entry past
// expiry is logically absent even before the housekeeping sweep deletes it.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/internal/access/obs"
	"github.com/masatokaneko/ledgerlink/internal/access/store"
	"github.com/masatokaneko/ledgerlink/pkg/cryptox"
)

// Key derives the cache key for an endpoint and its parameters. Parameters
// are canonicalized by sorted-key JSON encoding, so key order in the input
// never matters; the digest keeps the key fixed-length and collision
// resistant.
func Key(endpoint string, params map[string]string) string {
	canonical, _ := json.Marshal(struct {
		Endpoint string            `json:"endpoint"`
		Params   map[string]string `json:"params"`
	}{Endpoint: endpoint, Params: params})
	return cryptox.Fingerprint(canonical)
}

// Service is the request cache.
type Service struct {
	Store store.CacheStore

	// Now is the clock, overridable in tests.
	Now func() time.Time
}

// Get returns the cached payload for (endpoint, params) when a live entry
// exists. Expired entries count as misses.
func (s *Service) Get(ctx context.Context, endpoint string, params map[string]string) (json.RawMessage, bool, error) {
	now := s.now()
	key := Key(endpoint, params)

	entry, err := s.Store.Entries().Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.recordMiss(ctx, endpoint)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("cache: get %s: %w", endpoint, err)
	}

	if entry.Expired(now) {
		s.recordMiss(ctx, endpoint)
		return nil, false, nil
	}

	if err := s.Store.Entries().Touch(ctx, key, now); err != nil {
		return nil, false, fmt.Errorf("cache: touch %s: %w", endpoint, err)
	}
	if err := s.Store.Stats().RecordHit(ctx, endpoint); err != nil {
		return nil, false, fmt.Errorf("cache: record hit: %w", err)
	}
	obs.CountCacheHit(endpoint)
	return entry.Payload, true, nil
}

// Set upserts the payload for (endpoint, params) with the given TTL.
func (s *Service) Set(ctx context.Context, endpoint string, params map[string]string, payload json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("cache: ttl must be positive, got %s", ttl)
	}
	now := s.now()

	metadata, _ := json.Marshal(map[string]any{"params": params})
	entry := domain.CacheEntry{
		Key:       Key(endpoint, params),
		Endpoint:  endpoint,
		Payload:   payload,
		Metadata:  metadata,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.Store.Entries().Upsert(ctx, entry); err != nil {
		return fmt.Errorf("cache: set %s: %w", endpoint, err)
	}
	return nil
}

// Invalidate removes the single entry for (endpoint, params).
func (s *Service) Invalidate(ctx context.Context, endpoint string, params map[string]string) error {
	return s.Store.Entries().Delete(ctx, Key(endpoint, params))
}

// InvalidateEndpoint removes every entry for an endpoint.
func (s *Service) InvalidateEndpoint(ctx context.Context, endpoint string) (int64, error) {
	return s.Store.Entries().DeleteByEndpoint(ctx, endpoint)
}

// Clear removes all entries.
func (s *Service) Clear(ctx context.Context) (int64, error) {
	return s.Store.Entries().DeleteAll(ctx)
}

// SweepExpired deletes entries past expiry. Housekeeping only: Get already
// treats expired entries as absent.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.Store.Entries().DeleteExpired(ctx, s.now())
}

// EndpointStats returns the hit/miss counters for one endpoint.
func (s *Service) EndpointStats(ctx context.Context, endpoint string) (domain.EndpointStats, error) {
	return s.Store.Stats().Get(ctx, endpoint)
}

// Stats returns per-endpoint counters plus the global totals.
func (s *Service) Stats(ctx context.Context) ([]domain.EndpointStats, domain.EndpointStats, error) {
	perEndpoint, err := s.Store.Stats().List(ctx)
	if err != nil {
		return nil, domain.EndpointStats{}, err
	}
	totals, err := s.Store.Stats().Totals(ctx)
	if err != nil {
		return nil, domain.EndpointStats{}, err
	}
	return perEndpoint, totals, nil
}

func (s *Service) recordMiss(ctx context.Context, endpoint string) {
	// Miss accounting is best-effort telemetry.
	_ = s.Store.Stats().RecordMiss(ctx, endpoint)
	obs.CountCacheMiss(endpoint)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
