// Package store defines the data access interfaces of the access layer.
// Concrete drivers (sqlite) implement them. The cache and the audit log have
// different durability profiles, so they live behind separate root
// interfaces and are opened on separate databases: the cache is ephemeral
// and frequently evicted, the audit log is append-only and long-lived.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/domain"
)

var ErrNotFound = errors.New("store: not found")

// CacheStore is the root interface of the request-cache database.
type CacheStore interface {
	Entries() CacheEntries
	Stats() EndpointStats

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

type CacheEntries interface {
	// Get returns the entry for key regardless of expiry; callers decide
	// whether an expired entry is logically absent.
	Get(ctx context.Context, key string) (domain.CacheEntry, error)

	// Upsert inserts or replaces the entry for its key.
	Upsert(ctx context.Context, e domain.CacheEntry) error

	// Touch bumps access_count and last_accessed on a hit.
	Touch(ctx context.Context, key string, at time.Time) error

	// Delete removes one entry by key.
	Delete(ctx context.Context, key string) error

	// DeleteByEndpoint removes all entries for an endpoint.
	DeleteByEndpoint(ctx context.Context, endpoint string) (int64, error)

	// DeleteAll clears the cache.
	DeleteAll(ctx context.Context) (int64, error)

	// DeleteExpired removes entries past expiry (housekeeping sweep).
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type EndpointStats interface {
	// RecordHit increments the hit counter for endpoint.
	RecordHit(ctx context.Context, endpoint string) error

	// RecordMiss increments the miss counter for endpoint.
	RecordMiss(ctx context.Context, endpoint string) error

	// Get returns the counters for one endpoint.
	Get(ctx context.Context, endpoint string) (domain.EndpointStats, error)

	// List returns per-endpoint counters ordered by endpoint.
	List(ctx context.Context) ([]domain.EndpointStats, error)

	// Totals returns the global counters summed over all endpoints.
	Totals(ctx context.Context) (domain.EndpointStats, error)
}

// AuditStore is the root interface of the audit database.
type AuditStore interface {
	Entries() AuditEntries
	Summaries() AuditSummaries

	ApplyMigrations() error
	Close() error
	Ping(ctx context.Context) error
}

// AuditQuery filters audit entries. Zero fields are ignored.
type AuditQuery struct {
	From      *time.Time
	To        *time.Time
	EventType string
	Actor     string
	Endpoint  string

	ResourceType string
	ResourceID   string
	Action       string

	// Pagination; Limit <= 0 means the driver default.
	Limit  int
	Offset int
}

type AuditEntries interface {
	// Insert appends one entry. Entries are never updated or deleted.
	Insert(ctx context.Context, e domain.AuditEntry) error

	// GetByID returns one entry.
	GetByID(ctx context.Context, id string) (domain.AuditEntry, error)

	// Query returns matching entries, newest first.
	Query(ctx context.Context, q AuditQuery) ([]domain.AuditEntry, error)

	// Count returns the number of entries matching q, ignoring pagination.
	Count(ctx context.Context, q AuditQuery) (int64, error)

	// Summarize aggregates request/success/failure counts and average
	// latency over [from, to), grouped by endpoint or actor.
	Summarize(ctx context.Context, from, to time.Time, groupBy string) ([]domain.AuditSummary, error)
}

type AuditSummaries interface {
	// UpsertDaily writes one rolled-up summary row.
	UpsertDaily(ctx context.Context, s domain.AuditSummary) error

	// ListRange returns summary rows for days in [fromDay, toDay].
	ListRange(ctx context.Context, fromDay, toDay string) ([]domain.AuditSummary, error)
}
