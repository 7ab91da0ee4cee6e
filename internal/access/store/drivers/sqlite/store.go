// Package sqlite implements the store interfaces on embedded SQLite
// databases. The cache and the audit log open separate database files so
// their durability profiles stay independent.
package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/masatokaneko/ledgerlink/internal/access/store"
	_ "modernc.org/sqlite"
)

// CacheStore is the sqlite-backed request-cache database.
type CacheStore struct {
	db *sql.DB
}

// NewCacheStore opens (or creates) the cache database at dsn.
func NewCacheStore(dsn string) (*CacheStore, error) {
	db, err := openDB(dsn)
	if err != nil {
		return nil, err
	}
	return &CacheStore{db: db}, nil
}

func (s *CacheStore) Entries() store.CacheEntries   { return &cacheEntriesRepo{db: s.db} }
func (s *CacheStore) Stats() store.EndpointStats    { return &endpointStatsRepo{db: s.db} }
func (s *CacheStore) Close() error                  { return s.db.Close() }
func (s *CacheStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// AuditStore is the sqlite-backed audit database.
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore opens (or creates) the audit database at dsn.
func NewAuditStore(dsn string) (*AuditStore, error) {
	db, err := openDB(dsn)
	if err != nil {
		return nil, err
	}
	return &AuditStore{db: db}, nil
}

func (s *AuditStore) Entries() store.AuditEntries     { return &auditEntriesRepo{db: s.db} }
func (s *AuditStore) Summaries() store.AuditSummaries { return &auditSummariesRepo{db: s.db} }
func (s *AuditStore) Close() error                    { return s.db.Close() }
func (s *AuditStore) Ping(ctx context.Context) error  { return s.db.PingContext(ctx) }

func openDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Enforce FKs
	if _, err := db.ExecContext(context.Background(), `PRAGMA foreign_keys = ON;`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
