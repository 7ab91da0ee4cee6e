package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/domain"
)

type cacheEntriesRepo struct {
	db *sql.DB
}

func (r *cacheEntriesRepo) Get(ctx context.Context, key string) (domain.CacheEntry, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT cache_key, endpoint, payload, metadata, created_at, expires_at, access_count, last_accessed
		FROM cache_entries
		WHERE cache_key = ?`, key)

	var (
		e            domain.CacheEntry
		metadata     sql.NullString
		createdAt    int64
		expiresAt    int64
		lastAccessed sql.NullInt64
	)
	err := row.Scan(&e.Key, &e.Endpoint, &e.Payload, &metadata, &createdAt, &expiresAt, &e.AccessCount, &lastAccessed)
	if err != nil {
		return domain.CacheEntry{}, mapNotFound(err)
	}

	if metadata.Valid {
		e.Metadata = []byte(metadata.String)
	}
	e.CreatedAt = time.UnixMilli(createdAt)
	e.ExpiresAt = time.UnixMilli(expiresAt)
	if lastAccessed.Valid {
		e.LastAccessed = time.UnixMilli(lastAccessed.Int64)
	}
	return e, nil
}

func (r *cacheEntriesRepo) Upsert(ctx context.Context, e domain.CacheEntry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = string(e.Metadata)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_key, endpoint, payload, metadata, created_at, expires_at, access_count, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, 0, NULL)
		ON CONFLICT (cache_key) DO UPDATE SET
			endpoint = excluded.endpoint,
			payload = excluded.payload,
			metadata = excluded.metadata,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			access_count = 0,
			last_accessed = NULL`,
		e.Key, e.Endpoint, []byte(e.Payload), metadata,
		e.CreatedAt.UnixMilli(), e.ExpiresAt.UnixMilli())
	return err
}

func (r *cacheEntriesRepo) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cache_entries
		SET access_count = access_count + 1, last_accessed = ?
		WHERE cache_key = ?`, at.UnixMilli(), key)
	return err
}

func (r *cacheEntriesRepo) Delete(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE cache_key = ?`, key)
	return err
}

func (r *cacheEntriesRepo) DeleteByEndpoint(ctx context.Context, endpoint string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE endpoint = ?`, endpoint)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *cacheEntriesRepo) DeleteAll(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *cacheEntriesRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
