package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/internal/access/store"
)

type endpointStatsRepo struct {
	db *sql.DB
}

func (r *endpointStatsRepo) RecordHit(ctx context.Context, endpoint string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO endpoint_stats (endpoint, hits, misses) VALUES (?, 1, 0)
		ON CONFLICT (endpoint) DO UPDATE SET hits = hits + 1`, endpoint)
	return err
}

func (r *endpointStatsRepo) RecordMiss(ctx context.Context, endpoint string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO endpoint_stats (endpoint, hits, misses) VALUES (?, 0, 1)
		ON CONFLICT (endpoint) DO UPDATE SET misses = misses + 1`, endpoint)
	return err
}

func (r *endpointStatsRepo) Get(ctx context.Context, endpoint string) (domain.EndpointStats, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT endpoint, hits, misses FROM endpoint_stats WHERE endpoint = ?`, endpoint)

	var s domain.EndpointStats
	if err := row.Scan(&s.Endpoint, &s.Hits, &s.Misses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// An endpoint with no recorded lookups has zero counters.
			return domain.EndpointStats{Endpoint: endpoint}, nil
		}
		return domain.EndpointStats{}, err
	}
	return s, nil
}

func (r *endpointStatsRepo) List(ctx context.Context) ([]domain.EndpointStats, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT endpoint, hits, misses FROM endpoint_stats ORDER BY endpoint`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.EndpointStats
	for rows.Next() {
		var s domain.EndpointStats
		if err := rows.Scan(&s.Endpoint, &s.Hits, &s.Misses); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *endpointStatsRepo) Totals(ctx context.Context) (domain.EndpointStats, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(hits), 0), COALESCE(SUM(misses), 0) FROM endpoint_stats`)

	var s domain.EndpointStats
	if err := row.Scan(&s.Hits, &s.Misses); err != nil {
		return domain.EndpointStats{}, err
	}
	return s, nil
}

var _ store.EndpointStats = (*endpointStatsRepo)(nil)
