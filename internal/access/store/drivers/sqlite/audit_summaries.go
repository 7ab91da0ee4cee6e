package sqlite

import (
	"context"
	"database/sql"

	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/internal/access/store"
)

type auditSummariesRepo struct {
	db *sql.DB
}

func (r *auditSummariesRepo) UpsertDaily(ctx context.Context, s domain.AuditSummary) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_daily_summaries (day, group_by, group_key, requests, successes, failures, avg_latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (day, group_by, group_key) DO UPDATE SET
			requests = excluded.requests,
			successes = excluded.successes,
			failures = excluded.failures,
			avg_latency_ms = excluded.avg_latency_ms`,
		s.Day, s.GroupBy, s.GroupKey, s.Requests, s.Successes, s.Failures, s.AvgLatencyMS)
	return err
}

func (r *auditSummariesRepo) ListRange(ctx context.Context, fromDay, toDay string) ([]domain.AuditSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT day, group_by, group_key, requests, successes, failures, avg_latency_ms
		FROM audit_daily_summaries
		WHERE day >= ? AND day <= ?
		ORDER BY day, group_by, group_key`, fromDay, toDay)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditSummary
	for rows.Next() {
		var s domain.AuditSummary
		if err := rows.Scan(&s.Day, &s.GroupBy, &s.GroupKey, &s.Requests, &s.Successes, &s.Failures, &s.AvgLatencyMS); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ store.AuditSummaries = (*auditSummariesRepo)(nil)
