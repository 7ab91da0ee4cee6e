package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/internal/access/store"
)

const defaultQueryLimit = 100

type auditEntriesRepo struct {
	db *sql.DB
}

func (r *auditEntriesRepo) Insert(ctx context.Context, e domain.AuditEntry) error {
	var request any
	if len(e.Request) > 0 {
		request = string(e.Request)
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_entries (
			id, ts, event_type, actor, session_id, method, endpoint, request_meta,
			response_status, latency_ms, resource_type, resource_id, action,
			old_value, new_value, error_message, hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.UnixMilli(), e.EventType, e.Actor, e.SessionID,
		e.Method, e.Endpoint, request, e.ResponseStatus, e.LatencyMS,
		e.ResourceType, e.ResourceID, e.Action, e.OldValue, e.NewValue,
		e.ErrorMessage, e.Hash)
	return err
}

func (r *auditEntriesRepo) GetByID(ctx context.Context, id string) (domain.AuditEntry, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err != nil {
		return domain.AuditEntry{}, mapNotFound(err)
	}
	return e, nil
}

const selectColumns = `
	SELECT id, ts, event_type, actor, session_id, method, endpoint, request_meta,
	       response_status, latency_ms, resource_type, resource_id, action,
	       old_value, new_value, error_message, hash
	FROM audit_entries`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (domain.AuditEntry, error) {
	var (
		e       domain.AuditEntry
		ts      int64
		request sql.NullString
	)
	err := row.Scan(&e.ID, &ts, &e.EventType, &e.Actor, &e.SessionID, &e.Method,
		&e.Endpoint, &request, &e.ResponseStatus, &e.LatencyMS, &e.ResourceType,
		&e.ResourceID, &e.Action, &e.OldValue, &e.NewValue, &e.ErrorMessage, &e.Hash)
	if err != nil {
		return domain.AuditEntry{}, err
	}
	e.Timestamp = time.UnixMilli(ts)
	if request.Valid {
		e.Request = []byte(request.String)
	}
	return e, nil
}

// buildFilter translates an AuditQuery into a WHERE clause and args.
func buildFilter(q store.AuditQuery) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, arg any) {
		clauses = append(clauses, clause)
		args = append(args, arg)
	}

	if q.From != nil {
		add("ts >= ?", q.From.UnixMilli())
	}
	if q.To != nil {
		add("ts < ?", q.To.UnixMilli())
	}
	if q.EventType != "" {
		add("event_type = ?", q.EventType)
	}
	if q.Actor != "" {
		add("actor = ?", q.Actor)
	}
	if q.Endpoint != "" {
		add("endpoint = ?", q.Endpoint)
	}
	if q.ResourceType != "" {
		add("resource_type = ?", q.ResourceType)
	}
	if q.ResourceID != "" {
		add("resource_id = ?", q.ResourceID)
	}
	if q.Action != "" {
		add("action = ?", q.Action)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (r *auditEntriesRepo) Query(ctx context.Context, q store.AuditQuery) ([]domain.AuditEntry, error) {
	where, args := buildFilter(q)

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	args = append(args, limit, q.Offset)

	rows, err := r.db.QueryContext(ctx,
		selectColumns+where+` ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *auditEntriesRepo) Count(ctx context.Context, q store.AuditQuery) (int64, error) {
	where, args := buildFilter(q)

	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_entries`+where, args...).Scan(&n)
	return n, err
}

func (r *auditEntriesRepo) Summarize(ctx context.Context, from, to time.Time, groupBy string) ([]domain.AuditSummary, error) {
	var column string
	switch groupBy {
	case domain.SummaryByEndpoint:
		column = "endpoint"
	case domain.SummaryByActor:
		column = "actor"
	default:
		return nil, fmt.Errorf("sqlite: unsupported summary grouping %q", groupBy)
	}

	// Success means a 2xx response status was recorded.
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+column+`,
		       COUNT(*),
		       SUM(CASE WHEN response_status BETWEEN 200 AND 299 THEN 1 ELSE 0 END),
		       SUM(CASE WHEN response_status BETWEEN 200 AND 299 THEN 0 ELSE 1 END),
		       AVG(latency_ms)
		FROM audit_entries
		WHERE ts >= ? AND ts < ?
		GROUP BY `+column+`
		ORDER BY `+column, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	day := from.UTC().Format("2006-01-02")
	var out []domain.AuditSummary
	for rows.Next() {
		s := domain.AuditSummary{Day: day, GroupBy: groupBy}
		var avg sql.NullFloat64
		if err := rows.Scan(&s.GroupKey, &s.Requests, &s.Successes, &s.Failures, &avg); err != nil {
			return nil, err
		}
		s.AvgLatencyMS = avg.Float64
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ store.AuditEntries = (*auditEntriesRepo)(nil)
