// Package audit records every access-layer invocation as an append-only
// entry. Each entry carries a deterministic hash over its protected fields,
// so later tampering with a stored row is detectable by recomputation.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/internal/access/store"
	"github.com/masatokaneko/ledgerlink/pkg/cryptox"
	"github.com/masatokaneko/ledgerlink/pkg/idx"
)

const redactedPlaceholder = "[REDACTED]"

// sensitiveKey reports whether a request field must never be persisted in
// clear text.
func sensitiveKey(key string) bool {
	k := strings.ToLower(key)
	return strings.Contains(k, "password") ||
		strings.Contains(k, "token") ||
		strings.Contains(k, "secret")
}

// EntryHash computes the tamper-evidence digest of an entry's protected
// fields. The timestamp participates at millisecond precision, matching its
// storage representation.
func EntryHash(e domain.AuditEntry) string {
	material := strings.Join([]string{
		strconv.FormatInt(e.Timestamp.UnixMilli(), 10),
		e.EventType,
		e.Endpoint,
		e.Actor,
		e.Action,
	}, "\n")
	return cryptox.Fingerprint([]byte(material))
}

// Redact returns a copy of a JSON document with every value under a
// credential-bearing key replaced by a placeholder, recursing through nested
// objects and arrays. Non-JSON input is replaced wholesale rather than
// risking a leak.
func Redact(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return json.RawMessage(`"` + redactedPlaceholder + `"`)
	}

	out, err := json.Marshal(redactValue(v))
	if err != nil {
		return json.RawMessage(`"` + redactedPlaceholder + `"`)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, inner := range t {
			if sensitiveKey(k) {
				t[k] = redactedPlaceholder
				continue
			}
			t[k] = redactValue(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = redactValue(inner)
		}
		return t
	default:
		return v
	}
}

// Service is the audit log.
type Service struct {
	Store store.AuditStore

	// Now is the clock, overridable in tests.
	Now func() time.Time

	// NewID mints entry IDs; defaults to ULIDs.
	NewID func() string
}

// Record appends one entry. The service assigns the ID and timestamp when
// absent, redacts credential-bearing request fields, and seals the entry
// with its hash. The stored entry is returned.
func (s *Service) Record(ctx context.Context, e domain.AuditEntry) (domain.AuditEntry, error) {
	if e.EventType == "" {
		return domain.AuditEntry{}, errors.New("audit: event type is required")
	}

	if e.ID == "" {
		e.ID = s.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = s.now()
	}
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Millisecond)
	e.Request = Redact(e.Request)
	e.Hash = EntryHash(e)

	if err := s.Store.Entries().Insert(ctx, e); err != nil {
		return domain.AuditEntry{}, fmt.Errorf("audit: record: %w", err)
	}
	return e, nil
}

// Get returns one entry by ID.
func (s *Service) Get(ctx context.Context, id string) (domain.AuditEntry, error) {
	return s.Store.Entries().GetByID(ctx, id)
}

// Verify recomputes the hash of a stored entry and reports whether it still
// matches. A false result means a protected field was altered after write.
func (s *Service) Verify(ctx context.Context, id string) (bool, error) {
	e, err := s.Store.Entries().GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	return EntryHash(e) == e.Hash, nil
}

// Query returns matching entries, newest first, plus the total match count
// ignoring pagination.
func (s *Service) Query(ctx context.Context, q store.AuditQuery) ([]domain.AuditEntry, int64, error) {
	entries, err := s.Store.Entries().Query(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Store.Entries().Count(ctx, q)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// Summarize aggregates entries over [from, to) grouped by endpoint or actor.
func (s *Service) Summarize(ctx context.Context, from, to time.Time, groupBy string) ([]domain.AuditSummary, error) {
	return s.Store.Entries().Summarize(ctx, from, to, groupBy)
}

// RollupDaily materializes the per-endpoint and per-actor summaries for the
// UTC day containing day and stores them. Re-running for the same day
// replaces the previous rollup.
func (s *Service) RollupDaily(ctx context.Context, day time.Time) error {
	from := day.UTC().Truncate(24 * time.Hour)
	to := from.Add(24 * time.Hour)

	for _, groupBy := range []string{domain.SummaryByEndpoint, domain.SummaryByActor} {
		summaries, err := s.Summarize(ctx, from, to, groupBy)
		if err != nil {
			return fmt.Errorf("audit: rollup %s by %s: %w", from.Format("2006-01-02"), groupBy, err)
		}
		for _, sum := range summaries {
			if err := s.Store.Summaries().UpsertDaily(ctx, sum); err != nil {
				return fmt.Errorf("audit: rollup upsert: %w", err)
			}
		}
	}

	slog.Debug("audit rollup complete", "day", from.Format("2006-01-02"))
	return nil
}

// Summaries returns stored daily rollups for days in [fromDay, toDay].
func (s *Service) Summaries(ctx context.Context, fromDay, toDay string) ([]domain.AuditSummary, error) {
	return s.Store.Summaries().ListRange(ctx, fromDay, toDay)
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) newID() string {
	if s.NewID != nil {
		return s.NewID()
	}
	return idx.New().String()
}
