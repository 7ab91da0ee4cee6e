package domain

import (
	"encoding/json"
	"time"
)

// Audit event types.
const (
	EventOutboundCall     = "outbound_call"
	EventDataModification = "data_modification"
	EventAuth             = "auth"
	EventSystem           = "system"
)

// Audit summary groupings.
const (
	SummaryByEndpoint = "endpoint"
	SummaryByActor    = "actor"
)

// AuditEntry is one append-only record of an access-layer invocation.
// Entries are never updated or deleted, only queried and summarized.
type AuditEntry struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"event_type"`
	Actor     string          `json:"actor,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Endpoint  string          `json:"endpoint,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"` // sanitized params/body

	ResponseStatus int   `json:"response_status,omitempty"`
	LatencyMS      int64 `json:"latency_ms,omitempty"`

	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	Action       string `json:"action,omitempty"`
	OldValue     string `json:"old_value,omitempty"`
	NewValue     string `json:"new_value,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Hash is a deterministic digest over {Timestamp, EventType, Endpoint,
	// Actor, Action}. Mutating any of those fields after write invalidates
	// the recomputed hash. Each entry is independently verifiable; entries
	// are not chained to their predecessors.
	Hash string `json:"hash"`
}

// AuditSummary is one rolled-up aggregation row.
type AuditSummary struct {
	Day          string  `json:"day"` // YYYY-MM-DD (UTC)
	GroupBy      string  `json:"group_by"`
	GroupKey     string  `json:"group_key"`
	Requests     int64   `json:"requests"`
	Successes    int64   `json:"successes"`
	Failures     int64   `json:"failures"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}
