package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/masatokaneko/ledgerlink/internal/access/audit"
	"github.com/masatokaneko/ledgerlink/internal/access/domain"
	"github.com/masatokaneko/ledgerlink/internal/access/store"
	"github.com/masatokaneko/ledgerlink/pkg/httpx"
)

// AuditHandler serves audit log queries and tamper verification.
type AuditHandler struct {
	Audit *audit.Service
}

type auditQueryResponse struct {
	Entries []domain.AuditEntry `json:"entries"`
	Total   int64               `json:"total"`
}

// HandleQuery filters audit entries. Time bounds are RFC 3339; zero-valued
// filters are ignored.
func (h *AuditHandler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	q := store.AuditQuery{
		EventType:    qs.Get("event_type"),
		Actor:        qs.Get("actor"),
		Endpoint:     qs.Get("endpoint"),
		ResourceType: qs.Get("resource_type"),
		ResourceID:   qs.Get("resource_id"),
		Action:       qs.Get("action"),
	}

	for name, dst := range map[string]**time.Time{"from": &q.From, "to": &q.To} {
		v := qs.Get(name)
		if v == "" {
			continue
		}
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request",
				name+" must be an RFC 3339 timestamp")
			return
		}
		*dst = &at
	}

	var err error
	if q.Limit, err = parseIntParam(qs.Get("limit")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer")
		return
	}
	if q.Offset, err = parseIntParam(qs.Get("offset")); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "offset must be an integer")
		return
	}

	entries, total, err := h.Audit.Query(r.Context(), q)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "failed to query audit log")
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	httpx.WriteJSON(w, http.StatusOK, auditQueryResponse{Entries: entries, Total: total})
}

type auditVerifyResponse struct {
	ID    string `json:"id"`
	Valid bool   `json:"valid"`
}

// HandleVerify recomputes one entry's hash.
func (h *AuditHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	valid, err := h.Audit.Verify(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", "no audit entry with that id")
			return
		}
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "failed to verify audit entry")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, auditVerifyResponse{ID: id, Valid: valid})
}

func parseIntParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
