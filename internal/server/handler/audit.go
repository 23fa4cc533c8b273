package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// AuditReader lists audit log entries.
type AuditReader interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
	ListByDeal(ctx context.Context, dealID string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler exposes the append-only audit trail for operators.
type AuditHandler struct {
	audit  AuditReader
	logger *slog.Logger
}

func NewAuditHandler(audit AuditReader, logger *slog.Logger) *AuditHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditHandler{audit: audit, logger: logger}
}

type auditEntryResponse struct {
	ID        int64          `json:"id"`
	DealID    string         `json:"deal_id,omitempty"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListEntries returns audit entries, newest first. since/until take RFC 3339
// timestamps.
// GET /api/audit?limit=50&since=2026-01-01T00:00:00Z
func (h *AuditHandler) ListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit entries failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": auditResponses(entries)})
}

// ListDealEntries returns one deal's audit trail, newest first.
// GET /api/deals/{id}/audit
func (h *AuditHandler) ListDealEntries(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing deal id")
		return
	}
	entries, err := h.audit.ListByDeal(r.Context(), id, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list deal audit entries failed",
			slog.String("deal_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deal_id": id, "entries": auditResponses(entries)})
}

func auditResponses(entries []domain.AuditEntry) []auditEntryResponse {
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryResponse{
			ID:        e.ID,
			DealID:    e.DealID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt,
		})
	}
	return out
}
