package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/service"
)

// DisputeService defines the methods the dispute handler requires.
type DisputeService interface {
	GetDispute(ctx context.Context, dealID string) (domain.Dispute, error)
	ListDisputes(ctx context.Context, opts domain.ListOpts) ([]domain.Dispute, error)
	Ruling(ctx context.Context, deal domain.Deal) (service.RulingOutcome, error)
}

// DisputeHandler serves dispute-related HTTP endpoints.
type DisputeHandler struct {
	disputes DisputeService
	deals    DealService
	logger   *slog.Logger
}

// NewDisputeHandler creates a DisputeHandler with the given services.
func NewDisputeHandler(disputes DisputeService, deals DealService, logger *slog.Logger) *DisputeHandler {
	return &DisputeHandler{
		disputes: disputes,
		deals:    deals,
		logger:   logger,
	}
}

// GetDispute returns the dispute record for a deal.
// GET /api/deals/{id}/dispute
func (h *DisputeHandler) GetDispute(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing deal id")
		return
	}

	dispute, err := h.disputes.GetDispute(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no dispute for this deal")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get dispute failed",
			slog.String("deal_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get dispute")
		return
	}

	writeJSON(w, http.StatusOK, dispute)
}

// ListDisputes returns dispute records with pagination.
// GET /api/disputes?limit=50&offset=0
func (h *DisputeHandler) ListDisputes(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	disputes, err := h.disputes.ListDisputes(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list disputes failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list disputes")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"disputes": disputes,
		"limit":    opts.Limit,
		"offset":   opts.Offset,
	})
}

// GetRuling derives the arbiter's ruling from on-chain resolution events.
// GET /api/deals/{id}/ruling
func (h *DisputeHandler) GetRuling(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing deal id")
		return
	}

	deal, err := h.deals.GetDeal(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deal not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get deal")
		return
	}

	outcome, err := h.disputes.Ruling(r.Context(), deal)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNotBound):
			writeError(w, http.StatusConflict, "deal has no on-chain id")
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "dispute not resolved yet")
		case errors.Is(err, domain.ErrAmbiguousRuling):
			writeError(w, http.StatusConflict, "conflicting resolution events on chain")
		case errors.Is(err, domain.ErrChainUnavailable):
			writeError(w, http.StatusServiceUnavailable, "chain unavailable")
		default:
			h.logger.ErrorContext(r.Context(), "handler: ruling failed",
				slog.String("deal_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to derive ruling")
		}
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}
