package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/escrow"
	"github.com/alanyoungcy/escrowd/internal/service"
)

// DealService defines the methods the deal handler requires from the service
// layer. It is declared locally so the handler package does not depend on
// the concrete service implementation.
type DealService interface {
	CreateDeal(ctx context.Context, in service.CreateDealInput) (domain.Deal, string, error)
	GetDeal(ctx context.Context, id string) (domain.Deal, error)
	ListDeals(ctx context.Context, opts domain.ListOpts) ([]domain.Deal, error)
	CountDeals(ctx context.Context) (int64, error)
	UpdateStatus(ctx context.Context, id string, status domain.DealStatus) error
	Templates() []escrow.Template
}

// DealReconciler merges live contract state into a deal record.
type DealReconciler interface {
	View(ctx context.Context, deal domain.Deal) service.DealView
	MilestoneEligibility(ctx context.Context, deal domain.Deal, index int, role domain.Role) (escrow.Eligibility, error)
}

// DealHandler serves deal-related HTTP endpoints.
type DealHandler struct {
	deals      DealService
	reconciler DealReconciler
	logger     *slog.Logger
}

// NewDealHandler creates a DealHandler with the given services and logger.
func NewDealHandler(deals DealService, reconciler DealReconciler, logger *slog.Logger) *DealHandler {
	return &DealHandler{
		deals:      deals,
		reconciler: reconciler,
		logger:     logger,
	}
}

// createDealResponse wraps the created deal with its share link.
type createDealResponse struct {
	Deal domain.Deal `json:"deal"`
	Link string      `json:"link"`
}

// CreateDeal creates a new off-chain deal record.
// POST /api/deals
func (h *DealHandler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var in service.CreateDealInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	deal, link, err := h.deals.CreateDeal(r.Context(), in)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: create deal failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create deal")
		return
	}

	writeJSON(w, http.StatusCreated, createDealResponse{Deal: deal, Link: link})
}

// listDealsResponse wraps the list endpoint output with metadata.
type listDealsResponse struct {
	Deals  []domain.Deal `json:"deals"`
	Total  int64         `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// ListDeals returns deals with pagination, optionally filtered by status.
// GET /api/deals?limit=50&offset=0&status=active
func (h *DealHandler) ListDeals(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if v := r.URL.Query().Get("status"); v != "" {
		status := domain.DealStatus(strings.ToLower(v))
		if !status.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status filter")
			return
		}
		opts.Status = status
	}

	deals, err := h.deals.ListDeals(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list deals failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list deals")
		return
	}

	total, err := h.deals.CountDeals(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count deals failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count deals")
		return
	}

	writeJSON(w, http.StatusOK, listDealsResponse{
		Deals:  deals,
		Total:  total,
		Limit:  opts.Limit,
		Offset: opts.Offset,
	})
}

// GetDeal returns a single deal with the chain-reconciled status merged in.
// GET /api/deals/{id}
func (h *DealHandler) GetDeal(w http.ResponseWriter, r *http.Request) {
	deal, ok := h.loadDeal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.reconciler.View(r.Context(), deal))
}

// updateStatusRequest is the PATCH body for a status transition.
type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus applies an off-chain status transition.
// PATCH /api/deals/{id}/status
func (h *DealHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing deal id")
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.deals.UpdateStatus(r.Context(), id, domain.DealStatus(strings.ToLower(req.Status)))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "deal not found")
		default:
			h.logger.ErrorContext(r.Context(), "handler: update status failed",
				slog.String("deal_id", id),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to update status")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": strings.ToLower(req.Status)})
}

// MilestoneEligibility evaluates whether a role may release a milestone now.
// GET /api/deals/{id}/milestones/{index}/eligibility?role=client
func (h *DealHandler) MilestoneEligibility(w http.ResponseWriter, r *http.Request) {
	deal, ok := h.loadDeal(w, r)
	if !ok {
		return
	}

	index, err := strconv.Atoi(pathParam(r, "index"))
	if err != nil || index < 0 {
		writeError(w, http.StatusBadRequest, "invalid milestone index")
		return
	}

	role := domain.Role(strings.ToLower(r.URL.Query().Get("role")))
	switch role {
	case domain.RoleClient, domain.RoleFreelancer, domain.RoleArbiter:
	default:
		writeError(w, http.StatusBadRequest, "role must be client, freelancer or arbiter")
		return
	}

	eligibility, err := h.reconciler.MilestoneEligibility(r.Context(), deal, index, role)
	if err != nil {
		if errors.Is(err, domain.ErrChainUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "chain unavailable")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: eligibility failed",
			slog.String("deal_id", deal.ID.String()),
			slog.Int("index", index),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to evaluate eligibility")
		return
	}

	writeJSON(w, http.StatusOK, eligibility)
}

// ListTemplates returns the built-in milestone split presets.
// GET /api/templates
func (h *DealHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": h.deals.Templates()})
}

// loadDeal fetches the deal named by the {id} path parameter, writing the
// error response itself when the lookup fails.
func (h *DealHandler) loadDeal(w http.ResponseWriter, r *http.Request) (domain.Deal, bool) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing deal id")
		return domain.Deal{}, false
	}

	deal, err := h.deals.GetDeal(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deal not found")
			return domain.Deal{}, false
		}
		h.logger.ErrorContext(r.Context(), "handler: get deal failed",
			slog.String("deal_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get deal")
		return domain.Deal{}, false
	}
	return deal, true
}
