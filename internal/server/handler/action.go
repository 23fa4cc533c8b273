package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// TxService defines the transaction methods the action handler requires.
type TxService interface {
	FundDeal(ctx context.Context, deal domain.Deal) (domain.Action, error)
	ReleaseMilestone(ctx context.Context, deal domain.Deal, index int) (domain.Action, error)
	RaiseDispute(ctx context.Context, deal domain.Deal, initiator, reason string, evidence []string) (domain.Action, error)
	ResolveDispute(ctx context.Context, deal domain.Deal, clientShare, freelancerShare *big.Int) (domain.Action, error)
	BindFromTx(ctx context.Context, deal domain.Deal, txHash string) (chainDealID uint64, guessed bool, err error)
}

// ActionReader reads tracked action state.
type ActionReader interface {
	Get(id string) (domain.Action, error)
	ListByDeal(dealID string) []domain.Action
}

// ActionHandler triggers contract transactions and reports their progress.
// Every trigger returns 202 with the action record; the caller follows the
// action over GET /api/actions/{id} or the websocket actions channel.
type ActionHandler struct {
	tx      TxService
	actions ActionReader
	deals   DealService
	logger  *slog.Logger
}

// NewActionHandler creates an ActionHandler.
func NewActionHandler(tx TxService, actions ActionReader, deals DealService, logger *slog.Logger) *ActionHandler {
	return &ActionHandler{
		tx:      tx,
		actions: actions,
		deals:   deals,
		logger:  logger,
	}
}

// Fund submits the create_deal transaction for a pending deal.
// POST /api/deals/{id}/fund
func (h *ActionHandler) Fund(w http.ResponseWriter, r *http.Request) {
	deal, ok := h.load(w, r)
	if !ok {
		return
	}
	action, err := h.tx.FundDeal(r.Context(), deal)
	h.respond(w, r, deal.ID.String(), action, err)
}

type releaseRequest struct {
	MilestoneIndex int `json:"milestone_index"`
}

// Release submits release_milestone for one milestone.
// POST /api/deals/{id}/release
func (h *ActionHandler) Release(w http.ResponseWriter, r *http.Request) {
	deal, ok := h.load(w, r)
	if !ok {
		return
	}
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	action, err := h.tx.ReleaseMilestone(r.Context(), deal, req.MilestoneIndex)
	h.respond(w, r, deal.ID.String(), action, err)
}

type bindRequest struct {
	TxHash string `json:"tx_hash"`
}

// Bind attaches the on-chain deal id to a deal whose creation transaction
// was sent from the caller's own wallet.
// POST /api/deals/{id}/bind
func (h *ActionHandler) Bind(w http.ResponseWriter, r *http.Request) {
	deal, ok := h.load(w, r)
	if !ok {
		return
	}
	var req bindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TxHash == "" {
		writeError(w, http.StatusBadRequest, "tx_hash is required")
		return
	}

	chainDealID, guessed, err := h.tx.BindFromTx(r.Context(), deal, req.TxHash)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: bind failed",
				slog.String("deal_id", deal.ID.String()),
				slog.String("tx_hash", req.TxHash),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadGateway, "failed to bind deal")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":            deal.ID.String(),
		"chain_deal_id": chainDealID,
		"guessed":       guessed,
	})
}

type disputeRequest struct {
	Initiator string   `json:"initiator"`
	Reason    string   `json:"reason"`
	Evidence  []string `json:"evidence"`
}

// Dispute submits raise_dispute and records the narrative on confirmation.
// POST /api/deals/{id}/dispute
func (h *ActionHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	deal, ok := h.load(w, r)
	if !ok {
		return
	}
	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	action, err := h.tx.RaiseDispute(r.Context(), deal, req.Initiator, req.Reason, req.Evidence)
	h.respond(w, r, deal.ID.String(), action, err)
}

type resolveRequest struct {
	ClientShare     string `json:"client_share"`
	FreelancerShare string `json:"freelancer_share"`
}

// Resolve submits the arbiter's resolve_dispute split. Shares are decimal
// wei strings.
// POST /api/deals/{id}/resolve
func (h *ActionHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	deal, ok := h.load(w, r)
	if !ok {
		return
	}
	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	clientShare, ok1 := new(big.Int).SetString(req.ClientShare, 10)
	freelancerShare, ok2 := new(big.Int).SetString(req.FreelancerShare, 10)
	if !ok1 || !ok2 {
		writeError(w, http.StatusBadRequest, "shares must be decimal wei strings")
		return
	}
	action, err := h.tx.ResolveDispute(r.Context(), deal, clientShare, freelancerShare)
	h.respond(w, r, deal.ID.String(), action, err)
}

// GetAction returns one tracked action.
// GET /api/actions/{id}
func (h *ActionHandler) GetAction(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing action id")
		return
	}
	action, err := h.actions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "action not found")
		return
	}
	writeJSON(w, http.StatusOK, action)
}

// ListActions returns all tracked actions for a deal, newest first.
// GET /api/deals/{id}/actions
func (h *ActionHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing deal id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": h.actions.ListByDeal(id)})
}

func (h *ActionHandler) load(w http.ResponseWriter, r *http.Request) (domain.Deal, bool) {
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
		writeError(w, http.StatusInternalServerError, "failed to get deal")
		return domain.Deal{}, false
	}
	return deal, true
}

func (h *ActionHandler) respond(w http.ResponseWriter, r *http.Request, dealID string, action domain.Action, err error) {
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotBound), errors.Is(err, domain.ErrAlreadyExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, domain.ErrTxRejected):
			writeError(w, http.StatusBadGateway, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: action failed",
				slog.String("deal_id", dealID),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "transaction failed")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, action)
}
