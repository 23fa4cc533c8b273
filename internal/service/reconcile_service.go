package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/escrow"
	"github.com/alanyoungcy/escrowd/internal/platform/chain"
)

// ReconcileService merges on-chain contract state into the off-chain deal
// records. A successful chain read always wins over the cached status; when
// the RPC endpoint is down the last off-chain status is served instead, so a
// flaky provider degrades reads rather than failing them.
type ReconcileService struct {
	deals  domain.DealStore
	cache  domain.DealCache
	bus    domain.SignalBus
	audit  domain.AuditStore
	chain  ChainReader
	logger *slog.Logger
}

func NewReconcileService(deals domain.DealStore, cache domain.DealCache, bus domain.SignalBus, audit domain.AuditStore, reader ChainReader, logger *slog.Logger) *ReconcileService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileService{
		deals:  deals,
		cache:  cache,
		bus:    bus,
		audit:  audit,
		chain:  reader,
		logger: logger.With("component", "reconcile_service"),
	}
}

// DealView is a deal with the chain-reconciled status applied. ChainStatus
// is nil for unbound deals and for bound deals whose status read failed.
type DealView struct {
	domain.Deal
	ChainStatus *domain.ChainStatus `json:"chain_status,omitempty"`
	Mirrors     []domain.MilestoneMirror
}

// View reads the contract state for a bound deal and returns the merged
// record. The stored row is not modified; use ReconcileDeal for that.
func (s *ReconcileService) View(ctx context.Context, deal domain.Deal) DealView {
	view := DealView{Deal: deal}
	if !deal.Bound() {
		return view
	}

	st, err := s.chain.DealStatus(ctx, *deal.ChainDealID)
	if err != nil {
		s.logger.WarnContext(ctx, "chain status read failed, serving off-chain status",
			"deal_id", deal.ID, "chain_deal_id", *deal.ChainDealID, "error", err)
	} else {
		view.ChainStatus = &st
		view.Status = domain.EffectiveStatus(&st, deal.Status)
	}

	mirrors, err := s.chain.Milestones(ctx, *deal.ChainDealID, len(deal.Milestones))
	if err != nil {
		s.logger.WarnContext(ctx, "milestone mirror read failed",
			"deal_id", deal.ID, "error", err)
		return view
	}
	view.Mirrors = mirrors
	for i := range view.Milestones {
		if i < len(mirrors) {
			view.Milestones[i].Released = mirrors[i].Released
		}
	}
	return view
}

// ReconcileDeal reads the contract state and writes back any divergence:
// status transitions and newly released milestones. Off-chain write failures
// are logged and do not abort the reconcile; the next sweep retries them.
func (s *ReconcileService) ReconcileDeal(ctx context.Context, deal domain.Deal) (DealView, error) {
	if !deal.Bound() {
		return DealView{Deal: deal}, nil
	}

	st, err := s.chain.DealStatus(ctx, *deal.ChainDealID)
	if err != nil {
		return DealView{Deal: deal}, fmt.Errorf("reconcile_service: read status: %w", err)
	}
	view := DealView{Deal: deal, ChainStatus: &st}
	view.Status = domain.EffectiveStatus(&st, deal.Status)

	if view.Status != deal.Status {
		if err := s.deals.UpdateStatus(ctx, deal.ID.String(), view.Status); err != nil {
			s.logger.WarnContext(ctx, "status write-back failed",
				"deal_id", deal.ID, "status", view.Status, "error", err)
		} else {
			s.recordAudit(ctx, deal.ID.String(), "deal.reconciled", map[string]any{
				"from": string(deal.Status),
				"to":   string(view.Status),
			})
			s.publishTransition(ctx, deal.ID.String(), deal.Status, view.Status)
		}
	}
	s.cacheStatus(ctx, deal.ID.String(), view.Status)

	mirrors, err := s.chain.Milestones(ctx, *deal.ChainDealID, len(deal.Milestones))
	if err != nil {
		s.logger.WarnContext(ctx, "milestone mirror read failed", "deal_id", deal.ID, "error", err)
		return view, nil
	}
	view.Mirrors = mirrors
	for i := range view.Milestones {
		if i >= len(mirrors) {
			break
		}
		if mirrors[i].Released && !view.Milestones[i].Released {
			view.Milestones[i].Released = true
			if err := s.deals.SetMilestoneReleased(ctx, deal.ID.String(), i); err != nil {
				s.logger.WarnContext(ctx, "milestone write-back failed",
					"deal_id", deal.ID, "index", i, "error", err)
			}
		}
	}
	return view, nil
}

// MilestoneEligibility evaluates whether the given role may release the
// milestone right now, against live contract state.
func (s *ReconcileService) MilestoneEligibility(ctx context.Context, deal domain.Deal, index int, role domain.Role) (escrow.Eligibility, error) {
	in := escrow.ReleaseInput{
		Role:  role,
		Index: index,
		Bound: deal.Bound(),
		Now:   time.Now().UTC(),
	}
	if deal.Bound() {
		st, err := s.chain.DealStatus(ctx, *deal.ChainDealID)
		if err != nil {
			return escrow.Eligibility{}, fmt.Errorf("reconcile_service: read status: %w", err)
		}
		in.ChainStatus = st

		count := len(deal.Milestones)
		if count == 0 {
			count = index + 1
		}
		mirrors, err := s.chain.Milestones(ctx, *deal.ChainDealID, count)
		if err != nil {
			return escrow.Eligibility{}, fmt.Errorf("reconcile_service: read milestones: %w", err)
		}
		in.Mirrors = mirrors
	}
	if index >= 0 && index < len(deal.Milestones) {
		in.Conditions = deal.Milestones[index].Conditions
		in.HaveConditions = true
	}
	return escrow.EvaluateRelease(in), nil
}

// BindCreation extracts the assigned deal id from a creation receipt and
// binds it to the off-chain record. When the DealCreated log is missing the
// returned id is a sequential guess and guessed is true; a guessed id is
// reported to the caller but never bound.
func (s *ReconcileService) BindCreation(ctx context.Context, dealID string, receipt *types.Receipt) (chainDealID uint64, guessed bool, err error) {
	if receipt == nil {
		return 0, false, fmt.Errorf("reconcile_service: bind creation: %w: nil receipt", domain.ErrInvalidInput)
	}

	id, ok := chain.ExtractDealID(receipt.Logs, chain.DealCreatedEvent)
	if !ok {
		guess, gerr := s.nextSequentialID(ctx)
		if gerr != nil {
			return 0, false, fmt.Errorf("reconcile_service: bind creation: no DealCreated log in receipt %s", receipt.TxHash)
		}
		s.logger.WarnContext(ctx, "creation receipt carried no DealCreated log, id is a guess",
			"deal_id", dealID, "tx", receipt.TxHash, "guess", guess)
		return guess, true, nil
	}

	if err := s.deals.BindChainID(ctx, dealID, id); err != nil {
		return id, false, fmt.Errorf("reconcile_service: bind chain id %d: %w", id, err)
	}
	if err := s.deals.UpdateStatus(ctx, dealID, domain.DealStatusFunded); err != nil {
		s.logger.WarnContext(ctx, "funded status write failed after bind",
			"deal_id", dealID, "chain_deal_id", id, "error", err)
	}
	s.cacheStatus(ctx, dealID, domain.DealStatusFunded)
	s.recordAudit(ctx, dealID, "deal.bound", map[string]any{
		"chain_deal_id": id,
		"tx":            receipt.TxHash.Hex(),
	})
	s.publishTransition(ctx, dealID, domain.DealStatusPending, domain.DealStatusFunded)
	return id, false, nil
}

// nextSequentialID guesses the id the contract will have assigned, assuming
// ids are handed out sequentially from zero. Advisory only.
func (s *ReconcileService) nextSequentialID(ctx context.Context) (uint64, error) {
	bound, err := s.deals.ListBound(ctx, domain.ListOpts{Limit: 1000})
	if err != nil {
		return 0, err
	}
	var next uint64
	for _, d := range bound {
		if d.ChainDealID != nil && *d.ChainDealID+1 > next {
			next = *d.ChainDealID + 1
		}
	}
	return next, nil
}

func (s *ReconcileService) cacheStatus(ctx context.Context, dealID string, status domain.DealStatus) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetStatus(ctx, dealID, status); err != nil {
		s.logger.WarnContext(ctx, "status cache write failed", "deal_id", dealID, "error", err)
	}
}

func (s *ReconcileService) publishTransition(ctx context.Context, dealID string, from, to domain.DealStatus) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{
		"type":    "status_changed",
		"deal_id": dealID,
		"from":    string(from),
		"to":      string(to),
	})
	if err != nil {
		return
	}
	for _, ch := range []string{"deals", "ch:deal:" + dealID} {
		if err := s.bus.Publish(ctx, ch, payload); err != nil {
			s.logger.WarnContext(ctx, "publish failed", "channel", ch, "error", err)
		}
	}
}

func (s *ReconcileService) recordAudit(ctx context.Context, dealID, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, dealID, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", "event", event, "error", err)
	}
}
