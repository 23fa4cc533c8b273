package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/escrow"
	"github.com/alanyoungcy/escrowd/internal/platform/chain"
)

// TxService turns deal actions into signed contract calls. Submission is
// synchronous up to the transaction hash; receipt waiting and the follow-up
// off-chain writes run in a detached goroutine so an HTTP caller gets the
// action id back immediately and can watch its state over the socket.
type TxService struct {
	chain      ChainSubmitter
	tracker    *ActionTracker
	reconciler *ReconcileService
	disputes   *DisputeService
	logger     *slog.Logger
}

func NewTxService(submitter ChainSubmitter, tracker *ActionTracker, reconciler *ReconcileService, disputes *DisputeService, logger *slog.Logger) *TxService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TxService{
		chain:      submitter,
		tracker:    tracker,
		reconciler: reconciler,
		disputes:   disputes,
		logger:     logger.With("component", "tx_service"),
	}
}

// FundDeal submits create_deal with the deal's milestone schedule. Native
// deals carry the total as the transaction value; token deals pull it via
// transferFrom inside the contract.
func (s *TxService) FundDeal(ctx context.Context, deal domain.Deal) (domain.Action, error) {
	if deal.Bound() {
		return domain.Action{}, fmt.Errorf("tx_service: fund: deal already bound: %w", domain.ErrAlreadyExists)
	}
	if len(deal.Milestones) == 0 {
		return domain.Action{}, fmt.Errorf("tx_service: fund: %w: deal has no milestones", domain.ErrInvalidInput)
	}

	now := time.Now().UTC()
	amounts := make([]*big.Int, len(deal.Milestones))
	for i, m := range deal.Milestones {
		amounts[i] = m.AmountWei
	}
	endTimes := make([]*big.Int, len(deal.Milestones))
	for i, ts := range escrow.MilestoneEndTimes(deal.Milestones, now) {
		endTimes[i] = big.NewInt(ts)
	}
	approvals := chain.ApprovalWords(escrow.MilestoneApprovals(deal.Milestones, now))

	token := common.Address{}
	value := deal.TotalWei
	if deal.Token != "" {
		token = common.HexToAddress(deal.Token)
		value = nil
	}

	action := s.tracker.Begin(ctx, deal.ID.String(), domain.ActionFund, 0)
	hash, err := s.chain.SubmitTransaction(ctx, "create_deal", value,
		new(big.Int), // ref id, unused by the contract
		common.HexToAddress(deal.Freelancer),
		common.HexToAddress(deal.Arbiter),
		token,
		deal.TotalWei,
		amounts,
		endTimes,
		approvals,
	)
	if err != nil {
		s.tracker.Failed(ctx, action.ID, err)
		return s.tracker.mustGet(action.ID), fmt.Errorf("tx_service: fund: %w", err)
	}
	s.tracker.Submitted(ctx, action.ID, hash.Hex())
	s.awaitReceipt(ctx, action.ID, hash, func(ctx context.Context, receipt *types.Receipt) {
		if _, _, err := s.reconciler.BindCreation(ctx, deal.ID.String(), receipt); err != nil {
			s.logger.ErrorContext(ctx, "bind after fund failed", "deal_id", deal.ID, "error", err)
		}
	})
	return s.tracker.mustGet(action.ID), nil
}

// BindFromTx binds a deal to its chain id from an externally submitted
// creation transaction, for deals funded from the user's own wallet rather
// than the operator key. Binding an already-bound deal returns the existing
// id. The receipt wait is bounded by the caller's context.
func (s *TxService) BindFromTx(ctx context.Context, deal domain.Deal, txHash string) (chainDealID uint64, guessed bool, err error) {
	if deal.Bound() {
		return *deal.ChainDealID, false, nil
	}
	if len(common.FromHex(txHash)) != common.HashLength {
		return 0, false, fmt.Errorf("tx_service: bind: %w: malformed tx hash %q", domain.ErrInvalidInput, txHash)
	}

	receipt, err := s.chain.WaitForReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		return 0, false, fmt.Errorf("tx_service: bind: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return 0, false, fmt.Errorf("tx_service: bind: %w: transaction reverted", domain.ErrInvalidInput)
	}
	return s.reconciler.BindCreation(ctx, deal.ID.String(), receipt)
}

// ReleaseMilestone submits release_milestone for an index that passed the
// eligibility check. The check is advisory; the contract enforces order and
// authorization regardless.
func (s *TxService) ReleaseMilestone(ctx context.Context, deal domain.Deal, index int) (domain.Action, error) {
	if !deal.Bound() {
		return domain.Action{}, fmt.Errorf("tx_service: release: %w", domain.ErrNotBound)
	}
	action := s.tracker.Begin(ctx, deal.ID.String(), domain.ActionRelease, index)
	hash, err := s.chain.SubmitTransaction(ctx, "release_milestone", nil,
		new(big.Int).SetUint64(*deal.ChainDealID),
		big.NewInt(int64(index)),
	)
	if err != nil {
		s.tracker.Failed(ctx, action.ID, err)
		return s.tracker.mustGet(action.ID), fmt.Errorf("tx_service: release: %w", err)
	}
	s.tracker.Submitted(ctx, action.ID, hash.Hex())
	s.awaitReceipt(ctx, action.ID, hash, func(ctx context.Context, _ *types.Receipt) {
		if err := s.reconciler.deals.SetMilestoneReleased(ctx, deal.ID.String(), index); err != nil {
			s.logger.WarnContext(ctx, "release write-back failed", "deal_id", deal.ID, "index", index, "error", err)
		}
		if _, err := s.reconciler.ReconcileDeal(ctx, deal); err != nil {
			s.logger.WarnContext(ctx, "reconcile after release failed", "deal_id", deal.ID, "error", err)
		}
	})
	return s.tracker.mustGet(action.ID), nil
}

// RaiseDispute submits raise_dispute, then records the off-chain narrative
// once the transaction confirms.
func (s *TxService) RaiseDispute(ctx context.Context, deal domain.Deal, initiator, reason string, evidence []string) (domain.Action, error) {
	if !deal.Bound() {
		return domain.Action{}, fmt.Errorf("tx_service: dispute: %w", domain.ErrNotBound)
	}
	if reason == "" {
		return domain.Action{}, fmt.Errorf("%w: a dispute needs a reason", domain.ErrInvalidInput)
	}
	action := s.tracker.Begin(ctx, deal.ID.String(), domain.ActionDispute, 0)
	hash, err := s.chain.SubmitTransaction(ctx, "raise_dispute", nil,
		new(big.Int).SetUint64(*deal.ChainDealID),
	)
	if err != nil {
		s.tracker.Failed(ctx, action.ID, err)
		return s.tracker.mustGet(action.ID), fmt.Errorf("tx_service: dispute: %w", err)
	}
	s.tracker.Submitted(ctx, action.ID, hash.Hex())
	s.awaitReceipt(ctx, action.ID, hash, func(ctx context.Context, _ *types.Receipt) {
		if _, err := s.disputes.RecordDispute(ctx, deal.ID.String(), initiator, reason, evidence); err != nil {
			s.logger.ErrorContext(ctx, "dispute record failed after confirm", "deal_id", deal.ID, "error", err)
		}
	})
	return s.tracker.mustGet(action.ID), nil
}

// ResolveDispute submits the arbiter's resolve_dispute split.
func (s *TxService) ResolveDispute(ctx context.Context, deal domain.Deal, clientShare, freelancerShare *big.Int) (domain.Action, error) {
	if !deal.Bound() {
		return domain.Action{}, fmt.Errorf("tx_service: resolve: %w", domain.ErrNotBound)
	}
	if clientShare == nil || freelancerShare == nil || clientShare.Sign() < 0 || freelancerShare.Sign() < 0 {
		return domain.Action{}, fmt.Errorf("%w: shares must be non-negative", domain.ErrInvalidInput)
	}
	action := s.tracker.Begin(ctx, deal.ID.String(), domain.ActionResolve, 0)
	hash, err := s.chain.SubmitTransaction(ctx, "resolve_dispute", nil,
		new(big.Int).SetUint64(*deal.ChainDealID),
		clientShare,
		freelancerShare,
	)
	if err != nil {
		s.tracker.Failed(ctx, action.ID, err)
		return s.tracker.mustGet(action.ID), fmt.Errorf("tx_service: resolve: %w", err)
	}
	s.tracker.Submitted(ctx, action.ID, hash.Hex())
	s.awaitReceipt(ctx, action.ID, hash, func(ctx context.Context, _ *types.Receipt) {
		if _, err := s.reconciler.ReconcileDeal(ctx, deal); err != nil {
			s.logger.WarnContext(ctx, "reconcile after resolve failed", "deal_id", deal.ID, "error", err)
		}
		s.disputes.NotifyResolved(ctx, deal.ID.String(), clientShare, freelancerShare)
	})
	return s.tracker.mustGet(action.ID), nil
}

// awaitReceipt waits for the receipt in a detached goroutine so the request
// context's cancellation does not abandon a transaction already sent.
func (s *TxService) awaitReceipt(ctx context.Context, actionID string, hash common.Hash, onConfirm func(context.Context, *types.Receipt)) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		receipt, err := s.chain.WaitForReceipt(ctx, hash)
		if err != nil {
			s.tracker.Failed(ctx, actionID, err)
			return
		}
		if receipt.Status != types.ReceiptStatusSuccessful {
			s.tracker.Failed(ctx, actionID, fmt.Errorf("%w: transaction %s reverted", domain.ErrTxRejected, hash))
			return
		}
		s.tracker.Confirmed(ctx, actionID)
		if onConfirm != nil {
			onConfirm(ctx, receipt)
		}
	}()
}

// mustGet returns the tracked action, or a zero action if it vanished.
func (t *ActionTracker) mustGet(id string) domain.Action {
	a, err := t.Get(id)
	if err != nil {
		return domain.Action{}
	}
	return a
}
