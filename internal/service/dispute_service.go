package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/escrow"
)

// EvidenceArchiver stores the evidence bundle for a dispute in durable blob
// storage. Archival is best effort; a failed upload never blocks the dispute.
type EvidenceArchiver interface {
	ArchiveEvidence(ctx context.Context, d domain.Dispute) (string, error)
}

// Notifier fans a human-readable alert out to the configured channels.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// DisputeService records off-chain dispute narratives and derives rulings
// from DisputeResolved chain events. The chain carries no reason text, so
// the record here is the only place the story of a dispute lives.
type DisputeService struct {
	disputes domain.DisputeStore
	deals    domain.DealStore
	chain    ChainReader
	bus      domain.SignalBus
	audit    domain.AuditStore
	archiver EvidenceArchiver
	notifier Notifier
	logger   *slog.Logger
}

func NewDisputeService(disputes domain.DisputeStore, deals domain.DealStore, reader ChainReader, bus domain.SignalBus, audit domain.AuditStore, archiver EvidenceArchiver, notifier Notifier, logger *slog.Logger) *DisputeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DisputeService{
		disputes: disputes,
		deals:    deals,
		chain:    reader,
		bus:      bus,
		audit:    audit,
		archiver: archiver,
		notifier: notifier,
		logger:   logger.With("component", "dispute_service"),
	}
}

// RecordDispute writes the dispute narrative after the raise_dispute
// transaction has confirmed. The disputed status flag on the deal and the
// evidence upload are both best effort: the chain already holds the
// authoritative Disputed state.
func (s *DisputeService) RecordDispute(ctx context.Context, dealID, initiator, reason string, evidence []string) (domain.Dispute, error) {
	if reason == "" {
		return domain.Dispute{}, fmt.Errorf("%w: a dispute needs a reason", domain.ErrInvalidInput)
	}
	d := domain.Dispute{
		ID:            uuid.NewString(),
		DealID:        dealID,
		Initiator:     initiator,
		Reason:        reason,
		EvidenceLinks: evidence,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.disputes.Create(ctx, d); err != nil {
		return domain.Dispute{}, fmt.Errorf("dispute_service: record dispute: %w", err)
	}

	if err := s.deals.UpdateStatus(ctx, dealID, domain.DealStatusDisputed); err != nil {
		s.logger.WarnContext(ctx, "disputed status write failed", "deal_id", dealID, "error", err)
	}
	if s.archiver != nil {
		if path, err := s.archiver.ArchiveEvidence(ctx, d); err != nil {
			s.logger.WarnContext(ctx, "evidence archive failed", "deal_id", dealID, "error", err)
		} else {
			s.logger.InfoContext(ctx, "evidence archived", "deal_id", dealID, "path", path)
		}
	}
	s.recordAudit(ctx, dealID, "dispute.raised", map[string]any{
		"initiator": initiator,
	})
	s.publish(ctx, dealID, "dispute_raised")
	if s.notifier != nil {
		msg := fmt.Sprintf("deal %s disputed by %s: %s", dealID, initiator, reason)
		if err := s.notifier.Notify(ctx, "dispute_raised", "Dispute raised", msg); err != nil {
			s.logger.WarnContext(ctx, "dispute notification failed", "deal_id", dealID, "error", err)
		}
	}
	return d, nil
}

// NotifyResolved announces the arbiter's split once resolve_dispute has
// confirmed. Everything here is best effort; the ruling itself lives on chain.
func (s *DisputeService) NotifyResolved(ctx context.Context, dealID string, clientShare, freelancerShare *big.Int) {
	s.recordAudit(ctx, dealID, "dispute.resolved", map[string]any{
		"client_share":     clientShare.String(),
		"freelancer_share": freelancerShare.String(),
	})
	s.publish(ctx, dealID, "dispute_resolved")
	if s.notifier != nil {
		msg := fmt.Sprintf("deal %s resolved: client %s wei, freelancer %s wei",
			dealID, clientShare, freelancerShare)
		if err := s.notifier.Notify(ctx, "dispute_resolved", "Dispute resolved", msg); err != nil {
			s.logger.WarnContext(ctx, "resolution notification failed", "deal_id", dealID, "error", err)
		}
	}
}

func (s *DisputeService) GetDispute(ctx context.Context, dealID string) (domain.Dispute, error) {
	d, err := s.disputes.GetByDealID(ctx, dealID)
	if err != nil {
		return domain.Dispute{}, fmt.Errorf("dispute_service: get dispute: %w", err)
	}
	return d, nil
}

func (s *DisputeService) ListDisputes(ctx context.Context, opts domain.ListOpts) ([]domain.Dispute, error) {
	ds, err := s.disputes.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("dispute_service: list disputes: %w", err)
	}
	return ds, nil
}

// RulingOutcome is a derived ruling together with the event it came from.
type RulingOutcome struct {
	Ruling domain.Ruling          `json:"ruling"`
	Event  domain.ResolutionEvent `json:"event"`
}

// Ruling derives the arbiter's decision from DisputeResolved logs. Zero
// events means the dispute is still open; more than one is reported as
// ambiguous rather than silently picking a winner.
func (s *DisputeService) Ruling(ctx context.Context, deal domain.Deal) (RulingOutcome, error) {
	if !deal.Bound() {
		return RulingOutcome{}, fmt.Errorf("dispute_service: ruling: %w", domain.ErrNotBound)
	}
	events, err := s.chain.ResolutionEvents(ctx, *deal.ChainDealID, 0)
	if err != nil {
		return RulingOutcome{}, fmt.Errorf("dispute_service: read resolution events: %w", err)
	}
	ruling, ev, err := escrow.DeriveRuling(events)
	if err != nil {
		return RulingOutcome{}, fmt.Errorf("dispute_service: derive ruling: %w", err)
	}
	return RulingOutcome{Ruling: ruling, Event: ev}, nil
}

func (s *DisputeService) publish(ctx context.Context, dealID, eventType string) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]string{"type": eventType, "deal_id": dealID})
	if err != nil {
		return
	}
	for _, ch := range []string{"disputes", "ch:deal:" + dealID} {
		if err := s.bus.Publish(ctx, ch, payload); err != nil {
			s.logger.WarnContext(ctx, "publish failed", "channel", ch, "error", err)
		}
	}
}

func (s *DisputeService) recordAudit(ctx context.Context, dealID, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, dealID, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", "event", event, "error", err)
	}
}
