package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/escrow"
)

// DealService owns the off-chain deal records: creation, lookup, listing and
// the client-facing status transitions. On-chain state is merged in by the
// ReconcileService; this service never talks to the chain.
type DealService struct {
	deals   domain.DealStore
	cache   domain.DealCache
	bus     domain.SignalBus
	audit   domain.AuditStore
	baseURL string
	logger  *slog.Logger
}

func NewDealService(deals domain.DealStore, cache domain.DealCache, bus domain.SignalBus, audit domain.AuditStore, baseURL string, logger *slog.Logger) *DealService {
	if logger == nil {
		logger = slog.Default()
	}
	return &DealService{
		deals:   deals,
		cache:   cache,
		bus:     bus,
		audit:   audit,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "deal_service"),
	}
}

// MilestoneInput describes one milestone at creation time. Percentage is an
// integer share of the deal total; conditions may be empty, which means the
// milestone needs an explicit client approval.
type MilestoneInput struct {
	Title      string             `json:"title"`
	Percentage int                `json:"percentage"`
	Conditions []domain.Condition `json:"conditions"`
}

type CreateDealInput struct {
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Client      string           `json:"client"`
	Freelancer  string           `json:"freelancer"`
	Arbiter     string           `json:"arbiter"`
	Token       string           `json:"token"`
	TotalWei    *big.Int         `json:"total_wei"`
	Milestones  []MilestoneInput `json:"milestones"`
}

func (in CreateDealInput) validate() error {
	if in.Title == "" {
		return fmt.Errorf("%w: title is required", domain.ErrInvalidInput)
	}
	if in.Client == "" || in.Freelancer == "" {
		return fmt.Errorf("%w: client and freelancer addresses are required", domain.ErrInvalidInput)
	}
	if strings.EqualFold(in.Client, in.Freelancer) {
		return fmt.Errorf("%w: client and freelancer must differ", domain.ErrInvalidInput)
	}
	if in.TotalWei == nil || in.TotalWei.Sign() <= 0 {
		return fmt.Errorf("%w: total must be positive", domain.ErrInvalidInput)
	}
	pcts := make([]int, len(in.Milestones))
	for i, m := range in.Milestones {
		pcts[i] = m.Percentage
	}
	return escrow.ValidatePercentages(pcts)
}

// CreateDeal validates the input, splits the total across milestones and
// persists the record in the pending state. The returned link is the share
// URL for the counterparty.
func (s *DealService) CreateDeal(ctx context.Context, in CreateDealInput) (domain.Deal, string, error) {
	if err := in.validate(); err != nil {
		return domain.Deal{}, "", err
	}

	pcts := make([]int, len(in.Milestones))
	for i, m := range in.Milestones {
		pcts[i] = m.Percentage
	}
	amounts, err := escrow.MilestoneAmounts(in.TotalWei, pcts)
	if err != nil {
		return domain.Deal{}, "", err
	}

	now := time.Now().UTC()
	deal := domain.Deal{
		ID:          uuid.New(),
		Title:       in.Title,
		Description: in.Description,
		Client:      in.Client,
		Freelancer:  in.Freelancer,
		Arbiter:     in.Arbiter,
		Token:       in.Token,
		TotalWei:    in.TotalWei,
		Status:      domain.DealStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	deal.Milestones = make([]domain.Milestone, len(in.Milestones))
	for i, m := range in.Milestones {
		deal.Milestones[i] = domain.Milestone{
			Index:      i,
			Title:      m.Title,
			Percentage: m.Percentage,
			AmountWei:  amounts[i],
			Conditions: m.Conditions,
		}
	}

	if err := s.deals.Create(ctx, deal); err != nil {
		return domain.Deal{}, "", fmt.Errorf("deal_service: create deal: %w", err)
	}
	s.recordAudit(ctx, deal.ID.String(), "deal.created", map[string]any{
		"client":     deal.Client,
		"freelancer": deal.Freelancer,
		"total_wei":  deal.TotalWei.String(),
		"milestones": len(deal.Milestones),
	})
	s.publish(ctx, "deals", dealEvent{Type: "deal_created", DealID: deal.ID.String(), Status: string(deal.Status)})

	return deal, s.DealLink(deal.ID), nil
}

// DealLink builds the shareable URL for a deal.
func (s *DealService) DealLink(id uuid.UUID) string {
	return s.baseURL + "/deal/" + id.String()
}

func (s *DealService) GetDeal(ctx context.Context, id string) (domain.Deal, error) {
	deal, err := s.deals.GetByID(ctx, id)
	if err != nil {
		return domain.Deal{}, fmt.Errorf("deal_service: get deal: %w", err)
	}
	return deal, nil
}

func (s *DealService) ListDeals(ctx context.Context, opts domain.ListOpts) ([]domain.Deal, error) {
	deals, err := s.deals.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("deal_service: list deals: %w", err)
	}
	return deals, nil
}

func (s *DealService) CountDeals(ctx context.Context) (int64, error) {
	n, err := s.deals.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("deal_service: count deals: %w", err)
	}
	return n, nil
}

// UpdateStatus applies a client-requested status transition. Repeating the
// current status is a no-op, not an error.
func (s *DealService) UpdateStatus(ctx context.Context, id string, status domain.DealStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, status)
	}
	if err := s.deals.UpdateStatus(ctx, id, status); err != nil {
		return fmt.Errorf("deal_service: update status: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.WarnContext(ctx, "cache invalidate failed", "deal_id", id, "error", err)
		}
	}
	s.recordAudit(ctx, id, "deal.status_updated", map[string]any{"status": string(status)})
	s.publish(ctx, "deals", dealEvent{Type: "status_updated", DealID: id, Status: string(status)})
	return nil
}

// Templates returns the built-in milestone split presets.
func (s *DealService) Templates() []escrow.Template {
	return escrow.Templates()
}

type dealEvent struct {
	Type   string `json:"type"`
	DealID string `json:"deal_id"`
	Status string `json:"status,omitempty"`
}

func (s *DealService) publish(ctx context.Context, channel string, ev dealEvent) {
	if s.bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, channel, payload); err != nil {
		s.logger.WarnContext(ctx, "publish failed", "channel", channel, "error", err)
	}
}

func (s *DealService) recordAudit(ctx context.Context, dealID, event string, detail map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Log(ctx, dealID, event, detail); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", "event", event, "error", err)
	}
}
