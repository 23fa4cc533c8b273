package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/escrowd/internal/domain"
)

// ActionTracker keeps per-action transaction state in memory and streams
// every transition to the actions channel. State lives here rather than in
// Postgres: an action is only interesting while its transaction is in
// flight, and a restart simply forgets actions whose outcome the next
// reconcile sweep picks up from the chain anyway.
type ActionTracker struct {
	mu      sync.RWMutex
	actions map[string]domain.Action
	bus     domain.SignalBus
	logger  *slog.Logger
}

func NewActionTracker(bus domain.SignalBus, logger *slog.Logger) *ActionTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ActionTracker{
		actions: make(map[string]domain.Action),
		bus:     bus,
		logger:  logger.With("component", "action_tracker"),
	}
}

// Begin registers a new action in the pending state.
func (t *ActionTracker) Begin(ctx context.Context, dealID string, kind domain.ActionKind, milestoneIndex int) domain.Action {
	now := time.Now().UTC()
	a := domain.Action{
		ID:             uuid.NewString(),
		DealID:         dealID,
		Kind:           kind,
		MilestoneIndex: milestoneIndex,
		State:          domain.ActionStatePending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	t.mu.Lock()
	t.actions[a.ID] = a
	t.mu.Unlock()
	t.publish(ctx, a)
	return a
}

// Submitted records the transaction hash and moves to confirming.
func (t *ActionTracker) Submitted(ctx context.Context, id, txHash string) {
	t.transition(ctx, id, func(a *domain.Action) {
		a.State = domain.ActionStateConfirming
		a.TxHash = txHash
	})
}

// Confirmed marks the transaction as mined successfully.
func (t *ActionTracker) Confirmed(ctx context.Context, id string) {
	t.transition(ctx, id, func(a *domain.Action) {
		a.State = domain.ActionStateConfirmed
	})
}

// Failed marks the action errored; the message is surfaced to the client.
func (t *ActionTracker) Failed(ctx context.Context, id string, cause error) {
	t.transition(ctx, id, func(a *domain.Action) {
		a.State = domain.ActionStateFailed
		if cause != nil {
			a.Error = cause.Error()
		}
	})
}

func (t *ActionTracker) Get(id string) (domain.Action, error) {
	t.mu.RLock()
	a, ok := t.actions[id]
	t.mu.RUnlock()
	if !ok {
		return domain.Action{}, fmt.Errorf("action_tracker: action %s: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

// ListByDeal returns all tracked actions for a deal, newest first.
func (t *ActionTracker) ListByDeal(dealID string) []domain.Action {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []domain.Action
	for _, a := range t.actions {
		if a.DealID == dealID {
			out = append(out, a)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (t *ActionTracker) transition(ctx context.Context, id string, apply func(*domain.Action)) {
	t.mu.Lock()
	a, ok := t.actions[id]
	if !ok {
		t.mu.Unlock()
		t.logger.WarnContext(ctx, "transition on unknown action", "action_id", id)
		return
	}
	apply(&a)
	a.UpdatedAt = time.Now().UTC()
	t.actions[id] = a
	t.mu.Unlock()
	t.publish(ctx, a)
}

func (t *ActionTracker) publish(ctx context.Context, a domain.Action) {
	if t.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"type":      "action",
		"action_id": a.ID,
		"deal_id":   a.DealID,
		"kind":      string(a.Kind),
		"state":     string(a.State),
		"tx_hash":   a.TxHash,
		"error":     a.Error,
	})
	if err != nil {
		return
	}
	for _, ch := range []string{"actions", "ch:deal:" + a.DealID} {
		if err := t.bus.Publish(ctx, ch, payload); err != nil {
			t.logger.WarnContext(ctx, "publish failed", "channel", ch, "error", err)
		}
	}
}
