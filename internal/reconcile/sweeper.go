package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/service"
)

const sweepLockKey = "reconcile:sweep"

// Sweeper periodically walks every bound, non-terminal deal and reconciles
// it against the contract. A distributed lock keeps concurrent instances
// from sweeping the same deals; an instance that loses the lock just skips
// the tick.
type Sweeper struct {
	deals      domain.DealStore
	reconciler *service.ReconcileService
	locks      domain.LockManager
	batchSize  int
	logger     *slog.Logger
}

func NewSweeper(deals domain.DealStore, reconciler *service.ReconcileService, locks domain.LockManager, batchSize int, logger *slog.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		deals:      deals,
		reconciler: reconciler,
		locks:      locks,
		batchSize:  batchSize,
		logger:     logger.With("component", "sweeper"),
	}
}

// RunLoop sweeps once immediately and then on every tick until ctx is
// cancelled.
func (s *Sweeper) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := s.Sweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "sweep failed", "error", err)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs a single pass over all bound deals. Per-deal reconcile errors
// are counted, not fatal: one unreachable read must not starve the rest of
// the batch.
func (s *Sweeper) Sweep(ctx context.Context) error {
	var unlock func()
	if s.locks != nil {
		var err error
		unlock, err = s.locks.Acquire(ctx, sweepLockKey, 5*time.Minute)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "sweep lock held elsewhere, skipping tick")
			return nil
		}
		if err != nil {
			return fmt.Errorf("sweeper: acquire lock: %w", err)
		}
		defer unlock()
	}

	start := time.Now()
	deals, err := s.snapshotBound(ctx)
	if err != nil {
		return fmt.Errorf("sweeper: list bound deals: %w", err)
	}

	var swept, failed int
	for _, deal := range deals {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.reconciler.ReconcileDeal(ctx, deal); err != nil {
			failed++
			s.logger.WarnContext(ctx, "deal reconcile failed",
				"deal_id", deal.ID, "error", err)
			continue
		}
		swept++
	}

	s.logger.InfoContext(ctx, "sweep complete",
		"bound", len(deals),
		"swept", swept,
		"failed", failed,
		"elapsed", time.Since(start),
	)
	return nil
}

// snapshotBound pages the whole bound set before any deal is reconciled.
// Reconciling while paging would drop deals that turn terminal out of
// ListBound, shifting later pages left and skipping deals in this pass.
func (s *Sweeper) snapshotBound(ctx context.Context) ([]domain.Deal, error) {
	var all []domain.Deal
	for offset := 0; ; offset += s.batchSize {
		page, err := s.deals.ListBound(ctx, domain.ListOpts{Limit: s.batchSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < s.batchSize {
			return all, nil
		}
	}
}
