package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/escrowd/internal/domain"
	"github.com/alanyoungcy/escrowd/internal/platform/chain"
)

// EventSource fetches decoded contract event history for one deal.
type EventSource interface {
	EventHistory(ctx context.Context, dealID uint64, fromBlock uint64) ([]chain.DecodedLog, error)
}

// HistoryArchiver snapshots the full decoded event log of every terminal
// deal into cold storage. Terminal deals no longer change on-chain, so each
// deal is archived at most once per run and the upload is idempotent.
type HistoryArchiver struct {
	deals  domain.DealStore
	source EventSource
	blob   domain.Archiver
	logger *slog.Logger
}

func NewHistoryArchiver(deals domain.DealStore, source EventSource, blob domain.Archiver, logger *slog.Logger) *HistoryArchiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &HistoryArchiver{
		deals:  deals,
		source: source,
		blob:   blob,
		logger: logger.With("component", "history_archiver"),
	}
}

// Run archives event history for completed and cancelled deals.
func (a *HistoryArchiver) Run(ctx context.Context) error {
	start := time.Now()
	var archived int
	for _, status := range []domain.DealStatus{domain.DealStatusCompleted, domain.DealStatusCancelled} {
		n, err := a.archiveByStatus(ctx, status)
		if err != nil {
			return err
		}
		archived += n
	}
	a.logger.InfoContext(ctx, "archive run complete",
		"deals", archived,
		"elapsed", time.Since(start),
	)
	return nil
}

func (a *HistoryArchiver) archiveByStatus(ctx context.Context, status domain.DealStatus) (int, error) {
	const pageSize = 100
	offset := 0
	archived := 0
	for {
		deals, err := a.deals.List(ctx, domain.ListOpts{Limit: pageSize, Offset: offset, Status: status})
		if err != nil {
			return archived, fmt.Errorf("history_archiver: list %s deals: %w", status, err)
		}
		if len(deals) == 0 {
			return archived, nil
		}
		for _, deal := range deals {
			if !deal.Bound() {
				continue
			}
			wrote, err := a.archiveDeal(ctx, deal)
			if err != nil {
				a.logger.WarnContext(ctx, "deal archive failed", "deal_id", deal.ID, "error", err)
				continue
			}
			if wrote {
				archived++
			}
		}
		if len(deals) < pageSize {
			return archived, nil
		}
		offset += pageSize
	}
}

func (a *HistoryArchiver) archiveDeal(ctx context.Context, deal domain.Deal) (bool, error) {
	done, err := a.blob.EventsArchived(ctx, deal.ID.String())
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	history, err := a.source.EventHistory(ctx, *deal.ChainDealID, 0)
	if err != nil {
		return false, err
	}
	if len(history) == 0 {
		return false, nil
	}

	records := make([]domain.ChainEventRecord, 0, len(history))
	for _, dec := range history {
		records = append(records, domain.ChainEventRecord{
			ChainDealID: dec.DealID,
			Event:       dec.Schema.Name,
			Values:      dec.Values,
			TxHash:      dec.Raw.TxHash.Hex(),
			BlockNumber: dec.Raw.BlockNumber,
		})
	}

	path, err := a.blob.ArchiveEvents(ctx, deal.ID.String(), records)
	if err != nil {
		return false, err
	}
	a.logger.DebugContext(ctx, "deal history archived", "deal_id", deal.ID, "path", path, "events", len(records))
	return true, nil
}
