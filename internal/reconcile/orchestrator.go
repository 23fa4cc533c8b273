package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the background reconciliation loops: the periodic deal
// sweeper and the cold-storage history archiver.
type Orchestrator struct {
	sweeper       *Sweeper
	archiver      *HistoryArchiver
	sweepInterval time.Duration
	archiveCron   string
	logger        *slog.Logger
}

func NewOrchestrator(sweeper *Sweeper, archiver *HistoryArchiver, sweepInterval time.Duration, archiveCron string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		sweeper:       sweeper,
		archiver:      archiver,
		sweepInterval: sweepInterval,
		archiveCron:   archiveCron,
		logger:        logger,
	}
}

// Run starts the loops as concurrent goroutines. Each respects ctx
// cancellation; any non-context error cancels the rest and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("reconciler starting",
		slog.Duration("sweep_interval", o.sweepInterval),
		slog.String("archive_cron", o.archiveCron),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.sweeper.RunLoop(ctx, o.sweepInterval)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("sweeper: %w", err)
	})

	if o.archiver != nil && o.archiveCron != "" {
		g.Go(func() error {
			err := o.runArchiveCron(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("history archiver: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("reconciler stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("reconciler stopped cleanly")
	return nil
}

func (o *Orchestrator) runArchiveCron(ctx context.Context) error {
	for {
		next, err := nextCronTime(o.archiveCron, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("parsing cron %q: %w", o.archiveCron, err)
		}
		o.logger.Info("archiver waiting for next trigger", slog.Time("next_run", next))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			if err := o.archiver.Run(ctx); err != nil {
				o.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
