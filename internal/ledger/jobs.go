package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/jobs"
	"github.com/dvloznov/donation-tracker/internal/logger"
)

// EnqueueStale publishes one reconcile job for each non-terminal record not updated
// within olderThan, up to limit records. It returns the number of jobs published.
func (s *Service) EnqueueStale(ctx context.Context, pub jobs.Publisher, olderThan time.Duration, limit int) (int, error) {
	log := logger.FromContext(ctx)

	cutoff := s.now().UTC().Add(-olderThan)
	stale, err := s.store.FindStale(ctx, cutoff, limit)
	if err != nil {
		return 0, apperr.AsStorage(err)
	}

	published := 0
	for _, tx := range stale {
		if err := pub.PublishReconcile(ctx, &jobs.ReconcileJob{TransactionID: tx.ID}); err != nil {
			return published, fmt.Errorf("EnqueueStale: publishing job for %s: %w", tx.ID, err)
		}
		published++
	}

	if published > 0 {
		log.Info().Int("count", published).Time("cutoff", cutoff).Msg("Enqueued stale transactions")
	}
	return published, nil
}

// HandleJob is the jobs.JobHandler for reconcile jobs. Records that vanished or that the
// provider does not know are not retried.
func (s *Service) HandleJob(ctx context.Context, job *jobs.ReconcileJob) error {
	tx, err := s.ReconcileTransaction(ctx, job.TransactionID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return jobs.Permanent(err)
		}
		return err
	}

	job.ResultStatus = string(tx.Status)
	return nil
}

// RunStaleSweep calls EnqueueStale every interval until ctx is done. Sweep errors are
// logged and the loop continues.
func (s *Service) RunStaleSweep(ctx context.Context, pub jobs.Publisher, interval, olderThan time.Duration, limit int) {
	log := logger.FromContext(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().
		Dur("interval", interval).
		Dur("stale_after", olderThan).
		Int("batch_size", limit).
		Msg("Starting stale transaction sweep")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Stale transaction sweep stopped")
			return
		case <-ticker.C:
			if _, err := s.EnqueueStale(ctx, pub, olderThan, limit); err != nil {
				log.Error().Err(err).Msg("Stale transaction sweep failed")
			}
		}
	}
}
