package jobs

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const sweepBatchSize = 100

// KeySweeper is the slice of the key lifecycle manager the sweep needs.
type KeySweeper interface {
	StragglerIDs(ctx context.Context, limit int) ([]uuid.UUID, error)
	DeactivateSubtree(ctx context.Context, keyID uuid.UUID) (int64, error)
}

// NewCascadeSweepHandler returns the handler for TaskCascadeSweep. It
// drains stragglers in batches until none remain.
func NewCascadeSweepHandler(sweeper KeySweeper, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var total int64
		for {
			ids, err := sweeper.StragglerIDs(ctx, sweepBatchSize)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				break
			}
			for _, id := range ids {
				n, err := sweeper.DeactivateSubtree(ctx, id)
				if err != nil {
					return err
				}
				total += n
			}
		}
		if total > 0 && logger != nil {
			logger.Info("cascade sweep converged stragglers", slog.Int64("deactivated", total))
		}
		return nil
	}
}
