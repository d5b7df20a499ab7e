package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// TokenPurger removes expired refresh tokens.
type TokenPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// NewTokenPurgeHandler returns the handler for TaskTokenPurge.
func NewTokenPurgeHandler(purger TokenPurger, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		n, err := purger.PurgeExpired(ctx)
		if err != nil {
			return err
		}
		if n > 0 && logger != nil {
			logger.Info("purged expired refresh tokens", slog.Int64("deleted", n))
		}
		return nil
	}
}
