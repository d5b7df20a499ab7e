package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskCascadeSweep re-applies cascade deactivation to any active key
	// whose ancestor was deactivated while the cascading transaction was
	// racing a concurrent mint.
	TaskCascadeSweep = "keys:cascade_sweep"

	// TaskTokenPurge deletes refresh tokens past their expiry.
	TaskTokenPurge = "sessions:purge_expired"
)

// NewCascadeSweepTask constructs the periodic cascade convergence task.
func NewCascadeSweepTask() *asynq.Task {
	return asynq.NewTask(TaskCascadeSweep, nil)
}

// NewTokenPurgeTask constructs the periodic refresh-token purge task.
func NewTokenPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskTokenPurge, nil)
}
