package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/AlxanderArt/HumanOS/pkg/telemetry"
)

// ExpireAssignmentsJob is the name of the assignment expiry job.
const ExpireAssignmentsJob = "expire-assignments"

// AssignmentExpirer is satisfied by *postgres.Store.
type AssignmentExpirer interface {
	ExpireAssignments(ctx context.Context, now time.Time) (int, error)
}

// ExpireAssignments returns the job that releases assignments past their
// expiry so their tasks can be claimed again.
func ExpireAssignments(store AssignmentExpirer, spec string, logger *slog.Logger) Job {
	return Job{
		Name: ExpireAssignmentsJob,
		Spec: spec,
		Run: func(ctx context.Context) error {
			n, err := store.ExpireAssignments(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			if n > 0 {
				telemetry.SchedulerAssignmentsExpired.Add(float64(n))
				logger.Info("assignments expired", slog.Int("count", n))
			}
			return nil
		},
	}
}
