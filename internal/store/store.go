package store

import (
	"context"
	"time"
)

// Store persists run state for flow and background-job actions.
// All implementations must be safe for concurrent use.
type Store interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Scheduled Jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	ListScheduledJobs(ctx context.Context, dueBefore time.Time) ([]*ScheduledJob, error)
	UpdateScheduledJobTimes(ctx context.Context, id string, lastRun, nextRun time.Time) error
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RunFilter narrows ListRuns results. Zero values mean "no constraint".
type RunFilter struct {
	ActionKey string
	Status    RunStatus
	Limit     int
}
