package store

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/cklxx/tunehub/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// ErrConflict is returned when an operation is invalid for the job's current
// state: deleting a non-terminal job, or a status transition outside the
// job state machine.
var ErrConflict = errors.New("operation conflicts with current job state")

// Store is the data access interface. All job record operations go through
// here. Writes to a given job come from the runner that owns it; the store
// only enforces the transition rules.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress JobProgressUpdate) error
	SetCancelRequested(ctx context.Context, id uuid.UUID) error
	DeleteJob(ctx context.Context, id uuid.UUID) error

	// FailRunningJobs is the recovery sweep: it moves every running job to
	// failed with the given reason and returns how many rows it touched.
	// Pending and terminal jobs are left untouched.
	FailRunningJobs(ctx context.Context, reason string) (int64, error)
}

// JobFilter narrows ListJobs. Zero values mean "no filter"; results are
// ordered by created_at descending.
type JobFilter struct {
	Kind   string
	Status string
	Page   int
	Limit  int
}

// JobProgressUpdate carries one progress checkpoint. CompletedUnits never
// decreases for the lifetime of a running job; the store does not enforce
// this because the single writer already guarantees it.
type JobProgressUpdate struct {
	CompletedUnits int64
	TotalUnits     int64
	Message        string
	CurrentLoss    *float64
}

// JobUpdateParams is the materialized form of a set of JobUpdateOptions.
// Exported so Store fakes outside this package can apply options too.
type JobUpdateParams struct {
	ErrorMessage *string
	Result       []byte
	TotalUnits   *int64
}

type JobUpdateOption func(*JobUpdateParams)

// ApplyJobUpdateOptions folds opts into a params struct.
func ApplyJobUpdateOptions(opts ...JobUpdateOption) JobUpdateParams {
	var p JobUpdateParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithErrorMessage records the terminal failure description.
func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

// WithResult records the kind-specific success payload (JSON).
func WithResult(result []byte) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.Result = result
	}
}

// WithTotalUnits sets total_units alongside the status change, used when the
// runner learns the workload size at start.
func WithTotalUnits(total int64) JobUpdateOption {
	return func(p *JobUpdateParams) {
		p.TotalUnits = &total
	}
}
