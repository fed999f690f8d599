package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrStatusConflict is returned by TransitionJob when the job is no longer in
// the expected source status. Another writer won the race.
var ErrStatusConflict = errors.New("job status changed concurrently")

// ErrInvalidTransition is returned for an edge the job state machine forbids.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// ListJobs returns jobs newest first. An empty status lists every job.
	ListJobs(ctx context.Context, status models.JobStatus) ([]*models.Job, error)
	// ListStaleJobs returns jobs in status whose updated_at is before cutoff.
	ListStaleJobs(ctx context.Context, status models.JobStatus, cutoff time.Time) ([]*models.Job, error)
	// TransitionJob atomically moves a job from one status to another. The
	// write only happens if the stored status still equals from.
	TransitionJob(ctx context.Context, id uuid.UUID, from, to models.JobStatus, opts ...JobUpdateOption) (*models.Job, error)

	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, kind models.Tab, id string) (*models.Item, error)
	ListItems(ctx context.Context, kind models.Tab) ([]*models.Item, error)
	UpdateItem(ctx context.Context, item *models.Item) error
	DeleteItem(ctx context.Context, kind models.Tab, id string) error

	CreateChatMessage(ctx context.Context, msg *models.ChatMessage) error
	ListChatMessages(ctx context.Context) ([]*models.ChatMessage, error)
	ClearChatMessages(ctx context.Context) error
}

type jobUpdateParams struct {
	ErrorMessage *string
	Result       json.RawMessage
	RetryCount   *int
}

type JobUpdateOption func(*jobUpdateParams)

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.ErrorMessage = &msg
	}
}

func WithResult(result json.RawMessage) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = result
	}
}

func WithRetryCount(n int) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.RetryCount = &n
	}
}

// ApplyJobUpdate applies a transition to an in-memory job the same way the
// Postgres store does. Exported for test doubles.
func ApplyJobUpdate(job *models.Job, to models.JobStatus, now time.Time, opts ...JobUpdateOption) {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	job.Status = to
	job.UpdatedAt = now
	switch to {
	case models.JobStatusProcessing:
		job.StartedAt = &now
	case models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled:
		job.CompletedAt = &now
	}
	if to == models.JobStatusCompleted && params.ErrorMessage == nil {
		job.Error = nil
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		job.Error = &msg
	}
	if params.Result != nil {
		job.Result = params.Result
	}
	if params.RetryCount != nil {
		job.RetryCount = *params.RetryCount
	}
}
