package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies which AI operation a job performs.
type JobType string

const (
	JobTypeAnalyzeVideo     JobType = "ANALYZE_VIDEO"
	JobTypeAnalyzeFile      JobType = "ANALYZE_FILE"
	JobTypeGenerateScenario JobType = "GENERATE_SCENARIO"
)

// Valid reports whether t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeAnalyzeVideo, JobTypeAnalyzeFile, JobTypeGenerateScenario:
		return true
	default:
		return false
	}
}

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED" // reserved, nothing sets it yet
)

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition is possible from s.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

var jobTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing, JobStatusCancelled},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed, JobStatusPending, JobStatusCancelled},
}

// CanTransition reports whether a job may move from s to next.
// PROCESSING -> PENDING is the retry edge.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Job is one unit of asynchronous AI work. The jobs table is the single source
// of truth; the processor derives every decision from a fresh read of it.
type Job struct {
	ID          uuid.UUID       `db:"id"           json:"id"`
	Type        JobType         `db:"type"         json:"type"`
	Status      JobStatus       `db:"status"       json:"status"`
	Input       json.RawMessage `db:"input"        json:"input"`
	Result      json.RawMessage `db:"result"       json:"result,omitempty"`
	Error       *string         `db:"error"        json:"error,omitempty"`
	RetryCount  int             `db:"retry_count"  json:"retryCount"`
	MaxRetries  int             `db:"max_retries"  json:"maxRetries"`
	StartedAt   *time.Time      `db:"started_at"   json:"startedAt,omitempty"`
	CompletedAt *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt   time.Time       `db:"created_at"   json:"createdAt"`
	UpdatedAt   time.Time       `db:"updated_at"   json:"updatedAt"`
}

// JobMetadata is client bookkeeping carried in input._metadata. It tells a
// restarted client which placeholder item the job will fill. The executor
// never reads it.
type JobMetadata struct {
	ItemID    string `json:"itemId"`
	TargetTab Tab    `json:"targetTab"`
}

// Metadata extracts input._metadata. ok is false when the field is absent,
// malformed, or carries no item id.
func (j *Job) Metadata() (JobMetadata, bool) {
	var envelope struct {
		Metadata *JobMetadata `json:"_metadata"`
	}
	if len(j.Input) == 0 || json.Unmarshal(j.Input, &envelope) != nil {
		return JobMetadata{}, false
	}
	if envelope.Metadata == nil || envelope.Metadata.ItemID == "" {
		return JobMetadata{}, false
	}
	return *envelope.Metadata, true
}
