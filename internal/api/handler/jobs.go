package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/scenarist/internal/api/response"
	"github.com/kiranshivaraju/scenarist/internal/cache"
	"github.com/kiranshivaraju/scenarist/internal/store"
	"github.com/kiranshivaraju/scenarist/pkg/models"
)

const maxRetriesCeiling = 10

// JobDispatcher starts a job run without waiting for it.
type JobDispatcher interface {
	Dispatch(jobID uuid.UUID)
}

type submitJobRequest struct {
	Type       models.JobType  `json:"type"`
	Input      json.RawMessage `json:"input"`
	MaxRetries *int            `json:"maxRetries"`
}

type submitJobResponse struct {
	JobID     uuid.UUID        `json:"jobId"`
	Status    models.JobStatus `json:"status"`
	CreatedAt time.Time        `json:"createdAt"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// The job is stored PENDING and dispatched; the response never waits for it.
func NewSubmitJobHandler(st store.Store, d JobDispatcher, defaultMaxRetries int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitJobRequest
		if !response.Decode(w, r, &req) {
			return
		}

		if req.Type == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "type is required", nil)
			return
		}
		if !req.Type.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown job type", map[string]string{"type": string(req.Type)})
			return
		}
		if !isJSONObject(req.Input) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "input is required and must be an object", nil)
			return
		}

		maxRetries := defaultMaxRetries
		if req.MaxRetries != nil {
			if *req.MaxRetries < 0 || *req.MaxRetries > maxRetriesCeiling {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "maxRetries must be between 0 and 10", nil)
				return
			}
			maxRetries = *req.MaxRetries
		}

		now := time.Now().UTC()
		job := &models.Job{
			ID:         uuid.New(),
			Type:       req.Type,
			Status:     models.JobStatusPending,
			Input:      req.Input,
			MaxRetries: maxRetries,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := st.CreateJob(r.Context(), job); err != nil {
			slog.Error("failed to create job", "type", req.Type, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create job", nil)
			return
		}
		slog.Info("job submitted", "job_id", job.ID, "type", job.Type, "max_retries", maxRetries)

		d.Dispatch(job.ID)

		response.Created(w, submitJobResponse{JobID: job.ID, Status: job.Status, CreatedAt: job.CreatedAt})
	}
}

type jobView struct {
	ID          uuid.UUID        `json:"id"`
	Type        models.JobType   `json:"type"`
	Status      models.JobStatus `json:"status"`
	Input       json.RawMessage  `json:"input"`
	Result      json.RawMessage  `json:"result"`
	Error       *string          `json:"error"`
	RetryCount  int              `json:"retryCount"`
	MaxRetries  int              `json:"maxRetries"`
	StartedAt   *time.Time       `json:"startedAt"`
	CompletedAt *time.Time       `json:"completedAt"`
	CreatedAt   time.Time        `json:"createdAt"`
}

func newJobView(j *models.Job) jobView {
	return jobView{
		ID:          j.ID,
		Type:        j.Type,
		Status:      j.Status,
		Input:       j.Input,
		Result:      j.Result,
		Error:       j.Error,
		RetryCount:  j.RetryCount,
		MaxRetries:  j.MaxRetries,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
		CreatedAt:   j.CreatedAt,
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// The Redis status mirror is consulted only to log hit or miss; the stored
// record is always what is returned.
func NewGetJobHandler(st store.Store, ca cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid job ID format", nil)
			return
		}

		if ca != nil {
			if status, ok, err := ca.GetJobStatus(r.Context(), jobID); err == nil {
				slog.Debug("job status mirror", "job_id", jobID, "hit", ok, "status", status)
			}
		}

		job, err := st.GetJob(r.Context(), jobID)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			slog.Error("failed to load job", "job_id", jobID, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}

		response.JSON(w, newJobView(job))
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs?status=X.
func NewListJobsHandler(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.JobStatus(r.URL.Query().Get("status"))
		if status != "" && !status.Valid() {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "unknown status", map[string]string{"status": string(status)})
			return
		}

		jobs, err := st.ListJobs(r.Context(), status)
		if err != nil {
			slog.Error("failed to list jobs", "status", status, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list jobs", nil)
			return
		}

		views := make([]jobView, len(jobs))
		for i, j := range jobs {
			views[i] = newJobView(j)
		}
		response.JSON(w, views)
	}
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
