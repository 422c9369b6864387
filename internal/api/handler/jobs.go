package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cklxx/tunehub/internal/api/response"
	"github.com/cklxx/tunehub/internal/jobs"
	"github.com/cklxx/tunehub/internal/store"
	"github.com/cklxx/tunehub/pkg/models"
)

// Dispatcher is the write side of the job pipeline the handlers depend on.
type Dispatcher interface {
	Submit(ctx context.Context, kind string, input json.RawMessage) (*models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	Remove(ctx context.Context, id uuid.UUID) error
}

// JobReader is the read-only projection used for polling.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
}

// jobResponse is the wire shape of one job record.
type jobResponse struct {
	ID              uuid.UUID       `json:"id"`
	Kind            string          `json:"kind"`
	Status          string          `json:"status"`
	Input           json.RawMessage `json:"input"`
	Progress        progressBody    `json:"progress"`
	Result          json.RawMessage `json:"result,omitempty"`
	Error           *string         `json:"error,omitempty"`
	CancelRequested bool            `json:"cancel_requested"`
	CreatedAt       time.Time       `json:"created_at"`
	StartedAt       *time.Time      `json:"started_at,omitempty"`
	FinishedAt      *time.Time      `json:"finished_at,omitempty"`
}

type progressBody struct {
	CompletedUnits int64    `json:"completed_units"`
	TotalUnits     int64    `json:"total_units"`
	Percentage     int      `json:"percentage"`
	Message        string   `json:"message"`
	CurrentLoss    *float64 `json:"current_loss,omitempty"`
	BestLoss       *float64 `json:"best_loss,omitempty"`
}

func newJobResponse(j *models.Job) jobResponse {
	return jobResponse{
		ID:     j.ID,
		Kind:   j.Kind,
		Status: j.Status,
		Input:  j.Input,
		Progress: progressBody{
			CompletedUnits: j.CompletedUnits,
			TotalUnits:     j.TotalUnits,
			Percentage:     j.ProgressPercentage(),
			Message:        j.ProgressMessage,
			CurrentLoss:    j.CurrentLoss,
			BestLoss:       j.BestLoss,
		},
		Result:          j.Result,
		Error:           j.ErrorMessage,
		CancelRequested: j.CancelRequested,
		CreatedAt:       j.CreatedAt,
		StartedAt:       j.StartedAt,
		FinishedAt:      j.FinishedAt,
	}
}

// NewListJobsHandler returns the handler for GET /api/v1/jobs.
func NewListJobsHandler(reader JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		kind := q.Get("kind")
		if kind != "" && !models.ValidJobKind(kind) {
			response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED",
				"kind must be one of training, dataset_download, model_download", nil)
			return
		}
		status := q.Get("status")
		page, _ := strconv.Atoi(q.Get("page"))
		limit, _ := strconv.Atoi(q.Get("limit"))

		list, total, err := reader.ListJobs(r.Context(), store.JobFilter{
			Kind:   kind,
			Status: status,
			Page:   page,
			Limit:  limit,
		})
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		out := make([]jobResponse, 0, len(list))
		for _, j := range list {
			out = append(out, newJobResponse(j))
		}

		if page <= 0 {
			page = 1
		}
		if limit <= 0 {
			limit = 20
		}
		response.Collection(w, out, response.PaginationMeta{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasNext: page*limit < total,
		})
	}
}

// NewGetJobHandler returns the handler for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(reader JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		job, err := reader.GetJob(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		response.JSON(w, newJobResponse(job))
	}
}

// NewCancelJobHandler returns the handler for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		err := d.Cancel(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		case errors.Is(err, store.ErrConflict):
			response.Error(w, http.StatusConflict, "CONFLICT",
				"Job already reached a terminal state", nil)
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
		default:
			response.JSON(w, map[string]any{"id": id, "cancel_requested": true})
		}
	}
}

// NewDeleteJobHandler returns the handler for DELETE /api/v1/jobs/{jobID}.
func NewDeleteJobHandler(d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobIDParam(w, r)
		if !ok {
			return
		}

		err := d.Remove(r.Context(), id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		case errors.Is(err, store.ErrConflict):
			response.Error(w, http.StatusConflict, "CONFLICT",
				"Only terminal jobs can be deleted", nil)
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
		default:
			response.JSON(w, map[string]any{"id": id, "deleted": true})
		}
	}
}

// submitJob runs the shared decode-submit-respond path for the three
// job-creation endpoints.
func submitJob(w http.ResponseWriter, r *http.Request, d Dispatcher, kind string) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "Invalid JSON body", nil)
		return
	}

	job, err := d.Submit(r.Context(), kind, raw)
	if errors.Is(err, jobs.ErrValidation) {
		response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", err.Error(), nil)
		return
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
		return
	}
	response.Accepted(w, newJobResponse(job))
}

func jobIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "VALIDATION_FAILED", "Invalid job id", nil)
		return uuid.Nil, false
	}
	return id, true
}
