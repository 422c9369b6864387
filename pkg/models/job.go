package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	JobKindTraining        = "training"
	JobKindDatasetDownload = "dataset_download"
	JobKindModelDownload   = "model_download"
)

const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// ValidJobKind reports whether kind is one of the known job kinds.
func ValidJobKind(kind string) bool {
	switch kind {
	case JobKindTraining, JobKindDatasetDownload, JobKindModelDownload:
		return true
	}
	return false
}

// TerminalStatus reports whether status is absorbing: once a job reaches it,
// no further transitions occur.
func TerminalStatus(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job tracks one unit of asynchronous work. The API returns a job id on
// submission; clients poll GET /api/v1/jobs/{id} until the status is terminal.
// Only the runner that owns a job writes its status, progress and result;
// cancel_requested is the one field any caller may set.
type Job struct {
	ID              uuid.UUID       `db:"id"               json:"id"`
	Kind            string          `db:"kind"             json:"kind"`
	Status          string          `db:"status"           json:"status"`
	Input           json.RawMessage `db:"input"            json:"input"`
	CompletedUnits  int64           `db:"completed_units"  json:"completed_units"`
	TotalUnits      int64           `db:"total_units"      json:"total_units"`
	ProgressMessage string          `db:"progress_message" json:"progress_message"`
	CurrentLoss     *float64        `db:"current_loss"     json:"current_loss,omitempty"`
	BestLoss        *float64        `db:"best_loss"        json:"best_loss,omitempty"`
	Result          json.RawMessage `db:"result"           json:"result,omitempty"`
	ErrorMessage    *string         `db:"error_message"    json:"error_message,omitempty"`
	CancelRequested bool            `db:"cancel_requested" json:"cancel_requested"`
	StartedAt       *time.Time      `db:"started_at"       json:"started_at,omitempty"`
	FinishedAt      *time.Time      `db:"finished_at"      json:"finished_at,omitempty"`
	CreatedAt       time.Time       `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"       json:"updated_at"`
}

// ProgressPercentage derives the completion percentage from unit counts,
// clamped to [0, 100]. Zero when total_units is unknown.
func (j *Job) ProgressPercentage() int {
	return Percentage(j.CompletedUnits, j.TotalUnits)
}

// Terminal reports whether the job has reached an absorbing status.
func (j *Job) Terminal() bool {
	return TerminalStatus(j.Status)
}

// Percentage computes round(100*completed/total) clamped to [0, 100],
// or 0 when total is not positive.
func Percentage(completed, total int64) int {
	if total <= 0 {
		return 0
	}
	pct := int((completed*100 + total/2) / total)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// TrainingInput is the payload for a training job.
type TrainingInput struct {
	Name         string  `json:"name"`
	ModelName    string  `json:"model_name"`
	DatasetPath  string  `json:"dataset_path"`
	Method       string  `json:"method"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	MaxSeqLength int     `json:"max_seq_length"`
}

// TrainingResult is recorded when a training job completes.
type TrainingResult struct {
	OutputDir  string   `json:"output_dir"`
	TotalSteps int64    `json:"total_steps"`
	FinalLoss  *float64 `json:"final_loss,omitempty"`
	BestLoss   *float64 `json:"best_loss,omitempty"`
}

// DatasetDownloadInput is the payload for a dataset-download job.
type DatasetDownloadInput struct {
	NameOrID    string `json:"name_or_id"`
	Split       string `json:"split,omitempty"`
	Subset      string `json:"subset,omitempty"`
	SampleLimit int    `json:"sample_limit,omitempty"`
}

// DatasetDownloadResult is recorded when a dataset-download job completes.
type DatasetDownloadResult struct {
	OutputPath   string `json:"output_path"`
	TotalSamples int    `json:"total_samples"`
	Format       string `json:"format"`
}

// ModelDownloadInput is the payload for a model-download job.
type ModelDownloadInput struct {
	ModelName string `json:"model_name"`
	Force     bool   `json:"force,omitempty"`
}

// ModelDownloadResult is recorded when a model-download job completes.
type ModelDownloadResult struct {
	ModelName string `json:"model_name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}
