// Package engine defines the boundary to the external ML toolchain: the
// training engine and the dataset/model downloaders. Implementations report
// progress and observe cancellation through callbacks so the job runner can
// persist checkpoints and stop work cooperatively.
package engine

import (
	"context"
	"errors"
)

var (
	ErrEngineUnavailable = errors.New("training engine unavailable")
	ErrInvalidResponse   = errors.New("training engine returned invalid response")

	// ErrCancelled is returned by a collaborator that stopped at a
	// checkpoint because should-cancel reported true.
	ErrCancelled = errors.New("work cancelled at checkpoint")
)

// ProgressFunc reports one checkpoint: completed and total work units, a
// short human-readable message, and an optional training loss.
type ProgressFunc func(completed, total int64, message string, loss *float64)

// ShouldCancelFunc is polled at every checkpoint. Implementations must stop
// work and return ErrCancelled when it reports true.
type ShouldCancelFunc func() bool

// TrainingRunConfig carries everything a training run needs. All values are
// plain data; the engine acquires its own model and tokenizer handles.
type TrainingRunConfig struct {
	ModelPath    string  `json:"model_path"`
	DatasetPath  string  `json:"dataset_path"`
	OutputDir    string  `json:"output_dir"`
	Method       string  `json:"method"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	MaxSeqLength int     `json:"max_seq_length"`
}

// TrainingRunResult is the engine's view of a finished run.
type TrainingRunResult struct {
	TotalSteps int64    `json:"total_steps"`
	FinalLoss  *float64 `json:"final_loss,omitempty"`
	BestLoss   *float64 `json:"best_loss,omitempty"`
}

// TrainingEngine executes one fine-tuning run. Run must call progress and
// check shouldCancel at every step boundary.
type TrainingEngine interface {
	Run(ctx context.Context, cfg TrainingRunConfig, progress ProgressFunc, shouldCancel ShouldCancelFunc) (*TrainingRunResult, error)
}

// DatasetDownloadRequest identifies a dataset to materialize.
type DatasetDownloadRequest struct {
	NameOrID    string `json:"name_or_id"`
	Split       string `json:"split,omitempty"`
	Subset      string `json:"subset,omitempty"`
	SampleLimit int    `json:"sample_limit,omitempty"`
	OutputDir   string `json:"output_dir"`
}

// DatasetDownloadResult describes a materialized dataset.
type DatasetDownloadResult struct {
	OutputPath   string `json:"output_path"`
	TotalSamples int    `json:"total_samples"`
	Format       string `json:"format"`
}

// DatasetDownloader materializes a hub dataset into local files, reporting
// progress per downloaded chunk.
type DatasetDownloader interface {
	Download(ctx context.Context, req DatasetDownloadRequest, progress ProgressFunc, shouldCancel ShouldCancelFunc) (*DatasetDownloadResult, error)
}

// ModelDownloader fetches model weights. DownloadModel writes into targetDir
// only, never a final cache location, so the cache manager can publish the
// directory atomically.
type ModelDownloader interface {
	DownloadModel(ctx context.Context, modelName, targetDir string, progress ProgressFunc, shouldCancel ShouldCancelFunc) error
}

// Engine bundles the three collaborators as one boundary object.
type Engine interface {
	TrainingEngine
	DatasetDownloader
	ModelDownloader
	Name() string
}
