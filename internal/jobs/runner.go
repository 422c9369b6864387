package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cklxx/tunehub/internal/engine"
	"github.com/cklxx/tunehub/internal/store"
	"github.com/cklxx/tunehub/pkg/models"
)

const maxErrorMessageBytes = 2000

// run executes one job end to end. It is the fault-isolation boundary: a
// panic or error here lands in the job's own terminal state and never
// reaches the dispatcher or another job. All live resources (engine
// streams, cache directories, output dirs) are acquired inside this frame
// and released on every exit path.
func (d *Dispatcher) run(h *jobHandle, job *models.Job) {
	// Detached from the submitting request on purpose: the work outlives it.
	ctx := d.runCtx
	// Persistence is detached further: a terminal status or progress write
	// must land even after the run context is cancelled during shutdown.
	persist := context.WithoutCancel(ctx)

	defer d.wg.Done()
	defer d.dropHandle(job.ID)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job runner", "job_id", job.ID, "kind", job.Kind, "error", r)
			d.finish(persist, job.ID, models.JobStatusFailed,
				store.WithErrorMessage(truncateError(fmt.Sprintf("panic: %v", r))))
		}
	}()

	slot := d.slotFor(job.Kind)
	if err := slot.Acquire(h.admit, 1); err != nil {
		// Admission aborted: the job was cancelled while still pending,
		// or the process is shutting down.
		d.finish(persist, job.ID, models.JobStatusCancelled)
		return
	}
	defer slot.Release(1)

	if h.cancelRequested.Load() {
		d.finish(persist, job.ID, models.JobStatusCancelled)
		return
	}

	if err := d.store.UpdateJobStatus(persist, job.ID, models.JobStatusRunning, startOpts(job)...); err != nil {
		slog.Error("failed to mark job running", "job_id", job.ID, "error", err)
		return
	}
	_ = d.cache.SetJobStatus(persist, job.ID, models.JobStatusRunning, d.statusTTL)
	slog.Info("job started", "job_id", job.ID, "kind", job.Kind)

	progress := d.progressFunc(persist, job.ID)
	shouldCancel := h.cancelRequested.Load

	result, err := d.execute(ctx, job, progress, shouldCancel)
	switch {
	case err == nil:
		d.finish(persist, job.ID, models.JobStatusCompleted, store.WithResult(result))
		slog.Info("job completed", "job_id", job.ID, "kind", job.Kind)
	case errors.Is(err, engine.ErrCancelled) ||
		(h.cancelRequested.Load() && errors.Is(err, context.Canceled)):
		// No partial result is recorded; the last reported progress stands.
		d.finish(persist, job.ID, models.JobStatusCancelled)
		slog.Info("job cancelled", "job_id", job.ID, "kind", job.Kind)
	default:
		d.finish(persist, job.ID, models.JobStatusFailed, store.WithErrorMessage(truncateError(err.Error())))
		slog.Error("job failed", "job_id", job.ID, "kind", job.Kind, "error", err)
	}
}

// startOpts seeds the workload denominator when the input already fixes it,
// so pollers see a total before the first progress event arrives.
func startOpts(job *models.Job) []store.JobUpdateOption {
	if job.Kind != models.JobKindDatasetDownload {
		return nil
	}
	var in models.DatasetDownloadInput
	if err := json.Unmarshal(job.Input, &in); err != nil || in.SampleLimit <= 0 {
		return nil
	}
	return []store.JobUpdateOption{store.WithTotalUnits(int64(in.SampleLimit))}
}

// execute dispatches to the kind-specific work function.
func (d *Dispatcher) execute(ctx context.Context, job *models.Job, progress engine.ProgressFunc, shouldCancel engine.ShouldCancelFunc) (json.RawMessage, error) {
	switch job.Kind {
	case models.JobKindTraining:
		return d.runTraining(ctx, job, progress, shouldCancel)
	case models.JobKindDatasetDownload:
		return d.runDatasetDownload(ctx, job, progress, shouldCancel)
	case models.JobKindModelDownload:
		return d.runModelDownload(ctx, job, progress, shouldCancel)
	default:
		return nil, fmt.Errorf("no runner for job kind %q", job.Kind)
	}
}

func (d *Dispatcher) runTraining(ctx context.Context, job *models.Job, progress engine.ProgressFunc, shouldCancel engine.ShouldCancelFunc) (json.RawMessage, error) {
	var in models.TrainingInput
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return nil, fmt.Errorf("decode training input: %w", err)
	}

	// The base model is a resource of this run: resolved here, inside the
	// runner's scope, never borrowed from the submitting request.
	// Model preparation does not count against the job's step units, only
	// its message reaches pollers; completed_units moves in training steps.
	prep := func(_, _ int64, message string, _ *float64) {
		progress(0, 0, message, nil)
	}
	modelPath, err := d.modelCache.EnsureCached(ctx, in.ModelName, false, prep, shouldCancel)
	if err != nil {
		return nil, fmt.Errorf("prepare base model: %w", err)
	}
	if shouldCancel() {
		return nil, engine.ErrCancelled
	}

	outputDir := filepath.Join(d.paths.OutputDir, job.ID.String())
	runResult, err := d.engine.Run(ctx, engine.TrainingRunConfig{
		ModelPath:    modelPath,
		DatasetPath:  in.DatasetPath,
		OutputDir:    outputDir,
		Method:       in.Method,
		Epochs:       in.Epochs,
		BatchSize:    in.BatchSize,
		LearningRate: in.LearningRate,
		MaxSeqLength: in.MaxSeqLength,
	}, progress, shouldCancel)
	if err != nil {
		return nil, err
	}

	return json.Marshal(models.TrainingResult{
		OutputDir:  outputDir,
		TotalSteps: runResult.TotalSteps,
		FinalLoss:  runResult.FinalLoss,
		BestLoss:   runResult.BestLoss,
	})
}

func (d *Dispatcher) runDatasetDownload(ctx context.Context, job *models.Job, progress engine.ProgressFunc, shouldCancel engine.ShouldCancelFunc) (json.RawMessage, error) {
	var in models.DatasetDownloadInput
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return nil, fmt.Errorf("decode dataset input: %w", err)
	}

	result, err := d.engine.Download(ctx, engine.DatasetDownloadRequest{
		NameOrID:    in.NameOrID,
		Split:       in.Split,
		Subset:      in.Subset,
		SampleLimit: in.SampleLimit,
		OutputDir:   d.paths.DatasetDir,
	}, progress, shouldCancel)
	if err != nil {
		return nil, err
	}

	return json.Marshal(models.DatasetDownloadResult{
		OutputPath:   result.OutputPath,
		TotalSamples: result.TotalSamples,
		Format:       result.Format,
	})
}

func (d *Dispatcher) runModelDownload(ctx context.Context, job *models.Job, progress engine.ProgressFunc, shouldCancel engine.ShouldCancelFunc) (json.RawMessage, error) {
	var in models.ModelDownloadInput
	if err := json.Unmarshal(job.Input, &in); err != nil {
		return nil, fmt.Errorf("decode model download input: %w", err)
	}

	path, err := d.modelCache.EnsureCached(ctx, in.ModelName, in.Force, progress, shouldCancel)
	if err != nil {
		return nil, err
	}

	entry, err := d.modelCache.Entry(in.ModelName)
	if err != nil {
		return nil, fmt.Errorf("stat cached model: %w", err)
	}
	return json.Marshal(models.ModelDownloadResult{
		ModelName: in.ModelName,
		Path:      path,
		SizeBytes: entry.SizeBytes,
	})
}

// progressFunc persists one checkpoint per callback. A failed write is
// logged and skipped; progress must not block or fail the unit of work.
func (d *Dispatcher) progressFunc(ctx context.Context, id uuid.UUID) engine.ProgressFunc {
	return func(completed, total int64, message string, loss *float64) {
		err := d.store.UpdateJobProgress(ctx, id, store.JobProgressUpdate{
			CompletedUnits: completed,
			TotalUnits:     total,
			Message:        message,
			CurrentLoss:    loss,
		})
		if err != nil {
			slog.Warn("failed to persist job progress", "job_id", id, "error", err)
		}
	}
}

// finish records a terminal status in the store and mirrors it to the
// fast-path cache. Store failures here are logged: the recovery sweep will
// reconcile the record on next startup.
func (d *Dispatcher) finish(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) {
	if err := d.store.UpdateJobStatus(ctx, id, status, opts...); err != nil {
		slog.Error("failed to finish job", "job_id", id, "status", status, "error", err)
		return
	}
	_ = d.cache.SetJobStatus(ctx, id, status, d.statusTTL)
}

// truncateError bounds a failure description without splitting UTF-8 runes.
func truncateError(s string) string {
	if len(s) <= maxErrorMessageBytes {
		return s
	}
	cut := maxErrorMessageBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
