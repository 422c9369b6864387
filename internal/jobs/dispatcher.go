// Package jobs hosts the asynchronous job pipeline: the dispatcher admits
// and schedules work, the runner executes one job in isolation, and the
// recovery sweep reconciles records left behind by a previous process.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/cklxx/tunehub/internal/cache"
	"github.com/cklxx/tunehub/internal/config"
	"github.com/cklxx/tunehub/internal/engine"
	"github.com/cklxx/tunehub/internal/modelcache"
	"github.com/cklxx/tunehub/internal/store"
	"github.com/cklxx/tunehub/pkg/models"
)

// Dispatcher accepts job submissions, enforces the concurrency policy and
// routes cancellation. Training jobs compete for a single compute slot;
// downloads share a configurable number of slots. Jobs waiting for a slot
// stay pending.
type Dispatcher struct {
	store      store.Store
	cache      cache.Cache
	modelCache *modelcache.Manager
	engine     engine.Engine
	paths      config.PathsConfig
	statusTTL  time.Duration

	trainSlot     *semaphore.Weighted
	downloadSlots *semaphore.Weighted

	mu      sync.Mutex
	handles map[uuid.UUID]*jobHandle

	// runCtx bounds every runner. It survives the process shutdown signal
	// so draining jobs can still persist their outcome; stopRuns cancels it
	// once the drain window closes.
	runCtx   context.Context
	stopRuns context.CancelFunc
	wg       sync.WaitGroup
}

// jobHandle is the dispatcher's in-memory view of a live job: the
// cooperative cancel flag the work function polls, and the admission
// context whose cancellation aborts a pending job's wait for a slot.
type jobHandle struct {
	cancelRequested atomic.Bool
	admit           context.Context
	stopAdmit       context.CancelFunc
}

// NewDispatcher wires the dispatcher. baseCtx is normally the process
// signal context; runners detach from its cancellation so that work
// finishing during the drain still records its terminal state, and stop
// only when Shutdown gives up waiting.
func NewDispatcher(baseCtx context.Context, st store.Store, ca cache.Cache, mc *modelcache.Manager, eng engine.Engine, paths config.PathsConfig, jobsCfg config.JobsConfig) *Dispatcher {
	runCtx, stopRuns := context.WithCancel(context.WithoutCancel(baseCtx))
	return &Dispatcher{
		store:         st,
		cache:         ca,
		modelCache:    mc,
		engine:        eng,
		paths:         paths,
		statusTTL:     jobsCfg.StatusCacheTTL,
		trainSlot:     semaphore.NewWeighted(1),
		downloadSlots: semaphore.NewWeighted(int64(jobsCfg.MaxConcurrentDownloads)),
		handles:       make(map[uuid.UUID]*jobHandle),
		runCtx:        runCtx,
		stopRuns:      stopRuns,
	}
}

// Submit validates the input, creates a pending record and schedules a
// runner. It returns as soon as the record exists; execution outcome is
// only visible through polling.
func (d *Dispatcher) Submit(ctx context.Context, kind string, input json.RawMessage) (*models.Job, error) {
	canonical, err := validateInput(kind, input)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    models.JobStatusPending,
		Input:     canonical,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := d.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	_ = d.cache.SetJobStatus(ctx, job.ID, models.JobStatusPending, d.statusTTL)

	admitCtx, stopAdmit := context.WithCancel(d.runCtx)
	h := &jobHandle{admit: admitCtx, stopAdmit: stopAdmit}

	d.mu.Lock()
	d.handles[job.ID] = h
	d.mu.Unlock()

	d.wg.Add(1)
	go d.run(h, job)

	slog.Info("job submitted", "job_id", job.ID, "kind", kind)
	return job, nil
}

// Cancel requests cooperative cancellation. A pending job that has not been
// picked up is cancelled without ever running; a running job stops at its
// next checkpoint. Repeat requests are no-ops; cancelling a terminal job is
// a conflict.
func (d *Dispatcher) Cancel(ctx context.Context, id uuid.UUID) error {
	job, err := d.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Terminal() {
		return fmt.Errorf("cancel %s job: %w", job.Status, store.ErrConflict)
	}
	if job.CancelRequested {
		return nil
	}

	if err := d.store.SetCancelRequested(ctx, id); err != nil {
		return err
	}

	d.mu.Lock()
	h := d.handles[id]
	d.mu.Unlock()

	if h != nil {
		h.cancelRequested.Store(true)
		h.stopAdmit()
		slog.Info("job cancel requested", "job_id", id)
		return nil
	}

	// No live runner for this record, which happens for pending jobs left
	// over from a previous process. Finish it directly.
	if job.Status == models.JobStatusPending {
		if err := d.store.UpdateJobStatus(ctx, id, models.JobStatusCancelled); err != nil {
			return err
		}
		_ = d.cache.SetJobStatus(ctx, id, models.JobStatusCancelled, d.statusTTL)
	}
	return nil
}

// Remove deletes a terminal job's record.
func (d *Dispatcher) Remove(ctx context.Context, id uuid.UUID) error {
	if err := d.store.DeleteJob(ctx, id); err != nil {
		return err
	}
	_ = d.cache.DeleteJobStatus(ctx, id)
	return nil
}

// Shutdown waits for the running jobs to finish, bounded by ctx. When the
// bound expires the run context is cancelled, so stragglers abort at their
// next checkpoint instead of running unattended.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.stopRuns()
		return nil
	case <-ctx.Done():
		d.stopRuns()
		return fmt.Errorf("jobs still running at shutdown: %w", ctx.Err())
	}
}

func (d *Dispatcher) slotFor(kind string) *semaphore.Weighted {
	if kind == models.JobKindTraining {
		return d.trainSlot
	}
	return d.downloadSlots
}

func (d *Dispatcher) dropHandle(id uuid.UUID) {
	d.mu.Lock()
	delete(d.handles, id)
	d.mu.Unlock()
}
