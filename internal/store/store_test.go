package store_test

import (
	"context"
	"encoding/json"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cklxx/tunehub/internal/store"
	"github.com/cklxx/tunehub/pkg/models"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tunehub_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Run migrations
	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// newTestJob builds a pending job record ready for CreateJob.
func newTestJob(kind string) *models.Job {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Job{
		ID:        uuid.New(),
		Kind:      kind,
		Status:    models.JobStatusPending,
		Input:     json.RawMessage(`{"model_name":"Qwen/Qwen3-0.6B"}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// --- Create / Get Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Equal(t, models.JobKindTraining, got.Kind)
	assert.JSONEq(t, string(job.Input), string(got.Input))
	assert.False(t, got.CancelRequested)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- List Tests ---

func TestJob_ListPagination(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateJob(ctx, newTestJob(models.JobKindTraining)))
	}

	jobs, total, err := s.ListJobs(ctx, store.JobFilter{Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, jobs, 3)

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{Page: 2, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, jobs, 2)
}

func TestJob_ListFilterByKindAndStatus(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	training := newTestJob(models.JobKindTraining)
	download := newTestJob(models.JobKindModelDownload)
	require.NoError(t, s.CreateJob(ctx, training))
	require.NoError(t, s.CreateJob(ctx, download))
	require.NoError(t, s.UpdateJobStatus(ctx, download.ID, models.JobStatusRunning))

	jobs, total, err := s.ListJobs(ctx, store.JobFilter{Kind: models.JobKindTraining})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, training.ID, jobs[0].ID)

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{Status: models.JobStatusRunning})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, download.ID, jobs[0].ID)
}

func TestJob_ListOrderedNewestFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	older := newTestJob(models.JobKindTraining)
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, older))
	require.NoError(t, s.CreateJob(ctx, newer))

	jobs, _, err := s.ListJobs(ctx, store.JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, newer.ID, jobs[0].ID)
	assert.Equal(t, older.ID, jobs[1].ID)
}

// --- Status Transition Tests ---

func TestJob_UpdateStatusPendingToRunning(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning)
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.Nil(t, got.FinishedAt)
}

func TestJob_UpdateStatusRunningToCompletedWithResult(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning))

	result := []byte(`{"output_dir":"/outputs/abc","total_steps":120}`)
	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted, store.WithResult(result))
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.FinishedAt)
	assert.JSONEq(t, string(result), string(got.Result))
}

func TestJob_UpdateStatusRunningToFailed(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindModelDownload)
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning))

	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage("engine unreachable"))
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.NotNil(t, got.FinishedAt)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "engine unreachable", *got.ErrorMessage)
}

func TestJob_UpdateStatusPendingToCancelled(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindDatasetDownload)
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusCancelled)
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.NotNil(t, got.FinishedAt)
}

func TestJob_UpdateStatusInvalidTransition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))

	// pending -> completed skips running
	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestJob_UpdateStatusTerminalIsAbsorbing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted))

	for _, next := range []string{
		models.JobStatusPending, models.JobStatusRunning,
		models.JobStatusFailed, models.JobStatusCancelled,
	} {
		err := s.UpdateJobStatus(ctx, job.ID, next)
		assert.ErrorIs(t, err, store.ErrConflict, "completed -> %s", next)
	}
}

func TestJob_UpdateStatusNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateJobStatus(context.Background(), uuid.New(), models.JobStatusRunning)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_UpdateStatusWithTotalUnits(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning, store.WithTotalUnits(240))
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(240), got.TotalUnits)
}

// --- Progress Tests ---

func TestJob_UpdateProgress(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning))

	loss := 1.42
	err := s.UpdateJobProgress(ctx, job.ID, store.JobProgressUpdate{
		CompletedUnits: 4,
		TotalUnits:     10,
		Message:        "epoch 1/3 step 4",
		CurrentLoss:    &loss,
	})
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.CompletedUnits)
	assert.Equal(t, int64(10), got.TotalUnits)
	assert.Equal(t, "epoch 1/3 step 4", got.ProgressMessage)
	assert.Equal(t, 40, got.ProgressPercentage())
	require.NotNil(t, got.CurrentLoss)
	assert.InDelta(t, 1.42, *got.CurrentLoss, 0.001)
}

func TestJob_UpdateProgressBestLossKeepsMinimum(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning))

	for _, loss := range []float64{1.5, 0.8, 1.1} {
		l := loss
		require.NoError(t, s.UpdateJobProgress(ctx, job.ID, store.JobProgressUpdate{
			CompletedUnits: 1, TotalUnits: 3, CurrentLoss: &l,
		}))
	}

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentLoss)
	assert.InDelta(t, 1.1, *got.CurrentLoss, 0.001)
	require.NotNil(t, got.BestLoss)
	assert.InDelta(t, 0.8, *got.BestLoss, 0.001)
}

func TestJob_UpdateProgressNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateJobProgress(context.Background(), uuid.New(), store.JobProgressUpdate{CompletedUnits: 1})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Cancel Request Tests ---

func TestJob_SetCancelRequested(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.SetCancelRequested(ctx, job.ID)
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, got.CancelRequested)
	assert.Equal(t, models.JobStatusPending, got.Status)
}

func TestJob_SetCancelRequestedTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusCancelled))

	err := s.SetCancelRequested(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestJob_SetCancelRequestedNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.SetCancelRequested(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Delete Tests ---

func TestJob_DeleteTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusCancelled))

	err := s.DeleteJob(ctx, job.ID)
	require.NoError(t, err)

	_, err = s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_DeleteNonTerminal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newTestJob(models.JobKindTraining)
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning))

	err := s.DeleteJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrConflict)

	// Record untouched
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}

func TestJob_DeleteNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.DeleteJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Recovery Sweep Tests ---

func TestJob_FailRunningJobs(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	running := newTestJob(models.JobKindTraining)
	pending := newTestJob(models.JobKindModelDownload)
	done := newTestJob(models.JobKindDatasetDownload)
	for _, j := range []*models.Job{running, pending, done} {
		require.NoError(t, s.CreateJob(ctx, j))
	}
	require.NoError(t, s.UpdateJobStatus(ctx, running.ID, models.JobStatusRunning))
	require.NoError(t, s.UpdateJobStatus(ctx, done.ID, models.JobStatusRunning))
	require.NoError(t, s.UpdateJobStatus(ctx, done.ID, models.JobStatusCompleted))

	n, err := s.FailRunningJobs(ctx, "interrupted by server restart before completion")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := s.GetJob(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "interrupted by server restart before completion", *got.ErrorMessage)
	assert.NotNil(t, got.FinishedAt)

	// Pending and completed jobs untouched
	got, err = s.GetJob(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)

	got, err = s.GetJob(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
}

// --- Ping Test ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.Ping(context.Background())
	assert.NoError(t, err)
}
