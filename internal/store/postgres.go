package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cklxx/tunehub/pkg/models"
)

const jobColumns = `id, kind, status, input, completed_units, total_units, progress_message,
		current_loss, best_loss, result, error_message, cancel_requested,
		started_at, finished_at, created_at, updated_at`

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, kind, status, input, completed_units, total_units, progress_message,
		   cancel_requested, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Kind, job.Status, job.Input, job.CompletedUnits, job.TotalUnits,
		job.ProgressMessage, job.CancelRequested, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		conditions = append(conditions, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, filter.Kind)
		argIdx++
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := "SELECT COUNT(*) FROM jobs WHERE " + where
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, total, rows.Err()
}

var validTransitions = map[string][]string{
	models.JobStatusPending: {models.JobStatusRunning, models.JobStatusCancelled},
	models.JobStatusRunning: {models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled},
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	params := ApplyJobUpdateOptions(opts...)

	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}

	valid := false
	for _, allowed := range validTransitions[currentStatus] {
		if allowed == status {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("job status transition %s -> %s: %w", currentStatus, status, ErrConflict)
	}

	now := time.Now().UTC()
	query := `UPDATE jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusRunning {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if models.TerminalStatus(status) {
		query += fmt.Sprintf(", finished_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if params.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *params.ErrorMessage)
		argIdx++
	}
	if params.Result != nil {
		query += fmt.Sprintf(", result = $%d", argIdx)
		args = append(args, params.Result)
		argIdx++
	}
	if params.TotalUnits != nil {
		query += fmt.Sprintf(", total_units = $%d", argIdx)
		args = append(args, *params.TotalUnits)
		argIdx++
	}

	query += " WHERE id = $1"

	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress JobProgressUpdate) error {
	now := time.Now().UTC()
	query := `UPDATE jobs SET completed_units = $2, total_units = $3, progress_message = $4, updated_at = $5`
	args := []any{id, progress.CompletedUnits, progress.TotalUnits, progress.Message, now}

	if progress.CurrentLoss != nil {
		query += `, current_loss = $6,
			best_loss = LEAST(COALESCE(best_loss, $6), $6)`
		args = append(args, *progress.CurrentLoss)
	}

	query += " WHERE id = $1"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) SetCancelRequested(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET cancel_requested = TRUE, updated_at = NOW()
		 WHERE id = $1 AND status IN ($2, $3)`,
		id, models.JobStatusPending, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("set cancel requested: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing job from a job already terminal.
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE id = $1 AND status IN ($2, $3, $4)`,
		id, models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCancelled)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetJob(ctx, id); err != nil {
			return err
		}
		return ErrConflict
	}
	return nil
}

func (s *PostgresStore) FailRunningJobs(ctx context.Context, reason string) (int64, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, finished_at = $3, updated_at = $3
		 WHERE status = $4`,
		models.JobStatusFailed, reason, now, models.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("fail running jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Kind, &j.Status, &j.Input, &j.CompletedUnits, &j.TotalUnits,
		&j.ProgressMessage, &j.CurrentLoss, &j.BestLoss, &j.Result, &j.ErrorMessage,
		&j.CancelRequested, &j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
