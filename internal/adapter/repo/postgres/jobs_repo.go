// Package postgres provides PostgreSQL database adapters.
//
// It implements repository interfaces for data persistence.
// The package provides type-safe database operations with
// connection pooling and transaction support.
package postgres

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emagero/second-check/internal/domain"
)

// JobRepo persists and loads Job aggregates from PostgreSQL using a minimal
// pgx pool.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

// Create inserts a new job and returns its surrogate id.
func (r *JobRepo) Create(ctx domain.Context, j domain.Job) (string, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "jobs"),
	)
	id := j.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO jobs (id, business_central_job_id, job_title, customer_name, status, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.Pool.Exec(ctx, q, id, j.BusinessCentralJobID, j.JobTitle, j.CustomerName, j.Status, now, now)
	if err != nil {
		return "", fmt.Errorf("op=job.create: %w", err)
	}
	return id, nil
}

// Get loads a job by its internal surrogate id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `SELECT id, business_central_job_id, job_title, customer_name, status, last_processed_at, created_at, updated_at
	      FROM jobs WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	return scanJob(row)
}

// FindByBusinessCentralID loads a job by its external job number.
func (r *JobRepo) FindByBusinessCentralID(ctx domain.Context, jobNo string) (domain.Job, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.FindByBusinessCentralID")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "jobs"),
	)
	q := `SELECT id, business_central_job_id, job_title, customer_name, status, last_processed_at, created_at, updated_at
	      FROM jobs WHERE business_central_job_id=$1`
	row := r.Pool.QueryRow(ctx, q, jobNo)
	return scanJob(row)
}

func scanJob(row pgx.Row) (domain.Job, error) {
	var j domain.Job
	var lastProcessed *time.Time
	if err := row.Scan(&j.ID, &j.BusinessCentralJobID, &j.JobTitle, &j.CustomerName, &j.Status, &lastProcessed, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Job{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.Job{}, fmt.Errorf("op=job.get: %w", err)
	}
	j.LastProcessedAt = lastProcessed
	return j, nil
}

// UpdateStatus updates a job's status and, when touchLastProcessed is true,
// sets lastProcessedAt to now, inside an explicit ReadCommitted transaction
// that wraps the single UPDATE.
func (r *JobRepo) UpdateStatus(ctx domain.Context, id string, status domain.JobStatus, touchLastProcessed bool) error {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.UpdateStatus")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "jobs"),
	)

	slog.Info("starting job status update with explicit transaction",
		slog.String("job_id", id),
		slog.String("status", string(status)))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		slog.Error("failed to begin transaction for job status update",
			slog.String("job_id", id), slog.Any("error", err))
		return fmt.Errorf("op=job.update_status.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("failed to rollback transaction", slog.String("job_id", id), slog.Any("error", rbErr))
			}
		}
	}()

	now := time.Now().UTC()
	var q string
	var args []any
	if touchLastProcessed {
		q = `UPDATE jobs SET status=$2, last_processed_at=$3, updated_at=$3 WHERE id=$1`
		args = []any{id, status, now}
	} else {
		q = `UPDATE jobs SET status=$2, updated_at=$3 WHERE id=$1`
		args = []any{id, status, now}
	}

	result, err := tx.Exec(ctx, q, args...)
	if err != nil {
		slog.Error("failed to execute job status update within transaction",
			slog.String("job_id", id), slog.String("status", string(status)), slog.Any("error", err))
		return fmt.Errorf("op=job.update_status.exec: %w", err)
	}
	if result.RowsAffected() == 0 {
		slog.Warn("job status update affected 0 rows - job may not exist", slog.String("job_id", id))
	}

	if err := tx.Commit(ctx); err != nil {
		slog.Error("failed to commit transaction for job status update",
			slog.String("job_id", id), slog.Any("error", err))
		return fmt.Errorf("op=job.update_status.commit: %w", err)
	}
	committed = true

	slog.Info("job status update completed successfully",
		slog.String("job_id", id), slog.String("status", string(status)))
	return nil
}
