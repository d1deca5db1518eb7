package postgres

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emagero/second-check/internal/domain"
)

// VerificationRepo persists and loads VerificationRequest aggregates.
type VerificationRepo struct{ Pool PgxPool }

// NewVerificationRepo constructs a VerificationRepo with the given pool.
func NewVerificationRepo(p PgxPool) *VerificationRepo { return &VerificationRepo{Pool: p} }

// Create inserts a new PENDING VerificationRequest and returns its id.
func (r *VerificationRepo) Create(ctx domain.Context, jobNo string) (domain.VerificationRequest, error) {
	tracer := otel.Tracer("repo.verification_requests")
	ctx, span := tracer.Start(ctx, "verification_requests.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "verification_requests"),
	)

	vr := domain.VerificationRequest{
		ID:               ulid.Make().String(),
		JobNo:            jobNo,
		RequestTimestamp: time.Now().UTC(),
		Status:           domain.VerificationPending,
	}
	q := `INSERT INTO verification_requests (id, job_no, request_timestamp, status) VALUES ($1,$2,$3,$4)`
	if _, err := r.Pool.Exec(ctx, q, vr.ID, vr.JobNo, vr.RequestTimestamp, vr.Status); err != nil {
		return domain.VerificationRequest{}, fmt.Errorf("op=verification.create: %w", err)
	}
	return vr, nil
}

// Get loads a VerificationRequest by id.
func (r *VerificationRepo) Get(ctx domain.Context, id string) (domain.VerificationRequest, error) {
	tracer := otel.Tracer("repo.verification_requests")
	ctx, span := tracer.Start(ctx, "verification_requests.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "verification_requests"),
	)
	q := `SELECT id, job_no, request_timestamp, result_timestamp, status, discrepancies_json
	      FROM verification_requests WHERE id=$1`
	return scanVerification(r.Pool.QueryRow(ctx, q, id))
}

// LatestByJobNo loads the most recently created VerificationRequest for a job.
func (r *VerificationRepo) LatestByJobNo(ctx domain.Context, jobNo string) (domain.VerificationRequest, error) {
	tracer := otel.Tracer("repo.verification_requests")
	ctx, span := tracer.Start(ctx, "verification_requests.LatestByJobNo")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "verification_requests"),
	)
	q := `SELECT id, job_no, request_timestamp, result_timestamp, status, discrepancies_json
	      FROM verification_requests WHERE job_no=$1 ORDER BY request_timestamp DESC LIMIT 1`
	return scanVerification(r.Pool.QueryRow(ctx, q, jobNo))
}

func scanVerification(row pgx.Row) (domain.VerificationRequest, error) {
	var vr domain.VerificationRequest
	var resultTS *time.Time
	var discJSON []byte
	if err := row.Scan(&vr.ID, &vr.JobNo, &vr.RequestTimestamp, &resultTS, &vr.Status, &discJSON); err != nil {
		if err == pgx.ErrNoRows {
			return domain.VerificationRequest{}, fmt.Errorf("op=verification.get: %w", domain.ErrNotFound)
		}
		return domain.VerificationRequest{}, fmt.Errorf("op=verification.get: %w", err)
	}
	vr.ResultTimestamp = resultTS
	if len(discJSON) > 0 {
		if err := json.Unmarshal(discJSON, &vr.Discrepancies); err != nil {
			return domain.VerificationRequest{}, fmt.Errorf("op=verification.get.decode_discrepancies: %w", err)
		}
	}
	return vr, nil
}

// MarkProcessing atomically transitions the VerificationRequest and its
// owning Job to PROCESSING. This is the one cross-table write the
// concurrency model requires to be atomic.
func (r *VerificationRepo) MarkProcessing(ctx domain.Context, verificationRequestID, jobID string) error {
	tracer := otel.Tracer("repo.verification_requests")
	ctx, span := tracer.Start(ctx, "verification_requests.MarkProcessing")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "verification_requests,jobs"),
	)

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=verification.mark_processing.begin_tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				slog.Error("failed to rollback mark-processing transaction", slog.Any("error", rbErr))
			}
		}
	}()

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE verification_requests SET status=$2, job_id=$3 WHERE id=$1`,
		verificationRequestID, domain.VerificationProcessing, jobID,
	); err != nil {
		return fmt.Errorf("op=verification.mark_processing.update_request: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE jobs SET status=$2, last_processed_at=$3, updated_at=$3 WHERE id=$1`,
		jobID, domain.JobProcessing, now,
	); err != nil {
		return fmt.Errorf("op=verification.mark_processing.update_job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=verification.mark_processing.commit: %w", err)
	}
	committed = true
	return nil
}

// Finalize transitions a VerificationRequest to a terminal status, recording
// the discrepancy list and result timestamp. Refuses to overwrite a row that
// is already terminal (write-once).
func (r *VerificationRepo) Finalize(ctx domain.Context, verificationRequestID string, status domain.VerificationStatus, discrepancies []string) error {
	tracer := otel.Tracer("repo.verification_requests")
	ctx, span := tracer.Start(ctx, "verification_requests.Finalize")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPDATE"),
		attribute.String("db.sql.table", "verification_requests"),
	)

	if !status.IsTerminal() {
		return fmt.Errorf("op=verification.finalize: %w: status %q is not terminal", domain.ErrInvalidArgument, status)
	}

	var discJSON []byte
	if discrepancies != nil {
		b, err := json.Marshal(discrepancies)
		if err != nil {
			return fmt.Errorf("op=verification.finalize.encode_discrepancies: %w", err)
		}
		discJSON = b
	}

	q := `UPDATE verification_requests
	      SET status=$2, result_timestamp=$3, discrepancies_json=$4
	      WHERE id=$1 AND status NOT IN ($5,$6,$7)`
	result, err := r.Pool.Exec(ctx, q, verificationRequestID, status, time.Now().UTC(), discJSON,
		domain.VerificationCompleted, domain.VerificationSkipped, domain.VerificationFailed)
	if err != nil {
		return fmt.Errorf("op=verification.finalize.exec: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("op=verification.finalize: %w: request %s already terminal or missing", domain.ErrConflict, verificationRequestID)
	}
	return nil
}
