package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/emagero/second-check/internal/domain"
)

// ActivityLogRepo appends and lists audit events. There is no update or
// delete operation; the log is append-only.
type ActivityLogRepo struct{ Pool PgxPool }

// NewActivityLogRepo constructs an ActivityLogRepo with the given pool.
func NewActivityLogRepo(p PgxPool) *ActivityLogRepo { return &ActivityLogRepo{Pool: p} }

// Append inserts an audit event, assigning an id and timestamp if absent.
func (r *ActivityLogRepo) Append(ctx domain.Context, entry domain.ActivityLog) error {
	tracer := otel.Tracer("repo.activity_log")
	ctx, span := tracer.Start(ctx, "activity_log.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "activity_log"),
	)

	id := entry.ID
	if id == "" {
		id = uuid.New().String()
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	q := `INSERT INTO activity_log (id, "timestamp", event_type, description, related_job_id, user_identifier)
	      VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := r.Pool.Exec(ctx, q, id, ts, entry.EventType, entry.Description, entry.RelatedJobID, entry.UserIdentifier); err != nil {
		return fmt.Errorf("op=activity_log.append: %w", err)
	}
	return nil
}

// ListByJob returns up to limit most recent audit events for jobID, newest first.
func (r *ActivityLogRepo) ListByJob(ctx domain.Context, jobID string, limit int) ([]domain.ActivityLog, error) {
	tracer := otel.Tracer("repo.activity_log")
	ctx, span := tracer.Start(ctx, "activity_log.ListByJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "activity_log"),
	)
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, "timestamp", event_type, description, related_job_id, user_identifier
	      FROM activity_log WHERE related_job_id=$1 ORDER BY "timestamp" DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=activity_log.list_by_job: %w", err)
	}
	defer rows.Close()

	var entries []domain.ActivityLog
	for rows.Next() {
		var e domain.ActivityLog
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.Description, &e.RelatedJobID, &e.UserIdentifier); err != nil {
			return nil, fmt.Errorf("op=activity_log.list_by_job.scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=activity_log.list_by_job.rows: %w", err)
	}
	return entries, nil
}
