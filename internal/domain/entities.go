// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrSchemaInvalid     = errors.New("schema invalid")
	ErrInternal          = errors.New("internal error")
	ErrRateLimited       = errors.New("rate limited")
)

// Context is an alias to stdlib context.Context for convenience across layers.
type Context = context.Context

// JobStatus captures the lifecycle state of a Job aggregate.
type JobStatus string

// Job status values.
const (
	// JobPending is set when a job is first created, before any verification runs.
	JobPending JobStatus = "PENDING"
	// JobProcessing is set while a VerificationRequest for this job is in flight.
	JobProcessing JobStatus = "PROCESSING"
	// JobVerified is set when the most recently finalized verification passed.
	JobVerified JobStatus = "VERIFIED"
	// JobFlagged is set when the most recently finalized verification found discrepancies.
	JobFlagged JobStatus = "FLAGGED"
	// JobSkipped is set when the job was found ineligible for second-check.
	JobSkipped JobStatus = "SKIPPED"
	// JobError is set when verification could not complete (e.g. ledger missing).
	JobError JobStatus = "ERROR"
)

// Job is the domain model for one Business Central job number.
//
// Invariant: BusinessCentralJobID is unique. Status is monotonic only within
// a single verification attempt; it may transition back to PROCESSING when a
// new verification begins.
type Job struct {
	// ID is the internal surrogate identifier, stable across verifications.
	ID string
	// BusinessCentralJobID is the externally supplied job number (unique).
	BusinessCentralJobID string
	JobTitle             string
	CustomerName         string
	Status               JobStatus
	// LastProcessedAt is nil until the Orchestrator has touched this job.
	LastProcessedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// JobRepository manages Job aggregates. Jobs are created lazily on first
// reference and mutated only by the Orchestrator.
type JobRepository interface {
	// Create inserts a new job and returns its surrogate id.
	Create(ctx Context, j Job) (string, error)
	// Get loads a job by its internal surrogate id.
	Get(ctx Context, id string) (Job, error)
	// FindByBusinessCentralID loads a job by its external job number, or
	// returns ErrNotFound if none exists yet.
	FindByBusinessCentralID(ctx Context, jobNo string) (Job, error)
	// UpdateStatus updates a job's status and, when touchLastProcessed is
	// true, sets lastProcessedAt to now.
	UpdateStatus(ctx Context, id string, status JobStatus, touchLastProcessed bool) error
}
