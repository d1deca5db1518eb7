package domain

import "time"

// VerificationStatus captures the lifecycle state of a VerificationRequest.
type VerificationStatus string

// VerificationRequest status values. PENDING is initial; COMPLETED, SKIPPED
// and FAILED are terminal (write-once).
const (
	VerificationPending    VerificationStatus = "PENDING"
	VerificationProcessing VerificationStatus = "PROCESSING"
	VerificationCompleted  VerificationStatus = "COMPLETED"
	VerificationSkipped    VerificationStatus = "SKIPPED"
	VerificationFailed     VerificationStatus = "FAILED"
)

// IsTerminal reports whether status is one from which no further transition
// is permitted.
func (s VerificationStatus) IsTerminal() bool {
	switch s {
	case VerificationCompleted, VerificationSkipped, VerificationFailed:
		return true
	default:
		return false
	}
}

// VerificationRequest is one record per invocation of the Orchestrator.
//
// Invariant: once Status is terminal, the record is immutable. ResultTimestamp
// is nil until terminal. DiscrepanciesJSON is nil, or a JSON array of
// human-readable strings (possibly including "[advisory]"-prefixed entries).
type VerificationRequest struct {
	// ID is a globally unique identifier (ULID) assigned at creation.
	ID               string
	JobNo            string
	RequestTimestamp time.Time
	ResultTimestamp  *time.Time
	Status           VerificationStatus
	Discrepancies    []string
}

// VerificationRequestRepository manages VerificationRequest records. Created
// by the request-intake path, mutated only by the Orchestrator.
type VerificationRequestRepository interface {
	// Create inserts a new PENDING VerificationRequest and returns its id.
	Create(ctx Context, jobNo string) (VerificationRequest, error)
	// Get loads a VerificationRequest by id.
	Get(ctx Context, id string) (VerificationRequest, error)
	// LatestByJobNo loads the most recently created VerificationRequest for a job.
	LatestByJobNo(ctx Context, jobNo string) (VerificationRequest, error)
	// MarkProcessing atomically transitions the VerificationRequest and its
	// owning Job to PROCESSING, touching Job.lastProcessedAt. This is the one
	// cross-table write that must be atomic (spec section on shared resources).
	MarkProcessing(ctx Context, verificationRequestID, jobID string) error
	// Finalize transitions a VerificationRequest to a terminal status,
	// recording the discrepancy list and result timestamp. Fails if the
	// request is already terminal.
	Finalize(ctx Context, verificationRequestID string, status VerificationStatus, discrepancies []string) error
}
