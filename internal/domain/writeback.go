package domain

// WriteBackFields are the ERP fields the Write-Back Adapter updates once a
// VerificationRequest reaches a PASS outcome (spec §4.1 step 10, §4.5).
type WriteBackFields struct {
	JobNo       string
	CheckDate   string // YYYY-MM-DD, local time
	CheckTime   string // HH:MM:SS, local time
	CheckedBy   string // fixed actor string, e.g. "AI LLM Service"
	Comment     string
}

// WriteBackError wraps a failed write-back attempt. Write-back failures are
// non-fatal to the overall verification outcome (spec: the VerificationRequest
// still finalizes); they are logged and raised via the ActivityLogRepository.
type WriteBackError struct {
	JobNo string
	Op    string
	Err   error
}

func (e *WriteBackError) Error() string {
	return "writeback " + e.Op + " for job " + e.JobNo + ": " + e.Err.Error()
}

func (e *WriteBackError) Unwrap() error { return e.Err }

// WriteBackAdapter pushes verification outcomes back into the ERP using an
// ETag/concurrency-token read-modify-write loop.
type WriteBackAdapter interface {
	Apply(ctx Context, fields WriteBackFields) error
}
