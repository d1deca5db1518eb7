package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/emagero/second-check/internal/domain"
)

type orchVerificationRepo struct {
	mu             sync.Mutex
	byID           map[string]domain.VerificationRequest
	markProcessing bool
	finalized      []domain.VerificationStatus
}

func newOrchVerificationRepo(vr domain.VerificationRequest) *orchVerificationRepo {
	return &orchVerificationRepo{byID: map[string]domain.VerificationRequest{vr.ID: vr}}
}

func (r *orchVerificationRepo) Create(_ domain.Context, jobNo string) (domain.VerificationRequest, error) {
	return domain.VerificationRequest{}, nil
}
func (r *orchVerificationRepo) Get(_ domain.Context, id string) (domain.VerificationRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vr, ok := r.byID[id]
	if !ok {
		return domain.VerificationRequest{}, domain.ErrNotFound
	}
	return vr, nil
}
func (r *orchVerificationRepo) LatestByJobNo(_ domain.Context, _ string) (domain.VerificationRequest, error) {
	return domain.VerificationRequest{}, domain.ErrNotFound
}
func (r *orchVerificationRepo) MarkProcessing(_ domain.Context, verificationRequestID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markProcessing = true
	vr := r.byID[verificationRequestID]
	vr.Status = domain.VerificationProcessing
	r.byID[verificationRequestID] = vr
	return nil
}
func (r *orchVerificationRepo) Finalize(_ domain.Context, verificationRequestID string, status domain.VerificationStatus, discrepancies []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	vr := r.byID[verificationRequestID]
	vr.Status = status
	vr.Discrepancies = discrepancies
	r.byID[verificationRequestID] = vr
	r.finalized = append(r.finalized, status)
	return nil
}

type orchJobRepo struct {
	mu       sync.Mutex
	byBCID   map[string]domain.Job
	statuses map[string]domain.JobStatus
}

func newOrchJobRepo() *orchJobRepo {
	return &orchJobRepo{byBCID: map[string]domain.Job{}, statuses: map[string]domain.JobStatus{}}
}

func (r *orchJobRepo) Create(_ domain.Context, j domain.Job) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j.ID = "job-" + j.BusinessCentralJobID
	r.byBCID[j.BusinessCentralJobID] = j
	return j.ID, nil
}
func (r *orchJobRepo) Get(_ domain.Context, id string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.byBCID {
		if j.ID == id {
			return j, nil
		}
	}
	return domain.Job{}, domain.ErrNotFound
}
func (r *orchJobRepo) FindByBusinessCentralID(_ domain.Context, jobNo string) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.byBCID[jobNo]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return j, nil
}
func (r *orchJobRepo) UpdateStatus(_ domain.Context, id string, status domain.JobStatus, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses[id] = status
	return nil
}

type orchActivityRepo struct {
	mu      sync.Mutex
	entries []domain.ActivityLog
}

func (r *orchActivityRepo) Append(_ domain.Context, entry domain.ActivityLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}
func (r *orchActivityRepo) ListByJob(_ domain.Context, _ string, _ int) ([]domain.ActivityLog, error) {
	return nil, nil
}

type orchWriteBack struct {
	err   error
	calls int
}

func (w *orchWriteBack) Apply(_ domain.Context, _ domain.WriteBackFields) error {
	w.calls++
	return w.err
}

func eligibleERP() *fakeERP {
	return &fakeERP{
		entry:  domain.JobListEntry{JobNo: "J1", FirstCheckDate: "2024-01-10"},
		ledger: []domain.LedgerEntry{{EntryNo: "E1", JobNo: "J1"}},
		quote:  domain.SalesQuoteHeader{No: "Q1", JobNo: "J1"},
	}
}

func newOrchestratorForTest(vr domain.VerificationRequest, erp *fakeERP, wb domain.WriteBackAdapter, llm domain.LLMClient) (*Orchestrator, *orchVerificationRepo, *orchJobRepo, *orchActivityRepo) {
	vrepo := newOrchVerificationRepo(vr)
	jrepo := newOrchJobRepo()
	drepo := &fakeDocumentRepo{}
	arepo := &orchActivityRepo{}

	classifier := &DocumentClassifier{
		Renderer:  &fakeRenderer{pages: [][]byte{{0x1}}},
		LLM:       llm,
		Documents: drepo,
	}

	o := NewOrchestrator(vrepo, jrepo, drepo, arepo, erp, wb, classifier, 2, "tester")
	return o, vrepo, jrepo, arepo
}

func TestOrchestrator_SkipsIneligibleJob(t *testing.T) {
	vr := domain.VerificationRequest{ID: "vr-1", JobNo: "J1", Status: domain.VerificationPending}
	erp := &fakeERP{entry: domain.JobListEntry{JobNo: "J1"}} // no first-check date
	o, vrepo, jrepo, _ := newOrchestratorForTest(vr, erp, nil, &fakeLLM{})

	if err := o.Process(context.Background(), "vr-1", "J1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := vrepo.byID["vr-1"]
	if got.Status != domain.VerificationSkipped {
		t.Fatalf("status = %s, want SKIPPED", got.Status)
	}
	job := jrepo.byBCID["J1"]
	if jrepo.statuses[job.ID] != domain.JobSkipped {
		t.Fatalf("job status = %s, want SKIPPED", jrepo.statuses[job.ID])
	}
}

func TestOrchestrator_FailsWhenLedgerMissing(t *testing.T) {
	vr := domain.VerificationRequest{ID: "vr-1", JobNo: "J1", Status: domain.VerificationPending}
	erp := &fakeERP{entry: domain.JobListEntry{JobNo: "J1", FirstCheckDate: "2024-01-10"}} // no ledger entries
	o, vrepo, jrepo, _ := newOrchestratorForTest(vr, erp, nil, &fakeLLM{})

	if err := o.Process(context.Background(), "vr-1", "J1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := vrepo.byID["vr-1"]
	if got.Status != domain.VerificationFailed {
		t.Fatalf("status = %s, want FAILED", got.Status)
	}
	job := jrepo.byBCID["J1"]
	if jrepo.statuses[job.ID] != domain.JobError {
		t.Fatalf("job status = %s, want ERROR", jrepo.statuses[job.ID])
	}
}

func TestOrchestrator_VerifiedWhenNoDiscrepancies(t *testing.T) {
	vr := domain.VerificationRequest{ID: "vr-1", JobNo: "J1", Status: domain.VerificationPending}
	erp := eligibleERP()
	erp.links = domain.JobAttachmentLinks{JobNo: "J1", URLs: []string{"http://erp/doc1.pdf"}}
	erp.downloaded = map[string]domain.DownloadedDocument{
		"http://erp/doc1.pdf": {Bytes: []byte("pdf"), ContentType: "application/pdf", FileName: "doc1.pdf"},
	}
	wb := &orchWriteBack{}
	llm := &fakeLLM{result: domain.ClassifyAndVerifyResult{DocumentType: domain.DocTypeSalesQuote}}

	o, vrepo, jrepo, activity := newOrchestratorForTest(vr, erp, wb, llm)

	if err := o.Process(context.Background(), "vr-1", "J1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := vrepo.byID["vr-1"]
	if got.Status != domain.VerificationCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	job := jrepo.byBCID["J1"]
	if jrepo.statuses[job.ID] != domain.JobVerified {
		t.Fatalf("job status = %s, want VERIFIED", jrepo.statuses[job.ID])
	}
	if wb.calls != 1 {
		t.Fatalf("expected write-back to be applied once, got %d calls", wb.calls)
	}
	if len(activity.entries) == 0 {
		t.Fatalf("expected an activity log entry")
	}
	if got.Discrepancies != nil {
		t.Fatalf("expected a clean pass to record nil discrepancies, got %#v", got.Discrepancies)
	}
}

func TestOrchestrator_LowSeverityDiscrepancyIsAdvisoryOnly(t *testing.T) {
	vr := domain.VerificationRequest{ID: "vr-1", JobNo: "J1", Status: domain.VerificationPending}
	erp := eligibleERP()
	erp.links = domain.JobAttachmentLinks{JobNo: "J1", URLs: []string{"http://erp/doc1.pdf"}}
	erp.downloaded = map[string]domain.DownloadedDocument{
		"http://erp/doc1.pdf": {Bytes: []byte("pdf"), ContentType: "application/pdf", FileName: "doc1.pdf"},
	}
	wb := &orchWriteBack{}
	llm := &fakeLLM{result: domain.ClassifyAndVerifyResult{
		DocumentType: domain.DocTypeSalesQuote,
		Discrepancies: []domain.Discrepancy{
			{Field: "amount", Expected: "100", Found: "100.01", Severity: domain.SeverityLow, Commentary: "rounding"},
		},
	}}

	o, vrepo, jrepo, _ := newOrchestratorForTest(vr, erp, wb, llm)

	if err := o.Process(context.Background(), "vr-1", "J1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := vrepo.byID["vr-1"]
	if got.Status != domain.VerificationCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	job := jrepo.byBCID["J1"]
	if jrepo.statuses[job.ID] != domain.JobVerified {
		t.Fatalf("job status = %s, want VERIFIED: a low-severity discrepancy must not flip the outcome", jrepo.statuses[job.ID])
	}
	if wb.calls != 1 {
		t.Fatalf("expected write-back to still be applied on a PASS outcome, got %d calls", wb.calls)
	}
	if len(got.Discrepancies) == 0 {
		t.Fatalf("expected the advisory discrepancy to be retained in the record")
	}
}

func TestOrchestrator_MissingBundleAdvisoryDoesNotFlag(t *testing.T) {
	vr := domain.VerificationRequest{ID: "vr-1", JobNo: "J1", Status: domain.VerificationPending}
	erp := eligibleERP()
	erp.quoteErr = context.DeadlineExceeded // quote unavailable, invoice present -> bundle advisory only
	erp.invoice = domain.SalesInvoiceHeader{No: "INV1", JobNo: "J1"}
	wb := &orchWriteBack{}
	llm := &fakeLLM{result: domain.ClassifyAndVerifyResult{DocumentType: domain.DocTypeSalesQuote}}

	o, vrepo, jrepo, _ := newOrchestratorForTest(vr, erp, wb, llm)

	if err := o.Process(context.Background(), "vr-1", "J1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := vrepo.byID["vr-1"]
	if got.Status != domain.VerificationCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	job := jrepo.byBCID["J1"]
	if jrepo.statuses[job.ID] != domain.JobVerified {
		t.Fatalf("job status = %s, want VERIFIED: a missing-bundle advisory must not flip the outcome", jrepo.statuses[job.ID])
	}
	if wb.calls != 1 {
		t.Fatalf("expected write-back to still be applied on a PASS outcome, got %d calls", wb.calls)
	}
	if len(got.Discrepancies) == 0 {
		t.Fatalf("expected the missing-bundle advisory to be retained in the record")
	}
}

func TestOrchestrator_FlaggedWhenDiscrepanciesFound(t *testing.T) {
	vr := domain.VerificationRequest{ID: "vr-1", JobNo: "J1", Status: domain.VerificationPending}
	erp := eligibleERP()
	erp.links = domain.JobAttachmentLinks{JobNo: "J1", URLs: []string{"http://erp/doc1.pdf"}}
	erp.downloaded = map[string]domain.DownloadedDocument{
		"http://erp/doc1.pdf": {Bytes: []byte("pdf"), ContentType: "application/pdf", FileName: "doc1.pdf"},
	}
	wb := &orchWriteBack{}
	llm := &fakeLLM{result: domain.ClassifyAndVerifyResult{
		DocumentType: domain.DocTypeSalesQuote,
		Discrepancies: []domain.Discrepancy{
			{Field: "amount", Expected: "100", Found: "200", Severity: domain.SeverityHigh},
		},
	}}

	o, vrepo, jrepo, _ := newOrchestratorForTest(vr, erp, wb, llm)

	if err := o.Process(context.Background(), "vr-1", "J1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := vrepo.byID["vr-1"]
	if got.Status != domain.VerificationCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	job := jrepo.byBCID["J1"]
	if jrepo.statuses[job.ID] != domain.JobFlagged {
		t.Fatalf("job status = %s, want FLAGGED", jrepo.statuses[job.ID])
	}
	if wb.calls != 0 {
		t.Fatalf("write-back should not be applied on a flagged outcome, got %d calls", wb.calls)
	}
}

func TestOrchestrator_WriteBackFailureIsNonFatal(t *testing.T) {
	vr := domain.VerificationRequest{ID: "vr-1", JobNo: "J1", Status: domain.VerificationPending}
	erp := eligibleERP()
	wb := &orchWriteBack{err: context.DeadlineExceeded}
	llm := &fakeLLM{result: domain.ClassifyAndVerifyResult{DocumentType: domain.DocTypeSalesQuote}}

	o, vrepo, jrepo, activity := newOrchestratorForTest(vr, erp, wb, llm)

	if err := o.Process(context.Background(), "vr-1", "J1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := vrepo.byID["vr-1"]
	if got.Status != domain.VerificationCompleted {
		t.Fatalf("status = %s, want COMPLETED", got.Status)
	}
	job := jrepo.byBCID["J1"]
	if jrepo.statuses[job.ID] != domain.JobVerified {
		t.Fatalf("job status = %s, want VERIFIED despite write-back failure", jrepo.statuses[job.ID])
	}
	if len(got.Discrepancies) == 0 {
		t.Fatalf("expected an advisory discrepancy describing the write-back failure")
	}

	foundWriteBackEvent := false
	for _, e := range activity.entries {
		if e.EventType == domain.EventWriteBackFailed {
			foundWriteBackEvent = true
		}
	}
	if !foundWriteBackEvent {
		t.Fatalf("expected a WRITE_BACK_FAILED activity log entry")
	}
}

func TestOrchestrator_IdempotencyGuardSkipsNonPending(t *testing.T) {
	vr := domain.VerificationRequest{ID: "vr-1", JobNo: "J1", Status: domain.VerificationCompleted}
	erp := eligibleERP()
	o, vrepo, _, _ := newOrchestratorForTest(vr, erp, nil, &fakeLLM{})

	if err := o.Process(context.Background(), "vr-1", "J1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if vrepo.markProcessing {
		t.Fatalf("expected MarkProcessing not to be called for a non-pending request")
	}
}
