package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/emagero/second-check/internal/domain"
	obsctx "github.com/emagero/second-check/internal/observability"
)

// Orchestrator drives the VerificationRequest state machine described in
// spec §4.1: eligibility → fetch → classify → verify → aggregate →
// write-back → finalize.
type Orchestrator struct {
	Verifications domain.VerificationRequestRepository
	Jobs          domain.JobRepository
	Documents     domain.DocumentRepository
	Activity      domain.ActivityLogRepository
	ERP           domain.ERPClient
	WriteBack     domain.WriteBackAdapter
	Eligibility   *EligibilityChecker
	Classifier    *DocumentClassifier
	DocConcurrency int
	ActorName      string
}

// NewOrchestrator constructs an Orchestrator from its collaborators.
func NewOrchestrator(
	verifications domain.VerificationRequestRepository,
	jobs domain.JobRepository,
	documents domain.DocumentRepository,
	activity domain.ActivityLogRepository,
	erp domain.ERPClient,
	writeBack domain.WriteBackAdapter,
	classifier *DocumentClassifier,
	docConcurrency int,
	actorName string,
) *Orchestrator {
	return &Orchestrator{
		Verifications:  verifications,
		Jobs:           jobs,
		Documents:      documents,
		Activity:       activity,
		ERP:            erp,
		WriteBack:      writeBack,
		Eligibility:    NewEligibilityChecker(erp),
		Classifier:     classifier,
		DocConcurrency: docConcurrency,
		ActorName:      actorName,
	}
}

// Process is the Orchestrator's sole operation: it returns only after every
// terminal write for verificationRequestID is durable (spec §4.1).
func (o *Orchestrator) Process(ctx domain.Context, verificationRequestID, jobNo string) error {
	tracer := otel.Tracer("usecase.orchestrator")
	ctx, span := tracer.Start(ctx, "Orchestrator.Process")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx).With(
		slog.String("verification_request_id", verificationRequestID), slog.String("job_no", jobNo))

	// Step 1: load & guard.
	vr, err := o.Verifications.Get(ctx, verificationRequestID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			lg.Error("verification request not found, aborting silently")
			return nil
		}
		return fmt.Errorf("load verification request: %w", err)
	}
	if vr.Status != domain.VerificationPending {
		lg.Info("verification request not pending, skipping (idempotency guard)", slog.String("status", string(vr.Status)))
		return nil
	}

	// Step 2: resolve Job aggregate.
	job, err := o.resolveJob(ctx, jobNo)
	if err != nil {
		return o.fail(ctx, vr, "", fmt.Errorf("resolve job: %w", err))
	}

	// Step 3: mark in-flight atomically.
	if err := o.Verifications.MarkProcessing(ctx, vr.ID, job.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	// Step 4: eligibility.
	eligible, err := o.Eligibility.Check(ctx, jobNo)
	if err != nil {
		return o.fail(ctx, vr, job.ID, fmt.Errorf("eligibility check: %w", err))
	}
	if !eligible.IsEligible {
		return o.skip(ctx, vr, job.ID, eligible.Message)
	}

	// Step 5: fetch ledger anchor.
	ledgerEntries, err := o.ERP.FetchLedgerEntries(ctx, jobNo)
	if err != nil {
		return o.fail(ctx, vr, job.ID, fmt.Errorf("fetch ledger entries: %w", err))
	}
	if len(ledgerEntries) == 0 {
		return o.fail(ctx, vr, job.ID, fmt.Errorf("ledger entry not found for job %s", jobNo))
	}
	ledger := ledgerEntries[0]

	// Step 6: fetch reference bundles concurrently.
	ref, links, bundleDiscrepancies, err := o.fetchReferenceBundles(ctx, jobNo, ledger)
	if err != nil {
		return o.fail(ctx, vr, job.ID, err)
	}

	// Step 7: document acquisition.
	docs, err := o.acquireDocuments(ctx, jobNo, links)
	if err != nil {
		return o.fail(ctx, vr, job.ID, fmt.Errorf("document acquisition: %w", err))
	}

	// Step 8: per-document classify+verify, bounded by DocConcurrency.
	discrepancyLists := make([][]string, len(docs))
	runBounded(len(docs), o.DocConcurrency, func(i int) {
		discrepancyLists[i] = o.Classifier.Process(ctx, docs[i], ref)
	})

	var discrepancies []string
	discrepancies = append(discrepancies, bundleDiscrepancies...)
	for _, list := range discrepancyLists {
		discrepancies = append(discrepancies, list...)
	}

	// Step 9: aggregate. A "[advisory]"-prefixed entry is retained for the
	// record but never flips the outcome on its own (spec §4.2: low-severity
	// discrepancies and missing-bundle advisories are advisory only).
	outcome := domain.JobVerified
	if hasBlockingDiscrepancy(discrepancies) {
		outcome = domain.JobFlagged
	}

	// Step 10: conditional ERP write-back (PASS only); failure is non-fatal.
	if outcome == domain.JobVerified && o.WriteBack != nil {
		if err := o.applyWriteBack(ctx, jobNo); err != nil {
			lg.Warn("write-back failed, surfacing as advisory discrepancy", slog.Any("error", err))
			discrepancies = append(discrepancies, fmt.Sprintf("%swrite-back failed: %v", advisoryPrefix, err))
			o.appendActivity(ctx, domain.EventWriteBackFailed, fmt.Sprintf("write-back failed for job %s: %v", jobNo, err), job.ID)
		}
	}

	// Step 11: finalize.
	return o.finalize(ctx, vr, job.ID, outcome, discrepancies)
}

const advisoryPrefix = "[advisory] "

// hasBlockingDiscrepancy reports whether discrepancies contains at least one
// entry that is not "[advisory]"-prefixed.
func hasBlockingDiscrepancy(discrepancies []string) bool {
	for _, d := range discrepancies {
		if !strings.HasPrefix(d, advisoryPrefix) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) resolveJob(ctx domain.Context, jobNo string) (domain.Job, error) {
	job, err := o.Jobs.FindByBusinessCentralID(ctx, jobNo)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Job{}, err
	}

	now := time.Now().UTC()
	job = domain.Job{BusinessCentralJobID: jobNo, Status: domain.JobPending, CreatedAt: now, UpdatedAt: now}
	id, err := o.Jobs.Create(ctx, job)
	if err != nil {
		return domain.Job{}, err
	}
	job.ID = id
	return job, nil
}

// fetchReferenceBundles fetches the Sales Quote, Sales Invoice, and
// attachment link list concurrently (spec §4.1 step 6). A missing quote or
// invoice is recorded as an advisory discrepancy; it returns an error when
// both are missing or when the attachment link list cannot be fetched.
func (o *Orchestrator) fetchReferenceBundles(ctx domain.Context, jobNo string, ledger domain.LedgerEntry) (domain.ReferenceBundle, domain.JobAttachmentLinks, []string, error) {
	var (
		quote   domain.SalesQuoteHeader
		invoice domain.SalesInvoiceHeader
		links   domain.JobAttachmentLinks
		quoteErr, invoiceErr, linksErr error
	)

	runBounded(3, 3, func(i int) {
		switch i {
		case 0:
			quote, quoteErr = o.ERP.FetchSalesQuote(ctx, jobNo)
		case 1:
			invoice, invoiceErr = o.ERP.FetchSalesInvoice(ctx, jobNo)
		case 2:
			links, linksErr = o.ERP.FetchAttachmentLinks(ctx, jobNo)
		}
	})

	var discrepancies []string
	ref := domain.ReferenceBundle{Ledger: &ledger}
	if quoteErr == nil {
		ref.Quote = &quote
	} else {
		discrepancies = append(discrepancies, fmt.Sprintf("%ssales quote unavailable: %v", advisoryPrefix, quoteErr))
	}
	if invoiceErr == nil {
		ref.Invoice = &invoice
	} else {
		discrepancies = append(discrepancies, fmt.Sprintf("%ssales invoice unavailable: %v", advisoryPrefix, invoiceErr))
	}

	if ref.Quote == nil && ref.Invoice == nil {
		return domain.ReferenceBundle{}, domain.JobAttachmentLinks{}, nil, fmt.Errorf("all reference bundles missing for job %s", jobNo)
	}

	if linksErr != nil {
		return ref, domain.JobAttachmentLinks{}, nil, fmt.Errorf("fetch attachment links: %w", linksErr)
	}

	return ref, links, discrepancies, nil
}

// acquireDocuments downloads each attachment URL and upserts it into the
// Document Store, keyed by (jobNo, fileName) (spec §4.1 step 7).
func (o *Orchestrator) acquireDocuments(ctx domain.Context, jobNo string, links domain.JobAttachmentLinks) ([]domain.JobDocument, error) {
	docs := make([]domain.JobDocument, 0, len(links.URLs))

	for _, url := range links.URLs {
		url = strings.TrimSpace(url)
		if url == "" {
			continue
		}
		downloaded, err := o.ERP.DownloadDocument(ctx, url)
		if err != nil {
			obsctx.LoggerFromContext(ctx).Warn("document download failed", slog.String("url", url), slog.Any("error", err))
			continue
		}

		doc := domain.JobDocument{
			JobNo:        jobNo,
			DocumentType: domain.UnclassifiedDocumentType,
			FileName:     downloaded.FileName,
			ContentType:  downloaded.ContentType,
			DocumentData: downloaded.Bytes,
			SourceURL:    url,
		}
		id, err := o.Documents.Upsert(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("upsert document %s: %w", downloaded.FileName, err)
		}
		doc.ID = id
		docs = append(docs, doc)
	}
	return docs, nil
}

func (o *Orchestrator) applyWriteBack(ctx domain.Context, jobNo string) error {
	now := time.Now()
	fields := domain.WriteBackFields{
		JobNo:     jobNo,
		CheckDate: now.Format("2006-01-02"),
		CheckTime: now.Format("15:04:05"),
		CheckedBy: o.ActorName,
		Comment:   fmt.Sprintf("Job %s passed verification.", jobNo),
	}
	return o.WriteBack.Apply(ctx, fields)
}

func (o *Orchestrator) skip(ctx domain.Context, vr domain.VerificationRequest, jobID, message string) error {
	if err := o.Verifications.Finalize(ctx, vr.ID, domain.VerificationSkipped, []string{message}); err != nil {
		return fmt.Errorf("finalize skipped: %w", err)
	}
	if jobID != "" {
		_ = o.Jobs.UpdateStatus(ctx, jobID, domain.JobSkipped, true)
	}
	o.appendActivity(ctx, domain.EventVerificationSkipped, message, jobID)
	return nil
}

func (o *Orchestrator) fail(ctx domain.Context, vr domain.VerificationRequest, jobID string, cause error) error {
	obsctx.LoggerFromContext(ctx).Error("verification failed", slog.Any("error", cause))
	if err := o.Verifications.Finalize(ctx, vr.ID, domain.VerificationFailed, []string{cause.Error()}); err != nil {
		return fmt.Errorf("finalize failed: %w", err)
	}
	if jobID != "" {
		_ = o.Jobs.UpdateStatus(ctx, jobID, domain.JobError, true)
	}
	o.appendActivity(ctx, domain.EventVerificationFailed, cause.Error(), jobID)
	return nil
}

func (o *Orchestrator) finalize(ctx domain.Context, vr domain.VerificationRequest, jobID string, outcome domain.JobStatus, discrepancies []string) error {
	if err := o.Verifications.Finalize(ctx, vr.ID, domain.VerificationCompleted, discrepancies); err != nil {
		return fmt.Errorf("finalize completed: %w", err)
	}
	if err := o.Jobs.UpdateStatus(ctx, jobID, outcome, true); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	o.appendActivity(ctx, domain.EventVerificationCompleted,
		fmt.Sprintf("verification completed for job %s with outcome %s", vr.JobNo, outcome), jobID)
	return nil
}

func (o *Orchestrator) appendActivity(ctx domain.Context, eventType, description, jobID string) {
	if o.Activity == nil {
		return
	}
	entry := domain.ActivityLog{Timestamp: time.Now().UTC(), EventType: eventType, Description: description}
	if jobID != "" {
		entry.RelatedJobID = &jobID
	}
	if err := o.Activity.Append(ctx, entry); err != nil {
		obsctx.LoggerFromContext(ctx).Warn("failed to append activity log", slog.Any("error", err))
	}
}
