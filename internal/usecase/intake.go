package usecase

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/emagero/second-check/internal/domain"
	obsctx "github.com/emagero/second-check/internal/observability"
)

// IntakeService creates VerificationRequest rows and enqueues them for
// processing, serving both the HTTP `POST /verify` path and the Queue
// Listener's legacy bare-job-number shorthand (spec §6, §9's Open Question).
type IntakeService struct {
	Verifications domain.VerificationRequestRepository
	Queue         domain.Queue
	Topic         string
}

// NewIntakeService constructs an IntakeService.
func NewIntakeService(verifications domain.VerificationRequestRepository, queue domain.Queue, topic string) IntakeService {
	return IntakeService{Verifications: verifications, Queue: queue, Topic: topic}
}

// VerifyJob creates a PENDING VerificationRequest for jobNo and enqueues it
// for the Orchestrator to process.
func (s IntakeService) VerifyJob(ctx domain.Context, jobNo string) (domain.VerificationRequest, error) {
	tr := otel.Tracer("usecase.intake")
	ctx, span := tr.Start(ctx, "IntakeService.VerifyJob")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)

	if jobNo == "" {
		return domain.VerificationRequest{}, fmt.Errorf("%w: jobNo required", domain.ErrInvalidArgument)
	}

	vr, err := s.Verifications.Create(ctx, jobNo)
	if err != nil {
		lg.Error("failed to create verification request", slog.String("job_no", jobNo), slog.Any("error", err))
		return domain.VerificationRequest{}, err
	}

	payload := domain.VerificationTaskPayload{JobNo: jobNo, VerificationID: vr.ID}
	if err := s.Queue.Publish(ctx, s.Topic, payload); err != nil {
		lg.Error("failed to enqueue verification request", slog.String("verification_request_id", vr.ID), slog.Any("error", err))
		return domain.VerificationRequest{}, err
	}

	lg.Info("verification request enqueued", slog.String("verification_request_id", vr.ID), slog.String("job_no", jobNo))
	return vr, nil
}

// CreatePending implements queue.Intake for the legacy bare-job-number
// shorthand: it mints a fresh PENDING VerificationRequest without
// re-publishing to the queue, since the caller already holds a record to
// process inline.
func (s IntakeService) CreatePending(ctx domain.Context, jobNo string) (domain.VerificationRequest, error) {
	return s.Verifications.Create(ctx, jobNo)
}
