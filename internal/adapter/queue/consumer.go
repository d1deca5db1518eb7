package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"go.opentelemetry.io/otel"

	adapterobs "github.com/emagero/second-check/internal/adapter/observability"
	"github.com/emagero/second-check/internal/domain"
	obsctx "github.com/emagero/second-check/internal/observability"
)

// Orchestrator is the subset of usecase.Orchestrator the Queue Listener
// drives. Kept as a narrow local interface so this package doesn't import
// usecase's full surface.
type Orchestrator interface {
	Process(ctx domain.Context, verificationRequestID, jobNo string) error
}

// Intake is the subset of usecase.IntakeService needed for the legacy
// bare-job-number shorthand (SPEC_FULL §4): spawn a fresh PENDING request
// inline rather than rejecting the message.
type Intake interface {
	CreatePending(ctx domain.Context, jobNo string) (domain.VerificationRequest, error)
}

// Consumer polls the verification-requests topic and drives the Orchestrator
// per message, isolating failures so they never propagate into the Kafka
// client's poll loop (spec §4.6: "exceptions must not be rethrown into the
// queue runtime").
type Consumer struct {
	client       *kgo.Client
	orchestrator Orchestrator
	intake       Intake
	producer     *Producer
	retryCfg     domain.RetryConfig
	topic        string
}

// NewConsumer constructs a Consumer in the given consumer group, subscribed
// to topic, driving orchestrator and using producer to dead-letter
// unparseable or exhausted messages.
func NewConsumer(brokers []string, groupID, topic string, orchestrator Orchestrator, intake Intake, producer *Producer, retryCfg domain.RetryConfig) (*Consumer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	if groupID == "" {
		return nil, fmt.Errorf("missing required consumer group id")
	}

	ctx := context.Background()
	bootstrap, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("bootstrap client: %w", err)
	}
	if err := ensureTopic(ctx, bootstrap, topic, 4, 1); err != nil {
		slog.Warn("failed to ensure topic exists", slog.String("topic", topic), slog.Any("error", err))
	}
	bootstrap.Close()

	kotelTracer := kotel.NewTracer(kotel.TracerProvider(otel.GetTracerProvider()))
	kotelService := kotel.NewKotel(kotel.WithTracer(kotelTracer))

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(groupID),
		kgo.ConsumeTopics(topic),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.WithHooks(kotelService.Hooks()...),
		kgo.DialTimeout(10*time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("consumer client: %w", err)
	}

	return &Consumer{
		client:       client,
		orchestrator: orchestrator,
		intake:       intake,
		producer:     producer,
		retryCfg:     retryCfg,
		topic:        topic,
	}, nil
}

// Run polls for records until ctx is cancelled, processing each one
// synchronously. The Orchestrator already bounds per-request concurrency
// internally (DOC_CONCURRENCY); the consumer itself processes one record at
// a time per partition fetch batch, which is sufficient headroom for the
// ERP/LLM-bound pipeline this spec describes.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(_ string, _ int32, err error) {
			slog.Error("queue fetch error", slog.Any("error", err))
		})
		fetches.EachRecord(func(record *kgo.Record) {
			c.processRecord(ctx, record)
		})
	}
}

func (c *Consumer) processRecord(ctx context.Context, record *kgo.Record) {
	tracer := otel.Tracer("queue.consumer")
	ctx, span := tracer.Start(ctx, "verification.consume")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)

	payload, err := parseVerificationMessage(record.Value)
	if err != nil {
		lg.Error("dead-lettering unparseable verification message", slog.Any("error", err))
		c.deadLetter(ctx, domain.VerificationTaskPayload{}, record.Value, err.Error())
		return
	}
	lg = lg.With(slog.String("job_no", payload.JobNo))

	if payload.JobNo == "" {
		lg.Error("dead-lettering verification message with empty jobNo")
		c.deadLetter(ctx, payload, record.Value, "jobNo is required")
		return
	}

	verificationID := payload.VerificationID
	if verificationID == "" {
		// Legacy bare job-number shorthand: mint a new PENDING request inline.
		vr, err := c.intake.CreatePending(ctx, payload.JobNo)
		if err != nil {
			lg.Error("failed to create verification request for legacy payload", slog.Any("error", err))
			c.deadLetter(ctx, payload, record.Value, err.Error())
			return
		}
		verificationID = vr.ID
	}
	lg = lg.With(slog.String("verification_request_id", verificationID))

	var lastErr error
	attempts := c.retryCfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	info := &domain.RetryInfo{MaxAttempts: attempts, RetryStatus: domain.RetryStatusNone}
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = c.orchestrator.Process(ctx, verificationID, payload.JobNo)
		if lastErr == nil {
			return
		}
		info.UpdateRetryAttempt(lastErr)
		lg.Warn("verification processing attempt failed",
			slog.Int("attempt", attempt), slog.Int("max_attempts", attempts), slog.Any("error", lastErr))
		if !info.ShouldRetry(lastErr, c.retryCfg) || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(info.CalculateNextRetryDelay(c.retryCfg)):
		}
	}

	info.MarkAsExhausted()
	lg.Error("verification processing exhausted retries; dead-lettering", slog.Any("error", lastErr))
	c.deadLetter(ctx, payload, record.Value, lastErr.Error())
}

func (c *Consumer) deadLetter(ctx context.Context, payload domain.VerificationTaskPayload, original []byte, reason string) {
	if payload.JobNo == "" {
		payload.JobNo = string(original)
	}
	if c.producer == nil {
		return
	}
	if err := c.producer.PublishDLQ(ctx, payload, reason); err != nil {
		adapterobs.RecordQueueDeadLetter("dlq_publish_failed")
		slog.Error("failed to publish to dead-letter topic", slog.Any("error", err))
	}
}

// Close releases the underlying Kafka client.
func (c *Consumer) Close() error {
	if c.client != nil {
		c.client.Close()
	}
	return nil
}
