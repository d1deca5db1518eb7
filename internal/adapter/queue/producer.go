package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	adapterobs "github.com/emagero/second-check/internal/adapter/observability"
	"github.com/emagero/second-check/internal/domain"
)

// DefaultTopic is the Kafka/Redpanda topic carrying verification requests.
const DefaultTopic = "verification-requests"

// DefaultDLQTopic is the dead-letter topic for unparseable or exhausted messages.
const DefaultDLQTopic = "verification-requests-dlq"

// Producer publishes verification-request messages and implements domain.Queue.
type Producer struct {
	client *kgo.Client
}

// NewProducer constructs a Producer against the given brokers, ensuring the
// primary and DLQ topics exist.
func NewProducer(brokers []string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RequestRetries(10),
		kgo.ProducerBatchMaxBytes(1_000_000),
	)
	if err != nil {
		return nil, fmt.Errorf("queue producer client: %w", err)
	}

	ctx := context.Background()
	if err := ensureTopic(ctx, client, DefaultTopic, 4, 1); err != nil {
		slog.Warn("failed to ensure primary topic exists", slog.String("topic", DefaultTopic), slog.Any("error", err))
	}
	if err := ensureTopic(ctx, client, DefaultDLQTopic, 1, 1); err != nil {
		slog.Warn("failed to ensure DLQ topic exists", slog.String("topic", DefaultDLQTopic), slog.Any("error", err))
	}

	return &Producer{client: client}, nil
}

// Publish enqueues a verification request onto topic, keyed by jobNo so that
// repeated verifications of the same job land on the same partition.
func (p *Producer) Publish(ctx domain.Context, topic string, payload domain.VerificationTaskPayload) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal verification task: %w", err)
	}
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(payload.JobNo),
		Value: b,
		Headers: []kgo.RecordHeader{
			{Key: "verification_request_id", Value: []byte(payload.VerificationID)},
			{Key: "job_no", Value: []byte(payload.JobNo)},
		},
	}
	res := p.client.ProduceSync(ctx, record)
	if err := res.FirstErr(); err != nil {
		return fmt.Errorf("produce verification task: %w", err)
	}
	adapterobs.EnqueueVerification("queue")
	slog.Info("verification task enqueued",
		slog.String("job_no", payload.JobNo),
		slog.String("verification_request_id", payload.VerificationID),
		slog.String("topic", topic))
	return nil
}

// PublishDLQ routes a message to the dead-letter topic, preserving the
// original payload bytes intact alongside the failure reason (spec §4.6).
func (p *Producer) PublishDLQ(ctx domain.Context, payload domain.VerificationTaskPayload, failureReason string) error {
	envelope := domain.DLQJob{
		JobID:            payload.JobNo,
		OriginalPayload:  payload,
		FailureReason:    failureReason,
		CanBeReprocessed: true,
	}
	b, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal dlq envelope: %w", err)
	}
	record := &kgo.Record{
		Topic: DefaultDLQTopic,
		Key:   []byte(payload.JobNo),
		Value: b,
	}
	res := p.client.ProduceSync(ctx, record)
	if err := res.FirstErr(); err != nil {
		return fmt.Errorf("produce dlq message: %w", err)
	}
	adapterobs.RecordQueueDeadLetter(classifyFailureCode(failureReason))
	slog.Warn("verification task dead-lettered",
		slog.String("job_no", payload.JobNo),
		slog.String("reason", failureReason))
	return nil
}

// Close releases the underlying Kafka client.
func (p *Producer) Close() error {
	if p.client != nil {
		p.client.Close()
	}
	return nil
}
