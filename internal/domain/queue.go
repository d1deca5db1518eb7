package domain

// VerificationTaskPayload is the message body carried on the verification
// request queue. Producers may send it JSON-encoded, double JSON-encoded (a
// string containing JSON), or as the legacy bare job-number shorthand (a
// JSON string holding only the job number) — the Queue Listener adapter normalizes
// all three before constructing this struct.
type VerificationTaskPayload struct {
	JobNo            string
	VerificationID   string
	RequestTimestamp string
}

// Queue is the port over the message broker used for both consuming
// verification requests and publishing dead-lettered ones.
type Queue interface {
	Publish(ctx Context, topic string, payload VerificationTaskPayload) error
	PublishDLQ(ctx Context, payload VerificationTaskPayload, failureReason string) error
}
