// Package event defines the envelope shared by producers and consumers of the
// pipeline's bus events, and publishers for EventBridge, NATS, Kafka and
// in-process delivery.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Detail types emitted by the batch processor.
const (
	TypeImportBatchCompleted = "IMPORT_BATCH_COMPLETED"
	TypeImportBatchFailed    = "IMPORT_BATCH_FAILED"
)

// Envelope is the common message shape on the bus.
type Envelope struct {
	Type     string      `json:"type"`
	Source   string      `json:"source"`
	Payload  interface{} `json:"payload"`
	Metadata Metadata    `json:"metadata"`
}

// Metadata carries correlation data across hops.
type Metadata struct {
	TraceID   string `json:"traceId"`
	Timestamp string `json:"timestamp"`
}

// NewEnvelope builds an envelope stamped with the current time. An empty
// traceID gets a fresh one.
func NewEnvelope(eventType, source string, payload interface{}, traceID string) Envelope {
	if traceID == "" {
		traceID = uuid.NewString()
	}
	return Envelope{
		Type:    eventType,
		Source:  source,
		Payload: payload,
		Metadata: Metadata{
			TraceID:   traceID,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
}

// ItemError mirrors one per-item failure inside a completion event.
type ItemError struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// BatchCompleted is the payload of IMPORT_BATCH_COMPLETED.
type BatchCompleted struct {
	JobID        string      `json:"jobId"`
	BatchID      string      `json:"batchId"`
	SuccessCount int         `json:"successCount"`
	ErrorCount   int         `json:"errorCount"`
	Errors       []ItemError `json:"errors,omitempty"`
	Timestamp    string      `json:"timestamp"`
	TraceID      string      `json:"traceId"`
}

// BatchFailed is the payload of IMPORT_BATCH_FAILED.
type BatchFailed struct {
	JobID     string `json:"jobId"`
	BatchID   string `json:"batchId"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"traceId"`
}

// Publisher delivers envelopes to the bus.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, env Envelope) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, env Envelope) error {
	return f(ctx, env)
}

// Nop discards every envelope.
var Nop Publisher = PublisherFunc(func(context.Context, Envelope) error { return nil })
