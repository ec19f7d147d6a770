package service

import (
	"encoding/json"
	"fmt"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/validation"
)

// ImportMessage is the body of one import queue message: the raw records of
// a single batch.
type ImportMessage struct {
	JobID    string            `json:"jobId" validate:"notblank"`
	BatchID  string            `json:"batchId" validate:"notblank"`
	Data     []json.RawMessage `json:"data"`
	Metadata *MessageMetadata  `json:"metadata,omitempty"`
}

// MessageMetadata carries correlation data set by the producer.
type MessageMetadata struct {
	TraceID   string `json:"traceId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// TraceID returns the producer's trace id, or "".
func (m *ImportMessage) TraceID() string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata.TraceID
}

// ParseImportMessage decodes and validates an import message body. Anything
// undecodable is a *domain.ValidationError: redelivering it cannot help.
func ParseImportMessage(body []byte) (*ImportMessage, error) {
	var msg ImportMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("malformed import message: %v", err))
	}
	if err := validation.Struct(msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// ParseAnalyticsEvent decodes an analytics message body.
func ParseAnalyticsEvent(body []byte) (*domain.AnalyticsEvent, error) {
	var ev domain.AnalyticsEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, domain.NewValidationError(fmt.Sprintf("malformed analytics message: %v", err))
	}
	return &ev, nil
}
