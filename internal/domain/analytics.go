package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// AnalyticsEvent is one consumed analytics message. EventID is the
// idempotency key; when the producer leaves it empty the consumer fills it
// from the delivery's message id.
type AnalyticsEvent struct {
	EventID  string  `json:"eventId,omitempty"`
	Type     string  `json:"type"`
	Source   string  `json:"source"`
	Data     JSONMap `json:"data"`
	Metadata JSONMap `json:"metadata,omitempty"`
}

// RestaurantID returns data.restaurantId as a string.
func (e *AnalyticsEvent) RestaurantID() string { return stringField(e.Data, "restaurantId") }

// UserID returns data.userId as a string.
func (e *AnalyticsEvent) UserID() string { return stringField(e.Data, "userId") }

// Action returns data.action as a string.
func (e *AnalyticsEvent) Action() string { return stringField(e.Data, "action") }

// MetadataString returns metadata[key] as a string, or "" when absent.
func (e *AnalyticsEvent) MetadataString(key string) string { return stringField(e.Metadata, key) }

// DerivedID returns a stable event id for producers that send none: a hash of
// the event content and its position in the submitted batch. Resubmitting the
// same batch yields the same ids, so retried events are recognized as
// duplicates.
func (e *AnalyticsEvent) DerivedID(position int) string {
	// map keys marshal in sorted order
	content, _ := json.Marshal(struct {
		Position int     `json:"p"`
		Type     string  `json:"t"`
		Source   string  `json:"s"`
		Data     JSONMap `json:"d"`
		Metadata JSONMap `json:"m"`
	}{position, e.Type, e.Source, e.Data, e.Metadata})
	sum := sha256.Sum256(content)
	return "evt-" + hex.EncodeToString(sum[:16])
}

func stringField(m JSONMap, key string) string {
	if m == nil {
		return ""
	}
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// AnalyticsRecord is the durable form of an AnalyticsEvent.
type AnalyticsRecord struct {
	EventID      string                 `json:"eventId" dynamodbav:"eventId"`
	RestaurantID string                 `json:"restaurantId" dynamodbav:"restaurantId"`
	Timestamp    string                 `json:"timestamp" dynamodbav:"timestamp"`
	EventType    string                 `json:"eventType" dynamodbav:"eventType"`
	EventSource  string                 `json:"eventSource" dynamodbav:"eventSource"`
	UserID       string                 `json:"userId,omitempty" dynamodbav:"userId,omitempty"`
	Action       string                 `json:"action" dynamodbav:"action"`
	Data         map[string]interface{} `json:"data,omitempty" dynamodbav:"data,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	TTL          int64                  `json:"ttl" dynamodbav:"ttl"`
}

// ProcessedStatus is the outcome of recording one analytics event.
type ProcessedStatus string

const (
	ProcessedStatusRecorded  ProcessedStatus = "RECORDED"
	ProcessedStatusDuplicate ProcessedStatus = "DUPLICATE"
	ProcessedStatusFailed    ProcessedStatus = "FAILED"
	// ProcessedStatusRejected marks an event that failed validation. It is
	// dropped, not redelivered.
	ProcessedStatusRejected ProcessedStatus = "REJECTED"
)

// ProcessedEvent reports what happened to one analytics event.
type ProcessedEvent struct {
	EventID string          `json:"eventId"`
	Status  ProcessedStatus `json:"status"`
	Error   string          `json:"error,omitempty"`
}

// Failed reports whether the event should be redelivered.
func (p ProcessedEvent) Failed() bool {
	return p.Status == ProcessedStatusFailed
}
