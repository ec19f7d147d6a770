package service

import (
	"context"
	"time"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/metrics"
	"github.com/timmy/dishrank/internal/validation"
)

// AnalyticsStore is a creation-only store keyed by event id.
type AnalyticsStore interface {
	// PutIfAbsent returns *domain.DuplicateError when the event id exists.
	PutIfAbsent(ctx context.Context, record *domain.AnalyticsRecord) error
}

// AnalyticsRecorder validates interaction events and records each event id
// at most once.
type AnalyticsRecorder struct {
	store     AnalyticsStore
	retention time.Duration
	now       func() time.Time
}

// NewAnalyticsRecorder creates a recorder. retention sets the record ttl
// relative to the write time; zero keeps records for 90 days.
func NewAnalyticsRecorder(store AnalyticsStore, retention time.Duration) *AnalyticsRecorder {
	if retention <= 0 {
		retention = 90 * 24 * time.Hour
	}
	return &AnalyticsRecorder{store: store, retention: retention, now: time.Now}
}

type analyticsRequired struct {
	EventID      string `json:"eventId" validate:"notblank"`
	Type         string `json:"type" validate:"notblank"`
	Source       string `json:"source" validate:"notblank"`
	RestaurantID string `json:"data.restaurantId" validate:"notblank"`
	Action       string `json:"data.action" validate:"notblank"`
}

// Record validates and stores one event.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - ev: event to record; EventID must be set.
// Returns:
//   - domain.ProcessedEvent: RECORDED, DUPLICATE (already recorded, not a
//     failure), REJECTED (invalid, dropped) or FAILED (store fault, retry).
func (r *AnalyticsRecorder) Record(ctx context.Context, ev *domain.AnalyticsEvent) domain.ProcessedEvent {
	ctx = logger.WithField(ctx, logger.FieldEventID, ev.EventID)
	result := r.record(ctx, ev)
	metrics.AnalyticsEventsTotal.WithLabelValues(string(result.Status)).Inc()
	return result
}

func (r *AnalyticsRecorder) record(ctx context.Context, ev *domain.AnalyticsEvent) domain.ProcessedEvent {
	log := logger.FromContext(ctx)
	result := domain.ProcessedEvent{EventID: ev.EventID}

	if err := validation.Struct(analyticsRequired{
		EventID:      ev.EventID,
		Type:         ev.Type,
		Source:       ev.Source,
		RestaurantID: ev.RestaurantID(),
		Action:       ev.Action(),
	}); err != nil {
		log.WithError(err).Warn("Rejected analytics event")
		result.Status = domain.ProcessedStatusRejected
		result.Error = err.Error()
		return result
	}

	now := r.now().UTC()
	timestamp := ev.MetadataString("timestamp")
	if timestamp == "" {
		timestamp = now.Format(time.RFC3339Nano)
	}

	record := &domain.AnalyticsRecord{
		EventID:      ev.EventID,
		RestaurantID: ev.RestaurantID(),
		Timestamp:    timestamp,
		EventType:    ev.Type,
		EventSource:  ev.Source,
		UserID:       ev.UserID(),
		Action:       ev.Action(),
		Data:         ev.Data,
		Metadata:     ev.Metadata,
		TTL:          now.Add(r.retention).Unix(),
	}

	err := r.store.PutIfAbsent(ctx, record)
	switch {
	case err == nil:
		result.Status = domain.ProcessedStatusRecorded
	case domain.IsDuplicate(err):
		log.Debug("Analytics event already recorded")
		result.Status = domain.ProcessedStatusDuplicate
	default:
		log.WithError(err).Error("Failed to record analytics event")
		result.Status = domain.ProcessedStatusFailed
		result.Error = err.Error()
	}
	return result
}

// RecordBatch records each event independently.
// Returns:
//   - []domain.ProcessedEvent: one result per event, in input order.
//   - []string: ids of events that should be redelivered.
func (r *AnalyticsRecorder) RecordBatch(ctx context.Context, events []*domain.AnalyticsEvent) ([]domain.ProcessedEvent, []string) {
	results := make([]domain.ProcessedEvent, 0, len(events))
	var failed []string
	for _, ev := range events {
		res := r.Record(ctx, ev)
		results = append(results, res)
		if res.Failed() {
			failed = append(failed, res.EventID)
		}
	}
	return results, failed
}
