package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/service"
)

// AnalyticsHandler records analytics events submitted over HTTP.
type AnalyticsHandler struct {
	recorder *service.AnalyticsRecorder
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(recorder *service.AnalyticsRecorder) *AnalyticsHandler {
	return &AnalyticsHandler{recorder: recorder}
}

// RecordEvents handles POST /api/v1/analytics/events. The body is one event,
// an array of events or {"events": [...]}. Events without an eventId get one
// derived from their content, so a retried request does not record them twice. Rejected and duplicate events still answer 200; a store
// failure on any event answers 503 so the caller retries.
func (h *AnalyticsHandler) RecordEvents(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		badRequest(c, err)
		return
	}
	if !gjson.ValidBytes(body) {
		badRequest(c, domain.NewValidationError("body is not valid JSON"))
		return
	}

	var raw []byte
	switch list := gjson.GetBytes(body, "events"); {
	case gjson.ParseBytes(body).IsArray():
		raw = body
	case list.Exists():
		if !list.IsArray() {
			badRequest(c, domain.NewValidationError("events must be an array", "events"))
			return
		}
		raw = []byte(list.Raw)
	default:
		raw = append(append([]byte{'['}, body...), ']')
	}

	var events []*domain.AnalyticsEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		badRequest(c, err)
		return
	}
	if len(events) == 0 {
		badRequest(c, domain.NewValidationError("no events given", "events"))
		return
	}
	for i, ev := range events {
		if ev == nil {
			ev = &domain.AnalyticsEvent{}
			events[i] = ev
		}
		if ev.EventID == "" {
			ev.EventID = ev.DerivedID(i)
		}
	}

	results, failed := h.recorder.RecordBatch(c.Request.Context(), events)
	status := http.StatusOK
	if len(failed) > 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"results": results, "failed": len(failed)})
}
