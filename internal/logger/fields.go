package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// Tracing fields, propagated through the call chain via context.
const (
	FieldRequestID = "request_id"
	FieldTraceID   = "trace_id"
	FieldJobID     = "job_id"
	FieldBatchID   = "batch_id"
	FieldEventID   = "event_id"
	FieldMessageID = "message_id"
	FieldComponent = "component"
	FieldSource    = "source"
	FieldUserID    = "user_id"
)

// Metric fields, attached per entry for aggregation.
const (
	FieldDurationMs = "duration_ms"
	FieldCount      = "count"
	FieldSuccess    = "success_count"
	FieldErrors     = "error_count"
	FieldStatus     = "status"
	FieldSize       = "size"
)
