package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/event"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/metrics"
	"github.com/timmy/dishrank/internal/repository"
)

// RecordUpserter merges one raw record into the canonical store.
type RecordUpserter interface {
	Upsert(ctx context.Context, sourceID string, rec domain.RawRecord) (*UpsertResult, error)
}

// BatchResult summarizes one ProcessBatch call.
type BatchResult struct {
	JobID        string
	BatchID      string
	Status       domain.BatchStatus
	SuccessCount int
	ErrorCount   int
	Errors       domain.ItemErrors
	// Skipped is set when the batch was not PENDING, i.e. a redelivery of
	// work another consumer already owns or finished.
	Skipped bool
	Job     *domain.ImportJob
}

// BatchProcessor drives one import batch through
// PENDING -> IN_PROGRESS -> COMPLETED | COMPLETED_WITH_ERRORS | FAILED.
type BatchProcessor struct {
	jobs        *repository.JobRepository
	upserter    RecordUpserter
	publisher   event.Publisher
	eventSource string
}

// NewBatchProcessor creates a new BatchProcessor.
// Parameters:
//   - jobs: job and batch state store.
//   - upserter: per-record match and merge.
//   - publisher: receives completion and failure events; nil discards them.
//   - eventSource: source field stamped on emitted envelopes.
// Returns:
//   - *BatchProcessor: ready processor.
func NewBatchProcessor(jobs *repository.JobRepository, upserter RecordUpserter, publisher event.Publisher, eventSource string) *BatchProcessor {
	if publisher == nil {
		publisher = event.Nop
	}
	return &BatchProcessor{
		jobs:        jobs,
		upserter:    upserter,
		publisher:   publisher,
		eventSource: eventSource,
	}
}

// ProcessBatch processes every record of msg.
// Returns:
//   - *BatchResult: outcome; Skipped when the batch was not PENDING.
//   - error: *domain.ValidationError for messages that can never succeed
//     (unknown job or batch, or a record count that differs from the
//     scheduled batch, which FAILS the batch), *domain.StoreError when the batch FAILED or the
//     store is unreachable, or the context error when processing was
//     interrupted and the batch was released for redelivery.
func (p *BatchProcessor) ProcessBatch(ctx context.Context, msg *ImportMessage) (*BatchResult, error) {
	start := time.Now()
	traceID := msg.TraceID()
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldJobID:   msg.JobID,
		logger.FieldBatchID: msg.BatchID,
		logger.FieldTraceID: traceID,
	})
	log := logger.FromContext(ctx)

	job, err := p.jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			return nil, domain.NewValidationError("unknown import job "+msg.JobID, "jobId")
		}
		return nil, domain.NewStoreError("get job", err)
	}

	started, err := p.jobs.StartBatch(ctx, msg.JobID, msg.BatchID)
	if err != nil {
		if errors.Is(err, repository.ErrBatchNotFound) {
			return nil, domain.NewValidationError("unknown import batch "+msg.BatchID, "batchId")
		}
		return nil, domain.NewStoreError("start batch", err)
	}
	if !started {
		log.Info("Batch is not pending, skipping redelivery")
		metrics.ImportBatchesTotal.WithLabelValues("skipped").Inc()
		return &BatchResult{JobID: msg.JobID, BatchID: msg.BatchID, Skipped: true}, nil
	}

	batch, err := p.jobs.GetBatch(ctx, msg.JobID, msg.BatchID)
	if err != nil {
		return nil, p.release(ctx, msg, domain.NewStoreError("get batch", err))
	}
	if len(msg.Data) != batch.ItemCount {
		// the job counters only add up when every batch reports ItemCount items
		cause := fmt.Errorf("message carries %d records, batch %s was scheduled with %d", len(msg.Data), msg.BatchID, batch.ItemCount)
		res, err := p.fail(ctx, job, msg, batch.ItemCount, cause)
		if res == nil {
			return nil, err
		}
		return res, domain.NewValidationError(cause.Error(), "data")
	}

	outcome := repository.BatchOutcome{JobID: msg.JobID, BatchID: msg.BatchID}
	for i, raw := range msg.Data {
		if ctx.Err() != nil {
			return nil, p.release(ctx, msg, ctx.Err())
		}

		label := itemLabel(raw, i)
		itemErr := p.processItem(ctx, job, raw)
		switch {
		case itemErr == nil:
			outcome.SuccessCount++
			metrics.ImportItemsTotal.WithLabelValues(string(job.JobType), "success").Inc()
		case domain.IsValidation(itemErr):
			outcome.ErrorCount++
			outcome.Errors = append(outcome.Errors, domain.ItemError{Item: label, Error: itemErr.Error()})
			metrics.ImportItemsTotal.WithLabelValues(string(job.JobType), "error").Inc()
		case ctx.Err() != nil:
			return nil, p.release(ctx, msg, itemErr)
		default:
			return p.fail(ctx, job, msg, batch.ItemCount, pkgerrors.Wrapf(itemErr, "item %s", label))
		}
	}

	// finishing must not be cut short once every item is done
	finished, err := p.jobs.CompleteBatch(context.WithoutCancel(ctx), outcome)
	if err != nil {
		return nil, domain.NewStoreError("complete batch", err)
	}

	status := outcome.Status()
	metrics.ImportBatchesTotal.WithLabelValues(string(status)).Inc()
	metrics.ImportBatchDuration.WithLabelValues(string(job.JobType)).Observe(time.Since(start).Seconds())

	logger.With(logger.Fields{
		logger.FieldStatus:  status,
		logger.FieldSuccess: outcome.SuccessCount,
		logger.FieldErrors:  outcome.ErrorCount,
	}).WithDuration(time.Since(start).Milliseconds()).Info(ctx, "Batch processed")

	p.publish(ctx, event.TypeImportBatchCompleted, event.BatchCompleted{
		JobID:        msg.JobID,
		BatchID:      msg.BatchID,
		SuccessCount: outcome.SuccessCount,
		ErrorCount:   outcome.ErrorCount,
		Errors:       toEventErrors(outcome.Errors),
		Timestamp:    time.Now().UTC().Format(time.RFC3339Nano),
		TraceID:      traceID,
	}, traceID)

	return &BatchResult{
		JobID:        msg.JobID,
		BatchID:      msg.BatchID,
		Status:       status,
		SuccessCount: outcome.SuccessCount,
		ErrorCount:   outcome.ErrorCount,
		Errors:       outcome.Errors,
		Job:          finished,
	}, nil
}

func (p *BatchProcessor) processItem(ctx context.Context, job *domain.ImportJob, raw []byte) error {
	rec, err := domain.ParseRawRecord(job.JobType, raw)
	if err != nil {
		return err
	}
	_, err = p.upserter.Upsert(ctx, job.SourceID, rec)
	return err
}

// fail records the batch as FAILED. Items upserted before the fault stay in
// the canonical store; the job counts all itemCount scheduled items as errors.
func (p *BatchProcessor) fail(ctx context.Context, job *domain.ImportJob, msg *ImportMessage, itemCount int, cause error) (*BatchResult, error) {
	log := logger.FromContext(ctx)
	log.WithError(cause).Error("Batch failed")

	finished, err := p.jobs.FailBatch(context.WithoutCancel(ctx), msg.JobID, msg.BatchID, itemCount, cause.Error())
	if err != nil {
		log.WithError(err).Error("Failed to record batch failure")
		return nil, domain.NewStoreError("fail batch", err)
	}
	metrics.ImportBatchesTotal.WithLabelValues(string(domain.BatchStatusFailed)).Inc()
	metrics.ImportItemsTotal.WithLabelValues(string(job.JobType), "error").Add(float64(itemCount))

	p.publish(ctx, event.TypeImportBatchFailed, event.BatchFailed{
		JobID:     msg.JobID,
		BatchID:   msg.BatchID,
		Error:     cause.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		TraceID:   msg.TraceID(),
	}, msg.TraceID())

	result := &BatchResult{
		JobID:      msg.JobID,
		BatchID:    msg.BatchID,
		Status:     domain.BatchStatusFailed,
		ErrorCount: itemCount,
		Job:        finished,
	}
	return result, domain.NewStoreError("process batch", cause)
}

// release hands an interrupted batch back to PENDING so the redelivered
// message processes it again.
func (p *BatchProcessor) release(ctx context.Context, msg *ImportMessage, cause error) error {
	log := logger.FromContext(ctx)
	if err := p.jobs.ReleaseBatch(context.WithoutCancel(ctx), msg.JobID, msg.BatchID); err != nil {
		log.WithError(err).Error("Failed to release interrupted batch")
	} else {
		log.WithError(cause).Warn("Batch interrupted, released for redelivery")
	}
	metrics.ImportBatchesTotal.WithLabelValues("released").Inc()
	return fmt.Errorf("batch %s interrupted: %w", msg.BatchID, cause)
}

func (p *BatchProcessor) publish(ctx context.Context, eventType string, payload interface{}, traceID string) {
	env := event.NewEnvelope(eventType, p.eventSource, payload, traceID)
	if err := p.publisher.Publish(context.WithoutCancel(ctx), env); err != nil {
		// the batch state is already durable; consumers can poll the job
		logger.FromContext(ctx).WithError(err).WithField("type", eventType).Error("Failed to publish event")
	}
}

func itemLabel(raw []byte, index int) string {
	if id := domain.RecordIdentifier(raw); id != "" {
		return id
	}
	return fmt.Sprintf("item[%d]", index)
}

func toEventErrors(errs domain.ItemErrors) []event.ItemError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]event.ItemError, len(errs))
	for i, e := range errs {
		out[i] = event.ItemError{Item: e.Item, Error: e.Error}
	}
	return out
}
