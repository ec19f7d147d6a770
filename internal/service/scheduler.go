package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/queue"
	"github.com/timmy/dishrank/internal/repository"
	"github.com/timmy/dishrank/internal/source"
)

// Scheduler turns raw records into an import job: one PENDING batch per
// chunk, one queue message per batch.
type Scheduler struct {
	jobs      *repository.JobRepository
	sender    queue.Sender
	batchSize int
	pageSize  int
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	BatchSize int
	PageSize  int
}

// NewScheduler creates a new Scheduler.
func NewScheduler(jobs *repository.JobRepository, sender queue.Sender, cfg SchedulerConfig) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Scheduler{jobs: jobs, sender: sender, batchSize: cfg.BatchSize, pageSize: cfg.PageSize}
}

// ScheduleResult describes a scheduled job.
type ScheduleResult struct {
	Job        *domain.ImportJob
	Batches    int
	MessageIDs []string
}

// ScheduleImport reads up to limit records from src and schedules them.
// limit <= 0 reads the whole source.
func (s *Scheduler) ScheduleImport(ctx context.Context, src source.Source, jobType domain.JobType, limit int) (*ScheduleResult, error) {
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldSource: src.GetSourceID(),
		"display_name":     src.GetDisplayName(),
		"limit":            limit,
	}).Info("Reading import source")

	records, err := source.FetchAll(ctx, src, s.pageSize, limit)
	if err != nil {
		return nil, err
	}
	return s.ScheduleRecords(ctx, src.GetSourceID(), jobType, records)
}

// ScheduleRecords creates the job and its batches in one transaction, then
// enqueues one message per batch.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sourceID: external source of the records.
//   - jobType: RESTAURANT or DISH.
//   - records: raw JSON records.
// Returns:
//   - *ScheduleResult: created job and queue message ids.
//   - error: *domain.ValidationError for bad input; on a send failure the
//     job exists and the unsent batches stay PENDING.
func (s *Scheduler) ScheduleRecords(ctx context.Context, sourceID string, jobType domain.JobType, records []json.RawMessage) (*ScheduleResult, error) {
	if !jobType.Valid() {
		return nil, domain.NewValidationError("unknown job type "+string(jobType), "jobType")
	}
	if strings.TrimSpace(sourceID) == "" {
		return nil, domain.NewValidationError("sourceId is required", "sourceId")
	}
	if len(records) == 0 {
		return nil, domain.NewValidationError("no records to import", "data")
	}

	job := &domain.ImportJob{
		JobID:        uuid.New().String(),
		SourceID:     sourceID,
		JobType:      jobType,
		Status:       domain.JobStatusPending,
		TotalRecords: len(records),
	}

	chunks := chunkRecords(records, s.batchSize)
	batches := make([]domain.ImportBatch, len(chunks))
	for i, chunk := range chunks {
		batches[i] = domain.ImportBatch{
			BatchID:     uuid.New().String(),
			JobID:       job.JobID,
			BatchNumber: i + 1,
			Status:      domain.BatchStatusPending,
			ItemCount:   len(chunk),
		}
	}

	if err := s.jobs.CreateJob(ctx, job, batches); err != nil {
		return nil, domain.NewStoreError("create job", err)
	}

	ctx = logger.SetJobID(ctx, job.JobID)
	traceID := logger.GetTraceID(ctx)
	if traceID == "" {
		traceID = uuid.New().String()
	}

	result := &ScheduleResult{Job: job, Batches: len(batches)}
	for i, batch := range batches {
		body, err := json.Marshal(ImportMessage{
			JobID:   job.JobID,
			BatchID: batch.BatchID,
			Data:    chunks[i],
			Metadata: &MessageMetadata{
				TraceID:   traceID,
				Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			},
		})
		if err != nil {
			return result, fmt.Errorf("encode batch %d: %w", batch.BatchNumber, err)
		}
		id, err := s.sender.Send(ctx, body, map[string]string{
			"jobId":   job.JobID,
			"jobType": string(jobType),
		})
		if err != nil {
			return result, fmt.Errorf("enqueue batch %d of %d: %w", batch.BatchNumber, len(batches), err)
		}
		result.MessageIDs = append(result.MessageIDs, id)
	}

	logger.With(logger.Fields{
		logger.FieldSource: sourceID,
		"batches":          len(batches),
	}).WithCount(len(records)).Info(ctx, "Import job scheduled")

	return result, nil
}

func chunkRecords(records []json.RawMessage, size int) [][]json.RawMessage {
	chunks := make([][]json.RawMessage, 0, (len(records)+size-1)/size)
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}
