package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/timmy/dishrank/internal/domain"
)

var (
	// ErrJobNotFound is returned when an import job id is unknown.
	ErrJobNotFound = errors.New("import job not found")
	// ErrBatchNotFound is returned when a batch id is unknown for its job.
	ErrBatchNotFound = errors.New("import batch not found")
	// ErrBatchNotInProgress is returned when a terminal transition loses its
	// compare-and-swap because the batch already left IN_PROGRESS.
	ErrBatchNotInProgress = errors.New("import batch is not in progress")
)

// BatchOutcome is the result of processing every item of one batch.
type BatchOutcome struct {
	JobID        string
	BatchID      string
	SuccessCount int
	ErrorCount   int
	Errors       domain.ItemErrors
}

// Status returns the terminal batch status for the outcome.
func (o BatchOutcome) Status() domain.BatchStatus {
	if o.ErrorCount > 0 {
		return domain.BatchStatusCompletedWithErrors
	}
	return domain.BatchStatusCompleted
}

// JobRepository persists import jobs and batches. Every state transition is
// a conditional UPDATE so concurrent deliveries of the same batch cannot both
// win.
type JobRepository struct {
	db    *gorm.DB
	now   func() time.Time
	lease time.Duration
}

// NewJobRepository creates a new JobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
// Returns:
//   - *JobRepository: repository instance bound to db.
func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

// SetBatchLease lets StartBatch reclaim batches left IN_PROGRESS for longer
// than lease, e.g. by a worker that crashed mid-batch. Zero disables reclaim.
func (r *JobRepository) SetBatchLease(lease time.Duration) {
	r.lease = lease
}

// CreateJob inserts a job and all of its batches in one transaction.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: job record; TotalRecords should equal the sum of batch item counts.
//   - batches: PENDING batches owned by job.
// Returns:
//   - error: non-nil if any insert fails; nothing is written in that case.
func (r *JobRepository) CreateJob(ctx context.Context, job *domain.ImportJob, batches []domain.ImportBatch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(job).Error; err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		if len(batches) == 0 {
			return nil
		}
		if err := tx.Create(&batches).Error; err != nil {
			return fmt.Errorf("create batches: %w", err)
		}
		return nil
	})
}

// GetJob retrieves a job by id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: job identifier.
// Returns:
//   - *domain.ImportJob: job if found.
//   - error: ErrJobNotFound if missing, or the query error.
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*domain.ImportJob, error) {
	var job domain.ImportJob
	if err := r.db.WithContext(ctx).First(&job, "job_id = ?", jobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// GetBatch retrieves a batch by job and batch id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job identifier.
//   - batchID: batch identifier.
// Returns:
//   - *domain.ImportBatch: batch if found.
//   - error: ErrBatchNotFound if missing, or the query error.
func (r *JobRepository) GetBatch(ctx context.Context, jobID, batchID string) (*domain.ImportBatch, error) {
	var batch domain.ImportBatch
	err := r.db.WithContext(ctx).First(&batch, "batch_id = ? AND job_id = ?", batchID, jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return &batch, nil
}

// ListBatches returns the batches of a job ordered by batch number.
func (r *JobRepository) ListBatches(ctx context.Context, jobID string) ([]domain.ImportBatch, error) {
	var batches []domain.ImportBatch
	err := r.db.WithContext(ctx).
		Where("job_id = ?", jobID).
		Order("batch_number ASC").
		Find(&batches).Error
	return batches, err
}

// ListJobs returns the most recent jobs, newest first.
func (r *JobRepository) ListJobs(ctx context.Context, limit int) ([]domain.ImportJob, error) {
	var jobs []domain.ImportJob
	q := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&jobs).Error
	return jobs, err
}

// StartBatch moves a batch from PENDING (or a stale IN_PROGRESS past the
// lease) to IN_PROGRESS and marks its job IN_PROGRESS if it has not started yet.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job identifier.
//   - batchID: batch identifier.
// Returns:
//   - bool: true if this caller won the transition; false if the batch was
//     not PENDING (already being processed or finished).
//   - error: ErrBatchNotFound if the batch does not exist, or the store error.
func (r *JobRepository) StartBatch(ctx context.Context, jobID, batchID string) (bool, error) {
	started := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now()
		// zero cutoff never matches, so without a lease only PENDING is claimable
		var staleBefore time.Time
		if r.lease > 0 {
			staleBefore = now.Add(-r.lease)
		}
		res := tx.Model(&domain.ImportBatch{}).
			Where("batch_id = ? AND job_id = ?", batchID, jobID).
			Where("status = ? OR (status = ? AND updated_at < ?)",
				domain.BatchStatusPending, domain.BatchStatusInProgress, staleBefore).
			Updates(map[string]interface{}{
				"status":     domain.BatchStatusInProgress,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&domain.ImportBatch{}).
				Where("batch_id = ? AND job_id = ?", batchID, jobID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrBatchNotFound
			}
			return nil
		}

		started = true
		return tx.Model(&domain.ImportJob{}).
			Where("job_id = ? AND status = ?", jobID, domain.JobStatusPending).
			Updates(map[string]interface{}{
				"status":     domain.JobStatusInProgress,
				"updated_at": now,
			}).Error
	})
	if err != nil {
		return false, err
	}
	return started, nil
}

// CompleteBatch records a batch outcome and folds its counts into the job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - outcome: per-batch success and error counts plus item errors.
// Returns:
//   - *domain.ImportJob: job state after the update.
//   - error: ErrBatchNotInProgress if the batch already left IN_PROGRESS.
func (r *JobRepository) CompleteBatch(ctx context.Context, outcome BatchOutcome) (*domain.ImportJob, error) {
	updates := map[string]interface{}{
		"status":        outcome.Status(),
		"success_count": outcome.SuccessCount,
		"error_count":   outcome.ErrorCount,
		"error_details": outcome.Errors,
	}
	return r.finishBatch(ctx, outcome.JobID, outcome.BatchID, updates, outcome.SuccessCount, outcome.ErrorCount)
}

// FailBatch marks a batch FAILED. The whole batch is counted as errors at job
// level so the job still reaches a terminal state.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job identifier.
//   - batchID: batch identifier.
//   - itemCount: number of items the batch was scheduled with.
//   - cause: captured failure description.
// Returns:
//   - *domain.ImportJob: job state after the update.
//   - error: ErrBatchNotInProgress if the batch already left IN_PROGRESS.
func (r *JobRepository) FailBatch(ctx context.Context, jobID, batchID string, itemCount int, cause string) (*domain.ImportJob, error) {
	updates := map[string]interface{}{
		"status":        domain.BatchStatusFailed,
		"error_count":   itemCount,
		"failure_cause": cause,
	}
	return r.finishBatch(ctx, jobID, batchID, updates, 0, itemCount)
}

func (r *JobRepository) finishBatch(ctx context.Context, jobID, batchID string, updates map[string]interface{}, success, failed int) (*domain.ImportJob, error) {
	var job domain.ImportJob
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := r.now()
		updates["updated_at"] = now

		res := tx.Model(&domain.ImportBatch{}).
			Where("batch_id = ? AND job_id = ? AND status = ?", batchID, jobID, domain.BatchStatusInProgress).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrBatchNotInProgress
		}

		res = tx.Model(&domain.ImportJob{}).
			Where("job_id = ?", jobID).
			Updates(map[string]interface{}{
				"processed_records": gorm.Expr("processed_records + ?", success+failed),
				"success_records":   gorm.Expr("success_records + ?", success),
				"error_records":     gorm.Expr("error_records + ?", failed),
				"updated_at":        now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrJobNotFound
		}

		// terminal once every record is accounted for; completed_at guards re-entry
		if err := tx.Model(&domain.ImportJob{}).
			Where("job_id = ? AND processed_records >= total_records AND completed_at IS NULL", jobID).
			Updates(map[string]interface{}{
				"status": gorm.Expr("CASE WHEN error_records > 0 THEN ? ELSE ? END",
					domain.JobStatusCompletedWithErrors, domain.JobStatusCompleted),
				"completed_at": now,
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}

		return tx.First(&job, "job_id = ?", jobID).Error
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ReleaseBatch returns an IN_PROGRESS batch to PENDING without touching any
// counters, so a redelivery can process it again.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - jobID: owning job identifier.
//   - batchID: batch identifier.
// Returns:
//   - error: non-nil if the update fails.
func (r *JobRepository) ReleaseBatch(ctx context.Context, jobID, batchID string) error {
	return r.db.WithContext(ctx).Model(&domain.ImportBatch{}).
		Where("batch_id = ? AND job_id = ? AND status = ?", batchID, jobID, domain.BatchStatusInProgress).
		Updates(map[string]interface{}{
			"status":     domain.BatchStatusPending,
			"updated_at": r.now(),
		}).Error
}
