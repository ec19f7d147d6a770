package repository_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/repository"
	"github.com/timmy/dishrank/internal/repository/repotest"
)

func seedJob(t *testing.T, repo *repository.JobRepository, total int, batchSizes ...int) {
	t.Helper()
	job := &domain.ImportJob{
		JobID:        "job-1",
		SourceID:     "src",
		JobType:      domain.JobTypeRestaurant,
		Status:       domain.JobStatusPending,
		TotalRecords: total,
	}
	batches := make([]domain.ImportBatch, 0, len(batchSizes))
	for i, n := range batchSizes {
		batches = append(batches, domain.ImportBatch{
			BatchID:     "batch-" + string(rune('a'+i)),
			JobID:       "job-1",
			BatchNumber: i + 1,
			Status:      domain.BatchStatusPending,
			ItemCount:   n,
		})
	}
	if err := repo.CreateJob(context.Background(), job, batches); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
}

func TestJobRepository_StartBatch(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewJobRepository(repotest.OpenDB(t))
	seedJob(t, repo, 4, 2, 2)

	started, err := repo.StartBatch(ctx, "job-1", "batch-a")
	if err != nil || !started {
		t.Fatalf("first StartBatch() = %v, %v; want true, nil", started, err)
	}

	started, err = repo.StartBatch(ctx, "job-1", "batch-a")
	if err != nil || started {
		t.Errorf("second StartBatch() = %v, %v; want false, nil", started, err)
	}

	if _, err := repo.StartBatch(ctx, "job-1", "missing"); !errors.Is(err, repository.ErrBatchNotFound) {
		t.Errorf("StartBatch(missing) error = %v, want ErrBatchNotFound", err)
	}

	job, err := repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != domain.JobStatusInProgress {
		t.Errorf("job status = %s, want IN_PROGRESS", job.Status)
	}
}

func TestJobRepository_StartBatchConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewJobRepository(repotest.OpenDB(t))
	seedJob(t, repo, 2, 2)

	const workers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			started, err := repo.StartBatch(ctx, "job-1", "batch-a")
			if err != nil {
				t.Errorf("StartBatch() error = %v", err)
				return
			}
			if started {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("winners = %d, want 1", winners)
	}
}

func TestJobRepository_CompleteBatch(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewJobRepository(repotest.OpenDB(t))
	seedJob(t, repo, 5, 3, 2)

	for _, id := range []string{"batch-a", "batch-b"} {
		if _, err := repo.StartBatch(ctx, "job-1", id); err != nil {
			t.Fatalf("StartBatch(%s) error = %v", id, err)
		}
	}

	job, err := repo.CompleteBatch(ctx, repository.BatchOutcome{
		JobID: "job-1", BatchID: "batch-a", SuccessCount: 3,
	})
	if err != nil {
		t.Fatalf("CompleteBatch(a) error = %v", err)
	}
	if job.ProcessedRecords != 3 || job.CompletedAt != nil {
		t.Errorf("after batch a: processed=%d completed=%v", job.ProcessedRecords, job.CompletedAt)
	}

	job, err = repo.CompleteBatch(ctx, repository.BatchOutcome{
		JobID: "job-1", BatchID: "batch-b", SuccessCount: 1, ErrorCount: 1,
		Errors: domain.ItemErrors{{Item: "r-9", Error: "name is required"}},
	})
	if err != nil {
		t.Fatalf("CompleteBatch(b) error = %v", err)
	}
	if job.ProcessedRecords != 5 || job.SuccessRecords != 4 || job.ErrorRecords != 1 {
		t.Errorf("job counters = %d/%d/%d, want 5/4/1", job.ProcessedRecords, job.SuccessRecords, job.ErrorRecords)
	}
	if job.Status != domain.JobStatusCompletedWithErrors || job.CompletedAt == nil {
		t.Errorf("job status = %s completed=%v, want COMPLETED_WITH_ERRORS", job.Status, job.CompletedAt)
	}

	batch, err := repo.GetBatch(ctx, "job-1", "batch-b")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if batch.Status != domain.BatchStatusCompletedWithErrors || len(batch.ErrorDetails) != 1 {
		t.Errorf("batch = %s with %d errors", batch.Status, len(batch.ErrorDetails))
	}

	// terminal batches never change again
	if _, err := repo.CompleteBatch(ctx, repository.BatchOutcome{JobID: "job-1", BatchID: "batch-b", SuccessCount: 2}); !errors.Is(err, repository.ErrBatchNotInProgress) {
		t.Errorf("repeat CompleteBatch() error = %v, want ErrBatchNotInProgress", err)
	}
}

func TestJobRepository_FailAndRelease(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewJobRepository(repotest.OpenDB(t))
	seedJob(t, repo, 4, 2, 2)

	if _, err := repo.StartBatch(ctx, "job-1", "batch-a"); err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	if err := repo.ReleaseBatch(ctx, "job-1", "batch-a"); err != nil {
		t.Fatalf("ReleaseBatch() error = %v", err)
	}
	batch, _ := repo.GetBatch(ctx, "job-1", "batch-a")
	if batch.Status != domain.BatchStatusPending {
		t.Errorf("released batch status = %s, want PENDING", batch.Status)
	}

	if _, err := repo.StartBatch(ctx, "job-1", "batch-a"); err != nil {
		t.Fatalf("StartBatch() error = %v", err)
	}
	job, err := repo.FailBatch(ctx, "job-1", "batch-a", 2, "store unavailable")
	if err != nil {
		t.Fatalf("FailBatch() error = %v", err)
	}
	if job.ProcessedRecords != 2 || job.ErrorRecords != 2 || job.SuccessRecords != 0 {
		t.Errorf("job counters = %d/%d/%d, want 2/0/2", job.ProcessedRecords, job.SuccessRecords, job.ErrorRecords)
	}

	batch, _ = repo.GetBatch(ctx, "job-1", "batch-a")
	if batch.Status != domain.BatchStatusFailed || batch.FailureCause != "store unavailable" {
		t.Errorf("failed batch = %s %q", batch.Status, batch.FailureCause)
	}
	if started, _ := repo.StartBatch(ctx, "job-1", "batch-a"); started {
		t.Error("FAILED batch was restarted")
	}
}

func TestJobRepository_StartBatchReclaimsStaleLease(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewJobRepository(repotest.OpenDB(t))
	seedJob(t, repo, 2, 2)

	if started, err := repo.StartBatch(ctx, "job-1", "batch-a"); err != nil || !started {
		t.Fatalf("StartBatch() = %v, %v", started, err)
	}

	repo.SetBatchLease(time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	started, err := repo.StartBatch(ctx, "job-1", "batch-a")
	if err != nil || !started {
		t.Fatalf("StartBatch() after lease expiry = %v, %v; want true, nil", started, err)
	}

	repo.SetBatchLease(time.Hour)
	if started, _ := repo.StartBatch(ctx, "job-1", "batch-a"); started {
		t.Error("StartBatch() reclaimed a batch inside its lease")
	}
}
