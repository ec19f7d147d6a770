package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/event"
	"github.com/timmy/dishrank/internal/repository"
	"github.com/timmy/dishrank/internal/repository/repotest"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Envelope
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, env event.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type batchFixture struct {
	jobs      *repository.JobRepository
	entities  *repository.EntityRepository
	publisher *recordingPublisher
	processor *BatchProcessor
}

func newBatchFixture(t *testing.T, upserter RecordUpserter) *batchFixture {
	t.Helper()
	db := repotest.OpenDB(t)
	f := &batchFixture{
		jobs:      repository.NewJobRepository(db),
		entities:  repository.NewEntityRepository(db),
		publisher: &recordingPublisher{},
	}
	if upserter == nil {
		upserter = NewUpserter(f.entities)
	}
	f.processor = NewBatchProcessor(f.jobs, upserter, f.publisher, "dishrank.test")
	return f
}

// seed creates a restaurant job with one batch per slice of records.
func (f *batchFixture) seed(t *testing.T, batches ...[]json.RawMessage) []*ImportMessage {
	t.Helper()
	total := 0
	rows := make([]domain.ImportBatch, len(batches))
	msgs := make([]*ImportMessage, len(batches))
	for i, recs := range batches {
		total += len(recs)
		id := "batch-" + string(rune('a'+i))
		rows[i] = domain.ImportBatch{BatchID: id, JobID: "job-1", BatchNumber: i + 1, Status: domain.BatchStatusPending, ItemCount: len(recs)}
		msgs[i] = &ImportMessage{JobID: "job-1", BatchID: id, Data: recs, Metadata: &MessageMetadata{TraceID: "trace-1"}}
	}
	job := &domain.ImportJob{JobID: "job-1", SourceID: "yelp", JobType: domain.JobTypeRestaurant, Status: domain.JobStatusPending, TotalRecords: total}
	if err := f.jobs.CreateJob(context.Background(), job, rows); err != nil {
		t.Fatalf("CreateJob() error = %v", err)
	}
	return msgs
}

func raws(items ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(items))
	for i, s := range items {
		out[i] = json.RawMessage(s)
	}
	return out
}

func TestProcessBatch_PartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, nil)
	msgs := f.seed(t, raws(
		`{"name":"One","externalId":"r1"}`,
		`{"name":"Two","externalId":"r2"}`,
		`{"externalId":"r3"}`,
		`{"name":"Four","externalId":"r4"}`,
		`{"name":"Five","externalId":"r5"}`,
	))

	res, err := f.processor.ProcessBatch(ctx, msgs[0])
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if res.SuccessCount != 4 || res.ErrorCount != 1 || res.Status != domain.BatchStatusCompletedWithErrors {
		t.Errorf("result = %d/%d %s, want 4/1 COMPLETED_WITH_ERRORS", res.SuccessCount, res.ErrorCount, res.Status)
	}
	if len(res.Errors) != 1 || res.Errors[0].Item != "r3" {
		t.Errorf("errors = %+v, want one for r3", res.Errors)
	}

	job, _ := f.jobs.GetJob(ctx, "job-1")
	if job.ProcessedRecords != 5 || job.SuccessRecords != 4 || job.ErrorRecords != 1 {
		t.Errorf("job counters = %d/%d/%d, want 5/4/1", job.ProcessedRecords, job.SuccessRecords, job.ErrorRecords)
	}
	if job.Status != domain.JobStatusCompletedWithErrors {
		t.Errorf("job status = %s, want COMPLETED_WITH_ERRORS", job.Status)
	}
	if count, _ := f.entities.CountRestaurants(ctx); count != 4 {
		t.Errorf("restaurants = %d, want 4", count)
	}

	types := f.publisher.types()
	if len(types) != 1 || types[0] != event.TypeImportBatchCompleted {
		t.Fatalf("events = %v, want one IMPORT_BATCH_COMPLETED", types)
	}
	payload, ok := f.publisher.events[0].Payload.(event.BatchCompleted)
	if !ok {
		t.Fatalf("payload type = %T", f.publisher.events[0].Payload)
	}
	if payload.SuccessCount != 4 || payload.ErrorCount != 1 || payload.TraceID != "trace-1" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestProcessBatch_NoDoubleProcessing(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, nil)
	msgs := f.seed(t, raws(`{"name":"One","externalId":"r1"}`, `{"name":"Two","externalId":"r2"}`))

	if _, err := f.processor.ProcessBatch(ctx, msgs[0]); err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	res, err := f.processor.ProcessBatch(ctx, msgs[0])
	if err != nil {
		t.Fatalf("redelivered ProcessBatch() error = %v", err)
	}
	if !res.Skipped {
		t.Error("redelivered batch was not skipped")
	}

	job, _ := f.jobs.GetJob(ctx, "job-1")
	if job.ProcessedRecords != 2 || job.Status != domain.JobStatusCompleted {
		t.Errorf("job = %d processed %s, want 2 COMPLETED", job.ProcessedRecords, job.Status)
	}
	r1, _ := f.entities.FindLink(ctx, "yelp", domain.EntityTypeRestaurant, "r1")
	restaurant, _ := f.entities.GetRestaurant(ctx, r1.EntityID)
	if restaurant.ExternalSourceCount != 1 {
		t.Errorf("externalSourceCount = %d, want 1", restaurant.ExternalSourceCount)
	}
	if n := len(f.publisher.types()); n != 1 {
		t.Errorf("events = %d, want 1", n)
	}
}

func TestProcessBatch_JobCompletesAcrossBatches(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, nil)
	msgs := f.seed(t,
		raws(`{"name":"One","externalId":"r1"}`),
		raws(`{"name":"Two","externalId":"r2"}`, `{"name":"Three","externalId":"r3"}`),
	)

	res, err := f.processor.ProcessBatch(ctx, msgs[0])
	if err != nil {
		t.Fatalf("ProcessBatch(a) error = %v", err)
	}
	if res.Job.Status != domain.JobStatusInProgress || res.Job.CompletedAt != nil {
		t.Errorf("job after first batch = %s", res.Job.Status)
	}

	res, err = f.processor.ProcessBatch(ctx, msgs[1])
	if err != nil {
		t.Fatalf("ProcessBatch(b) error = %v", err)
	}
	if res.Job.Status != domain.JobStatusCompleted || res.Job.CompletedAt == nil {
		t.Errorf("job after last batch = %s", res.Job.Status)
	}
}

type failingUpserter struct {
	inner  RecordUpserter
	failAt string
	err    error
	cancel context.CancelFunc
}

func (u *failingUpserter) Upsert(ctx context.Context, sourceID string, rec domain.RawRecord) (*UpsertResult, error) {
	if rec.ExternalKey() == u.failAt {
		if u.cancel != nil {
			u.cancel()
			return nil, ctx.Err()
		}
		return nil, u.err
	}
	return u.inner.Upsert(ctx, sourceID, rec)
}

func TestProcessBatch_StoreFaultFailsBatch(t *testing.T) {
	ctx := context.Background()
	upserter := &failingUpserter{failAt: "r2", err: domain.NewStoreError("upsert", errors.New("connection reset"))}
	f := newBatchFixture(t, upserter)
	upserter.inner = NewUpserter(f.entities)
	msgs := f.seed(t, raws(
		`{"name":"One","externalId":"r1"}`,
		`{"name":"Two","externalId":"r2"}`,
		`{"name":"Three","externalId":"r3"}`,
	))

	res, err := f.processor.ProcessBatch(ctx, msgs[0])
	if !domain.IsStore(err) {
		t.Fatalf("ProcessBatch() error = %v, want StoreError", err)
	}
	if res == nil || res.Status != domain.BatchStatusFailed {
		t.Fatalf("result = %+v, want FAILED", res)
	}

	batch, _ := f.jobs.GetBatch(ctx, "job-1", "batch-a")
	if batch.Status != domain.BatchStatusFailed || batch.FailureCause == "" {
		t.Errorf("batch = %s cause %q", batch.Status, batch.FailureCause)
	}
	job, _ := f.jobs.GetJob(ctx, "job-1")
	if job.ProcessedRecords != 3 || job.ErrorRecords != 3 || job.Status != domain.JobStatusCompletedWithErrors {
		t.Errorf("job = %d/%d %s, want 3/3 COMPLETED_WITH_ERRORS", job.ProcessedRecords, job.ErrorRecords, job.Status)
	}

	// items upserted before the fault are kept
	if count, _ := f.entities.CountRestaurants(ctx); count != 1 {
		t.Errorf("restaurants = %d, want 1", count)
	}

	types := f.publisher.types()
	if len(types) != 1 || types[0] != event.TypeImportBatchFailed {
		t.Errorf("events = %v, want IMPORT_BATCH_FAILED", types)
	}

	// the redelivery is a no-op
	res, err = f.processor.ProcessBatch(ctx, msgs[0])
	if err != nil || !res.Skipped {
		t.Errorf("redelivery = %+v, %v; want skipped", res, err)
	}
}

func TestProcessBatch_InterruptedReleasesBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	upserter := &failingUpserter{failAt: "r2", cancel: cancel}
	f := newBatchFixture(t, upserter)
	upserter.inner = NewUpserter(f.entities)
	msgs := f.seed(t, raws(`{"name":"One","externalId":"r1"}`, `{"name":"Two","externalId":"r2"}`))

	_, err := f.processor.ProcessBatch(ctx, msgs[0])
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("ProcessBatch() error = %v, want context.Canceled", err)
	}

	bg := context.Background()
	batch, _ := f.jobs.GetBatch(bg, "job-1", "batch-a")
	if batch.Status != domain.BatchStatusPending {
		t.Errorf("batch status = %s, want PENDING", batch.Status)
	}
	job, _ := f.jobs.GetJob(bg, "job-1")
	if job.ProcessedRecords != 0 {
		t.Errorf("processed = %d, want 0", job.ProcessedRecords)
	}
	if n := len(f.publisher.types()); n != 0 {
		t.Errorf("events = %d, want none", n)
	}

	// redelivery finishes the batch; r1 is matched, not duplicated
	f.processor.upserter = upserter.inner
	res, err := f.processor.ProcessBatch(bg, msgs[0])
	if err != nil || res.Status != domain.BatchStatusCompleted {
		t.Fatalf("redelivery = %+v, %v", res, err)
	}
	if count, _ := f.entities.CountRestaurants(bg); count != 2 {
		t.Errorf("restaurants = %d, want 2", count)
	}
}

func TestProcessBatch_RecordCountMismatchFailsBatch(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, nil)
	msgs := f.seed(t, raws(`{"name":"One","externalId":"r1"}`, `{"name":"Two","externalId":"r2"}`))
	msgs[0].Data = raws(
		`{"name":"One","externalId":"r1"}`,
		`{"name":"Two","externalId":"r2"}`,
		`{"name":"Three","externalId":"r3"}`,
		`{"name":"Four","externalId":"r4"}`,
	)

	res, err := f.processor.ProcessBatch(ctx, msgs[0])
	if !domain.IsValidation(err) {
		t.Fatalf("ProcessBatch() error = %v, want ValidationError", err)
	}
	if res == nil || res.Status != domain.BatchStatusFailed || res.ErrorCount != 2 {
		t.Fatalf("result = %+v, want FAILED with 2 errors", res)
	}

	job, _ := f.jobs.GetJob(ctx, "job-1")
	if job.ProcessedRecords > job.TotalRecords {
		t.Errorf("processed %d > total %d", job.ProcessedRecords, job.TotalRecords)
	}
	if job.ProcessedRecords != 2 || job.ErrorRecords != 2 || job.SuccessRecords != 0 {
		t.Errorf("job counters = %d/%d/%d, want 2/0/2", job.ProcessedRecords, job.SuccessRecords, job.ErrorRecords)
	}
	if count, _ := f.entities.CountRestaurants(ctx); count != 0 {
		t.Errorf("restaurants = %d, want 0", count)
	}
	types := f.publisher.types()
	if len(types) != 1 || types[0] != event.TypeImportBatchFailed {
		t.Errorf("events = %v, want IMPORT_BATCH_FAILED", types)
	}
}

func TestProcessBatch_WrongTypedFieldKeepsStoredValue(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, nil)
	msgs := f.seed(t,
		raws(`{"name":"Cafe","externalId":"r1","latitude":48.85}`),
		raws(`{"name":"Cafe","externalId":"r1","latitude":"n/a"}`),
	)

	if _, err := f.processor.ProcessBatch(ctx, msgs[0]); err != nil {
		t.Fatalf("ProcessBatch(a) error = %v", err)
	}
	res, err := f.processor.ProcessBatch(ctx, msgs[1])
	if err != nil {
		t.Fatalf("ProcessBatch(b) error = %v", err)
	}
	if res.Status != domain.BatchStatusCompletedWithErrors || len(res.Errors) != 1 || res.Errors[0].Item != "r1" {
		t.Errorf("result = %s %+v, want one item error for r1", res.Status, res.Errors)
	}

	link, err := f.entities.FindLink(ctx, "yelp", domain.EntityTypeRestaurant, "r1")
	if err != nil {
		t.Fatalf("FindLink() error = %v", err)
	}
	got, _ := f.entities.GetRestaurant(ctx, link.EntityID)
	if got.Latitude == nil || *got.Latitude != 48.85 {
		t.Errorf("latitude = %v, want 48.85 kept", got.Latitude)
	}
}

func TestProcessBatch_UnknownJob(t *testing.T) {
	f := newBatchFixture(t, nil)
	_, err := f.processor.ProcessBatch(context.Background(), &ImportMessage{JobID: "nope", BatchID: "b"})
	if !domain.IsValidation(err) {
		t.Errorf("ProcessBatch(unknown job) error = %v, want ValidationError", err)
	}
}

func TestProcessBatch_PublishFailureStillCompletes(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, nil)
	f.publisher.err = errors.New("bus down")
	msgs := f.seed(t, raws(`{"name":"One","externalId":"r1"}`))

	res, err := f.processor.ProcessBatch(ctx, msgs[0])
	if err != nil {
		t.Fatalf("ProcessBatch() error = %v", err)
	}
	if res.Status != domain.BatchStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", res.Status)
	}
}
