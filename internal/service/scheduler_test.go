package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/queue"
	"github.com/timmy/dishrank/internal/source"
)

type sliceSource struct {
	records []json.RawMessage
}

func (s *sliceSource) GetSourceID() string    { return "fixture" }
func (s *sliceSource) GetDisplayName() string { return "fixture records" }
func (s *sliceSource) FetchBatch(ctx context.Context, cursor string, limit int) ([]json.RawMessage, string, error) {
	return source.Page(s.records, cursor, limit)
}

func restaurantRecords(n int) []json.RawMessage {
	out := make([]json.RawMessage, n)
	for i := range out {
		out[i] = json.RawMessage(fmt.Sprintf(`{"name":"Restaurant %d","externalId":"r-%d"}`, i, i))
	}
	return out
}

func TestScheduler_ScheduleRecords(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, nil)
	sender := queue.NewMemorySender()
	s := NewScheduler(f.jobs, sender, SchedulerConfig{BatchSize: 2})

	res, err := s.ScheduleRecords(ctx, "yelp", domain.JobTypeRestaurant, restaurantRecords(5))
	if err != nil {
		t.Fatalf("ScheduleRecords() error = %v", err)
	}
	if res.Batches != 3 || len(res.MessageIDs) != 3 {
		t.Fatalf("result = %d batches, %d messages; want 3/3", res.Batches, len(res.MessageIDs))
	}

	batches, err := f.jobs.ListBatches(ctx, res.Job.JobID)
	if err != nil {
		t.Fatalf("ListBatches() error = %v", err)
	}
	sizes := []int{2, 2, 1}
	for i, b := range batches {
		if b.ItemCount != sizes[i] || b.Status != domain.BatchStatusPending {
			t.Errorf("batch %d = %d items %s", i, b.ItemCount, b.Status)
		}
	}

	msgs := sender.Messages()
	var first ImportMessage
	if err := json.Unmarshal(msgs[0].Body, &first); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if first.JobID != res.Job.JobID || len(first.Data) != 2 || first.TraceID() == "" {
		t.Errorf("message = %+v", first)
	}
	if msgs[0].Attributes["jobType"] != "RESTAURANT" {
		t.Errorf("attributes = %v", msgs[0].Attributes)
	}
}

func TestScheduler_Validation(t *testing.T) {
	f := newBatchFixture(t, nil)
	s := NewScheduler(f.jobs, queue.NewMemorySender(), SchedulerConfig{})

	tests := []struct {
		name     string
		sourceID string
		jobType  domain.JobType
		records  []json.RawMessage
	}{
		{"bad job type", "yelp", domain.JobType("MENU"), restaurantRecords(1)},
		{"no source", " ", domain.JobTypeRestaurant, restaurantRecords(1)},
		{"no records", "yelp", domain.JobTypeDish, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.ScheduleRecords(context.Background(), tt.sourceID, tt.jobType, tt.records)
			if !domain.IsValidation(err) {
				t.Errorf("ScheduleRecords() error = %v, want ValidationError", err)
			}
		})
	}
}

// scheduled messages fed through the import handler complete the job
func TestScheduler_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newBatchFixture(t, nil)
	sender := queue.NewMemorySender()
	s := NewScheduler(f.jobs, sender, SchedulerConfig{BatchSize: 3, PageSize: 4})

	src := &sliceSource{records: append(restaurantRecords(6), json.RawMessage(`{"externalId":"broken"}`))}
	res, err := s.ScheduleImport(ctx, src, domain.JobTypeRestaurant, 0)
	if err != nil {
		t.Fatalf("ScheduleImport() error = %v", err)
	}
	if res.Job.TotalRecords != 7 || res.Job.SourceID != "fixture" {
		t.Fatalf("job = %+v", res.Job)
	}

	handler := NewImportHandler(f.processor, 3)
	if failed := handler.HandleBatch(ctx, sender.Drain()); len(failed) != 0 {
		t.Fatalf("HandleBatch() failed = %v", failed)
	}

	job, err := f.jobs.GetJob(ctx, res.Job.JobID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job.Status != domain.JobStatusCompletedWithErrors || job.SuccessRecords != 6 || job.ErrorRecords != 1 {
		t.Errorf("job = %s %d/%d, want COMPLETED_WITH_ERRORS 6/1", job.Status, job.SuccessRecords, job.ErrorRecords)
	}
}
