package service

import (
	"context"
	"sync"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/queue"
)

// ImportHandler adapts BatchProcessor to queue.BatchHandler. Messages of one
// delivery run concurrently on a bounded worker pool.
type ImportHandler struct {
	processor *BatchProcessor
	workers   int
}

// NewImportHandler creates an ImportHandler with the given pool size.
func NewImportHandler(processor *BatchProcessor, workers int) *ImportHandler {
	return &ImportHandler{processor: processor, workers: workers}
}

// HandleBatch processes msgs and returns the ids to redeliver.
func (h *ImportHandler) HandleBatch(ctx context.Context, msgs []queue.Message) []string {
	return runPool(ctx, msgs, h.workers, h.handle)
}

func (h *ImportHandler) handle(ctx context.Context, m queue.Message) bool {
	log := logger.FromContext(ctx)

	msg, err := ParseImportMessage(m.Body)
	if err != nil {
		// redelivering a message that cannot be decoded never helps
		log.WithError(err).Error("Dropping malformed import message")
		return true
	}

	_, err = h.processor.ProcessBatch(ctx, msg)
	switch {
	case err == nil:
		return true
	case domain.IsValidation(err):
		log.WithError(err).Error("Dropping import message that cannot be processed")
		return true
	default:
		return false
	}
}

// AnalyticsHandler adapts AnalyticsRecorder to queue.BatchHandler.
type AnalyticsHandler struct {
	recorder *AnalyticsRecorder
	workers  int
}

// NewAnalyticsHandler creates an AnalyticsHandler with the given pool size.
func NewAnalyticsHandler(recorder *AnalyticsRecorder, workers int) *AnalyticsHandler {
	return &AnalyticsHandler{recorder: recorder, workers: workers}
}

// HandleBatch records msgs and returns the ids to redeliver.
func (h *AnalyticsHandler) HandleBatch(ctx context.Context, msgs []queue.Message) []string {
	return runPool(ctx, msgs, h.workers, h.handle)
}

func (h *AnalyticsHandler) handle(ctx context.Context, m queue.Message) bool {
	ev, err := ParseAnalyticsEvent(m.Body)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("Dropping malformed analytics message")
		return true
	}
	if ev.EventID == "" {
		ev.EventID = m.ID
	}
	return !h.recorder.Record(ctx, ev).Failed()
}

type handleFunc func(ctx context.Context, m queue.Message) bool

// runPool fans msgs out to workers and collects the ids of failed messages in
// delivery order.
func runPool(ctx context.Context, msgs []queue.Message, workers int, fn handleFunc) []string {
	if workers <= 0 {
		workers = 1
	}
	if workers > len(msgs) {
		workers = len(msgs)
	}

	ok := make([]bool, len(msgs))
	indexes := make(chan int, workers*2)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range indexes {
				m := msgs[idx]
				mctx := logger.WithField(ctx, logger.FieldMessageID, m.ID)
				ok[idx] = fn(mctx, m)
			}
		}()
	}

	for i := range msgs {
		indexes <- i
	}
	close(indexes)
	wg.Wait()

	var failed []string
	for i, m := range msgs {
		if !ok[i] {
			failed = append(failed, m.ID)
		}
	}
	return failed
}
