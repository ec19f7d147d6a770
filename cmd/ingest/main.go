package main

import (
	"context"
	"flag"
	"os/signal"
	"strings"
	"syscall"

	"github.com/timmy/dishrank/internal/app"
	"github.com/timmy/dishrank/internal/config"
	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/queue"
	"github.com/timmy/dishrank/internal/service"
	"github.com/timmy/dishrank/internal/source"
	"github.com/timmy/dishrank/internal/source/httpfeed"
	"github.com/timmy/dishrank/internal/source/jsonl"
	"github.com/timmy/dishrank/internal/source/s3file"
)

func main() {
	// Initialize logger first (with defaults)
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "dishrank-ingest",
	})
	logger.SetDefaultLogger(appLogger)

	sourceType := flag.String("source", "jsonl", "Source to read: jsonl, s3 or http")
	location := flag.String("path", "", "JSONL file path (jsonl) or object key (s3)")
	sourceID := flag.String("source-id", "", "External source id, defaults to ingest.source_id")
	jobType := flag.String("type", "RESTAURANT", "Record type: RESTAURANT or DISH")
	limit := flag.Int("limit", 0, "Maximum number of records to schedule, 0 for all")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if *sourceID == "" {
		*sourceID = cfg.Ingest.SourceID
	}

	appLogger.WithFields(logger.Fields{
		"source":    *sourceType,
		"source_id": *sourceID,
		"type":      *jobType,
		"limit":     *limit,
	}).Info("Starting ingestion")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = appLogger.WithContext(ctx)

	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	var src source.Source
	switch *sourceType {
	case "jsonl":
		src = jsonl.NewAdapter(*location, *sourceID)
	case "s3":
		store, err := a.ObjectStorage(ctx)
		if err != nil || store == nil {
			appLogger.WithError(err).Fatal("Object storage is not available")
		}
		src = s3file.NewAdapter(store, *location, *sourceID)
	case "http":
		src = httpfeed.NewAdapter(cfg.Sources.HTTPFeed, *sourceID)
	default:
		appLogger.WithField("source", *sourceType).Fatal("Unknown source type")
	}

	sender, err := a.ImportSender(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize import queue")
	}

	res, err := a.Scheduler(sender).ScheduleImport(ctx, src, domain.JobType(strings.ToUpper(*jobType)), *limit)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to schedule import")
	}
	appLogger.WithFields(logger.Fields{
		logger.FieldJobID: res.Job.JobID,
		"total":           res.Job.TotalRecords,
		"batches":         res.Batches,
	}).Info("Import scheduled")

	// without a queue the batches are processed here
	mem, ok := sender.(*queue.MemorySender)
	if !ok {
		return
	}
	handler := service.NewImportHandler(a.BatchProcessor(), cfg.Ingest.Workers)
	if failed := handler.HandleBatch(ctx, mem.Drain()); len(failed) > 0 {
		appLogger.WithField("failed", len(failed)).Warn("Some batches did not complete")
	}

	job, err := a.Jobs.GetJob(ctx, res.Job.JobID)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to read job")
	}
	appLogger.WithFields(logger.Fields{
		logger.FieldJobID:  job.JobID,
		logger.FieldStatus: job.Status,
		"processed":        job.ProcessedRecords,
		"success":          job.SuccessRecords,
		"errors":           job.ErrorRecords,
	}).Info("Ingestion completed")
}
