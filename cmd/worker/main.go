package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/thejerf/suture/v4"

	"github.com/timmy/dishrank/internal/app"
	"github.com/timmy/dishrank/internal/config"
	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/queue"
	"github.com/timmy/dishrank/internal/service"
)

func main() {
	appLogger := logger.New(logger.LoadFromEnv("dishrank-worker"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	configPath := flag.String("config", "", "Path to config file")
	metricsAddr := flag.String("metrics-addr", ":9090", "Listen address for /metrics, empty to disable")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if cfg.Queue.ImportQueueURL == "" && cfg.Queue.AnalyticsQueueURL == "" {
		appLogger.Fatal("No queue configured: set queue.import_queue_url or queue.analytics_queue_url")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = appLogger.WithContext(ctx)

	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	client, err := queue.NewSQSClient(ctx, cfg.AWS)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to create SQS client")
	}

	sup := suture.New("dishrank-worker", suture.Spec{
		EventHook: func(e suture.Event) {
			appLogger.WithFields(logger.Fields(e.Map())).Warnf("Supervisor event: %s", e.String())
		},
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		Timeout:          cfg.Queue.VisibilityTimeout,
	})

	consumerCfg := func(name, url string) queue.ConsumerConfig {
		return queue.ConsumerConfig{
			Name:              name,
			QueueURL:          url,
			MaxMessages:       cfg.Queue.MaxMessages,
			WaitTime:          cfg.Queue.WaitTime,
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		}
	}

	if url := cfg.Queue.ImportQueueURL; url != "" {
		handler := service.NewImportHandler(a.BatchProcessor(), cfg.Queue.Concurrency)
		sup.Add(queue.NewSQSConsumer(client, consumerCfg("import", url), handler))
	}
	if url := cfg.Queue.AnalyticsQueueURL; url != "" {
		recorder, err := a.AnalyticsRecorder(ctx)
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize analytics store")
		}
		handler := service.NewAnalyticsHandler(recorder, cfg.Queue.Concurrency)
		sup.Add(queue.NewSQSConsumer(client, consumerCfg("analytics", url), handler))
	}
	if *metricsAddr != "" {
		sup.Add(&metricsServer{addr: *metricsAddr})
	}

	appLogger.WithFields(logger.Fields{
		"import_queue":    cfg.Queue.ImportQueueURL,
		"analytics_queue": cfg.Queue.AnalyticsQueueURL,
		"concurrency":     cfg.Queue.Concurrency,
	}).Info("Starting worker")

	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.WithError(err).Error("Supervisor stopped")
	}
	appLogger.Info("Worker exited")
}

// metricsServer exposes the Prometheus registry as a supervised service.
type metricsServer struct {
	addr string
}

func (m *metricsServer) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: m.addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}

func (m *metricsServer) String() string {
	return "metrics-server " + m.addr
}
