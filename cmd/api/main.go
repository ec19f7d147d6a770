package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/dishrank/internal/api"
	"github.com/timmy/dishrank/internal/app"
	"github.com/timmy/dishrank/internal/config"
	"github.com/timmy/dishrank/internal/logger"
)

func main() {
	appLogger := logger.New(logger.LoadFromEnv("dishrank-api"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH overrides the config file location in deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = appLogger.WithContext(ctx)

	a, err := app.New(ctx, cfg, appLogger)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	recorder, err := a.AnalyticsRecorder(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize analytics store")
	}
	rankings, err := a.RankingService(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize ranking service")
	}
	sender, err := a.ImportSender(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize import queue")
	}
	objectStorage, err := a.ObjectStorage(ctx)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	router := api.SetupRouter(api.Deps{
		DB:        a.DB,
		Jobs:      a.Jobs,
		Scheduler: a.Scheduler(sender),
		Recorder:  recorder,
		Rankings:  rankings,
		Storage:   objectStorage,
	}, cfg.Server, appLogger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()
	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
