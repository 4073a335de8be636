package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/repo-assistant/internal/bootstrap"
	"github.com/kirillkom/repo-assistant/internal/config"
	"github.com/kirillkom/repo-assistant/internal/core/domain"
	"github.com/kirillkom/repo-assistant/internal/observability/logging"
	"github.com/kirillkom/repo-assistant/internal/observability/metrics"
)

const (
	serviceName    = "repoqa-worker"
	rebuildTimeout = 30 * time.Minute
)

func main() {
	settings, err := config.NewSource(config.Load, nil)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	cfg := settings.Current()
	logger := logging.New(os.Stdout, serviceName, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	workerMetrics := metrics.NewWorkerMetrics(serviceName)
	app, err := bootstrap.New(ctx, settings, logger, bootstrap.Options{
		SourceObserver: workerMetrics.SourceFetchObserver(serviceName),
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	if app.Queue == nil {
		logger.Error("worker_requires_nats", "hint", "set NATS_URL")
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           workerMetrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker_metrics_server_failed", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeRebuild(ctx, func(handlerCtx context.Context, req domain.RebuildRequest) error {
		rebuildCtx, cancel := context.WithTimeout(handlerCtx, rebuildTimeout)
		defer cancel()

		workerMetrics.StartRebuild()
		start := time.Now()
		run, err := app.RebuildUC.Rebuild(rebuildCtx, req.ProjectID, req.Ref, domain.RebuildOptions{Append: req.Append})
		chunks := 0
		if run != nil {
			chunks = run.Chunks
		}
		workerMetrics.FinishRebuild(serviceName, chunks, time.Since(start), err)
		if err != nil {
			return err
		}
		logger.Info("rebuild_request_done",
			"request_id", req.RequestID,
			"project", req.ProjectID,
			"chunks", chunks,
		)
		return nil
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
	}
}
