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

	httpadapter "github.com/kirillkom/repo-assistant/internal/adapters/http"
	"github.com/kirillkom/repo-assistant/internal/bootstrap"
	"github.com/kirillkom/repo-assistant/internal/config"
	"github.com/kirillkom/repo-assistant/internal/observability/logging"
	"github.com/kirillkom/repo-assistant/internal/observability/metrics"
)

const serviceName = "repoqa-api"

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

	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)
	app, err := bootstrap.New(ctx, settings, logger, bootstrap.Options{
		SourceObserver: httpMetrics.SourceFetchObserver(serviceName),
	})
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	go func() {
		if err := settings.Watch(ctx, cfg.EnvFile, cfg.ConfigFile); err != nil {
			logger.Warn("config_watch_stopped", "error", err)
		}
	}()

	opts := []httpadapter.Option{
		httpadapter.WithMetrics(httpMetrics),
		httpadapter.WithLogger(logger),
	}
	if app.Queue != nil {
		opts = append(opts, httpadapter.WithQueue(app.Queue))
	}
	router := httpadapter.NewRouter(settings, app.AnswerUC, app.RebuildUC, app.StatusUC, opts...).Handler()
	server := &http.Server{
		Addr:         cfg.APIAddr(),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "async_rebuild", app.Queue != nil)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api_shutdown_failed", "error", err)
	}
}
