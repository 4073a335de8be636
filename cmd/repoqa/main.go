package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/repo-assistant/internal/adapters/cli"
	"github.com/kirillkom/repo-assistant/internal/bootstrap"
	"github.com/kirillkom/repo-assistant/internal/config"
	"github.com/kirillkom/repo-assistant/internal/observability/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory := func(ctx context.Context) (*cli.Services, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		format := cfg.LogFormat
		if format == "" || format == "json" {
			format = "text"
		}
		// stdout carries answers and the MCP protocol.
		logger := logging.New(os.Stderr, "repoqa", cfg.LogLevel, format)
		slog.SetDefault(logger)

		app, err := bootstrap.New(ctx, config.Static(cfg), logger, bootstrap.Options{SkipQueue: true})
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		return &cli.Services{
			Answerer:  app.AnswerUC,
			Rebuilder: app.RebuildUC,
			Inspector: app.StatusUC,
			Close:     app.Close,
		}, nil
	}

	if err := cli.NewRootCommand(factory).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
