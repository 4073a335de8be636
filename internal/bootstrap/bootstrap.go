package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/repo-assistant/internal/config"
	"github.com/kirillkom/repo-assistant/internal/core/ports"
	"github.com/kirillkom/repo-assistant/internal/core/usecase"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/cache/badgercache"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/cache/filecache"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/chunking"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/llm/openai"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/llm/prompt"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/queue/nats"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/source/cached"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/source/github"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/source/gitlab"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/vector/flatindex"
)

type App struct {
	Settings *config.Source
	Config   config.Config
	Logger   *slog.Logger

	Source  ports.SourceTree
	Indexes *flatindex.Store
	Runs    ports.IndexRunRepository
	Queue   ports.RebuildQueue

	RebuildUC *usecase.RebuildIndexUseCase
	AnswerUC  *usecase.AnswerUseCase
	StatusUC  *usecase.IndexStatusUseCase

	closeFns []func()
}

type Options struct {
	// SourceObserver receives cache_hit/fetched/error outcomes of source lookups.
	SourceObserver cached.Observer
	// SkipQueue leaves Queue nil even when NATS_URL is set.
	SkipQueue bool
}

func New(ctx context.Context, settings *config.Source, logger *slog.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := settings.Current()
	app := &App{Settings: settings, Config: cfg, Logger: logger}

	ok := false
	defer func() {
		if !ok {
			app.Close()
		}
	}()

	sourceExec := resilience.NewExecutor(retryConfig(cfg), resilience.WithLogger(logger))
	llmExec := resilience.NewExecutor(retryConfig(cfg), resilience.WithLogger(logger))

	cache, err := app.openCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	remote, err := newRemoteSource(cfg, logger)
	if err != nil {
		return nil, err
	}
	sourceOpts := []cached.Option{cached.WithLogger(logger)}
	if opts.SourceObserver != nil {
		sourceOpts = append(sourceOpts, cached.WithObserver(opts.SourceObserver))
	}
	app.Source = cached.New(remote, cache, sourceExec, cfg.CacheTTL(), sourceOpts...)

	embedder, generator, err := newModels(cfg, llmExec)
	if err != nil {
		return nil, err
	}

	app.Indexes, err = flatindex.NewStore(cfg.IndexDir, embedder, flatindex.Options{
		LockTimeout: cfg.IndexLockTimeout(),
		CacheSize:   cfg.IndexCacheSize,
		BatchSize:   cfg.EmbedBatchSize,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init index store: %w", err)
	}

	if cfg.PostgresDSN != "" {
		db, err := postgres.OpenDB(cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		app.closeFns = append(app.closeFns, func() { _ = db.Close() })
		runs := postgres.NewIndexRunRepository(db)
		if err := runs.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		app.Runs = runs
	}

	if cfg.NATSURL != "" && !opts.SkipQueue {
		queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
			ResilienceExecutor: resilience.NewExecutor(retryConfig(cfg), resilience.WithLogger(logger)),
			Logger:             logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init rebuild queue: %w", err)
		}
		app.closeFns = append(app.closeFns, queue.Close)
		app.Queue = queue
	}

	chunker := chunking.NewSplitter(cfg.ChunkMaxTokens, cfg.ChunkCharsPerToken)
	app.RebuildUC = usecase.NewRebuildIndexUseCase(app.Source, chunker, app.Indexes, app.Runs, logger)
	app.AnswerUC = usecase.NewAnswerUseCase(app.Source, app.Indexes, generator, usecase.RetrievalOptions{
		TopK:            cfg.RAGTopK,
		StructuralLimit: cfg.RAGStructuralLimit,
		MaxContext:      cfg.RAGMaxContext,
		DocKeywords:     cfg.RAGDocKeywords,
		ConfigKeywords:  cfg.RAGConfigKeywords,
	}, logger)
	app.StatusUC = usecase.NewIndexStatusUseCase(app.Indexes, app.Runs)

	logger.Info("bootstrap_ready",
		"source_provider", cfg.SourceProvider,
		"cache_backend", cfg.CacheBackend,
		"embedding_provider", cfg.EmbeddingProvider,
		"llm_provider", cfg.LLMProvider,
		"index_dir", cfg.IndexDir,
		"run_registry", app.Runs != nil,
		"queue", app.Queue != nil,
	)
	ok = true
	return app, nil
}

func (a *App) Close() {
	for i := len(a.closeFns) - 1; i >= 0; i-- {
		a.closeFns[i]()
	}
	a.closeFns = nil
}

func (a *App) openCache(cfg config.Config, logger *slog.Logger) (ports.Cache, error) {
	switch cfg.CacheBackend {
	case "badger":
		c, err := badgercache.Open(cfg.CacheDir, cfg.CacheTTL(), logger)
		if err != nil {
			return nil, fmt.Errorf("open badger cache: %w", err)
		}
		a.closeFns = append(a.closeFns, func() { _ = c.Close() })
		return c, nil
	default:
		c, err := filecache.New(cfg.CacheDir, cfg.CacheTTL(), logger)
		if err != nil {
			return nil, fmt.Errorf("open file cache: %w", err)
		}
		return c, nil
	}
}

func newRemoteSource(cfg config.Config, logger *slog.Logger) (ports.SourceTree, error) {
	switch cfg.SourceProvider {
	case "github":
		client, err := github.New(github.Options{
			BaseURL: cfg.GitHubBaseURL,
			Token:   cfg.GitHubToken,
			Timeout: cfg.SourceTimeout(),
			Logger:  logger,
		})
		if err != nil {
			return nil, fmt.Errorf("init github client: %w", err)
		}
		return client, nil
	default:
		return gitlab.New(gitlab.Options{
			BaseURL:   cfg.GitLabBaseURL,
			Token:     cfg.GitLabToken,
			Timeout:   cfg.SourceTimeout(),
			RateLimit: cfg.SourceRateLimitRPS,
			Burst:     cfg.SourceRateLimitBurst,
			PageSize:  cfg.SourceTreePageSize,
			Logger:    logger,
		}), nil
	}
}

func newModels(cfg config.Config, exec *resilience.Executor) (ports.Embedder, ports.AnswerGenerator, error) {
	promptOpts := prompt.Options{Language: cfg.AnswerLanguage, MaxContext: cfg.RAGMaxContext}

	var ollamaClient *ollama.Client
	if cfg.EmbeddingProvider == "ollama" || cfg.LLMProvider == "ollama" {
		ollamaClient = ollama.New(cfg.OllamaURL, cfg.LLMModel, cfg.EmbeddingModel, exec)
	}

	var embedder ports.Embedder
	switch cfg.EmbeddingProvider {
	case "ollama":
		embedder = ollama.NewEmbedder(ollamaClient)
	default:
		if cfg.EmbeddingKey() == "" && cfg.EmbeddingURL() == "" {
			return nil, nil, fmt.Errorf("embedding provider openai needs EMBEDDING_API_KEY, OPENAI_API_KEY or EMBEDDING_BASE_URL")
		}
		embedder = openai.NewEmbedder(openai.Options{
			APIKey:  cfg.EmbeddingKey(),
			BaseURL: cfg.EmbeddingURL(),
			Model:   cfg.EmbeddingModel,
		}, exec)
	}

	var generator ports.AnswerGenerator
	switch cfg.LLMProvider {
	case "ollama":
		generator = ollama.NewGenerator(ollamaClient, promptOpts)
	default:
		generator = openai.NewGenerator(openai.Options{
			APIKey:  cfg.LLMKey(),
			BaseURL: cfg.LLMBaseURL,
			Model:   cfg.LLMModel,
		}, promptOpts, exec)
	}
	return embedder, generator, nil
}

func retryConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	if cfg.RetryMaxAttempts > 0 {
		rc.RetryMaxAttempts = cfg.RetryMaxAttempts
	}
	if cfg.RetryMinBackoffMS > 0 {
		rc.RetryInitialBackoff = time.Duration(cfg.RetryMinBackoffMS) * time.Millisecond
	}
	if cfg.RetryMaxBackoffMS > 0 {
		rc.RetryMaxBackoff = time.Duration(cfg.RetryMaxBackoffMS) * time.Millisecond
	}
	rc.BreakerEnabled = cfg.BreakerEnabled
	return rc
}
