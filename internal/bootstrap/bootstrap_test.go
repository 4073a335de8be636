package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/kirillkom/repo-assistant/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		SourceProvider:          "gitlab",
		GitLabBaseURL:           "http://127.0.0.1:1/api/v4",
		CacheBackend:            "file",
		CacheDir:                filepath.Join(dir, "cache"),
		CacheTTLSeconds:         60,
		IndexDir:                filepath.Join(dir, "indices"),
		IndexLockTimeoutSeconds: 1,
		ChunkMaxTokens:          64,
		ChunkCharsPerToken:      4,
		EmbeddingProvider:       "ollama",
		LLMProvider:             "ollama",
		OllamaURL:               "http://127.0.0.1:1",
		RAGTopK:                 6,
		RAGMaxContext:           8,
	}
}

func TestNewWiresLocalComponents(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	app, err := New(context.Background(), config.Static(testConfig(t)), logger, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer app.Close()

	if app.Source == nil || app.Indexes == nil || app.RebuildUC == nil || app.AnswerUC == nil || app.StatusUC == nil {
		t.Fatalf("expected wired app, got %+v", app)
	}
	if app.Runs != nil || app.Queue != nil {
		t.Fatalf("optional postgres and nats must stay off without DSN/URL")
	}
}

func TestNewWithBadgerCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheBackend = "badger"
	cfg.SourceProvider = "github"

	app, err := New(context.Background(), config.Static(cfg), nil, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	app.Close()
}

func TestNewRequiresOpenAICredentials(t *testing.T) {
	cfg := testConfig(t)
	cfg.EmbeddingProvider = "openai"

	if _, err := New(context.Background(), config.Static(cfg), nil, Options{}); err == nil {
		t.Fatalf("expected error without embedding credentials")
	}
}

func TestRetryConfig(t *testing.T) {
	rc := retryConfig(config.Config{RetryMaxAttempts: 5, RetryMinBackoffMS: 100, RetryMaxBackoffMS: 800, BreakerEnabled: true})
	if rc.RetryMaxAttempts != 5 || rc.RetryInitialBackoff != 100*time.Millisecond || rc.RetryMaxBackoff != 800*time.Millisecond || !rc.BreakerEnabled {
		t.Fatalf("unexpected retry config: %+v", rc)
	}
	def := retryConfig(config.Config{})
	if def.RetryMaxAttempts != 3 || def.RetryInitialBackoff != 500*time.Millisecond {
		t.Fatalf("expected defaults, got %+v", def)
	}
}
