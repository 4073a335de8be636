package config

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{"ENV_FILE": filepath.Join(t.TempDir(), "missing.env")}))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.SourceProvider != "gitlab" || cfg.GitLabBaseURL != "https://gitlab.com/api/v4" {
		t.Fatalf("unexpected source defaults: %q %q", cfg.SourceProvider, cfg.GitLabBaseURL)
	}
	if cfg.CacheTTL() != 24*time.Hour {
		t.Fatalf("expected default cache ttl 24h, got %v", cfg.CacheTTL())
	}
	if cfg.RAGTopK != 6 || cfg.RAGStructuralLimit != 10 || cfg.RAGMaxContext != 8 {
		t.Fatalf("unexpected retrieval defaults: %d %d %d", cfg.RAGTopK, cfg.RAGStructuralLimit, cfg.RAGMaxContext)
	}
	if cfg.ChunkMaxTokens*cfg.ChunkCharsPerToken != 2048 {
		t.Fatalf("expected default chunk bound of 2048 chars, got %d", cfg.ChunkMaxTokens*cfg.ChunkCharsPerToken)
	}
	wantDoc := []string{"readme", "documentation", "docs", "документац"}
	if !reflect.DeepEqual(cfg.RAGDocKeywords, wantDoc) {
		t.Fatalf("unexpected doc keywords: %v", cfg.RAGDocKeywords)
	}
	if len(cfg.AllowedProjects) != 0 || len(cfg.AdminTokens) != 0 {
		t.Fatalf("expected empty access lists, got %v %v", cfg.AllowedProjects, cfg.AdminTokens)
	}
}

func TestLoadPrecedenceEnvOverDotEnvOverYAML(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	yamlFile := filepath.Join(dir, "config.yaml")

	writeFile(t, yamlFile, `
rag_top_k: 3
cache_ttl_seconds: 60
index_dir: /yaml/indices
allowed_projects:
  - group/a
  - group/b
`)
	writeFile(t, envFile, `
# comment
CACHE_TTL_SECONDS=120
export INDEX_DIR="/dotenv/indices"
CONFIG_FILE=`+yamlFile+`
`)

	cfg, err := load(lookupFrom(map[string]string{
		"ENV_FILE":  envFile,
		"INDEX_DIR": "/env/indices",
	}))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.IndexDir != "/env/indices" {
		t.Fatalf("expected env to win, got %q", cfg.IndexDir)
	}
	if cfg.CacheTTLSeconds != 120 {
		t.Fatalf("expected .env to win over yaml, got %d", cfg.CacheTTLSeconds)
	}
	if cfg.RAGTopK != 3 {
		t.Fatalf("expected yaml to win over default, got %d", cfg.RAGTopK)
	}
	if !reflect.DeepEqual(cfg.AllowedProjects, []string{"group/a", "group/b"}) {
		t.Fatalf("unexpected allowed projects: %v", cfg.AllowedProjects)
	}
	if cfg.ConfigFile != yamlFile {
		t.Fatalf("expected config file from .env, got %q", cfg.ConfigFile)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	_, err := load(lookupFrom(map[string]string{
		"ENV_FILE":        filepath.Join(t.TempDir(), "none"),
		"SOURCE_PROVIDER": "bitbucket",
	}))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadFallsBackOnBadNumbers(t *testing.T) {
	cfg, err := load(lookupFrom(map[string]string{
		"ENV_FILE":           filepath.Join(t.TempDir(), "none"),
		"RAG_TOP_K":          "many",
		"API_RATE_LIMIT_RPS": "2.5",
		"BREAKER_ENABLED":    "true",
	}))
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if cfg.RAGTopK != 6 {
		t.Fatalf("expected fallback top k, got %d", cfg.RAGTopK)
	}
	if cfg.APIRateLimitRPS != 2.5 || !cfg.BreakerEnabled {
		t.Fatalf("unexpected parsed values: %v %v", cfg.APIRateLimitRPS, cfg.BreakerEnabled)
	}
}

func TestLoadReadsProcessEnvironment(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "none"))
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("ADMIN_TOKENS", " t1, ,t2 ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(cfg.AdminTokens, []string{"t1", "t2"}) {
		t.Fatalf("unexpected admin tokens: %v", cfg.AdminTokens)
	}
}

func TestKeyFallbacks(t *testing.T) {
	cfg := Config{OpenAIAPIKey: "sk-openai", LLMBaseURL: "http://vllm:8000/v1"}
	if cfg.EmbeddingKey() != "sk-openai" || cfg.LLMKey() != "sk-openai" {
		t.Fatalf("expected OPENAI_API_KEY fallback, got %q %q", cfg.EmbeddingKey(), cfg.LLMKey())
	}
	if cfg.EmbeddingURL() != "http://vllm:8000/v1" {
		t.Fatalf("expected LLM_BASE_URL fallback, got %q", cfg.EmbeddingURL())
	}
}

func TestSourceReloadSwapsConfig(t *testing.T) {
	top := 4
	src, err := NewSource(func() (Config, error) {
		top++
		return Config{RAGTopK: top}, nil
	}, nil)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}
	if got := src.Current().RAGTopK; got != 5 {
		t.Fatalf("expected initial top k 5, got %d", got)
	}
	if err := src.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := src.Current().RAGTopK; got != 6 {
		t.Fatalf("expected reloaded top k 6, got %d", got)
	}
}

func TestSourceWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	writeFile(t, envFile, "ALLOWED_PROJECTS=group/a\n")

	lookup := lookupFrom(map[string]string{"ENV_FILE": envFile})
	src, err := NewSource(func() (Config, error) { return load(lookup) }, nil)
	if err != nil {
		t.Fatalf("NewSource() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, envFile) }()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		writeFile(t, envFile, "ALLOWED_PROJECTS=group/a,group/b\n")
		if len(src.Current().AllowedProjects) == 2 {
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch() error = %v", err)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("config was not reloaded, current allow list %v", src.Current().AllowedProjects)
}
