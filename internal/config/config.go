package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	LogLevel  string
	LogFormat string

	APIHost           string
	APIPort           string
	APIRateLimitRPS   float64
	APIRateLimitBurst int

	SourceProvider       string
	GitLabBaseURL        string
	GitLabToken          string
	GitHubBaseURL        string
	GitHubToken          string
	SourceTimeoutSeconds int
	SourceRateLimitRPS   float64
	SourceRateLimitBurst int
	SourceTreePageSize   int

	RetryMaxAttempts  int
	RetryMinBackoffMS int
	RetryMaxBackoffMS int
	BreakerEnabled    bool

	CacheBackend    string
	CacheDir        string
	CacheTTLSeconds int

	IndexDir                string
	IndexAppend             bool
	IndexLockTimeoutSeconds int
	IndexCacheSize          int

	ChunkMaxTokens     int
	ChunkCharsPerToken int

	EmbeddingProvider string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string
	EmbeddingModel    string
	EmbedBatchSize    int

	LLMProvider  string
	LLMAPIKey    string
	LLMBaseURL   string
	LLMModel     string
	OpenAIAPIKey string
	OllamaURL    string

	AnswerLanguage     string
	RAGTopK            int
	RAGStructuralLimit int
	RAGMaxContext      int
	RAGDocKeywords     []string
	RAGConfigKeywords  []string

	AllowedProjects []string
	AdminTokens     []string

	PostgresDSN string

	NATSURL     string
	NATSSubject string

	WorkerMetricsPort string

	ConfigFile string
	EnvFile    string
}

// Load reads the process environment, then the .env file (ENV_FILE, default
// ".env"), then the YAML file named by CONFIG_FILE. Earlier layers win.
func Load() (Config, error) {
	return load(os.LookupEnv)
}

func load(lookupEnv func(string) (string, bool)) (Config, error) {
	l := &loader{env: lookupEnv}

	envFile := l.mustEnv("ENV_FILE", ".env")
	dotenv, err := readDotEnv(envFile)
	if err != nil {
		return Config{}, err
	}
	l.dotenv = dotenv

	configFile := l.mustEnv("CONFIG_FILE", "")
	if configFile != "" {
		values, err := readYAML(configFile)
		if err != nil {
			return Config{}, err
		}
		l.file = values
	}

	cfg := Config{
		LogLevel:  l.mustEnv("LOG_LEVEL", "info"),
		LogFormat: l.mustEnv("LOG_FORMAT", "json"),

		APIHost:           l.mustEnv("API_HOST", "0.0.0.0"),
		APIPort:           l.mustEnv("API_PORT", "8080"),
		APIRateLimitRPS:   l.mustEnvFloat("API_RATE_LIMIT_RPS", 0),
		APIRateLimitBurst: l.mustEnvInt("API_RATE_LIMIT_BURST", 10),

		SourceProvider:       strings.ToLower(l.mustEnv("SOURCE_PROVIDER", "gitlab")),
		GitLabBaseURL:        l.mustEnv("GITLAB_BASE_URL", "https://gitlab.com/api/v4"),
		GitLabToken:          l.mustEnv("GITLAB_TOKEN", ""),
		GitHubBaseURL:        l.mustEnv("GITHUB_BASE_URL", ""),
		GitHubToken:          l.mustEnv("GITHUB_TOKEN", ""),
		SourceTimeoutSeconds: l.mustEnvInt("SOURCE_TIMEOUT_SECONDS", 30),
		SourceRateLimitRPS:   l.mustEnvFloat("SOURCE_RATE_LIMIT_RPS", 10),
		SourceRateLimitBurst: l.mustEnvInt("SOURCE_RATE_LIMIT_BURST", 5),
		SourceTreePageSize:   l.mustEnvInt("SOURCE_TREE_PAGE_SIZE", 100),

		RetryMaxAttempts:  l.mustEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryMinBackoffMS: l.mustEnvInt("RETRY_MIN_BACKOFF_MS", 500),
		RetryMaxBackoffMS: l.mustEnvInt("RETRY_MAX_BACKOFF_MS", 4000),
		BreakerEnabled:    l.mustEnvBool("BREAKER_ENABLED", false),

		CacheBackend:    strings.ToLower(l.mustEnv("CACHE_BACKEND", "file")),
		CacheDir:        l.mustEnv("CACHE_DIR", "./data"),
		CacheTTLSeconds: l.mustEnvInt("CACHE_TTL_SECONDS", 86400),

		IndexDir:                l.mustEnv("INDEX_DIR", "./indices"),
		IndexAppend:             l.mustEnvBool("INDEX_APPEND", false),
		IndexLockTimeoutSeconds: l.mustEnvInt("INDEX_LOCK_TIMEOUT_SECONDS", 10),
		IndexCacheSize:          l.mustEnvInt("INDEX_CACHE_SIZE", 16),

		ChunkMaxTokens:     l.mustEnvInt("CHUNK_MAX_TOKENS", 512),
		ChunkCharsPerToken: l.mustEnvInt("CHUNK_CHARS_PER_TOKEN", 4),

		EmbeddingProvider: strings.ToLower(l.mustEnv("EMBEDDING_PROVIDER", "openai")),
		EmbeddingAPIKey:   l.mustEnv("EMBEDDING_API_KEY", ""),
		EmbeddingBaseURL:  l.mustEnv("EMBEDDING_BASE_URL", ""),
		EmbeddingModel:    l.mustEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbedBatchSize:    l.mustEnvInt("EMBED_BATCH_SIZE", 64),

		LLMProvider:  strings.ToLower(l.mustEnv("LLM_PROVIDER", "openai")),
		LLMAPIKey:    l.mustEnv("LLM_API_KEY", ""),
		LLMBaseURL:   l.mustEnv("LLM_BASE_URL", ""),
		LLMModel:     l.mustEnv("LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey: l.mustEnv("OPENAI_API_KEY", ""),
		OllamaURL:    l.mustEnv("OLLAMA_URL", "http://localhost:11434"),

		AnswerLanguage:     l.mustEnv("ANSWER_LANGUAGE", ""),
		RAGTopK:            l.mustEnvInt("RAG_TOP_K", 6),
		RAGStructuralLimit: l.mustEnvInt("RAG_STRUCTURAL_LIMIT", 10),
		RAGMaxContext:      l.mustEnvInt("RAG_MAX_CONTEXT", 8),
		RAGDocKeywords:     l.mustEnvList("RAG_DOC_KEYWORDS", "readme,documentation,docs,документац"),
		RAGConfigKeywords:  l.mustEnvList("RAG_CONFIG_KEYWORDS", "config,конфигурац,settings,настройк"),

		AllowedProjects: l.mustEnvList("ALLOWED_PROJECTS", ""),
		AdminTokens:     l.mustEnvList("ADMIN_TOKENS", ""),

		PostgresDSN: l.mustEnv("POSTGRES_DSN", ""),

		NATSURL:     l.mustEnv("NATS_URL", ""),
		NATSSubject: l.mustEnv("NATS_SUBJECT", "repoqa.rebuild"),

		WorkerMetricsPort: l.mustEnv("WORKER_METRICS_PORT", "9090"),

		ConfigFile: configFile,
		EnvFile:    envFile,
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if !oneOf(c.SourceProvider, "gitlab", "github") {
		return fmt.Errorf("config: SOURCE_PROVIDER must be gitlab or github, got %q", c.SourceProvider)
	}
	if !oneOf(c.CacheBackend, "file", "badger") {
		return fmt.Errorf("config: CACHE_BACKEND must be file or badger, got %q", c.CacheBackend)
	}
	if !oneOf(c.EmbeddingProvider, "openai", "ollama") {
		return fmt.Errorf("config: EMBEDDING_PROVIDER must be openai or ollama, got %q", c.EmbeddingProvider)
	}
	if !oneOf(c.LLMProvider, "openai", "ollama") {
		return fmt.Errorf("config: LLM_PROVIDER must be openai or ollama, got %q", c.LLMProvider)
	}
	if c.ChunkMaxTokens <= 0 || c.ChunkCharsPerToken <= 0 {
		return fmt.Errorf("config: CHUNK_MAX_TOKENS and CHUNK_CHARS_PER_TOKEN must be positive")
	}
	return nil
}

func (c Config) APIAddr() string {
	return c.APIHost + ":" + c.APIPort
}

func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.SourceTimeoutSeconds) * time.Second
}

func (c Config) IndexLockTimeout() time.Duration {
	return time.Duration(c.IndexLockTimeoutSeconds) * time.Second
}

// EmbeddingKey falls back to OPENAI_API_KEY, then LLM_API_KEY.
func (c Config) EmbeddingKey() string {
	return firstNonEmpty(c.EmbeddingAPIKey, c.OpenAIAPIKey, c.LLMAPIKey)
}

// EmbeddingURL falls back to LLM_BASE_URL.
func (c Config) EmbeddingURL() string {
	return firstNonEmpty(c.EmbeddingBaseURL, c.LLMBaseURL)
}

// LLMKey falls back to OPENAI_API_KEY.
func (c Config) LLMKey() string {
	return firstNonEmpty(c.LLMAPIKey, c.OpenAIAPIKey)
}

// loader resolves a key from the environment, then .env, then the YAML file.
type loader struct {
	env    func(string) (string, bool)
	dotenv map[string]string
	file   map[string]string
}

func (l *loader) lookup(key string) (string, bool) {
	if l.env != nil {
		if v, ok := l.env(key); ok && v != "" {
			return v, true
		}
	}
	if v, ok := l.dotenv[key]; ok && v != "" {
		return v, true
	}
	if v, ok := l.file[key]; ok && v != "" {
		return v, true
	}
	return "", false
}

func (l *loader) mustEnv(key, fallback string) string {
	v, ok := l.lookup(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(v)
}

func (l *loader) mustEnvInt(key string, fallback int) int {
	v, ok := l.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

func (l *loader) mustEnvFloat(key string, fallback float64) float64 {
	v, ok := l.lookup(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return fallback
	}
	return n
}

func (l *loader) mustEnvBool(key string, fallback bool) bool {
	v, ok := l.lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return parsed
}

func (l *loader) mustEnvList(key, fallback string) []string {
	v, ok := l.lookup(key)
	if !ok {
		v = fallback
	}
	return ParseCSV(v)
}

// ParseCSV splits a comma separated list, trimming blanks and dropping empties.
func ParseCSV(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
