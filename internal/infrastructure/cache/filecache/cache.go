// Package filecache stores one JSON record per key under a directory.
// File names are sha256(key) so any key stays inside the directory.
package filecache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/kirillkom/repo-assistant/internal/infrastructure/cache"
)

type Cache struct {
	dir        string
	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

func New(dir string, defaultTTL time.Duration, logger *slog.Logger) (*Cache, error) {
	if dir == "" {
		dir = "./data/cache"
	}
	if defaultTTL <= 0 {
		defaultTTL = cache.DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Cache{
		dir:        dir,
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *Cache) Dir() string {
	return c.dir
}

func (c *Cache) Get(_ context.Context, key string) (json.RawMessage, bool) {
	path := c.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("cache_read_failed", "error", err)
		}
		return nil, false
	}

	rec, ok := cache.DecodeRecord(data)
	if !ok {
		c.logger.Warn("cache_record_corrupt", "file", filepath.Base(path))
		return nil, false
	}
	if rec.Expired(c.now()) {
		_ = os.Remove(path)
		return nil, false
	}
	return rec.Value, true
}

func (c *Cache) Set(_ context.Context, key string, value json.RawMessage, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	data, err := json.Marshal(cache.NewRecord(value, ttl, c.now()))
	if err != nil {
		return fmt.Errorf("marshal cache record: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cache file: %w", err)
	}
	return nil
}

func (c *Cache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}
