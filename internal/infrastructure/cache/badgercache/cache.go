// Package badgercache is a ports.Cache over an embedded Badger database.
package badgercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kirillkom/repo-assistant/internal/infrastructure/cache"
)

const keyPrefix = "cache:"

type Cache struct {
	db         *badger.DB
	defaultTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Open opens a persistent database at dir, or an in-memory one when dir is empty.
func Open(dir string, defaultTTL time.Duration, logger *slog.Logger) (*Cache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTTL <= 0 {
		defaultTTL = cache.DefaultTTL
	}

	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create cache dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &Cache{
		db:         db,
		defaultTTL: defaultTTL,
		logger:     logger,
		now:        time.Now,
	}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) Get(_ context.Context, key string) (json.RawMessage, bool) {
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("cache_read_failed", "error", err)
		}
		return nil, false
	}

	rec, ok := cache.DecodeRecord(data)
	if !ok {
		c.logger.Warn("cache_record_corrupt", "key", key)
		return nil, false
	}
	// Badger TTL has second granularity; the record is authoritative.
	if rec.Expired(c.now()) {
		_ = c.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(keyPrefix + key))
		})
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
	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+key), data).WithTTL(ttl + time.Second)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("write badger cache: %w", err)
	}
	return nil
}
