// Package flatindex is an exact inner-product index persisted as a flat
// float32 matrix plus a JSON metadata array, one directory per project.
package flatindex

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/repo-assistant/internal/core/ports"
)

const (
	DefaultLockTimeout = 30 * time.Second
	DefaultCacheSize   = 8
	DefaultBatchSize   = 64
)

type Options struct {
	LockTimeout time.Duration
	CacheSize   int
	BatchSize   int
	Logger      *slog.Logger
}

// Store opens per-project indexes under a root directory. Loaded
// generations are shared between indexes through an LRU.
type Store struct {
	root        string
	embedder    ports.Embedder
	lockTimeout time.Duration
	batchSize   int
	logger      *slog.Logger
	loaded      *lru.Cache[string, *generation]
	now         func() time.Time
}

func NewStore(root string, embedder ports.Embedder, opts Options) (*Store, error) {
	if root == "" {
		root = "./data/index"
	}
	if embedder == nil {
		return nil, fmt.Errorf("flatindex: embedder is nil")
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create index root: %w", err)
	}
	loaded, err := lru.New[string, *generation](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create index cache: %w", err)
	}
	return &Store{
		root:        root,
		embedder:    embedder,
		lockTimeout: opts.LockTimeout,
		batchSize:   opts.BatchSize,
		logger:      opts.Logger,
		loaded:      loaded,
		now:         time.Now,
	}, nil
}

func (s *Store) Open(projectID string) ports.VectorIndex {
	return s.Index(projectID)
}

func (s *Store) Index(projectID string) *Index {
	return &Index{
		store:     s,
		projectID: projectID,
		dir:       filepath.Join(s.root, SafeName(projectID)),
	}
}

// SafeName maps a project id to a single directory name: every byte outside
// [A-Za-z0-9._-] becomes '_'. "." and ".." are escaped as well.
func SafeName(projectID string) string {
	var b strings.Builder
	b.Grow(len(projectID))
	for i := 0; i < len(projectID); i++ {
		c := projectID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '_', c == '-':
			b.WriteByte(c)
		default:
			b.WriteByte('_')
		}
	}
	name := b.String()
	switch name {
	case "", ".", "..":
		return strings.Repeat("_", len(name)+1)
	}
	return name
}
