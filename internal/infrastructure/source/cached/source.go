// Package cached decorates a source collaborator with a TTL cache, retries
// on temporary failures and in-process coalescing of concurrent misses.
package cached

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
	"github.com/kirillkom/repo-assistant/internal/core/ports"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/cache"
	"github.com/kirillkom/repo-assistant/internal/infrastructure/resilience"
)

const (
	OutcomeCacheHit = "cache_hit"
	OutcomeFetched  = "fetched"
	OutcomeError    = "error"
)

// Observer receives one outcome per ListTree/GetFile call.
type Observer interface {
	ObserveSourceFetch(operation, outcome string)
}

type Source struct {
	inner    ports.SourceTree
	cache    ports.Cache
	exec     *resilience.Executor
	ttl      time.Duration
	logger   *slog.Logger
	observer Observer
	group    singleflight.Group
}

type Option func(*Source)

func WithObserver(observer Observer) Option {
	return func(s *Source) {
		s.observer = observer
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(inner ports.SourceTree, c ports.Cache, exec *resilience.Executor, ttl time.Duration, opts ...Option) *Source {
	if exec == nil {
		exec = resilience.NewExecutor(resilience.DefaultConfig())
	}
	s := &Source{
		inner:  inner,
		cache:  c,
		exec:   exec,
		ttl:    ttl,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func TreeKey(projectID, ref string) string {
	return "repo_tree:" + projectID + ":" + normalizeRef(ref)
}

func FileKey(projectID, path, ref string) string {
	return "file_raw:" + projectID + ":" + normalizeRef(ref) + ":" + path
}

func (s *Source) ListTree(ctx context.Context, projectID, ref string) ([]domain.TreeEntry, error) {
	ref = normalizeRef(ref)
	key := TreeKey(projectID, ref)
	if entries, ok := cache.GetJSON[[]domain.TreeEntry](ctx, s.cache, key); ok {
		s.observe("list_tree", OutcomeCacheHit)
		return entries, nil
	}

	v, err := s.shared(ctx, key, func(ctx context.Context) (any, error) {
		entries, err := resilience.Do(ctx, s.exec, "source.list_tree", func(ctx context.Context) ([]domain.TreeEntry, error) {
			return s.inner.ListTree(ctx, projectID, ref)
		}, resilience.KindClassifier(domain.ErrTemporary))
		if err != nil {
			return nil, err
		}
		s.store(ctx, key, entries)
		return entries, nil
	})
	if err != nil {
		s.observe("list_tree", OutcomeError)
		return nil, err
	}
	s.observe("list_tree", OutcomeFetched)
	return v.([]domain.TreeEntry), nil
}

func (s *Source) GetFile(ctx context.Context, projectID, path, ref string) (string, error) {
	ref = normalizeRef(ref)
	key := FileKey(projectID, path, ref)
	if content, ok := cache.GetJSON[string](ctx, s.cache, key); ok {
		s.observe("get_file", OutcomeCacheHit)
		return content, nil
	}

	v, err := s.shared(ctx, key, func(ctx context.Context) (any, error) {
		content, err := resilience.Do(ctx, s.exec, "source.get_file", func(ctx context.Context) (string, error) {
			return s.inner.GetFile(ctx, projectID, path, ref)
		}, resilience.KindClassifier(domain.ErrTemporary))
		if err != nil {
			return "", err
		}
		s.store(ctx, key, content)
		return content, nil
	})
	if err != nil {
		s.observe("get_file", OutcomeError)
		return "", err
	}
	s.observe("get_file", OutcomeFetched)
	return v.(string), nil
}

// shared runs fetch once per key for all concurrent callers. The fetch does
// not inherit the first caller's cancellation; each caller stops waiting when
// its own ctx is done.
func (s *Source) shared(ctx context.Context, key string, fetch func(context.Context) (any, error)) (any, error) {
	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return fetch(detached)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

func (s *Source) store(ctx context.Context, key string, value any) {
	if err := cache.SetJSON(ctx, s.cache, key, value, s.ttl); err != nil {
		s.logger.Warn("source_cache_write_failed", "key", key, "error", err)
	}
}

func (s *Source) observe(operation, outcome string) {
	if s.observer != nil {
		s.observer.ObserveSourceFetch(operation, outcome)
	}
}

func normalizeRef(ref string) string {
	if ref == "" {
		return domain.DefaultRef
	}
	return ref
}
