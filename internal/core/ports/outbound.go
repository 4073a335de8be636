package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

// SourceTree reads repository trees and files from a remote host.
type SourceTree interface {
	ListTree(ctx context.Context, projectID, ref string) ([]domain.TreeEntry, error)
	GetFile(ctx context.Context, projectID, path, ref string) (string, error)
}

// Cache is an expiring key/value store. Get reports absence with false and
// never fails; corrupt or expired records are absent.
type Cache interface {
	Get(ctx context.Context, key string) (json.RawMessage, bool)
	Set(ctx context.Context, key string, value json.RawMessage, ttl time.Duration) error
}

// Embedder builds fixed-dimension vectors for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// AnswerGenerator creates the final user-facing answer.
type AnswerGenerator interface {
	GenerateAnswer(ctx context.Context, question string, contexts []string) (string, error)
}

// Chunker splits text into bounded chunks.
type Chunker interface {
	Split(text string) []string
}

// VectorIndex is a persisted similarity index of document chunks for one project.
type VectorIndex interface {
	Build(ctx context.Context, chunks []domain.DocumentChunk, opts domain.BuildOptions) (domain.IndexInfo, error)
	Search(ctx context.Context, query string, k int) ([]domain.QueryHit, error)
	Chunk(ctx context.Context, position int) (domain.DocumentChunk, bool)
	Info(ctx context.Context) (domain.IndexInfo, error)
}

// IndexStore resolves the vector index of a project.
type IndexStore interface {
	Open(projectID string) VectorIndex
}

// IndexRunRepository persists rebuild history.
type IndexRunRepository interface {
	StartRun(ctx context.Context, run *domain.IndexRun) error
	FinishRun(ctx context.Context, run *domain.IndexRun) error
	LatestRun(ctx context.Context, projectID string) (*domain.IndexRun, error)
}

// RebuildQueue publishes and consumes rebuild requests.
type RebuildQueue interface {
	PublishRebuild(ctx context.Context, req domain.RebuildRequest) error
	SubscribeRebuild(ctx context.Context, handler func(context.Context, domain.RebuildRequest) error) error
}
