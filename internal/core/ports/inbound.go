package ports

import (
	"context"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

// IndexRebuilder is the inbound contract for the indexing pipeline.
type IndexRebuilder interface {
	Rebuild(ctx context.Context, projectID, ref string, opts domain.RebuildOptions) (*domain.IndexRun, error)
}

// QuestionAnswerer is the inbound contract for retrieval and generation.
type QuestionAnswerer interface {
	Answer(ctx context.Context, projectID, question, ref string) (*domain.Answer, error)
}

// IndexInspector exposes the state of a project index.
type IndexInspector interface {
	Status(ctx context.Context, projectID string) (*domain.IndexStatus, error)
}
