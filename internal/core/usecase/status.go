package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
	"github.com/kirillkom/repo-assistant/internal/core/ports"
)

type IndexStatusUseCase struct {
	indexes ports.IndexStore
	runs    ports.IndexRunRepository
}

// NewIndexStatusUseCase builds the status view. runs may be nil.
func NewIndexStatusUseCase(indexes ports.IndexStore, runs ports.IndexRunRepository) *IndexStatusUseCase {
	return &IndexStatusUseCase{indexes: indexes, runs: runs}
}

// Status fails with ErrNotFound when there is neither a live index nor a
// recorded run.
func (uc *IndexStatusUseCase) Status(ctx context.Context, projectID string) (*domain.IndexStatus, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "index status", errors.New("project id is required"))
	}
	status := &domain.IndexStatus{ProjectID: projectID}

	info, err := uc.indexes.Open(projectID).Info(ctx)
	switch {
	case err == nil:
		status.Index = &info
	case domain.IsKind(err, domain.ErrIndexNotBuilt):
	default:
		return nil, fmt.Errorf("read index info: %w", err)
	}

	if uc.runs != nil {
		run, err := uc.runs.LatestRun(ctx, projectID)
		switch {
		case err == nil:
			status.LastRun = run
		case domain.IsKind(err, domain.ErrNotFound):
		default:
			return nil, fmt.Errorf("read latest run: %w", err)
		}
	}

	if status.Index == nil && status.LastRun == nil {
		return nil, domain.WrapError(domain.ErrNotFound, "index status", fmt.Errorf("project %s has no index", projectID))
	}
	return status, nil
}
