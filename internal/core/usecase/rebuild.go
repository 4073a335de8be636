package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
	"github.com/kirillkom/repo-assistant/internal/core/ports"
	"github.com/kirillkom/repo-assistant/internal/core/structure"
)

type RebuildIndexUseCase struct {
	source  ports.SourceTree
	chunker ports.Chunker
	indexes ports.IndexStore
	runs    ports.IndexRunRepository
	logger  *slog.Logger
	now     func() time.Time
}

// NewRebuildIndexUseCase wires the pipeline. runs may be nil.
func NewRebuildIndexUseCase(
	source ports.SourceTree,
	chunker ports.Chunker,
	indexes ports.IndexStore,
	runs ports.IndexRunRepository,
	logger *slog.Logger,
) *RebuildIndexUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &RebuildIndexUseCase{
		source:  source,
		chunker: chunker,
		indexes: indexes,
		runs:    runs,
		logger:  logger,
		now:     time.Now,
	}
}

// Rebuild fetches the tree, selects and fetches candidate files, chunks them
// and replaces (or appends to) the project index. Only a tree fetch or index
// build failure fails the run; single files that cannot be fetched are skipped.
// Files that are empty or whitespace-only are skipped too and never produce an
// empty chunk. Both kinds count in FilesSkipped.
func (uc *RebuildIndexUseCase) Rebuild(ctx context.Context, projectID, ref string, opts domain.RebuildOptions) (*domain.IndexRun, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "rebuild index", errors.New("project id is required"))
	}
	if strings.TrimSpace(ref) == "" {
		ref = domain.DefaultRef
	}

	run := &domain.IndexRun{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Ref:       ref,
		Status:    domain.RunStatusRunning,
		StartedAt: uc.now().UTC(),
	}
	uc.startRun(ctx, run)
	uc.logger.Info("rebuild_started", "project", projectID, "ref", ref, "run_id", run.ID, "append", opts.Append)

	if err := uc.execute(ctx, run, opts); err != nil {
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		uc.finishRun(ctx, run)
		uc.logger.Error("rebuild_failed", "project", projectID, "ref", ref, "run_id", run.ID, "error", err)
		return run, err
	}

	run.Status = domain.RunStatusReady
	uc.finishRun(ctx, run)
	uc.logger.Info("rebuild_completed",
		"project", projectID,
		"ref", ref,
		"run_id", run.ID,
		"files_total", run.FilesTotal,
		"files_indexed", run.FilesIndexed,
		"files_skipped", run.FilesSkipped,
		"chunks", run.Chunks,
	)
	return run, nil
}

func (uc *RebuildIndexUseCase) execute(ctx context.Context, run *domain.IndexRun, opts domain.RebuildOptions) error {
	tree, err := uc.source.ListTree(ctx, run.ProjectID, run.Ref)
	if err != nil {
		return fmt.Errorf("fetch tree: %w", err)
	}

	paths := uc.selectPaths(tree)
	run.FilesTotal = len(paths)

	chunks, err := uc.collectChunks(ctx, run, paths)
	if err != nil {
		return err
	}
	run.Chunks = len(chunks)

	if _, err := uc.indexes.Open(run.ProjectID).Build(ctx, chunks, domain.BuildOptions{Append: opts.Append}); err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	return nil
}

func (uc *RebuildIndexUseCase) selectPaths(tree []domain.TreeEntry) []string {
	candidates := structure.Candidates(structure.Classify(tree))
	out := make([]string, 0, len(candidates))
	for _, path := range candidates {
		if structure.ShouldSkip(path) {
			continue
		}
		out = append(out, path)
	}
	return out
}

func (uc *RebuildIndexUseCase) collectChunks(ctx context.Context, run *domain.IndexRun, paths []string) ([]domain.DocumentChunk, error) {
	var chunks []domain.DocumentChunk
	for _, path := range paths {
		content, err := uc.source.GetFile(ctx, run.ProjectID, path, run.Ref)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("fetch files: %w", ctxErr)
			}
			run.FilesSkipped++
			uc.logger.Warn("rebuild_file_skipped", "project", run.ProjectID, "path", path, "error", err)
			continue
		}
		if strings.TrimSpace(content) == "" {
			run.FilesSkipped++
			uc.logger.Debug("rebuild_file_blank", "project", run.ProjectID, "path", path)
			continue
		}

		for i, text := range uc.chunker.Split(content) {
			chunks = append(chunks, domain.DocumentChunk{Path: path, ChunkID: i, Text: text})
		}
		run.FilesIndexed++
	}
	return chunks, nil
}

func (uc *RebuildIndexUseCase) startRun(ctx context.Context, run *domain.IndexRun) {
	if uc.runs == nil {
		return
	}
	if err := uc.runs.StartRun(ctx, run); err != nil {
		uc.logger.Warn("index_run_record_failed", "run_id", run.ID, "stage", "start", "error", err)
	}
}

func (uc *RebuildIndexUseCase) finishRun(ctx context.Context, run *domain.IndexRun) {
	finished := uc.now().UTC()
	run.FinishedAt = &finished
	if uc.runs == nil {
		return
	}
	if err := uc.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		uc.logger.Warn("index_run_record_failed", "run_id", run.ID, "stage", "finish", "error", err)
	}
}
