package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
	"github.com/kirillkom/repo-assistant/internal/core/ports"
	"github.com/kirillkom/repo-assistant/internal/core/structure"
)

type RetrievalOptions struct {
	TopK            int
	StructuralLimit int
	MaxContext      int
	DocKeywords     []string
	ConfigKeywords  []string
}

func DefaultRetrievalOptions() RetrievalOptions {
	return RetrievalOptions{
		TopK:            6,
		StructuralLimit: 10,
		MaxContext:      8,
		DocKeywords:     []string{"readme", "documentation", "docs", "документац"},
		ConfigKeywords:  []string{"config", "конфигурац", "settings", "настройк"},
	}
}

func (o RetrievalOptions) normalize() RetrievalOptions {
	def := DefaultRetrievalOptions()
	if o.TopK <= 0 {
		o.TopK = def.TopK
	}
	if o.StructuralLimit < 0 {
		o.StructuralLimit = 0
	}
	if o.MaxContext <= 0 {
		o.MaxContext = def.MaxContext
	}
	if o.DocKeywords == nil {
		o.DocKeywords = def.DocKeywords
	}
	if o.ConfigKeywords == nil {
		o.ConfigKeywords = def.ConfigKeywords
	}
	return o
}

type AnswerUseCase struct {
	source    ports.SourceTree
	indexes   ports.IndexStore
	generator ports.AnswerGenerator
	opts      RetrievalOptions
	logger    *slog.Logger
}

func NewAnswerUseCase(
	source ports.SourceTree,
	indexes ports.IndexStore,
	generator ports.AnswerGenerator,
	opts RetrievalOptions,
	logger *slog.Logger,
) *AnswerUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		source:    source,
		indexes:   indexes,
		generator: generator,
		opts:      opts.normalize(),
		logger:    logger,
	}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, projectID, question, ref string) (*domain.Answer, error) {
	items, err := uc.Context(ctx, projectID, question, ref)
	if err != nil {
		return nil, err
	}

	text, err := uc.generator.GenerateAnswer(ctx, question, domain.RenderContext(items))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	return &domain.Answer{Text: text, Context: items}, nil
}

// Context gathers structural hints first and vector hits after them. Source
// and index failures only shrink the result.
func (uc *AnswerUseCase) Context(ctx context.Context, projectID, question, ref string) ([]domain.ContextItem, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer context", errors.New("project id is required"))
	}
	if strings.TrimSpace(question) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer context", errors.New("question is required"))
	}
	if strings.TrimSpace(ref) == "" {
		ref = domain.DefaultRef
	}

	items := uc.structuralContext(ctx, projectID, question, ref)
	items = append(items, uc.vectorContext(ctx, projectID, question)...)
	if len(items) > uc.opts.MaxContext {
		items = items[:uc.opts.MaxContext]
	}
	return items, nil
}

func (uc *AnswerUseCase) structuralContext(ctx context.Context, projectID, question, ref string) []domain.ContextItem {
	tree, err := uc.source.ListTree(ctx, projectID, ref)
	if err != nil {
		uc.logger.Warn("answer_tree_unavailable", "project", projectID, "ref", ref, "error", err)
		return nil
	}
	classified := structure.Classify(tree)

	lower := strings.ToLower(question)
	wantDocs := containsAny(lower, uc.opts.DocKeywords)
	wantConfigs := containsAny(lower, uc.opts.ConfigKeywords)

	var paths []string
	if wantDocs {
		paths = append(paths, classified.KeyFiles...)
	}
	if wantConfigs {
		paths = append(paths, classified.Configs...)
	}

	seen := make(map[string]struct{}, len(paths))
	items := make([]domain.ContextItem, 0, min(len(paths), uc.opts.StructuralLimit))
	for _, path := range paths {
		if len(items) >= uc.opts.StructuralLimit {
			break
		}
		if _, ok := seen[path]; ok {
			continue
		}
		seen[path] = struct{}{}
		items = append(items, domain.ContextItem{Kind: domain.ContextStructural, Path: path})
	}
	return items
}

func (uc *AnswerUseCase) vectorContext(ctx context.Context, projectID, question string) []domain.ContextItem {
	index := uc.indexes.Open(projectID)
	hits, err := index.Search(ctx, question, uc.opts.TopK)
	if err != nil {
		if domain.IsKind(err, domain.ErrIndexNotBuilt) {
			uc.logger.Info("answer_index_missing", "project", projectID)
		} else {
			uc.logger.Warn("answer_search_failed", "project", projectID, "error", err)
		}
		return nil
	}

	items := make([]domain.ContextItem, 0, len(hits))
	for _, hit := range hits {
		chunk := hit.Chunk
		if strings.TrimSpace(chunk.Text) == "" {
			continue
		}
		items = append(items, domain.ContextItem{
			Kind:    domain.ContextVector,
			Path:    chunk.Path,
			ChunkID: chunk.ChunkID,
			Text:    chunk.Text,
			Score:   hit.Score,
		})
	}
	return items
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
