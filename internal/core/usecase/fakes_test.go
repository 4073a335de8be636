package usecase

import (
	"context"
	"strings"
	"sync"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
	"github.com/kirillkom/repo-assistant/internal/core/ports"
)

type sourceFake struct {
	tree     []domain.TreeEntry
	treeErr  error
	files    map[string]string
	fileErrs map[string]error

	mu       sync.Mutex
	fetched  []string
	treeRefs []string
}

func (f *sourceFake) ListTree(_ context.Context, _ string, ref string) ([]domain.TreeEntry, error) {
	f.mu.Lock()
	f.treeRefs = append(f.treeRefs, ref)
	f.mu.Unlock()
	if f.treeErr != nil {
		return nil, f.treeErr
	}
	return f.tree, nil
}

func (f *sourceFake) GetFile(_ context.Context, _ string, path, _ string) (string, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, path)
	f.mu.Unlock()
	if err := f.fileErrs[path]; err != nil {
		return "", err
	}
	return f.files[path], nil
}

func blobs(paths ...string) []domain.TreeEntry {
	out := make([]domain.TreeEntry, 0, len(paths))
	for _, p := range paths {
		out = append(out, domain.TreeEntry{Path: p, Kind: domain.EntryBlob})
	}
	return out
}

type lineChunker struct{}

// Split returns one chunk per non-empty line.
func (lineChunker) Split(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

type indexFake struct {
	built     []domain.DocumentChunk
	buildOpts domain.BuildOptions
	buildErr  error
	hits      []domain.QueryHit
	searchErr error
	chunks    map[int]domain.DocumentChunk
	info      domain.IndexInfo
	infoErr   error
	searchK   int
}

func (f *indexFake) Build(_ context.Context, chunks []domain.DocumentChunk, opts domain.BuildOptions) (domain.IndexInfo, error) {
	f.built = chunks
	f.buildOpts = opts
	return domain.IndexInfo{Rows: len(chunks)}, f.buildErr
}

func (f *indexFake) Search(_ context.Context, _ string, k int) ([]domain.QueryHit, error) {
	f.searchK = k
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	hits := make([]domain.QueryHit, 0, len(f.hits))
	for _, hit := range f.hits {
		if hit.Chunk == (domain.DocumentChunk{}) {
			hit.Chunk = f.chunks[hit.Position]
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (f *indexFake) Chunk(_ context.Context, position int) (domain.DocumentChunk, bool) {
	c, ok := f.chunks[position]
	return c, ok
}

func (f *indexFake) Info(context.Context) (domain.IndexInfo, error) {
	return f.info, f.infoErr
}

type storeFake struct {
	index  *indexFake
	opened []string
}

func (s *storeFake) Open(projectID string) ports.VectorIndex {
	s.opened = append(s.opened, projectID)
	return s.index
}

type generatorFake struct {
	question string
	contexts []string
	err      error
}

func (g *generatorFake) GenerateAnswer(_ context.Context, question string, contexts []string) (string, error) {
	g.question = question
	g.contexts = contexts
	if g.err != nil {
		return "", g.err
	}
	return "answer", nil
}

type runRepoFake struct {
	started  []domain.IndexRun
	finished []domain.IndexRun
	latest   *domain.IndexRun
	err      error
}

func (r *runRepoFake) StartRun(_ context.Context, run *domain.IndexRun) error {
	r.started = append(r.started, *run)
	return r.err
}

func (r *runRepoFake) FinishRun(_ context.Context, run *domain.IndexRun) error {
	r.finished = append(r.finished, *run)
	return r.err
}

func (r *runRepoFake) LatestRun(context.Context, string) (*domain.IndexRun, error) {
	if r.latest == nil {
		return nil, domain.ErrNotFound
	}
	return r.latest, nil
}
