package flatindex

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/flock"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

type keywordEmbedder struct {
	dim   int
	calls int
}

// Embed counts the words alpha, beta and gamma.
func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		v := make([]float32, e.dim)
		for i, word := range []string{"alpha", "beta", "gamma"} {
			if i < e.dim {
				v[i] = float32(strings.Count(text, word))
			}
		}
		if e.dim > 3 {
			v[3] = 0.01
		}
		out = append(out, v)
	}
	return out, nil
}

func newTestStore(t *testing.T, emb *keywordEmbedder) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir(), emb, Options{LockTimeout: 50 * time.Millisecond, BatchSize: 2})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}

func sampleChunks() []domain.DocumentChunk {
	return []domain.DocumentChunk{
		{Path: "README.md", ChunkID: 0, Text: "alpha alpha"},
		{Path: "main.go", ChunkID: 0, Text: "beta"},
		{Path: "main.go", ChunkID: 1, Text: "gamma gamma gamma"},
		{Path: "config.yaml", ChunkID: 0, Text: "alpha beta"},
	}
}

func TestBuildAndSearch(t *testing.T) {
	emb := &keywordEmbedder{dim: 4}
	idx := newTestStore(t, emb).Index("group/project")
	ctx := context.Background()

	info, err := idx.Build(ctx, sampleChunks(), domain.BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if info.Rows != 4 || info.Dim != 4 || info.Generation == "" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if emb.calls != 2 {
		t.Fatalf("expected 2 embedding batches, got %d", emb.calls)
	}

	hits, err := idx.Search(ctx, "gamma", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Position != 2 {
		t.Fatalf("expected gamma chunk first, got %+v", hits)
	}
	if math.Abs(hits[0].Score-1) > 1e-3 {
		t.Fatalf("expected near-unit score, got %f", hits[0].Score)
	}
	if hits[0].Score < hits[1].Score {
		t.Fatalf("hits not sorted: %+v", hits)
	}

	chunk, ok := idx.Chunk(ctx, hits[0].Position)
	if !ok || chunk.Path != "main.go" || chunk.ChunkID != 1 {
		t.Fatalf("Chunk() = %+v, %v", chunk, ok)
	}
	if hits[0].Chunk != chunk {
		t.Fatalf("hit row %+v differs from Chunk() %+v", hits[0].Chunk, chunk)
	}
}

func TestSearchReturnsAtMostRows(t *testing.T) {
	idx := newTestStore(t, &keywordEmbedder{dim: 4}).Index("p")
	ctx := context.Background()
	if _, err := idx.Build(ctx, sampleChunks()[:2], domain.BuildOptions{}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	hits, err := idx.Search(ctx, "alpha", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Position < 0 || h.Position >= 2 {
			t.Fatalf("invalid position %d", h.Position)
		}
	}
}

func TestSearchTiesOrderedByPosition(t *testing.T) {
	idx := newTestStore(t, &keywordEmbedder{dim: 4}).Index("p")
	ctx := context.Background()
	chunks := []domain.DocumentChunk{
		{Path: "a", Text: "beta"},
		{Path: "b", Text: "beta"},
		{Path: "c", Text: "beta"},
	}
	if _, err := idx.Build(ctx, chunks, domain.BuildOptions{}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	hits, err := idx.Search(ctx, "beta", 3)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	for i, h := range hits {
		if h.Position != i {
			t.Fatalf("expected position %d at rank %d, got %+v", i, i, hits)
		}
	}
}

func TestBuildEmptyIsNoop(t *testing.T) {
	emb := &keywordEmbedder{dim: 4}
	idx := newTestStore(t, emb).Index("p")
	info, err := idx.Build(context.Background(), nil, domain.BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if info != (domain.IndexInfo{}) {
		t.Fatalf("expected zero info, got %+v", info)
	}
	if emb.calls != 0 {
		t.Fatalf("expected no embedding calls")
	}
	if _, err := os.Stat(idx.Dir()); !os.IsNotExist(err) {
		t.Fatalf("expected no index dir, stat err = %v", err)
	}
}

func TestSearchBeforeBuild(t *testing.T) {
	idx := newTestStore(t, &keywordEmbedder{dim: 4}).Index("p")
	_, err := idx.Search(context.Background(), "alpha", 3)
	if !errors.Is(err, domain.ErrIndexNotBuilt) {
		t.Fatalf("expected ErrIndexNotBuilt, got %v", err)
	}
	if _, ok := idx.Chunk(context.Background(), 0); ok {
		t.Fatalf("expected absent chunk")
	}
}

func TestSearchRejectsNonPositiveK(t *testing.T) {
	idx := newTestStore(t, &keywordEmbedder{dim: 4}).Index("p")
	if _, err := idx.Search(context.Background(), "alpha", 0); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestChunkOutOfRange(t *testing.T) {
	idx := newTestStore(t, &keywordEmbedder{dim: 4}).Index("p")
	ctx := context.Background()
	if _, err := idx.Build(ctx, sampleChunks(), domain.BuildOptions{}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, pos := range []int{-1, 4, 100} {
		if _, ok := idx.Chunk(ctx, pos); ok {
			t.Fatalf("expected absent chunk at %d", pos)
		}
	}
	if text, ok := idx.ChunkText(ctx, 0); !ok || text != "alpha alpha" {
		t.Fatalf("ChunkText(0) = %q, %v", text, ok)
	}
}

func TestSearchHitsKeepScoredGenerationAcrossRebuild(t *testing.T) {
	idx := newTestStore(t, &keywordEmbedder{dim: 4}).Index("p")
	ctx := context.Background()
	first, err := idx.Build(ctx, []domain.DocumentChunk{
		{Path: "old", ChunkID: 0, Text: "alpha"},
		{Path: "old", ChunkID: 1, Text: "beta"},
	}, domain.BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	hits, err := idx.Search(ctx, "beta", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Position != 1 {
		t.Fatalf("unexpected hits: %+v", hits)
	}

	if _, err := idx.Build(ctx, []domain.DocumentChunk{
		{Path: "new", ChunkID: 0, Text: "gamma"},
		{Path: "new", ChunkID: 1, Text: "gamma gamma"},
	}, domain.BuildOptions{}); err != nil {
		t.Fatalf("rebuild error = %v", err)
	}

	hit := hits[0]
	if hit.Generation != first.Generation {
		t.Fatalf("hit generation = %q, want %q", hit.Generation, first.Generation)
	}
	if hit.Chunk.Path != "old" || hit.Chunk.ChunkID != 1 || hit.Chunk.Text != "beta" {
		t.Fatalf("hit carries wrong row: %+v", hit.Chunk)
	}
	if live, ok := idx.Chunk(ctx, hit.Position); !ok || live.Path != "new" {
		t.Fatalf("Chunk() should resolve against the live generation, got %+v, %v", live, ok)
	}
}

func TestRebuildReplacesContents(t *testing.T) {
	store := newTestStore(t, &keywordEmbedder{dim: 4})
	idx := store.Index("p")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		info, err := idx.Build(ctx, sampleChunks(), domain.BuildOptions{})
		if err != nil {
			t.Fatalf("Build() #%d error = %v", i, err)
		}
		if info.Rows != 4 {
			t.Fatalf("expected 4 rows after rebuild %d, got %d", i, info.Rows)
		}
	}

	fresh := newStoreAt(t, store.root)
	info, err := fresh.Index("p").Info(ctx)
	if err != nil {
		t.Fatalf("Info() error = %v", err)
	}
	if info.Rows != 4 {
		t.Fatalf("expected 4 persisted rows, got %d", info.Rows)
	}

	entries, err := os.ReadDir(idx.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	generations := 0
	for _, e := range entries {
		if e.IsDir() {
			generations++
		}
	}
	if generations != 2 {
		t.Fatalf("expected live and previous generation only, got %d", generations)
	}
}

func TestAppendKeepsRowsAndMetadataAligned(t *testing.T) {
	store := newTestStore(t, &keywordEmbedder{dim: 4})
	idx := store.Index("p")
	ctx := context.Background()

	if _, err := idx.Build(ctx, sampleChunks()[:2], domain.BuildOptions{}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	info, err := idx.Build(ctx, sampleChunks()[2:], domain.BuildOptions{Append: true})
	if err != nil {
		t.Fatalf("append Build() error = %v", err)
	}
	if info.Rows != 4 {
		t.Fatalf("expected 4 rows, got %d", info.Rows)
	}

	fresh := newStoreAt(t, store.root).Index("p")
	for i, want := range sampleChunks() {
		got, ok := fresh.Chunk(ctx, i)
		if !ok || got != want {
			t.Fatalf("Chunk(%d) = %+v, %v; want %+v", i, got, ok, want)
		}
	}
	hits, err := fresh.Search(ctx, "gamma", 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if hits[0].Position != 2 {
		t.Fatalf("expected appended gamma chunk at position 2, got %+v", hits)
	}
}

func TestAppendDimensionMismatch(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	first, err := NewStore(root, &keywordEmbedder{dim: 4}, Options{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, err := first.Index("p").Build(ctx, sampleChunks(), domain.BuildOptions{}); err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	second, err := NewStore(root, &keywordEmbedder{dim: 3}, Options{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	_, err = second.Index("p").Build(ctx, sampleChunks(), domain.BuildOptions{Append: true})
	if !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch on append, got %v", err)
	}
	if _, err := second.Index("p").Search(ctx, "alpha", 1); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch on search, got %v", err)
	}
}

func TestConcurrentBuildIsBusy(t *testing.T) {
	idx := newTestStore(t, &keywordEmbedder{dim: 4}).Index("p")
	if err := os.MkdirAll(idx.Dir(), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	holder := flock.New(filepath.Join(idx.Dir(), lockFile))
	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("TryLock() = %v, %v", locked, err)
	}
	defer holder.Unlock()

	_, err = idx.Build(context.Background(), sampleChunks(), domain.BuildOptions{})
	if !errors.Is(err, domain.ErrIndexBusy) {
		t.Fatalf("expected ErrIndexBusy, got %v", err)
	}
}

func TestCorruptVectorFile(t *testing.T) {
	store := newTestStore(t, &keywordEmbedder{dim: 4})
	ctx := context.Background()
	info, err := store.Index("p").Build(ctx, sampleChunks(), domain.BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	path := filepath.Join(store.Index("p").Dir(), info.Generation, vectorsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read vectors: %v", err)
	}
	if err := os.WriteFile(path, data[:len(data)-4], 0o644); err != nil {
		t.Fatalf("truncate vectors: %v", err)
	}

	fresh := newStoreAt(t, store.root).Index("p")
	if _, err := fresh.Search(ctx, "alpha", 1); !errors.Is(err, domain.ErrIndexCorrupt) {
		t.Fatalf("expected ErrIndexCorrupt, got %v", err)
	}
}

func TestMetadataCountMismatchIsCorrupt(t *testing.T) {
	store := newTestStore(t, &keywordEmbedder{dim: 4})
	ctx := context.Background()
	info, err := store.Index("p").Build(ctx, sampleChunks(), domain.BuildOptions{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	metaPath := filepath.Join(store.Index("p").Dir(), info.Generation, metaFile)
	if err := os.WriteFile(metaPath, []byte(`[{"path":"a","chunk_id":0,"text":"x"}]`), 0o644); err != nil {
		t.Fatalf("write meta: %v", err)
	}
	fresh := newStoreAt(t, store.root).Index("p")
	if _, err := fresh.Info(ctx); !errors.Is(err, domain.ErrIndexCorrupt) {
		t.Fatalf("expected ErrIndexCorrupt, got %v", err)
	}
	if _, ok := fresh.Chunk(ctx, 0); ok {
		t.Fatalf("expected absent chunk for corrupt index")
	}
}

func TestSafeName(t *testing.T) {
	cases := map[string]string{
		"group/proj":     "group_proj",
		"12345":          "12345",
		"a b:c":          "a_b_c",
		"../../etc":      ".._.._etc",
		"..":             "___",
		"":               "_",
		"owner/repo.git": "owner_repo.git",
	}
	for in, want := range cases {
		if got := SafeName(in); got != want {
			t.Fatalf("SafeName(%q) = %q, want %q", in, got, want)
		}
		if strings.ContainsRune(SafeName(in), filepath.Separator) {
			t.Fatalf("SafeName(%q) contains a separator", in)
		}
	}
}

func TestNormalizeL2(t *testing.T) {
	got := NormalizeL2([]float32{3, 4})
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Fatalf("unexpected normalized vector: %v", got)
	}
	zero := NormalizeL2([]float32{0, 0})
	if zero[0] != 0 || zero[1] != 0 {
		t.Fatalf("zero vector changed: %v", zero)
	}
}

func newStoreAt(t *testing.T, root string) *Store {
	t.Helper()
	store, err := NewStore(root, &keywordEmbedder{dim: 4}, Options{})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store
}
