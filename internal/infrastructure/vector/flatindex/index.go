package flatindex

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/repo-assistant/internal/core/domain"
)

type generation struct {
	name    string
	dim     int
	vectors []float32
	meta    []domain.DocumentChunk
	builtAt time.Time
}

func (g *generation) rows() int {
	return len(g.meta)
}

func (g *generation) row(i int) []float32 {
	return g.vectors[i*g.dim : (i+1)*g.dim]
}

// Index is the persisted index of one project. Row i of the vector file
// always describes element i of the metadata array.
type Index struct {
	store     *Store
	projectID string
	dir       string
}

func (x *Index) Dir() string {
	return x.dir
}

func (x *Index) Build(ctx context.Context, chunks []domain.DocumentChunk, opts domain.BuildOptions) (domain.IndexInfo, error) {
	logger := x.store.logger
	if len(chunks) == 0 {
		logger.Warn("index_build_empty", "project", x.projectID)
		return domain.IndexInfo{}, nil
	}

	if err := os.MkdirAll(x.dir, 0o755); err != nil {
		return domain.IndexInfo{}, fmt.Errorf("create index dir: %w", err)
	}
	unlock, err := acquireWriteLock(ctx, x.dir, x.store.lockTimeout)
	if err != nil {
		return domain.IndexInfo{}, err
	}
	defer unlock()

	dim, vectors, err := x.embedChunks(ctx, chunks)
	if err != nil {
		return domain.IndexInfo{}, err
	}
	meta := slices.Clone(chunks)

	previous, err := x.currentName()
	if err != nil && !errors.Is(err, domain.ErrIndexNotBuilt) {
		return domain.IndexInfo{}, err
	}

	if opts.Append && previous != "" {
		live, err := x.load(previous)
		if err != nil {
			return domain.IndexInfo{}, fmt.Errorf("load live index for append: %w", err)
		}
		if live.dim != dim {
			return domain.IndexInfo{}, domain.WrapError(domain.ErrDimensionMismatch, "append index",
				fmt.Errorf("live dim %d, new dim %d", live.dim, dim))
		}
		vectors = append(slices.Clone(live.vectors), vectors...)
		meta = append(slices.Clone(live.meta), meta...)
	}

	gen := &generation{
		name:    x.newGenerationName(),
		dim:     dim,
		vectors: vectors,
		meta:    meta,
		builtAt: x.store.now().UTC(),
	}
	if err := x.persist(gen); err != nil {
		return domain.IndexInfo{}, err
	}
	x.store.loaded.Add(x.cacheKey(gen.name), gen)
	x.prune(gen.name, previous)

	logger.Info("index_built",
		"project", x.projectID,
		"generation", gen.name,
		"rows", gen.rows(),
		"dim", gen.dim,
		"append", opts.Append,
	)
	return x.info(gen), nil
}

func (x *Index) Search(ctx context.Context, query string, k int) ([]domain.QueryHit, error) {
	if k <= 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "search index", fmt.Errorf("k must be positive, got %d", k))
	}
	gen, err := x.live()
	if err != nil {
		return nil, err
	}

	embedded, err := x.store.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embedded) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(embedded))
	}
	if len(embedded[0]) != gen.dim {
		return nil, domain.WrapError(domain.ErrDimensionMismatch, "search index",
			fmt.Errorf("index dim %d, query dim %d", gen.dim, len(embedded[0])))
	}
	q := NormalizeL2(embedded[0])

	hits := make([]domain.QueryHit, gen.rows())
	for i := range hits {
		hits[i] = domain.QueryHit{
			Position:   i,
			Score:      dot(q, gen.row(i)),
			Generation: gen.name,
			Chunk:      gen.meta[i],
		}
	}
	slices.SortFunc(hits, func(a, b domain.QueryHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Chunk returns the metadata row at position in the live generation. Missing
// indexes, unreadable metadata and out-of-range positions are all absent.
// Hits returned by Search already carry their row.
func (x *Index) Chunk(_ context.Context, position int) (domain.DocumentChunk, bool) {
	gen, err := x.live()
	if err != nil {
		return domain.DocumentChunk{}, false
	}
	if position < 0 || position >= gen.rows() {
		return domain.DocumentChunk{}, false
	}
	return gen.meta[position], true
}

func (x *Index) ChunkText(ctx context.Context, position int) (string, bool) {
	chunk, ok := x.Chunk(ctx, position)
	return chunk.Text, ok
}

func (x *Index) Info(_ context.Context) (domain.IndexInfo, error) {
	gen, err := x.live()
	if err != nil {
		return domain.IndexInfo{}, err
	}
	return x.info(gen), nil
}

func (x *Index) info(gen *generation) domain.IndexInfo {
	return domain.IndexInfo{
		ProjectID:  x.projectID,
		Generation: gen.name,
		Dim:        gen.dim,
		Rows:       gen.rows(),
		BuiltAt:    gen.builtAt,
	}
}

func (x *Index) embedChunks(ctx context.Context, chunks []domain.DocumentChunk) (int, []float32, error) {
	batch := x.store.batchSize
	dim := 0
	vectors := make([]float32, 0)
	for start := 0; start < len(chunks); start += batch {
		end := min(start+batch, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}

		embedded, err := x.store.embedder.Embed(ctx, texts)
		if err != nil {
			return 0, nil, fmt.Errorf("embed chunks: %w", err)
		}
		if len(embedded) != len(texts) {
			return 0, nil, fmt.Errorf("embed chunks: expected %d vectors, got %d", len(texts), len(embedded))
		}
		for _, v := range embedded {
			if dim == 0 {
				dim = len(v)
			}
			if len(v) == 0 || len(v) != dim {
				return 0, nil, domain.WrapError(domain.ErrDimensionMismatch, "embed chunks",
					fmt.Errorf("expected dim %d, got %d", dim, len(v)))
			}
			vectors = append(vectors, NormalizeL2(v)...)
		}
	}
	return dim, vectors, nil
}

// persist writes vectors then metadata into a fresh generation directory and
// publishes it by renaming CURRENT.
func (x *Index) persist(gen *generation) error {
	genDir := filepath.Join(x.dir, gen.name)
	if err := os.Mkdir(genDir, 0o755); err != nil {
		return fmt.Errorf("create generation dir: %w", err)
	}
	if err := writeVectors(filepath.Join(genDir, vectorsFile), gen.dim, gen.vectors); err != nil {
		os.RemoveAll(genDir)
		return err
	}
	if err := writeMeta(filepath.Join(genDir, metaFile), gen.meta); err != nil {
		os.RemoveAll(genDir)
		return err
	}
	if err := os.Chtimes(genDir, gen.builtAt, gen.builtAt); err != nil {
		x.store.logger.Warn("index_generation_chtimes_failed", "project", x.projectID, "error", err)
	}

	tmp, err := os.CreateTemp(x.dir, ".current-*")
	if err != nil {
		os.RemoveAll(genDir)
		return fmt.Errorf("create pointer temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(gen.name + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		os.RemoveAll(genDir)
		return fmt.Errorf("write pointer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		os.RemoveAll(genDir)
		return fmt.Errorf("close pointer: %w", err)
	}
	if err := os.Rename(tmpName, filepath.Join(x.dir, currentFile)); err != nil {
		os.Remove(tmpName)
		os.RemoveAll(genDir)
		return fmt.Errorf("publish generation: %w", err)
	}
	return nil
}

// prune removes generations other than the live and the previous one.
func (x *Index) prune(live, previous string) {
	entries, err := os.ReadDir(x.dir)
	if err != nil {
		x.store.logger.Warn("index_prune_failed", "project", x.projectID, "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == live || e.Name() == previous {
			continue
		}
		if err := os.RemoveAll(filepath.Join(x.dir, e.Name())); err != nil {
			x.store.logger.Warn("index_prune_failed", "project", x.projectID, "generation", e.Name(), "error", err)
			continue
		}
		x.store.loaded.Remove(x.cacheKey(e.Name()))
	}
}

func (x *Index) live() (*generation, error) {
	name, err := x.currentName()
	if err != nil {
		return nil, err
	}
	return x.load(name)
}

func (x *Index) currentName() (string, error) {
	data, err := os.ReadFile(filepath.Join(x.dir, currentFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", domain.WrapError(domain.ErrIndexNotBuilt, "read index pointer", fmt.Errorf("project %s", x.projectID))
		}
		return "", fmt.Errorf("read index pointer: %w", err)
	}
	name := strings.TrimSpace(string(data))
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", domain.WrapError(domain.ErrIndexCorrupt, "read index pointer", fmt.Errorf("bad generation %q", name))
	}
	return name, nil
}

func (x *Index) load(name string) (*generation, error) {
	key := x.cacheKey(name)
	if gen, ok := x.store.loaded.Get(key); ok {
		return gen, nil
	}

	genDir := filepath.Join(x.dir, name)
	dim, vectors, err := readVectors(filepath.Join(genDir, vectorsFile))
	if err != nil {
		return nil, err
	}
	meta, err := readMeta(filepath.Join(genDir, metaFile))
	if err != nil {
		return nil, err
	}
	if len(vectors)/dim != len(meta) {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load index",
			fmt.Errorf("%d vector rows, %d metadata rows", len(vectors)/dim, len(meta)))
	}

	builtAt := time.Time{}
	if st, err := os.Stat(genDir); err == nil {
		builtAt = st.ModTime().UTC()
	}
	gen := &generation{name: name, dim: dim, vectors: vectors, meta: meta, builtAt: builtAt}
	x.store.loaded.Add(key, gen)
	return gen, nil
}

func (x *Index) cacheKey(name string) string {
	return x.dir + string(filepath.Separator) + name
}

func (x *Index) newGenerationName() string {
	return x.store.now().UTC().Format("20060102T150405.000000000Z") + "-" + uuid.NewString()[:8]
}
