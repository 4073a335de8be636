package domain

// QueryHit points at a row of a vector index. Score is the cosine similarity
// of the query and the row. Chunk is the metadata row of the same generation
// that was scored, so it stays valid when a rebuild publishes a newer one.
type QueryHit struct {
	Position   int           `json:"position"`
	Score      float64       `json:"score"`
	Generation string        `json:"generation,omitempty"`
	Chunk      DocumentChunk `json:"chunk"`
}

type ContextKind string

const (
	ContextStructural ContextKind = "structural"
	ContextVector     ContextKind = "vector"
)

const structuralPrefix = "STRUCT: "

type ContextItem struct {
	Kind    ContextKind `json:"kind"`
	Path    string      `json:"path"`
	ChunkID int         `json:"chunk_id,omitempty"`
	Text    string      `json:"text,omitempty"`
	Score   float64     `json:"score,omitempty"`
}

// Render returns the text handed to the answer generator.
func (c ContextItem) Render() string {
	if c.Kind == ContextStructural {
		return structuralPrefix + c.Path
	}
	return c.Text
}

func RenderContext(items []ContextItem) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Render())
	}
	return out
}

type Answer struct {
	Text    string        `json:"text"`
	Context []ContextItem `json:"context"`
}
