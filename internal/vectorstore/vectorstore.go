package vectorstore

import "context"

// Point is a single embedding plus payload, keyed by a deterministic ID so
// repeated upserts overwrite instead of duplicating.
type Point struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

// Scored is a search hit; higher score means closer (cosine similarity).
type Scored struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Filter restricts search to points whose payload key matches value exactly.
type Filter struct {
	Key   string
	Value string
}

// Store defines the vector-store operations the engine needs.
type Store interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	EnsureCollection(ctx context.Context, name string, dim int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	Search(ctx context.Context, collection string, vector []float32, limit int, filter *Filter) ([]Scored, error)
	DeleteCollection(ctx context.Context, name string) error
}

// Dim is the embedding dimension of the sentence-transformer model served by
// the embedding service.
const Dim = 384

// CodeCollection returns the per-project code-chunk collection name.
func CodeCollection(project string) string { return "project_" + project }

// MetaCollection returns the per-project architecture-metadata collection name.
func MetaCollection(project string) string { return "meta_" + project }
