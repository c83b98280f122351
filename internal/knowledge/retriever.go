package knowledge

import (
	"context"
	"encoding/json"

	"webforge/internal/llm"
	"webforge/internal/log"
	"webforge/internal/models"
	"webforge/internal/vectorstore"
)

// Retriever answers semantic queries against a project's collections. All
// methods are read-only and degrade to empty results on failure, since
// missing context must not block the pipeline.
type Retriever struct {
	emb llm.Embedder
	vs  vectorstore.Store
	lg  *log.Logger
}

func NewRetriever(emb llm.Embedder, vs vectorstore.Store, lg *log.Logger) *Retriever {
	return &Retriever{emb: emb, vs: vs, lg: lg}
}

const codeTopK = 2

// Search returns the top-K nearest code chunks for the query text.
func (r *Retriever) Search(ctx context.Context, project, query string) []models.Chunk {
	vec, err := r.emb.Embed(ctx, query)
	if err != nil {
		r.lg.Warn("query embedding failed", "err", err.Error())
		return nil
	}
	hits, err := r.vs.Search(ctx, vectorstore.CodeCollection(project), vec, codeTopK, nil)
	if err != nil {
		r.lg.Warn("code search failed", "project", project, "err", err.Error())
		return nil
	}
	out := make([]models.Chunk, 0, len(hits))
	for _, h := range hits {
		out = append(out, chunkFromPayload(h.Payload))
	}
	return out
}

// SearchMetadata returns the project's architecture snapshot, or nil when no
// metadata has been indexed.
func (r *Retriever) SearchMetadata(ctx context.Context, project, query string) *models.MetadataSnapshot {
	vec, err := r.emb.Embed(ctx, query)
	if err != nil {
		r.lg.Warn("query embedding failed", "err", err.Error())
		return nil
	}
	hits, err := r.vs.Search(ctx, vectorstore.MetaCollection(project), vec, 1, nil)
	if err != nil || len(hits) == 0 {
		if err != nil {
			r.lg.Warn("metadata search failed", "project", project, "err", err.Error())
		}
		return nil
	}
	return snapshotFromPayload(hits[0].Payload)
}

// SearchFile returns the snippet of the nearest chunk belonging to exactly
// the given file path, or "" when none exists.
func (r *Retriever) SearchFile(ctx context.Context, project, path, query string) string {
	vec, err := r.emb.Embed(ctx, query)
	if err != nil {
		r.lg.Warn("query embedding failed", "err", err.Error())
		return ""
	}
	hits, err := r.vs.Search(ctx, vectorstore.CodeCollection(project), vec, 1,
		&vectorstore.Filter{Key: "filePath", Value: path})
	if err != nil || len(hits) == 0 {
		if err != nil {
			r.lg.Warn("file context search failed", "path", path, "err", err.Error())
		}
		return ""
	}
	s, _ := hits[0].Payload["snippet"].(string)
	return s
}

func chunkFromPayload(p map[string]any) models.Chunk {
	c := models.Chunk{}
	c.FilePath, _ = p["filePath"].(string)
	c.Snippet, _ = p["snippet"].(string)
	if n, ok := p["chunkIndex"].(float64); ok {
		c.ChunkIndex = int(n)
	}
	return c
}

// snapshotFromPayload tolerates both in-process (*models.MetadataSnapshot)
// and JSON-decoded (map[string]any) payload representations.
func snapshotFromPayload(p map[string]any) *models.MetadataSnapshot {
	raw, ok := p["metadata"]
	if !ok {
		return nil
	}
	if s, ok := raw.(*models.MetadataSnapshot); ok {
		return s
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var s models.MetadataSnapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return nil
	}
	return &s
}
