package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"webforge/internal/llm"
	"webforge/internal/log"
	"webforge/internal/models"
	"webforge/internal/vectorstore"
)

// MetadataPayloadType tags the single architecture point in the meta
// collection.
const MetadataPayloadType = "project_architecture"

// Indexer turns a project's file tree into embedded chunks plus a structural
// metadata snapshot.
type Indexer struct {
	emb llm.Embedder
	vs  vectorstore.Store
	lg  *log.Logger
}

func NewIndexer(emb llm.Embedder, vs vectorstore.Store, lg *log.Logger) *Indexer {
	return &Indexer{emb: emb, vs: vs, lg: lg}
}

// PointID derives the deterministic vector point ID for a chunk, so
// re-indexing overwrites instead of duplicating.
func PointID(relPath string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(fmt.Sprintf("%s_%d", relPath, chunkIndex))).String()
}

// MetadataPointID is the fixed ID of the single architecture point.
func MetadataPointID() string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte("metadata")).String()
}

// Index walks the project tree, writes the metadata snapshot and upserts one
// embedded point per chunk. A failure on a single file is logged and skipped;
// a metadata failure fails the whole call.
func (ix *Indexer) Index(ctx context.Context, project models.Project) error {
	files, err := Walk(project.RootPath, nil)
	if err != nil {
		return fmt.Errorf("walk %s: %w", project.RootPath, err)
	}

	snap, err := BuildSnapshot(files)
	if err != nil {
		return fmt.Errorf("build metadata snapshot: %w", err)
	}
	if err := WriteSnapshot(project.RootPath, snap); err != nil {
		return fmt.Errorf("write metadata snapshot: %w", err)
	}
	if err := ix.indexMetadata(ctx, project.Name, snap); err != nil {
		return fmt.Errorf("index metadata: %w", err)
	}

	code := vectorstore.CodeCollection(project.Name)
	if err := ix.vs.EnsureCollection(ctx, code, vectorstore.Dim); err != nil {
		return fmt.Errorf("ensure collection %s: %w", code, err)
	}
	for _, f := range files {
		if err := ix.indexFile(ctx, code, f); err != nil {
			ix.lg.Warn("index file failed", "path", f.RelPath, "err", err.Error())
		}
	}
	ix.lg.Info("indexing complete", "project", project.Name, "files", len(files))
	return nil
}

func (ix *Indexer) indexMetadata(ctx context.Context, name string, snap *models.MetadataSnapshot) error {
	meta := vectorstore.MetaCollection(name)
	if err := ix.vs.EnsureCollection(ctx, meta, vectorstore.Dim); err != nil {
		return err
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	vec, err := ix.emb.Embed(ctx, string(b))
	if err != nil {
		return err
	}
	return ix.vs.Upsert(ctx, meta, []vectorstore.Point{{
		ID:     MetadataPointID(),
		Vector: vec,
		Payload: map[string]any{
			"type":     MetadataPayloadType,
			"metadata": snap,
		},
	}})
}

func (ix *Indexer) indexFile(ctx context.Context, collection string, f FileRef) error {
	b, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return err
	}
	for i, chunk := range SplitChunks(string(b)) {
		vec, err := ix.emb.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embed chunk %d: %w", i, err)
		}
		err = ix.vs.Upsert(ctx, collection, []vectorstore.Point{{
			ID:     PointID(f.RelPath, i),
			Vector: vec,
			Payload: map[string]any{
				"filePath":   f.RelPath,
				"snippet":    chunk,
				"chunkIndex": i,
			},
		}})
		if err != nil {
			return fmt.Errorf("upsert chunk %d: %w", i, err)
		}
	}
	return nil
}

// Drop removes both of the project's vector collections.
func (ix *Indexer) Drop(ctx context.Context, name string) error {
	if err := ix.vs.DeleteCollection(ctx, vectorstore.CodeCollection(name)); err != nil {
		return err
	}
	return ix.vs.DeleteCollection(ctx, vectorstore.MetaCollection(name))
}
