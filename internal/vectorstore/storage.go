package vectorstore

import (
	"context"

	"bookchat/internal/models"
)

// Storage persists named indexes of chunk embeddings. Build replaces any
// index of the same name; there is no incremental update.
type Storage interface {
	Build(ctx context.Context, manifest models.Manifest, entries []models.ChunkEmbedding) error
	Open(ctx context.Context, name, embeddingModel string) (Index, error)
	Delete(ctx context.Context, name string) error
}

// Index answers nearest-neighbour queries, most similar first.
type Index interface {
	Search(ctx context.Context, embedding []float32, k int) ([]models.ScoredChunk, error)
	Manifest() models.Manifest
}
