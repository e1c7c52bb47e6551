package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"bookchat/internal/embedding"
	"bookchat/internal/models"
	"bookchat/internal/parser"
	"bookchat/internal/vectorstore"
)

// Indexer embeds chunks and persists them as a named index.
type Indexer struct {
	store          vectorstore.Storage
	batcher        *embedding.Batcher
	embeddingModel string
}

func NewIndexer(store vectorstore.Storage, batcher *embedding.Batcher, embeddingModel string) *Indexer {
	return &Indexer{store: store, batcher: batcher, embeddingModel: embeddingModel}
}

// Build replaces the index called name. Every chunk is embedded before
// the store is touched, so a failed run leaves the previous index alone.
func (ix *Indexer) Build(ctx context.Context, name string, chunks []models.Chunk) (models.Manifest, error) {
	if name == "" {
		return models.Manifest{}, errors.New("index name is required")
	}
	if len(chunks) == 0 {
		return models.Manifest{}, fmt.Errorf("no chunks to index for %s", name)
	}

	log.Info().Str("index", name).Int("chunks", len(chunks)).Msg("Embedding chunks")
	entries, err := ix.batcher.GenerateEmbedding(ctx, chunks)
	if err != nil {
		return models.Manifest{}, err
	}

	dim := len(entries[0].Embedding)
	for i, e := range entries {
		if len(e.Embedding) != dim {
			return models.Manifest{}, fmt.Errorf("%w: entry %d has dimension %d, expected %d", models.ErrEmbeddingService, i, len(e.Embedding), dim)
		}
	}

	manifest := models.Manifest{
		Name:           name,
		EmbeddingModel: ix.embeddingModel,
		Dimension:      dim,
		Entries:        len(entries),
		BuiltAt:        time.Now().UTC(),
	}
	if err := ix.store.Build(ctx, manifest, entries); err != nil {
		return models.Manifest{}, fmt.Errorf("failed to persist index %s: %w", name, err)
	}
	return manifest, nil
}

// BuildQuestions indexes a question list for related-question lookups.
func (ix *Indexer) BuildQuestions(ctx context.Context, name string, questions []string) (models.Manifest, error) {
	return ix.Build(ctx, name, parser.QuestionChunks(questions))
}
