package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"bookchat/internal/config"
	"bookchat/internal/helper"
	"bookchat/internal/llmservice"
	"bookchat/internal/models"
)

const defaultBatchSize = 100

// NewEmbedder creates the embedder for the configured provider
func NewEmbedder(ctx context.Context, llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        llmConfig.Provider,
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.EmbeddingModel,
	}).Msg("Loaded embedder config")

	client, err := llmservice.NewEmbeddingClient(ctx, llmConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// Batcher embeds texts in fixed-size batches so a single request never
// carries the whole book.
type Batcher struct {
	Embedder  embeddings.Embedder
	BatchSize int
	Retries   int
	Timeout   time.Duration
}

func NewBatcher(embedder embeddings.Embedder, llmConfig *config.LLMConfig, batchSize int) *Batcher {
	return &Batcher{
		Embedder:  embedder,
		BatchSize: batchSize,
		Retries:   llmConfig.Retries,
		Timeout:   time.Duration(llmConfig.TimeoutSecs) * time.Second,
	}
}

// EmbedTexts returns one vector per text in input order. Any failed or
// short batch fails the whole call with ErrEmbeddingService.
func (b *Batcher) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	size := b.BatchSize
	if size <= 0 {
		size = defaultBatchSize
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		batch := texts[start:end]

		var out [][]float32
		err := helper.Retry(ctx, b.Retries, b.Timeout, func(ctx context.Context) error {
			var err error
			out, err = b.Embedder.EmbedDocuments(ctx, batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%w: batch %d-%d: %v", models.ErrEmbeddingService, start, end, err)
		}
		if len(out) != len(batch) {
			return nil, fmt.Errorf("%w: batch %d-%d returned %d vectors for %d texts", models.ErrEmbeddingService, start, end, len(out), len(batch))
		}
		for i, v := range out {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: empty vector for text %d", models.ErrEmbeddingService, start+i)
			}
		}
		vectors = append(vectors, out...)
		log.Debug().Int("from", start).Int("to", end).Int("total", len(texts)).Msg("Embedded batch")
	}
	return vectors, nil
}

// GenerateEmbedding embeds chunks, keeping their order and provenance.
func (b *Batcher) GenerateEmbedding(ctx context.Context, chunks []models.Chunk) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks generated from content")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := b.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	chunkEmbeddings := make([]models.ChunkEmbedding, len(chunks))
	for i, chunk := range chunks {
		chunkEmbeddings[i] = models.ChunkEmbedding{Chunk: chunk, Embedding: vectors[i]}
	}
	return chunkEmbeddings, nil
}
