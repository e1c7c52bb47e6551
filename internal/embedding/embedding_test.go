package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookchat/internal/models"
)

type countingEmbedder struct {
	calls   [][]string
	failOn  int
	dropOne bool
}

func (e *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.calls = append(e.calls, texts)
	if e.failOn > 0 && len(e.calls) == e.failOn {
		return nil, errors.New("invalid api key")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	if e.dropOne && len(out) > 0 {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (e *countingEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func TestEmbedTextsBatchesInOrder(t *testing.T) {
	e := &countingEmbedder{}
	b := &Batcher{Embedder: e, BatchSize: 2}

	vectors, err := b.EmbedTexts(context.Background(), []string{"a", "bb", "ccc", "dddd", "eeeee"})
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	assert.Len(t, e.calls, 3)
	assert.Equal(t, []string{"eeeee"}, e.calls[2])
	for i, v := range vectors {
		assert.Equal(t, float32(i+1), v[0])
	}
}

func TestEmbedTextsFailsWholeRun(t *testing.T) {
	e := &countingEmbedder{failOn: 2}
	b := &Batcher{Embedder: e, BatchSize: 1}

	vectors, err := b.EmbedTexts(context.Background(), []string{"a", "b", "c"})
	assert.ErrorIs(t, err, models.ErrEmbeddingService)
	assert.Nil(t, vectors)
	assert.Len(t, e.calls, 2)
}

func TestEmbedTextsRejectsShortBatch(t *testing.T) {
	b := &Batcher{Embedder: &countingEmbedder{dropOne: true}, BatchSize: 10}
	_, err := b.EmbedTexts(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, models.ErrEmbeddingService)
}

func TestGenerateEmbeddingKeepsProvenance(t *testing.T) {
	b := &Batcher{Embedder: &countingEmbedder{}}
	chunks := []models.Chunk{
		{Content: "first", Book: "Demo", PageNumber: 1, ChunkID: 1},
		{Content: "second one", Book: "Demo", PageNumber: 2, ChunkID: 1},
	}

	out, err := b.GenerateEmbedding(context.Background(), chunks)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, chunks[1], out[1].Chunk)
	assert.Equal(t, float32(len("second one")), out[1].Embedding[0])
}

func TestGenerateEmbeddingEmpty(t *testing.T) {
	b := &Batcher{Embedder: &countingEmbedder{}}
	out, err := b.GenerateEmbedding(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
