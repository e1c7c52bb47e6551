package chromemdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookchat/internal/models"
)

func testEntries() []models.ChunkEmbedding {
	return []models.ChunkEmbedding{
		{Chunk: models.Chunk{Content: "branding basics", Book: "Branding", PageNumber: 3, ChunkID: 1}, Embedding: []float32{1, 0, 0}},
		{Chunk: models.Chunk{Content: "advertising reach", Book: "Branding", PageNumber: 7, ChunkID: 1}, Embedding: []float32{0, 1, 0}},
		{Chunk: models.Chunk{Content: "soft skills", Book: "Branding", PageNumber: 9, ChunkID: 2}, Embedding: []float32{0, 0, 1}},
	}
}

func testManifest(name string) models.Manifest {
	return models.Manifest{Name: name, EmbeddingModel: "test-embed", Dimension: 3, Entries: 3, BuiltAt: time.Now().UTC()}
}

func TestBuildAndSearch(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, m.Build(ctx, testManifest("book"), testEntries()))

	idx, err := m.Open(ctx, "book", "test-embed")
	require.NoError(t, err)
	assert.Equal(t, 3, idx.Manifest().Dimension)

	hits, err := idx.Search(ctx, []float32{0.1, 0.9, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "advertising reach", hits[0].Content)
	assert.Equal(t, "Branding", hits[0].Book)
	assert.Equal(t, 7, hits[0].PageNumber)
	assert.Equal(t, 1, hits[0].ChunkID)
}

func TestSearchClampsKToCount(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.Build(ctx, testManifest("book"), testEntries()))

	idx, err := m.Open(ctx, "book", "test-embed")
	require.NoError(t, err)
	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
	assert.Equal(t, "branding basics", hits[0].Content)
}

func TestOpenRejectsOtherEmbeddingModel(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.Build(ctx, testManifest("book"), testEntries()))

	_, err = m.Open(ctx, "book", "another-model")
	assert.ErrorIs(t, err, models.ErrIndexLoad)
}

func TestOpenMissingIndex(t *testing.T) {
	m, err := NewVectorDBManager(t.TempDir())
	require.NoError(t, err)
	_, err = m.Open(context.Background(), "nope", "test-embed")
	assert.ErrorIs(t, err, models.ErrIndexLoad)
}

func TestRebuildOverwrites(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	m, err := NewVectorDBManager(root)
	require.NoError(t, err)
	require.NoError(t, m.Build(ctx, testManifest("book"), testEntries()))

	replacement := []models.ChunkEmbedding{
		{Chunk: models.Chunk{Content: "only entry"}, Embedding: []float32{1, 1, 0}},
	}
	manifest := testManifest("book")
	manifest.Entries = 1
	require.NoError(t, m.Build(ctx, manifest, replacement))

	idx, err := m.Open(ctx, "book", "test-embed")
	require.NoError(t, err)
	hits, err := idx.Search(ctx, []float32{0, 0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "only entry", hits[0].Content)
	assert.Equal(t, 0, hits[0].PageNumber)

	_, err = os.Stat(filepath.Join(root, "book", manifestFile))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(root, "book.old"))
	assert.True(t, os.IsNotExist(err))
}

func TestSearchRejectsDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.Build(ctx, testManifest("book"), testEntries()))

	idx, err := m.Open(ctx, "book", "")
	require.NoError(t, err)
	_, err = idx.Search(ctx, []float32{1, 0}, 1)
	assert.ErrorIs(t, err, models.ErrIndexLoad)
}

func TestMetadataRoundTrip(t *testing.T) {
	chunk := models.Chunk{Content: "x", Book: "Demo", PageNumber: 12, ChunkID: 2}
	got := ChunkFromMetadata("x", CreateMetadata(chunk, 4))
	assert.Equal(t, chunk, got)
}

func TestFailedRebuildKeepsPreviousIndex(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	m, err := NewVectorDBManager(root)
	require.NoError(t, err)
	require.NoError(t, m.Build(ctx, testManifest("book"), testEntries()))

	// chromem refuses a document with neither content nor embedding
	broken := []models.ChunkEmbedding{
		{Chunk: models.Chunk{Content: "fine"}, Embedding: []float32{1, 0, 0}},
		{Chunk: models.Chunk{}},
	}
	assert.Error(t, m.Build(ctx, testManifest("book"), broken))

	idx, err := m.Open(ctx, "book", "test-embed")
	require.NoError(t, err)
	hits, err := idx.Search(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)

	dirs, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, dirs, 1)
	assert.Equal(t, "book", dirs[0].Name())
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, m.Build(ctx, testManifest("book"), testEntries()))

	require.NoError(t, m.Delete(ctx, "book"))
	_, err = m.Open(ctx, "book", "test-embed")
	assert.ErrorIs(t, err, models.ErrIndexLoad)

	assert.NoError(t, m.Delete(ctx, "book"))
	assert.Error(t, m.Delete(ctx, ""))
}
