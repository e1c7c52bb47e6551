package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"bookchat/internal/models"
	"bookchat/internal/vectorstore"
)

// Every index lives in its own directory:
//
//	<root>/<name>/manifest.yaml
//	<root>/<name>/vectors/...   chromem-go persistence files
const (
	manifestFile = "manifest.yaml"
	vectorsDir   = "vectors"
	compress     = false
)

var _ vectorstore.Storage = (*VectorDBManager)(nil)

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	root     string
	compress bool
}

// NewVectorDBManager initializes a new vector database manager rooted at dbPath
func NewVectorDBManager(dbPath string) (*VectorDBManager, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	if err := os.MkdirAll(dbPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index root: %v", err)
	}
	return &VectorDBManager{root: dbPath, compress: compress}, nil
}

func (m *VectorDBManager) dir(name string) string {
	return filepath.Join(m.root, name)
}

// Build writes a fresh index next to the live one and swaps it in only
// once it is complete, so a failed build keeps the previous index.
func (m *VectorDBManager) Build(ctx context.Context, manifest models.Manifest, entries []models.ChunkEmbedding) error {
	if manifest.Name == "" {
		return errors.New("index name is required")
	}
	tmp, err := os.MkdirTemp(m.root, "."+manifest.Name+"-build-")
	if err != nil {
		return fmt.Errorf("failed to create build directory: %v", err)
	}
	if err := m.write(ctx, tmp, manifest, entries); err != nil {
		if rmErr := os.RemoveAll(tmp); rmErr != nil {
			log.Error().Err(rmErr).Str("index", manifest.Name).Msg("Failed to clean up partial index")
		}
		return err
	}
	if err := m.swap(manifest.Name, tmp); err != nil {
		_ = os.RemoveAll(tmp)
		return err
	}
	log.Info().Str("index", manifest.Name).Int("entries", len(entries)).Msg("Index persisted")
	return nil
}

// swap moves a finished build into place. chromem derives its file paths
// from the directory it is opened from, so renaming is safe.
func (m *VectorDBManager) swap(name, built string) error {
	dir := m.dir(name)
	old := dir + ".old"
	if err := os.RemoveAll(old); err != nil {
		return fmt.Errorf("failed to remove stale backup of %s: %v", name, err)
	}
	hadPrevious := true
	if err := os.Rename(dir, old); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to move previous index %s aside: %v", name, err)
		}
		hadPrevious = false
	}
	if err := os.Rename(built, dir); err != nil {
		if hadPrevious {
			if rbErr := os.Rename(old, dir); rbErr != nil {
				log.Error().Err(rbErr).Str("index", name).Msg("Failed to restore previous index")
			}
		}
		return fmt.Errorf("failed to install index %s: %v", name, err)
	}
	if hadPrevious {
		if err := os.RemoveAll(old); err != nil {
			log.Warn().Err(err).Str("index", name).Msg("Failed to remove previous index")
		}
	}
	return nil
}

func (m *VectorDBManager) write(ctx context.Context, dir string, manifest models.Manifest, entries []models.ChunkEmbedding) error {
	db, err := chromem.NewPersistentDB(filepath.Join(dir, vectorsDir), m.compress)
	if err != nil {
		return fmt.Errorf("failed to create database: %v", err)
	}
	c, err := db.CreateCollection(manifest.Name, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to create collection: %v", err)
	}

	docs := make([]chromem.Document, 0, len(entries))
	for i, e := range entries {
		docs = append(docs, chromem.Document{
			ID:        fmt.Sprintf("%s-%d", manifest.Name, i),
			Content:   e.Content,
			Metadata:  CreateMetadata(e.Chunk, i),
			Embedding: e.Embedding,
		})
	}
	if len(docs) > 0 {
		if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return fmt.Errorf("failed to add documents: %v", err)
		}
	}

	data, err := yaml.Marshal(manifest)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644)
}

// Open loads an index and refuses it when it was built with another
// embedding model.
func (m *VectorDBManager) Open(ctx context.Context, name, embeddingModel string) (vectorstore.Index, error) {
	dir := m.dir(name)
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("%w: index %s: %v", models.ErrIndexLoad, name, err)
	}
	var manifest models.Manifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("%w: index %s: bad manifest: %v", models.ErrIndexLoad, name, err)
	}
	if embeddingModel != "" && manifest.EmbeddingModel != embeddingModel {
		return nil, fmt.Errorf("%w: index %s was built with %q, querying with %q", models.ErrIndexLoad, name, manifest.EmbeddingModel, embeddingModel)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(dir, vectorsDir), m.compress)
	if err != nil {
		return nil, fmt.Errorf("%w: index %s: %v", models.ErrIndexLoad, name, err)
	}
	c := db.GetCollection(name, nil)
	if c == nil {
		return nil, fmt.Errorf("%w: index %s has no collection", models.ErrIndexLoad, name)
	}
	log.Debug().Str("index", name).Int("count", c.Count()).Msg("Index loaded")
	return &Collection{db: db, collection: c, manifest: manifest}, nil
}

// Delete removes an index directory. Deleting a missing index is not an error.
func (m *VectorDBManager) Delete(_ context.Context, name string) error {
	if name == "" {
		return errors.New("index name is required")
	}
	if err := os.RemoveAll(m.dir(name)); err != nil {
		return fmt.Errorf("failed to drop index: %v", err)
	}
	log.Info().Str("index", name).Msg("Index dropped")
	return nil
}

// Export writes an encrypted copy of the index collection to filePath.
func (m *VectorDBManager) Export(ctx context.Context, name, filePath, encryptionKey string) error {
	if encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if filePath == "" {
		return fmt.Errorf("file path is required")
	}
	idx, err := m.Open(ctx, name, "")
	if err != nil {
		return err
	}
	c := idx.(*Collection)

	log.Debug().Msgf("Collection name: %s", name)
	log.Debug().Msgf("File path: %s", filePath)
	log.Debug().Msgf("Compress: %t", m.compress)
	if err := c.db.ExportToFile(filePath, m.compress, encryptionKey, name); err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	return nil
}

// Collection is one opened index.
type Collection struct {
	db         *chromem.DB
	collection *chromem.Collection
	manifest   models.Manifest
}

func (c *Collection) Manifest() models.Manifest { return c.manifest }

// Search returns the k nearest chunks to embedding.
func (c *Collection) Search(ctx context.Context, embedding []float32, k int) ([]models.ScoredChunk, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	if c.manifest.Dimension > 0 && len(embedding) != c.manifest.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", models.ErrIndexLoad, len(embedding), c.manifest.Dimension)
	}
	// chromem rejects nResults larger than the collection.
	if n := c.collection.Count(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := c.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: embedding,
		NResults:       k,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	hits := make([]models.ScoredChunk, 0, len(results))
	for _, r := range results {
		hits = append(hits, models.ScoredChunk{
			Chunk:      ChunkFromMetadata(r.Content, r.Metadata),
			Similarity: r.Similarity,
		})
	}
	return hits, nil
}

// CreateMetadata flattens chunk provenance into chromem's string metadata.
func CreateMetadata(chunk models.Chunk, ordinal int) map[string]string {
	meta := map[string]string{
		models.MetaOrdinal: strconv.Itoa(ordinal),
	}
	if chunk.Book != "" {
		meta[models.MetaBook] = chunk.Book
	}
	if chunk.PageNumber > 0 {
		meta[models.MetaPage] = strconv.Itoa(chunk.PageNumber)
	}
	if chunk.ChunkID > 0 {
		meta[models.MetaChunkID] = strconv.Itoa(chunk.ChunkID)
	}
	return meta
}

func ChunkFromMetadata(content string, meta map[string]string) models.Chunk {
	chunk := models.Chunk{Content: content, Book: meta[models.MetaBook]}
	if p, err := strconv.Atoi(meta[models.MetaPage]); err == nil {
		chunk.PageNumber = p
	}
	if id, err := strconv.Atoi(meta[models.MetaChunkID]); err == nil {
		chunk.ChunkID = id
	}
	return chunk
}
