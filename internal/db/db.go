package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"bookchat/internal/config"
	"bookchat/internal/models"
	"bookchat/internal/vectorstore"
)

// Vector is a pgvector column value, encoded as "[1,2,3]".
type Vector []float32

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return nil, nil
	}
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String(), nil
}

func (v *Vector) Scan(src interface{}) error {
	var s string
	switch t := src.(type) {
	case nil:
		*v = nil
		return nil
	case []byte:
		s = string(t)
	case string:
		s = t
	default:
		return fmt.Errorf("cannot scan %T into Vector", src)
	}
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		*v = Vector{}
		return nil
	}
	parts := strings.Split(s, ",")
	out := make(Vector, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return fmt.Errorf("bad vector element %q: %w", p, err)
		}
		out[i] = float32(f)
	}
	*v = out
	return nil
}

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            int64   `bun:"id,pk,autoincrement"`
	IndexName     string  `bun:"index_name,notnull"`
	Ordinal       int     `bun:"ordinal,notnull"`
	Content       string  `bun:"content,notnull"`
	Book          string  `bun:"book"`
	PageNumber    int     `bun:"page_number"`
	ChunkID       int     `bun:"chunk_id"`
	Embedding     Vector  `bun:"embedding,notnull,type:vector"`
	Similarity    float32 `bun:"similarity,scanonly"`
}

type IndexManifest struct {
	bun.BaseModel  `bun:"table:index_manifests,alias:m"`
	Name           string    `bun:"name,pk"`
	EmbeddingModel string    `bun:"embedding_model,notnull"`
	Dimension      int       `bun:"dimension,notnull"`
	Entries        int       `bun:"entries,notnull"`
	BuiltAt        time.Time `bun:"built_at,notnull"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}
	opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
	if cfg.Password != "" {
		opts = append(opts, pgdriver.WithPassword(cfg.Password))
	}
	return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return err
	}
	if _, err := db.NewCreateTable().Model((*IndexManifest)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateIndex().Model((*Document)(nil)).Index("documents_index_name_idx").IfNotExists().Column("index_name").Exec(ctx)
	return err
}

var _ vectorstore.Storage = (*Store)(nil)

// Store keeps every index in one documents table, partitioned by index_name.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// Build replaces the rows and manifest of one index inside a transaction.
func (s *Store) Build(ctx context.Context, manifest models.Manifest, entries []models.ChunkEmbedding) error {
	docs := make([]Document, len(entries))
	for i, e := range entries {
		docs[i] = Document{
			IndexName:  manifest.Name,
			Ordinal:    i,
			Content:    e.Content,
			Book:       e.Book,
			PageNumber: e.PageNumber,
			ChunkID:    e.ChunkID,
			Embedding:  Vector(e.Embedding),
		}
	}
	row := &IndexManifest{
		Name:           manifest.Name,
		EmbeddingModel: manifest.EmbeddingModel,
		Dimension:      manifest.Dimension,
		Entries:        manifest.Entries,
		BuiltAt:        manifest.BuiltAt,
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Document)(nil)).Where("index_name = ?", manifest.Name).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewInsert().Model(row).
			On("CONFLICT (name) DO UPDATE").
			Set("embedding_model = EXCLUDED.embedding_model").
			Set("dimension = EXCLUDED.dimension").
			Set("entries = EXCLUDED.entries").
			Set("built_at = EXCLUDED.built_at").
			Exec(ctx); err != nil {
			return err
		}
		if len(docs) == 0 {
			return nil
		}
		_, err := tx.NewInsert().Model(&docs).Exec(ctx)
		return err
	})
}

func (s *Store) Open(ctx context.Context, name, embeddingModel string) (vectorstore.Index, error) {
	var row IndexManifest
	if err := s.db.NewSelect().Model(&row).Where("name = ?", name).Scan(ctx); err != nil {
		return nil, fmt.Errorf("%w: index %s: %v", models.ErrIndexLoad, name, err)
	}
	if embeddingModel != "" && row.EmbeddingModel != embeddingModel {
		return nil, fmt.Errorf("%w: index %s was built with %q, querying with %q", models.ErrIndexLoad, name, row.EmbeddingModel, embeddingModel)
	}
	log.Debug().Str("index", name).Int("entries", row.Entries).Msg("Index loaded from postgres")
	return &Index{db: s.db, manifest: models.Manifest{
		Name:           row.Name,
		EmbeddingModel: row.EmbeddingModel,
		Dimension:      row.Dimension,
		Entries:        row.Entries,
		BuiltAt:        row.BuiltAt,
	}}, nil
}

// Delete removes the rows and manifest of one index.
func (s *Store) Delete(ctx context.Context, name string) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*Document)(nil)).Where("index_name = ?", name).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewDelete().Model((*IndexManifest)(nil)).Where("name = ?", name).Exec(ctx)
		return err
	})
}

type Index struct {
	db       *bun.DB
	manifest models.Manifest
}

func (i *Index) Manifest() models.Manifest { return i.manifest }

// Search orders by cosine distance; similarity is reported as 1 - distance.
func (i *Index) Search(ctx context.Context, embedding []float32, k int) ([]models.ScoredChunk, error) {
	if i.manifest.Dimension > 0 && len(embedding) != i.manifest.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d", models.ErrIndexLoad, len(embedding), i.manifest.Dimension)
	}
	var docs []Document
	err := i.db.NewSelect().
		Model(&docs).
		Column("content", "book", "page_number", "chunk_id").
		ColumnExpr("1 - (embedding <=> ?) AS similarity", Vector(embedding)).
		Where("index_name = ?", i.manifest.Name).
		OrderExpr("embedding <=> ?", Vector(embedding)).
		Limit(k).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	hits := make([]models.ScoredChunk, 0, len(docs))
	for _, d := range docs {
		hits = append(hits, models.ScoredChunk{
			Chunk: models.Chunk{
				Content:    d.Content,
				Book:       d.Book,
				PageNumber: d.PageNumber,
				ChunkID:    d.ChunkID,
			},
			Similarity: d.Similarity,
		})
	}
	return hits, nil
}
