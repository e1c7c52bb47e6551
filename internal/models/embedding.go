package models

import "time"

// PageRecord is the extracted text of one PDF page.
type PageRecord struct {
	Book       string `json:"book"`
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	Content    string `json:"content"`
	Book       string `json:"book,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
	ChunkID    int    `json:"chunk_id,omitempty"`
}

// HasSource reports whether the chunk carries a usable book and page.
func (c Chunk) HasSource() bool {
	return c.Book != "" && c.PageNumber > 0
}

type ChunkEmbedding struct {
	Chunk
	Embedding []float32 `json:"-"`
}

// ScoredChunk is a search hit, most similar first.
type ScoredChunk struct {
	Chunk
	Similarity float32 `json:"similarity"`
}

// Manifest is persisted next to every index. An index may only be
// queried with vectors from EmbeddingModel.
type Manifest struct {
	Name           string    `yaml:"name" json:"name"`
	EmbeddingModel string    `yaml:"embedding_model" json:"embedding_model"`
	Dimension      int       `yaml:"dimension" json:"dimension"`
	Entries        int       `yaml:"entries" json:"entries"`
	BuiltAt        time.Time `yaml:"built_at" json:"built_at"`
}

type PromptResponse struct {
	Query       string   `json:"query"`
	Source      string   `json:"source"`
	Content     string   `json:"content"`
	Book        string   `json:"book,omitempty"`
	PageNumber  int      `json:"page_number,omitempty"`
	ImagePath   string   `json:"image_path,omitempty"`
	Chunks      []Chunk  `json:"chunks"`
	Suggestions []string `json:"suggestions"`
}

// Turn is one question and its answer inside a chat session.
type Turn struct {
	Question    string    `json:"question"`
	Answer      string    `json:"answer"`
	BookKey     string    `json:"book_key"`
	Book        string    `json:"book,omitempty"`
	PageNumber  int       `json:"page_number,omitempty"`
	ImagePath   string    `json:"image_path,omitempty"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Failed      bool      `json:"failed,omitempty"`
	At          time.Time `json:"at"`
}

// PageMapEntry maps a free-text entry from a spreadsheet to a page.
type PageMapEntry struct {
	Text       string
	PageNumber int
}
