package parser

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"bookchat/internal/models"
)

// ChunkPages splits every page on its own so each chunk keeps the book
// and page it came from. With tag set the legacy source prefix is also
// written into the chunk text.
func ChunkPages(pages []models.PageRecord, chunkSize, chunkOverlap int, tag bool) ([]models.Chunk, error) {
	if chunkSize <= 0 || chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("invalid chunking: size %d, overlap %d", chunkSize, chunkOverlap)
	}
	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
	)

	texts := make([]string, 0, len(pages))
	metadatas := make([]map[string]any, 0, len(pages))
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		texts = append(texts, p.Text)
		metadatas = append(metadatas, map[string]any{
			models.MetaBook: p.Book,
			models.MetaPage: p.PageNumber,
		})
	}

	docs, err := textsplitter.CreateDocuments(splitter, texts, metadatas)
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, 0, len(docs))
	lastBook, lastPage, chunkID := "", 0, 0
	for _, d := range docs {
		book, _ := d.Metadata[models.MetaBook].(string)
		page, _ := d.Metadata[models.MetaPage].(int)
		if book != lastBook || page != lastPage {
			lastBook, lastPage, chunkID = book, page, 0
		}
		chunkID++

		content := strings.TrimSpace(d.PageContent)
		if content == "" {
			continue
		}
		if tag {
			content = fmt.Sprintf(models.SourceTagFormat, book, page, content)
		}
		chunks = append(chunks, models.Chunk{
			Content:    content,
			Book:       book,
			PageNumber: page,
			ChunkID:    chunkID,
		})
	}
	return chunks, nil
}

// QuestionChunks turns a question list into provenance-free chunks,
// dropping blanks and exact repeats.
func QuestionChunks(questions []string) []models.Chunk {
	seen := make(map[string]bool, len(questions))
	chunks := make([]models.Chunk, 0, len(questions))
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		chunks = append(chunks, models.Chunk{Content: q})
	}
	return chunks
}
