package rag

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"bookchat/internal/config"
	"bookchat/internal/models"
)

// RAG answers a question against one book: retrieve, answer, locate.
type RAG struct {
	retriever *Retriever
	answerer  *Answerer
	locator   *Locator
}

func NewRAG(retriever *Retriever, answerer *Answerer, locator *Locator) *RAG {
	return &RAG{retriever: retriever, answerer: answerer, locator: locator}
}

func (r *RAG) Query(ctx context.Context, book config.BookConfig, query string) (*models.PromptResponse, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, models.ErrEmptyQuestion
	}

	retrieval, err := r.retriever.Retrieve(ctx, book.Index, query)
	if err != nil {
		return nil, err
	}

	result, err := r.answerer.Answer(ctx, query, retrieval.Chunks)
	if err != nil {
		return nil, err
	}

	src := r.locator.Locate(book.Name(), query, retrieval.Chunks)
	log.Info().Str("book", book.Key).Str("source", src.String()).Int("chunks", len(retrieval.Chunks)).Msg("Answered query")

	return &models.PromptResponse{
		Query:       query,
		Source:      src.String(),
		Content:     result[models.OutputTextKey],
		Book:        src.Book,
		PageNumber:  src.PageNumber,
		ImagePath:   src.ImagePath,
		Chunks:      retrieval.Chunks,
		Suggestions: retrieval.Related,
	}, nil
}
