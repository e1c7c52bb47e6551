package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"bookchat/internal/config"
	"bookchat/internal/llmservice"
	"bookchat/internal/models"
)

// Answerer stuffs every retrieved passage into one prompt and makes a
// single chat call.
type Answerer struct {
	llm       llms.Model
	llmConfig *config.LLMConfig
	tmpl      prompts.PromptTemplate
}

func NewAnswerer(llm llms.Model, llmConfig *config.LLMConfig) *Answerer {
	return &Answerer{
		llm:       llm,
		llmConfig: llmConfig,
		tmpl:      prompts.NewPromptTemplate(models.AnswerPromptTemplate, []string{"context", "question"}),
	}
}

// Prompt renders the answer prompt for question over chunks.
func (a *Answerer) Prompt(question string, chunks []models.Chunk) (string, error) {
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, c.Content)
	}
	return a.tmpl.Format(map[string]any{
		"context":  strings.Join(parts, models.ContextSeparator),
		"question": question,
	})
}

// Answer returns a result keyed by output_text.
func (a *Answerer) Answer(ctx context.Context, question string, chunks []models.Chunk) (map[string]string, error) {
	prompt, err := a.Prompt(question, chunks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}
	text, err := llmservice.GenerateContent(ctx, a.llm, a.llmConfig, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}
	return map[string]string{models.OutputTextKey: text}, nil
}
