package rag

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

var vocabulary = []string{"apple", "pie", "recipe", "bake", "car", "engine", "repair", "brand", "logo", "price"}

// wordEmbedder maps text to word counts over a small vocabulary, plus a
// constant component so no vector is zero.
type wordEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *wordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(vocabulary)+1)
	v[len(vocabulary)] = 0.1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, "?.,!")
		for i, voc := range vocabulary {
			if w == voc {
				v[i]++
			}
		}
	}
	return v
}

func (e *wordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail {
		return nil, errors.New("permission denied")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

// scriptedModel answers expansion prompts with variants and every other
// prompt with answer.
type scriptedModel struct {
	mu       sync.Mutex
	variants string
	answer   string
	err      error
	prompts  []string
}

func (m *scriptedModel) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	var prompt strings.Builder
	for _, msg := range messages {
		for _, part := range msg.Parts {
			if t, ok := part.(llms.TextContent); ok {
				prompt.WriteString(t.Text)
			}
		}
	}
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt.String())
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	content := m.answer
	if strings.Contains(prompt.String(), "different versions") {
		content = m.variants
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content}}}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *scriptedModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}
