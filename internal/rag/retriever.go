package rag

import (
	"context"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"bookchat/internal/config"
	"bookchat/internal/embedding"
	"bookchat/internal/llmservice"
	"bookchat/internal/models"
)

var variantPrefixRe = regexp.MustCompile(models.VariantPrefixRegex)

type RetrieverOptions struct {
	TopK            int
	Variants        int
	IncludeOriginal bool
	RelatedK        int
	QuestionsIndex  string
}

func RetrieverOptionsFromConfig(cfg config.RAGConfig) RetrieverOptions {
	return RetrieverOptions{
		TopK:            cfg.TopK,
		Variants:        cfg.QueryVariants,
		IncludeOriginal: cfg.IncludeOriginal,
		RelatedK:        cfg.RelatedK,
		QuestionsIndex:  cfg.QuestionsIndex,
	}
}

// Retrieval is what the retriever found for one question.
type Retrieval struct {
	Variants []string
	Chunks   []models.Chunk
	Related  []string
}

type Retriever struct {
	llm       llms.Model
	llmConfig *config.LLMConfig
	batcher   *embedding.Batcher
	registry  *Registry
	opts      RetrieverOptions
	tmpl      prompts.PromptTemplate
}

func NewRetriever(llm llms.Model, llmConfig *config.LLMConfig, batcher *embedding.Batcher, registry *Registry, opts RetrieverOptions) *Retriever {
	return &Retriever{
		llm:       llm,
		llmConfig: llmConfig,
		batcher:   batcher,
		registry:  registry,
		opts:      opts,
		tmpl:      prompts.NewPromptTemplate(models.MultiQueryPromptTemplate, []string{"count", "question"}),
	}
}

// ExpandQuery asks the chat model for paraphrases of question. A failed
// call falls back to the question alone.
func (r *Retriever) ExpandQuery(ctx context.Context, question string) []string {
	var variants []string
	if r.opts.IncludeOriginal || r.opts.Variants <= 0 {
		variants = append(variants, question)
	}
	if r.opts.Variants <= 0 {
		return variants
	}

	prompt, err := r.tmpl.Format(map[string]any{"count": r.opts.Variants, "question": question})
	if err != nil {
		log.Warn().Err(err).Msg("Failed to render multi-query prompt")
		return []string{question}
	}
	text, err := llmservice.GenerateContent(ctx, r.llm, r.llmConfig, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("Query expansion failed, searching with the question only")
		return []string{question}
	}

	variants = mergeUnique(variants, ParseVariants(text, r.opts.Variants)...)
	if len(variants) == 0 {
		return []string{question}
	}
	return variants
}

// ParseVariants reads one question per line, dropping list markers and
// blanks, and keeps at most limit.
func ParseVariants(text string, limit int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(variantPrefixRe.ReplaceAllString(line, ""))
		if line == "" {
			continue
		}
		out = mergeUnique(out, line)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func mergeUnique(dst []string, items ...string) []string {
	for _, it := range items {
		dup := false
		for _, d := range dst {
			if d == it {
				dup = true
				break
			}
		}
		if !dup {
			dst = append(dst, it)
		}
	}
	return dst
}

// Retrieve searches indexName with every variant of question and merges
// the hits in variant order, keeping the first copy of each passage.
func (r *Retriever) Retrieve(ctx context.Context, indexName, question string) (*Retrieval, error) {
	idx, err := r.registry.Get(ctx, indexName)
	if err != nil {
		return nil, err
	}

	variants := r.ExpandQuery(ctx, question)
	texts := variants
	questionAt := indexOf(variants, question)
	if questionAt < 0 {
		texts = append(append([]string{}, variants...), question)
		questionAt = len(texts) - 1
	}

	vectors, err := r.batcher.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	res := &Retrieval{Variants: variants}
	seen := make(map[string]bool)
	for i := range variants {
		hits, err := idx.Search(ctx, vectors[i], r.opts.TopK)
		if err != nil {
			return nil, err
		}
		for _, h := range hits {
			if seen[h.Content] {
				continue
			}
			seen[h.Content] = true
			res.Chunks = append(res.Chunks, h.Chunk)
		}
	}
	log.Debug().Str("index", indexName).Int("variants", len(variants)).Int("chunks", len(res.Chunks)).Msg("Retrieved passages")

	res.Related = r.related(ctx, question, vectors[questionAt])
	return res, nil
}

// related returns similar questions from the question index, never the
// asked question itself. Any problem with that index only costs the
// suggestions.
func (r *Retriever) related(ctx context.Context, question string, vector []float32) []string {
	if r.opts.QuestionsIndex == "" || r.opts.RelatedK <= 0 {
		return nil
	}
	idx, err := r.registry.Get(ctx, r.opts.QuestionsIndex)
	if err != nil {
		log.Warn().Err(err).Str("index", r.opts.QuestionsIndex).Msg("Question index unavailable, no suggestions")
		return nil
	}
	hits, err := idx.Search(ctx, vector, r.opts.RelatedK+1)
	if err != nil {
		log.Warn().Err(err).Msg("Related question search failed")
		return nil
	}

	asked := normalizeQuestion(question)
	var out []string
	for _, h := range hits {
		if normalizeQuestion(h.Content) == asked {
			continue
		}
		out = append(out, h.Content)
		if len(out) == r.opts.RelatedK {
			break
		}
	}
	return out
}

func normalizeQuestion(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
