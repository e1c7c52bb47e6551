package rag

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookchat/internal/chromemdb"
	"bookchat/internal/config"
	"bookchat/internal/embedding"
	"bookchat/internal/models"
)

const testEmbeddingModel = "word-count"

type fixture struct {
	store    *chromemdb.VectorDBManager
	embedder *wordEmbedder
	model    *scriptedModel
	llmCfg   *config.LLMConfig
	indexer  *Indexer
	registry *Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := chromemdb.NewVectorDBManager(t.TempDir())
	require.NoError(t, err)

	f := &fixture{
		store:    store,
		embedder: &wordEmbedder{},
		model:    &scriptedModel{answer: "Mix apples and bake.", variants: "1. how do I bake a pie\n2. pie recipe steps\n\n3. baking a pie at home"},
		llmCfg:   &config.LLMConfig{Temperature: 0.5},
	}
	batcher := &embedding.Batcher{Embedder: f.embedder, BatchSize: 100}
	f.indexer = NewIndexer(store, batcher, testEmbeddingModel)
	f.registry = NewRegistry(store, testEmbeddingModel)
	return f
}

func (f *fixture) retriever(opts RetrieverOptions) *Retriever {
	return NewRetriever(f.model, f.llmCfg, &embedding.Batcher{Embedder: f.embedder, BatchSize: 100}, f.registry, opts)
}

func defaultOpts() RetrieverOptions {
	return RetrieverOptions{TopK: 2, Variants: 3, IncludeOriginal: true, RelatedK: 4, QuestionsIndex: "questions"}
}

func TestRetrieveFindsRelevantChunk(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.indexer.Build(ctx, "cooking", []models.Chunk{
		{Content: "apple pie recipe", Book: "Cooking", PageNumber: 1, ChunkID: 1},
		{Content: "car engine repair", Book: "Cooking", PageNumber: 2, ChunkID: 1},
	})
	require.NoError(t, err)

	opts := defaultOpts()
	opts.TopK = 1
	res, err := f.retriever(opts).Retrieve(ctx, "cooking", "how to bake a pie")
	require.NoError(t, err)
	require.NotEmpty(t, res.Chunks)
	assert.Equal(t, "apple pie recipe", res.Chunks[0].Content)
	assert.Len(t, res.Chunks, 1)
	assert.Equal(t, "how to bake a pie", res.Variants[0])
	assert.Len(t, res.Variants, 4)
}

func TestRebuildGivesSameTopHit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	chunks := []models.Chunk{
		{Content: "brand logo guide", Book: "Branding", PageNumber: 3},
		{Content: "price list", Book: "Branding", PageNumber: 8},
		{Content: "engine repair", Book: "Branding", PageNumber: 9},
	}
	opts := defaultOpts()
	opts.Variants = 0

	_, err := f.indexer.Build(ctx, "branding", chunks)
	require.NoError(t, err)
	first, err := f.retriever(opts).Retrieve(ctx, "branding", "what is a logo")
	require.NoError(t, err)

	_, err = f.indexer.Build(ctx, "branding", chunks)
	require.NoError(t, err)
	f.registry.Forget("branding")
	second, err := f.retriever(opts).Retrieve(ctx, "branding", "what is a logo")
	require.NoError(t, err)

	assert.Equal(t, first.Chunks[0], second.Chunks[0])
	assert.Equal(t, "brand logo guide", second.Chunks[0].Content)
}

func TestRegistryDrop(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.indexer.Build(ctx, "branding", []models.Chunk{{Content: "brand logo guide", PageNumber: 1}})
	require.NoError(t, err)
	_, err = f.registry.Get(ctx, "branding")
	require.NoError(t, err)

	require.NoError(t, f.registry.Drop(ctx, "branding"))
	_, err = f.registry.Get(ctx, "branding")
	assert.ErrorIs(t, err, models.ErrIndexLoad)
}

func TestRetrieveDedupesAcrossVariants(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.indexer.Build(ctx, "cooking", []models.Chunk{
		{Content: "apple pie recipe", PageNumber: 1},
		{Content: "bake the pie", PageNumber: 2},
		{Content: "car engine repair", PageNumber: 3},
	})
	require.NoError(t, err)

	res, err := f.retriever(defaultOpts()).Retrieve(ctx, "cooking", "pie")
	require.NoError(t, err)
	seen := map[string]bool{}
	for _, c := range res.Chunks {
		assert.False(t, seen[c.Content], "duplicate %q", c.Content)
		seen[c.Content] = true
	}
}

func TestRetrieveMissingIndex(t *testing.T) {
	f := newFixture(t)
	_, err := f.retriever(defaultOpts()).Retrieve(context.Background(), "absent", "anything")
	assert.ErrorIs(t, err, models.ErrIndexLoad)
	assert.Zero(t, f.model.calls())
}

func TestRetrieveRejectsOtherEmbeddingModel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	other := NewIndexer(f.store, &embedding.Batcher{Embedder: f.embedder}, "another-model")
	_, err := other.Build(ctx, "cooking", []models.Chunk{{Content: "apple pie recipe"}})
	require.NoError(t, err)

	_, err = f.retriever(defaultOpts()).Retrieve(ctx, "cooking", "pie")
	assert.ErrorIs(t, err, models.ErrIndexLoad)
}

func TestExpansionFailureFallsBackToQuestion(t *testing.T) {
	f := newFixture(t)
	f.model.err = errors.New("model overloaded")

	variants := f.retriever(defaultOpts()).ExpandQuery(context.Background(), "what is a brand")
	assert.Equal(t, []string{"what is a brand"}, variants)
}

func TestParseVariants(t *testing.T) {
	got := ParseVariants("1. first\n- second\n\n* first\n3) third\nfourth", 3)
	assert.Equal(t, []string{"first", "second", "third"}, got)
}

func TestRelatedQuestionsExcludeAsked(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.indexer.Build(ctx, "branding", []models.Chunk{{Content: "brand basics", Book: "Branding", PageNumber: 1}})
	require.NoError(t, err)
	_, err = f.indexer.BuildQuestions(ctx, "questions", []string{
		"What is a brand?", "How to design a logo?", "What brand price works?", "Why repair an engine?",
	})
	require.NoError(t, err)

	opts := defaultOpts()
	opts.Variants = 0
	res, err := f.retriever(opts).Retrieve(ctx, "branding", "What is a brand?")
	require.NoError(t, err)
	assert.NotContains(t, res.Related, "What is a brand?")
	assert.Len(t, res.Related, 3)
	assert.Equal(t, "What brand price works?", res.Related[0])
}

func TestMissingQuestionIndexMeansNoSuggestions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.indexer.Build(ctx, "branding", []models.Chunk{{Content: "brand basics"}})
	require.NoError(t, err)

	res, err := f.retriever(defaultOpts()).Retrieve(ctx, "branding", "brand")
	require.NoError(t, err)
	assert.Empty(t, res.Related)
	assert.NotEmpty(t, res.Chunks)
}

func TestIndexerFailureLeavesNoIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.embedder.fail = true

	_, err := f.indexer.Build(ctx, "cooking", []models.Chunk{{Content: "apple pie recipe"}})
	assert.ErrorIs(t, err, models.ErrEmbeddingService)

	_, err = f.store.Open(ctx, "cooking", testEmbeddingModel)
	assert.ErrorIs(t, err, models.ErrIndexLoad)
}

func TestIndexerWritesManifest(t *testing.T) {
	f := newFixture(t)
	manifest, err := f.indexer.Build(context.Background(), "cooking", []models.Chunk{{Content: "a"}, {Content: "b"}})
	require.NoError(t, err)
	assert.Equal(t, testEmbeddingModel, manifest.EmbeddingModel)
	assert.Equal(t, 2, manifest.Entries)
	assert.Equal(t, len(vocabulary)+1, manifest.Dimension)
}

func TestAnswererPromptAndOutput(t *testing.T) {
	f := newFixture(t)
	a := NewAnswerer(f.model, f.llmCfg)
	chunks := []models.Chunk{{Content: "first passage"}, {Content: "second passage"}}

	out, err := a.Answer(context.Background(), "What is a brand?", chunks)
	require.NoError(t, err)
	assert.Equal(t, "Mix apples and bake.", out[models.OutputTextKey])

	require.Equal(t, 1, f.model.calls())
	prompt := f.model.prompts[0]
	assert.Contains(t, prompt, "first passage\n\nsecond passage")
	assert.Contains(t, prompt, "What is a brand? Explain in detail.")
}

func TestAnswererFailure(t *testing.T) {
	f := newFixture(t)
	f.model.err = errors.New("invalid key")
	_, err := NewAnswerer(f.model, f.llmCfg).Answer(context.Background(), "q", nil)
	assert.ErrorIs(t, err, models.ErrGeneration)
}

func TestParseSourceTag(t *testing.T) {
	book, page, ok := ParseSourceTag("Book: Sample Book, Page Number - 12, some text")
	require.True(t, ok)
	assert.Equal(t, "Sample Book", book)
	assert.Equal(t, 12, page)

	_, _, ok = ParseSourceTag("no metadata here")
	assert.False(t, ok)
}

func TestImagePath(t *testing.T) {
	dir := t.TempDir()
	l := NewLocator(dir, nil)
	assert.Equal(t, "", l.ImagePath("Demo", 3))

	want := filepath.Join(dir, "Demo_page_3_image_1.png")
	require.NoError(t, os.WriteFile(want, []byte("png"), 0o644))
	assert.Equal(t, want, l.ImagePath("Demo", 3))
}

func TestLocateFallbacks(t *testing.T) {
	l := NewLocator(t.TempDir(), map[string][]models.PageMapEntry{
		"Branding": {{Text: "logo design", PageNumber: 7}, {Text: "pricing strategy", PageNumber: 20}},
	})

	src := l.Locate("Branding", "q", []models.Chunk{{Content: "x", Book: "Branding", PageNumber: 4}})
	assert.Equal(t, Source{Book: "Branding", PageNumber: 4}, src)

	src = l.Locate("Branding", "q", []models.Chunk{{Content: "Book: Other, Page Number - 9, text"}})
	assert.Equal(t, 9, src.PageNumber)
	assert.Equal(t, "Other", src.Book)

	src = l.Locate("Branding", "Pricing strategies", []models.Chunk{{Content: "untagged"}})
	assert.Equal(t, Source{Book: "Branding", PageNumber: 20}, src)
	assert.Equal(t, "Book: Branding, Page Number - 20", src.String())

	src = l.Locate("Marketing", "anything", nil)
	assert.False(t, src.Found())
	assert.Equal(t, "", src.String())
}

func TestBestPageTieKeepsFirst(t *testing.T) {
	page, ok := BestPage("ab", []models.PageMapEntry{{Text: "aa", PageNumber: 1}, {Text: "bb", PageNumber: 2}})
	require.True(t, ok)
	assert.Equal(t, 1, page)

	_, ok = BestPage("ab", nil)
	assert.False(t, ok)
}

func TestQueryEndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.indexer.Build(ctx, "cooking", []models.Chunk{
		{Content: "apple pie recipe", Book: "Cooking", PageNumber: 5, ChunkID: 1},
		{Content: "car engine repair", Book: "Cooking", PageNumber: 6, ChunkID: 1},
	})
	require.NoError(t, err)

	images := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(images, "Cooking_page_5_image_1.png"), []byte("png"), 0o644))

	r := NewRAG(f.retriever(defaultOpts()), NewAnswerer(f.model, f.llmCfg), NewLocator(images, nil))
	book := config.BookConfig{Key: "cooking", Index: "cooking", File: "books/Cooking.pdf"}

	resp, err := r.Query(ctx, book, "  how to bake a pie ")
	require.NoError(t, err)
	assert.Equal(t, "how to bake a pie", resp.Query)
	assert.Equal(t, "Mix apples and bake.", resp.Content)
	assert.Equal(t, "Book: Cooking, Page Number - 5", resp.Source)
	assert.Equal(t, filepath.Join(images, "Cooking_page_5_image_1.png"), resp.ImagePath)

	_, err = r.Query(ctx, book, "   ")
	assert.ErrorIs(t, err, models.ErrEmptyQuestion)
}
