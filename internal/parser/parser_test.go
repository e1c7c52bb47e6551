package parser

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookchat/internal/config"
	"bookchat/internal/models"
)

func TestExtractPagesContiguous(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), "Demo.pdf", []string{"first page", "second page", "third page"})

	pages, err := ExtractPages(path, "Demo")
	require.NoError(t, err)
	require.Len(t, pages, 3)
	for i, p := range pages {
		assert.Equal(t, i+1, p.PageNumber)
		assert.Equal(t, "Demo", p.Book)
	}
	assert.Contains(t, pages[1].Text, "second page")
}

func TestExtractPagesMissingFile(t *testing.T) {
	_, err := ExtractPages(filepath.Join(t.TempDir(), "missing.pdf"), "missing")
	assert.ErrorIs(t, err, models.ErrFileAccess)
}

func TestExtractPagesNotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.pdf")
	require.NoError(t, os.WriteFile(path, []byte("not a pdf at all"), 0o644))
	_, err := ExtractPages(path, "junk")
	assert.ErrorIs(t, err, models.ErrFileAccess)
}

func TestParseDocumentUsesFileStem(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), "Branding Book.pdf", []string{"hello"})

	pages, err := ParseDocument(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, pages, 1)
	assert.Equal(t, "Branding Book", pages[0].Book)
}

func TestParseDocumentText(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("  some notes \n"), 0o644))

	pages, err := ParseDocument(context.Background(), path, Options{Book: "Notes"})
	require.NoError(t, err)
	assert.Equal(t, []models.PageRecord{{Book: "Notes", PageNumber: 1, Text: "some notes"}}, pages)
}

func TestParseDocumentUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.gif")
	require.NoError(t, os.WriteFile(path, []byte("GIF89a"), 0o644))
	_, err := ParseDocument(context.Background(), path, Options{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrFileAccess)
}

type fakeOCR struct {
	rasterized []int
	failPage   int
}

func (f *fakeOCR) Rasterize(_ context.Context, _ string, page, _ int, outDir string) (string, error) {
	f.rasterized = append(f.rasterized, page)
	if page == f.failPage {
		return "", errors.New("render failed")
	}
	img := filepath.Join(outDir, "p.png")
	return img, os.WriteFile(img, []byte(strings.Repeat("x", page)), 0o644)
}

func (f *fakeOCR) Recognize(_ context.Context, imagePath, _ string) (string, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", err
	}
	return "text of length " + string(rune('0'+len(data))), nil
}

func TestOCRPagesRespectsRange(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), "Scan.pdf", []string{"a", "b", "c", "d", "e"})
	engine := &fakeOCR{}

	pages, err := OCRPages(context.Background(), engine, path, "Scan", config.OCRConfig{FirstPage: 2, LastPage: 4})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4}, engine.rasterized)
	require.Len(t, pages, 3)
	assert.Equal(t, 2, pages[0].PageNumber)
	assert.Equal(t, "text of length 4", pages[2].Text)
}

func TestOCRPagesClipsLastPage(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), "Short.pdf", []string{"a", "b"})
	engine := &fakeOCR{}

	pages, err := OCRPages(context.Background(), engine, path, "Short", config.OCRConfig{FirstPage: 1, LastPage: 29})
	require.NoError(t, err)
	assert.Len(t, pages, 2)
}

func TestOCRPagesKeepsGoingAfterFailure(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), "Scan.pdf", []string{"a", "b", "c"})
	engine := &fakeOCR{failPage: 2}

	pages, err := OCRPages(context.Background(), engine, path, "Scan", config.OCRConfig{})
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Empty(t, pages[1].Text)
	assert.NotEmpty(t, pages[2].Text)
}

func TestParseDocumentOCRNeedsEngine(t *testing.T) {
	path := writeTestPDF(t, t.TempDir(), "Scan.pdf", []string{"a"})
	_, err := ParseDocument(context.Background(), path, Options{OCR: true})
	assert.Error(t, err)
}
