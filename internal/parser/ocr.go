package parser

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"bookchat/internal/config"
	"bookchat/internal/models"
)

// OCREngine turns one PDF page into text in two steps.
type OCREngine interface {
	// Rasterize renders page to an image inside outDir and returns its path.
	Rasterize(ctx context.Context, pdfPath string, page, dpi int, outDir string) (string, error)
	// Recognize returns the text found in an image.
	Recognize(ctx context.Context, imagePath, language string) (string, error)
}

// Poppler shells out to pdftoppm and tesseract.
type Poppler struct {
	PdftoppmPath  string
	TesseractPath string
}

func NewPoppler(cfg config.OCRConfig) *Poppler {
	return &Poppler{PdftoppmPath: cfg.PdftoppmPath, TesseractPath: cfg.TesseractPath}
}

func (p *Poppler) Rasterize(ctx context.Context, pdfPath string, page, dpi int, outDir string) (string, error) {
	prefix := filepath.Join(outDir, fmt.Sprintf("page-%d", page))
	n := strconv.Itoa(page)
	cmd := exec.CommandContext(ctx, p.PdftoppmPath,
		"-f", n, "-l", n,
		"-r", strconv.Itoa(dpi),
		"-png", "-singlefile",
		pdfPath, prefix,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("pdftoppm page %d: %v: %s", page, err, strings.TrimSpace(string(out)))
	}
	return prefix + ".png", nil
}

func (p *Poppler) Recognize(ctx context.Context, imagePath, language string) (string, error) {
	args := []string{imagePath, "stdout"}
	if language != "" {
		args = append(args, "-l", language)
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.TesseractPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("tesseract %s: %v: %s", filepath.Base(imagePath), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// pageRange clips [first, last] to the document; zero bounds are open.
func pageRange(cfg config.OCRConfig, numPages int) (int, int) {
	first, last := cfg.FirstPage, cfg.LastPage
	if first < 1 {
		first = 1
	}
	if last <= 0 || last > numPages {
		last = numPages
	}
	return first, last
}

// OCRPages rasterises and recognises the pages inside the configured
// range. Pages outside it are not returned. A page that fails is logged
// and kept with empty text so one bad page never stops the book.
func OCRPages(ctx context.Context, engine OCREngine, filePath, book string, cfg config.OCRConfig) ([]models.PageRecord, error) {
	numPages, err := PageCount(filePath)
	if err != nil {
		return nil, err
	}
	dpi := cfg.DPI
	if dpi <= 0 {
		dpi = 300
	}

	tmpDir, err := os.MkdirTemp("", "bookchat-ocr-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmpDir)

	first, last := pageRange(cfg, numPages)
	log.Info().Str("book", book).Int("first", first).Int("last", last).Int("dpi", dpi).Msg("Starting OCR")

	var pages []models.PageRecord
	for i := first; i <= last; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := ocrPage(ctx, engine, filePath, i, dpi, tmpDir, cfg.Language)
		if err != nil {
			log.Warn().Err(err).Str("book", book).Int("page", i).Msg("OCR failed for page")
		}
		pages = append(pages, models.PageRecord{
			Book:       book,
			PageNumber: i,
			Text:       strings.TrimSpace(text),
		})
	}
	return pages, nil
}

func ocrPage(ctx context.Context, engine OCREngine, filePath string, page, dpi int, tmpDir, language string) (string, error) {
	img, err := engine.Rasterize(ctx, filePath, page, dpi, tmpDir)
	if err != nil {
		return "", err
	}
	defer os.Remove(img)
	return engine.Recognize(ctx, img, language)
}
