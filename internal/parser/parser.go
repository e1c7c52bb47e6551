package parser

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"bookchat/internal/config"
	"bookchat/internal/models"
)

const defaultPageNumber = 1

var (
	slideNameRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
	xmlTagRe    = regexp.MustCompile(`<[^>]+>`)
)

// Options selects how a document is read.
type Options struct {
	// Book overrides the book name; the file stem is used when empty.
	Book      string
	OCR       bool
	OCRConfig config.OCRConfig
	// Engine is required when OCR is set.
	Engine OCREngine
}

// BookName is the identifier every page of a file is tagged with.
func BookName(filePath string) string {
	base := filepath.Base(filePath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ParseDocument reads a file into page records. Formats without real
// pages become a single page, or one page per slide or sheet.
func ParseDocument(ctx context.Context, filePath string, opts Options) ([]models.PageRecord, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFileAccess, err)
	}
	book := opts.Book
	if book == "" {
		book = BookName(filePath)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	log.Debug().Str("file", filePath).Str("book", book).Str("format", ext).Bool("ocr", opts.OCR).Msg("Parsing document")
	switch ext {
	case ".pdf":
		if opts.OCR {
			if opts.Engine == nil {
				return nil, fmt.Errorf("ocr requested without an engine")
			}
			return OCRPages(ctx, opts.Engine, filePath, book, opts.OCRConfig)
		}
		return ExtractPages(filePath, book)
	case ".docx":
		return parseDOCX(filePath, book)
	case ".pptx":
		return parsePPTX(filePath, book)
	case ".xlsx", ".ods":
		return parseSheets(filePath, book)
	case ".txt", ".md":
		return parseText(filePath, book)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
}

func parseDOCX(filePath, book string) ([]models.PageRecord, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFileAccess, err)
	}
	defer r.Close()

	// GetContent returns the raw document xml; paragraphs end at </w:p>.
	content := r.Editable().GetContent()
	content = strings.ReplaceAll(content, "</w:p>", "\n")
	text := xmlTagRe.ReplaceAllString(content, "")

	var lines []string
	for _, p := range strings.Split(text, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			lines = append(lines, p)
		}
	}
	return singlePage(book, strings.Join(lines, "\n")), nil
}

func parsePPTX(filePath, book string) ([]models.PageRecord, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFileAccess, err)
	}
	defer f.Close()

	var pages []models.PageRecord
	for _, file := range f.File {
		m := slideNameRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		slideNum, _ := strconv.Atoi(m[1])
		rc, err := file.Open()
		if err != nil {
			log.Warn().Err(err).Str("slide", file.Name).Msg("Skipping unreadable slide")
			continue
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			log.Warn().Err(err).Str("slide", file.Name).Msg("Skipping unreadable slide")
			continue
		}
		pages = append(pages, models.PageRecord{
			Book:       book,
			PageNumber: slideNum,
			Text:       extractTextFromXML(string(data)),
		})
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].PageNumber < pages[j].PageNumber })
	return pages, nil
}

func parseSheets(filePath, book string) ([]models.PageRecord, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFileAccess, err)
	}
	defer f.Close()

	var pages []models.PageRecord
	for sheetNum, sheetName := range f.GetSheetList() {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			log.Warn().Err(err).Str("sheet", sheetName).Msg("Skipping unreadable sheet")
			continue
		}
		var text strings.Builder
		fmt.Fprintf(&text, "## Sheet: %s\n", sheetName)
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
		pages = append(pages, models.PageRecord{Book: book, PageNumber: sheetNum + 1, Text: text.String()})
	}
	return pages, nil
}

func parseText(filePath, book string) ([]models.PageRecord, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFileAccess, err)
	}
	return singlePage(book, string(data)), nil
}

func singlePage(book, text string) []models.PageRecord {
	return []models.PageRecord{{Book: book, PageNumber: defaultPageNumber, Text: strings.TrimSpace(text)}}
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		if endIdx := strings.Index(part, "</a:t>"); endIdx >= 0 {
			text.WriteString(part[:endIdx] + " ")
		}
	}
	return strings.TrimSpace(text.String())
}
