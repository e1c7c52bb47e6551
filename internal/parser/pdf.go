package parser

import (
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog/log"

	"bookchat/internal/models"
)

// openPDF returns the reader together with the file backing it; the
// caller closes the file.
func openPDF(filePath string) (*os.File, *pdf.Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrFileAccess, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %v", models.ErrFileAccess, err)
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("%w: %s is not a readable pdf: %v", models.ErrFileAccess, filePath, err)
	}
	return f, reader, nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(filePath string) (int, error) {
	f, reader, err := openPDF(filePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return reader.NumPage(), nil
}

// ExtractPages reads the embedded text layer, one record per page in
// order. A page whose text cannot be decoded yields an empty record so
// page numbers stay contiguous.
func ExtractPages(filePath, book string) ([]models.PageRecord, error) {
	f, reader, err := openPDF(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	numPages := reader.NumPage()
	pages := make([]models.PageRecord, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		var text string
		if !page.V.IsNull() {
			text, err = page.GetPlainText(nil)
			if err != nil {
				log.Warn().Err(err).Str("book", book).Int("page", i).Msg("Failed to extract page text")
				text = ""
			}
		}
		pages = append(pages, models.PageRecord{
			Book:       book,
			PageNumber: i,
			Text:       strings.TrimSpace(text),
		})
	}
	log.Info().Str("book", book).Int("pages", numPages).Msg("Extracted pdf text")
	return pages, nil
}
