package rag

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"bookchat/internal/helper"
	"bookchat/internal/models"
)

var sourceTagRe = regexp.MustCompile(models.SourceTagRegex)

// ParseSourceTag pulls the book name and page number out of a tagged
// chunk. ok is false when the text carries no tag.
func ParseSourceTag(text string) (book string, page int, ok bool) {
	m := sourceTagRe.FindStringSubmatch(text)
	if m == nil {
		return "", 0, false
	}
	page, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], page, true
}

// Source is where an answer came from.
type Source struct {
	Book       string
	PageNumber int
	ImagePath  string
}

func (s Source) Found() bool { return s.Book != "" && s.PageNumber > 0 }

func (s Source) String() string {
	if !s.Found() {
		return ""
	}
	return fmt.Sprintf("Book: %s, Page Number - %d", s.Book, s.PageNumber)
}

// Locator resolves the page behind an answer and its page image.
type Locator struct {
	imagesDir string
	// pageMaps is keyed by book name.
	pageMaps map[string][]models.PageMapEntry
}

func NewLocator(imagesDir string, pageMaps map[string][]models.PageMapEntry) *Locator {
	if pageMaps == nil {
		pageMaps = map[string][]models.PageMapEntry{}
	}
	return &Locator{imagesDir: imagesDir, pageMaps: pageMaps}
}

// Locate uses the top chunk's provenance, then its source tag, then the
// page map of book.
func (l *Locator) Locate(book, question string, chunks []models.Chunk) Source {
	var src Source
	if len(chunks) > 0 {
		top := chunks[0]
		if top.HasSource() {
			src = Source{Book: top.Book, PageNumber: top.PageNumber}
		} else if b, p, ok := ParseSourceTag(top.Content); ok {
			src = Source{Book: b, PageNumber: p}
		}
	}
	if !src.Found() {
		if page, ok := BestPage(question, l.pageMaps[book]); ok {
			src = Source{Book: book, PageNumber: page}
		}
	}
	if src.Found() {
		src.ImagePath = l.ImagePath(src.Book, src.PageNumber)
	}
	return src
}

// ImagePath returns the first image of a page, or "" when there is none.
func (l *Locator) ImagePath(book string, page int) string {
	if book == "" || page <= 0 {
		return ""
	}
	path := filepath.Join(l.imagesDir, fmt.Sprintf(models.ImageNameFormat, book, page, 1))
	if !helper.FileExists(path) {
		return ""
	}
	return path
}

// BestPage picks the entry closest to question by edit distance,
// scored as 1/(1+d). The first entry wins ties.
func BestPage(question string, entries []models.PageMapEntry) (int, bool) {
	if len(entries) == 0 {
		return 0, false
	}
	q := strings.ToLower(strings.TrimSpace(question))
	best, bestScore := 0, -1.0
	for _, e := range entries {
		d := levenshtein.ComputeDistance(q, strings.ToLower(strings.TrimSpace(e.Text)))
		if score := 1 / (1 + float64(d)); score > bestScore {
			best, bestScore = e.PageNumber, score
		}
	}
	return best, true
}
