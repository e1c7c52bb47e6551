// Package spreadsheet reads the small xlsx inputs the app is configured
// with: the login allow-list, per-book page maps and the question list.
package spreadsheet

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"

	"bookchat/internal/models"
)

const (
	emailHeader      = "email"
	textHeader       = "text"
	pageNumberHeader = "page number"
)

// ReadRows returns the rows of sheet, or of the first sheet when sheet
// is empty.
func ReadRows(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrFileAccess, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, nil
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q: %v", models.ErrFileAccess, sheet, err)
	}
	return rows, nil
}

func headerIndex(header []string, name string) int {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// LoadEmails reads the Email column, lower-cased and trimmed.
func LoadEmails(path string) ([]string, error) {
	rows, err := ReadRows(path, "")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	col := headerIndex(rows[0], emailHeader)
	if col < 0 {
		return nil, fmt.Errorf("%s has no Email column", path)
	}

	var emails []string
	for _, row := range rows[1:] {
		if e := strings.ToLower(cell(row, col)); e != "" {
			emails = append(emails, e)
		}
	}
	log.Debug().Str("file", path).Int("count", len(emails)).Msg("Loaded allow-list")
	return emails, nil
}

// LoadPageMap reads Text and Page Number columns. Without that header
// the first two columns are used and every row is data.
func LoadPageMap(path string) ([]models.PageMapEntry, error) {
	rows, err := ReadRows(path, "")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	textCol, pageCol := 0, 1
	body := rows
	if t, p := headerIndex(rows[0], textHeader), headerIndex(rows[0], pageNumberHeader); t >= 0 && p >= 0 {
		textCol, pageCol = t, p
		body = rows[1:]
	}

	var entries []models.PageMapEntry
	for i, row := range body {
		text := cell(row, textCol)
		raw := cell(row, pageCol)
		if text == "" || raw == "" {
			continue
		}
		page, err := parsePage(raw)
		if err != nil {
			log.Warn().Str("file", path).Int("row", i+1).Str("value", raw).Msg("Skipping page map row with bad page number")
			continue
		}
		entries = append(entries, models.PageMapEntry{Text: text, PageNumber: page})
	}
	return entries, nil
}

// parsePage accepts "12" as well as spreadsheet floats such as "12.0".
func parsePage(raw string) (int, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// LoadQuestions reads the first column of sheet, skipping the header row.
func LoadQuestions(path, sheet string) ([]string, error) {
	rows, err := ReadRows(path, sheet)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, nil
	}
	var questions []string
	for _, row := range rows[1:] {
		if q := cell(row, 0); q != "" {
			questions = append(questions, q)
		}
	}
	return questions, nil
}
