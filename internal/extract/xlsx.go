package extract

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/xuri/excelize/v2"

	"docsync/internal/contextutil"
)

// XlsxExtractor reads Excel workbooks (.xlsx, .xlsm), one Page per worksheet.
// Non-empty cells of a row are joined by spaces, rows by newlines.
type XlsxExtractor struct{}

// NewXlsxExtractor creates a spreadsheet extractor.
func NewXlsxExtractor() *XlsxExtractor {
	return &XlsxExtractor{}
}

// Pages implements Extractor.
func (e *XlsxExtractor) Pages(ctx context.Context, absPath string) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		f, err := excelize.OpenFile(absPath)
		if err != nil {
			yield(Page{}, fmt.Errorf("opening workbook: %w", err))
			return
		}
		defer func() {
			_ = f.Close()
		}()

		logger := contextutil.LoggerFromContext(ctx)
		for i, sheet := range f.GetSheetList() {
			if err := ctx.Err(); err != nil {
				yield(Page{}, err)
				return
			}

			text, err := sheetText(f, sheet)
			if err != nil {
				logger.WarnContext(ctx, "reading worksheet failed", "sheet", sheet, "error", err)
				continue
			}
			if text == "" {
				continue
			}
			if !yield(Page{Index: i, Text: text}, nil) {
				return
			}
		}
	}
}

func sheetText(f *excelize.File, sheet string) (string, error) {
	rows, err := f.Rows(sheet)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = rows.Close()
	}()

	var lines []string
	for rows.Next() {
		cols, err := rows.Columns()
		if err != nil {
			return "", err
		}
		cells := make([]string, 0, len(cols))
		for _, c := range cols {
			if c = strings.TrimSpace(c); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, " "))
		}
	}
	if err := rows.Error(); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}
