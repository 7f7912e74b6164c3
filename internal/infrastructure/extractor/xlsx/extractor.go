package xlsx

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Extractor returns one segment per sheet, prefixed with the sheet name.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, filename string, body io.Reader) (ports.ExtractedText, error) {
	book, err := excelize.OpenReader(body)
	if err != nil {
		return ports.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "xlsx extract", fmt.Errorf("open %s: %w", filename, err))
	}
	defer book.Close()

	pages := make([]string, 0)
	for _, sheet := range book.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return ports.ExtractedText{}, err
		}
		rows, err := book.GetRows(sheet)
		if err != nil {
			return ports.ExtractedText{}, fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		var b strings.Builder
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, " "))
			if line == "" {
				continue
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		text := strings.TrimSpace(b.String())
		if text == "" {
			continue
		}
		pages = append(pages, fmt.Sprintf("[%s]\n%s", sheet, text))
	}
	return ports.ExtractedText{FullText: strings.Join(pages, "\n"), Pages: pages}, nil
}
