package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Extractor returns one segment per non-empty PDF page.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(ctx context.Context, filename string, body io.Reader) (ports.ExtractedText, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return ports.ExtractedText{}, fmt.Errorf("read pdf: %w", err)
	}
	return readPages(ctx, filename, content)
}

// readPages turns parser panics on malformed objects into input errors.
func readPages(ctx context.Context, filename string, content []byte) (result ports.ExtractedText, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = ports.ExtractedText{}
			err = domain.WrapError(domain.ErrInvalidInput, "pdf extract", fmt.Errorf("malformed %s: %v", filename, rec))
		}
	}()

	reader := bytes.NewReader(content)
	pdfReader, err := pdf.NewReader(reader, reader.Size())
	if err != nil {
		return ports.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "pdf extract", fmt.Errorf("open %s: %w", filename, err))
	}

	total := pdfReader.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return ports.ExtractedText{}, err
		}
		page := pdfReader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return ports.ExtractedText{}, fmt.Errorf("read pdf page %d: %w", i, err)
		}
		text = strings.TrimSpace(text)
		if text != "" {
			pages = append(pages, text)
		}
	}
	return ports.ExtractedText{FullText: strings.Join(pages, "\n"), Pages: pages}, nil
}
