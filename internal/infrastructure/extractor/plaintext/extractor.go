package plaintext

import (
	"context"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Extractor reads UTF-8 text and breaks it into segments with the chunker.
type Extractor struct {
	chunker ports.Chunker
}

func NewExtractor(chunker ports.Chunker) *Extractor {
	return &Extractor{chunker: chunker}
}

func (e *Extractor) Extract(_ context.Context, filename string, body io.Reader) (ports.ExtractedText, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return ports.ExtractedText{}, fmt.Errorf("read source document: %w", err)
	}

	if !utf8.Valid(raw) {
		return ports.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "plaintext extract", fmt.Errorf("%s is not valid utf-8 text", filename))
	}

	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ports.ExtractedText{}, nil
	}

	pages := []string{text}
	if e.chunker != nil {
		if segments := e.chunker.Split(text); len(segments) > 0 {
			pages = segments
		}
	}
	return ports.ExtractedText{FullText: text, Pages: pages}, nil
}
