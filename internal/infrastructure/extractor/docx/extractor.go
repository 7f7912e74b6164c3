package docx

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

const documentPart = "word/document.xml"

// Extractor reads word/document.xml and returns one segment per paragraph.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Extract(_ context.Context, filename string, body io.Reader) (ports.ExtractedText, error) {
	content, err := io.ReadAll(body)
	if err != nil {
		return ports.ExtractedText{}, fmt.Errorf("read docx: %w", err)
	}
	archive, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return ports.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "docx extract", fmt.Errorf("open %s: %w", filename, err))
	}

	var part *zip.File
	for _, f := range archive.File {
		if f.Name == documentPart {
			part = f
			break
		}
	}
	if part == nil {
		return ports.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "docx extract", fmt.Errorf("%s has no %s", filename, documentPart))
	}
	rc, err := part.Open()
	if err != nil {
		return ports.ExtractedText{}, fmt.Errorf("open %s: %w", documentPart, err)
	}
	defer rc.Close()

	paras, err := paragraphs(rc)
	if err != nil {
		return ports.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "docx extract", err)
	}
	return ports.ExtractedText{FullText: strings.Join(paras, "\n"), Pages: paras}, nil
}

// paragraphs collects w:t runs grouped by w:p.
func paragraphs(r io.Reader) ([]string, error) {
	decoder := xml.NewDecoder(r)
	out := make([]string, 0)
	var current strings.Builder
	inText := false
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteString(" ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if text := strings.TrimSpace(current.String()); text != "" {
					out = append(out, text)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	if text := strings.TrimSpace(current.String()); text != "" {
		out = append(out, text)
	}
	return out, nil
}
