package extractor

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/docx"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/htmltext"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/document-pipeline/internal/infrastructure/extractor/xlsx"
)

// Registry dispatches extraction by file extension.
type Registry struct {
	byExt map[string]ports.TextExtractor
}

func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]ports.TextExtractor)}
}

// Register binds ext (with or without the leading dot) to extractor.
func (r *Registry) Register(extractor ports.TextExtractor, exts ...string) *Registry {
	for _, ext := range exts {
		r.byExt[normalizeExt(ext)] = extractor
	}
	return r
}

func (r *Registry) Supports(filename string) bool {
	_, ok := r.byExt[normalizeExt(filepath.Ext(filename))]
	return ok
}

func (r *Registry) Extensions() []string {
	out := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Extract(ctx context.Context, filename string, body io.Reader) (ports.ExtractedText, error) {
	ext := normalizeExt(filepath.Ext(filename))
	extractor, ok := r.byExt[ext]
	if !ok {
		return ports.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract",
			fmt.Errorf("unsupported file type %q for %s", ext, filename))
	}
	return extractor.Extract(ctx, filename, body)
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// NewDefaultRegistry wires every supported format.
func NewDefaultRegistry(chunker ports.Chunker) *Registry {
	return NewRegistry().
		Register(plaintext.NewExtractor(chunker), ".txt", ".md", ".csv").
		Register(pdftext.NewExtractor(), ".pdf").
		Register(xlsx.NewExtractor(), ".xlsx").
		Register(docx.NewExtractor(), ".docx").
		Register(htmltext.NewExtractor(), ".html", ".htm")
}
