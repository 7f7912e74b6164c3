package htmltext

import (
	"context"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// Extractor returns visible text; each block-level element becomes a segment.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

var blockElements = map[string]bool{
	"p": true, "div": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true,
}

func (e *Extractor) Extract(_ context.Context, filename string, body io.Reader) (ports.ExtractedText, error) {
	doc, err := html.Parse(body)
	if err != nil {
		return ports.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "html extract", fmt.Errorf("parse %s: %w", filename, err))
	}

	pages := make([]string, 0)
	var current strings.Builder
	flush := func() {
		text := strings.Join(strings.Fields(current.String()), " ")
		if text != "" {
			pages = append(pages, text)
		}
		current.Reset()
	}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style" || n.Data == "head") {
			return
		}
		if n.Type == html.TextNode {
			current.WriteString(n.Data)
			current.WriteString(" ")
		}
		block := n.Type == html.ElementNode && blockElements[n.Data]
		if block {
			flush()
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			flush()
		}
	}
	walk(doc)
	flush()

	return ports.ExtractedText{FullText: strings.Join(pages, "\n"), Pages: pages}, nil
}
