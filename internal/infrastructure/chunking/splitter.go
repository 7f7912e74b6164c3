package chunking

import (
	"strings"
	"unicode"
)

// Splitter breaks text into segments of at most ChunkSize runes, preferring
// to cut on whitespace. Consecutive segments share up to Overlap runes.
type Splitter struct {
	ChunkSize int
	Overlap   int
}

func NewSplitter(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 900
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkSize {
		overlap = chunkSize / 4
	}
	return &Splitter{
		ChunkSize: chunkSize,
		Overlap:   overlap,
	}
}

func (s *Splitter) Split(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	out := make([]string, 0, len(runes)/s.ChunkSize+1)
	for start := 0; start < len(runes); {
		end := start + s.ChunkSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = s.wordBoundary(runes, start, end)
		}
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment != "" {
			out = append(out, segment)
		}
		if end == len(runes) {
			break
		}

		next := end - s.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// wordBoundary moves end back to the last whitespace inside the window; a
// window without one is cut at end.
func (s *Splitter) wordBoundary(runes []rune, start, end int) int {
	for i := end; i > start; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return end
}
