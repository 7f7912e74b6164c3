package chunking

import (
	"strings"
	"testing"
)

func TestSplitPrefersWhitespaceBoundaries(t *testing.T) {
	s := NewSplitter(12, 0)
	got := s.Split("invoice total amount due today")
	for _, segment := range got {
		if len([]rune(segment)) > 12 {
			t.Fatalf("segment %q exceeds chunk size", segment)
		}
		for _, word := range strings.Fields(segment) {
			if !strings.Contains("invoice total amount due today", word) {
				t.Fatalf("segment %q cut a word", segment)
			}
		}
	}
	if strings.Join(got, " ") != "invoice total amount due today" {
		t.Fatalf("segments lost text: %q", got)
	}
}

func TestSplitEmptyText(t *testing.T) {
	if got := NewSplitter(10, 2).Split(""); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestSplitCutsLongWordsAtChunkSize(t *testing.T) {
	got := NewSplitter(4, 0).Split("abcdefghij")
	if len(got) != 3 || got[0] != "abcd" || got[2] != "ij" {
		t.Fatalf("unexpected segments %q", got)
	}
}
