package logging

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestLoggerTagsServiceAndStage(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "worker", "extract", "debug")
	logger.Debug("document_extracted", "document_id", "doc-1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["service"] != "worker" || entry["stage"] != "extract" || entry["document_id"] != "doc-1" {
		t.Fatalf("unexpected log entry %v", entry)
	}
}

func TestLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "api", "", "warn")
	logger.Info("ignored")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at warn level, got %q", buf.String())
	}
}
