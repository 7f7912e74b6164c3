package usecase

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

func fixedScore(*domain.Document) float64 { return 0.8 }

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestIngestStoresDocumentAndForwards(t *testing.T) {
	store := newStoreFake()
	storage := newStorageFake()
	stage := NewIngestStage(store, storage, newDedupFake(), fixedScore, IngestConfig{})

	path := writeTempFile(t, "Quarterly invoice.txt", "invoice total 42")
	out, err := stage.Process(context.Background(), domain.IngestRequested{FilePath: path, UploadedBy: "alice", Source: domain.SourceLocal})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	ingested, ok := out.(domain.DocumentIngested)
	if !ok {
		t.Fatalf("expected DocumentIngested, got %T", out)
	}
	fp := Fingerprint([]byte("invoice total 42"))
	if ingested.Fingerprint != fp {
		t.Fatalf("unexpected fingerprint %s", ingested.Fingerprint)
	}
	wantKey := "documents/" + fp[:12] + "_Quarterly_invoice.txt"
	if ingested.StorageKey != wantKey || !storage.has(wantKey) {
		t.Fatalf("expected object at %s, got %s", wantKey, ingested.StorageKey)
	}

	doc, err := store.GetByID(context.Background(), ingested.DocumentID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.Status != domain.StatusNew || doc.CredibilityScore != 0.8 || doc.UploadedBy != "alice" {
		t.Fatalf("unexpected document %+v", doc)
	}
}

func TestIngestSkipsDuplicateContentWithinWindow(t *testing.T) {
	store := newStoreFake()
	dedup := newDedupFake()
	stage := NewIngestStage(store, newStorageFake(), dedup, fixedScore, IngestConfig{DedupTTL: time.Hour})

	first := writeTempFile(t, "a.txt", "same bytes")
	second := writeTempFile(t, "b.txt", "same bytes")

	if out, err := stage.Process(context.Background(), domain.IngestRequested{FilePath: first}); err != nil || out == nil {
		t.Fatalf("first Process() = %v, %v", out, err)
	}
	out, err := stage.Process(context.Background(), domain.IngestRequested{FilePath: second})
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if out != nil {
		t.Fatalf("expected duplicate to be dropped, got %+v", out)
	}
	if store.documentCount() != 1 {
		t.Fatalf("expected one document record, got %d", store.documentCount())
	}

	// After the window the same content resolves to the existing record and is forwarded again.
	dedup.advance(2 * time.Hour)
	out, err = stage.Process(context.Background(), domain.IngestRequested{FilePath: second})
	if err != nil || out == nil {
		t.Fatalf("Process() after window = %v, %v", out, err)
	}
	if store.documentCount() != 1 {
		t.Fatalf("expected fingerprint uniqueness to hold, got %d records", store.documentCount())
	}
}

func TestIngestExistingContentUnderNewNameLeavesNoOrphan(t *testing.T) {
	store := newStoreFake()
	storage := newStorageFake()
	dedup := newDedupFake()
	stage := NewIngestStage(store, storage, dedup, fixedScore, IngestConfig{DedupTTL: time.Hour})

	first := writeTempFile(t, "original.txt", "shared body")
	out, err := stage.Process(context.Background(), domain.IngestRequested{FilePath: first})
	if err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	originalKey := out.(domain.DocumentIngested).StorageKey

	dedup.advance(2 * time.Hour)
	renamed := writeTempFile(t, "renamed.txt", "shared body")
	out, err = stage.Process(context.Background(), domain.IngestRequested{FilePath: renamed})
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if got := out.(domain.DocumentIngested).StorageKey; got != originalKey {
		t.Fatalf("expected existing storage key %s, got %s", originalKey, got)
	}
	fp := Fingerprint([]byte("shared body"))
	if storage.has("documents/" + fp[:12] + "_renamed.txt") {
		t.Fatalf("expected the unreferenced copy to be removed")
	}
	if !storage.has(originalKey) {
		t.Fatalf("expected the original object to be kept")
	}
}

func TestIngestMissingLocalFileIsInvalidInput(t *testing.T) {
	stage := NewIngestStage(newStoreFake(), newStorageFake(), newDedupFake(), fixedScore, IngestConfig{})

	_, err := stage.Process(context.Background(), domain.IngestRequested{FilePath: filepath.Join(t.TempDir(), "missing.txt")})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSubmitStagesUploadAndIngestConsumesIt(t *testing.T) {
	storage := newStorageFake()
	bus := &busFake{}
	submit := NewSubmitDocumentUseCase(storage, bus, "documents.ingest")

	req, err := submit.Submit(context.Background(), "contract.txt", "bob", strings.NewReader("the contract"))
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if req.Source != domain.SourceUpload || !strings.HasPrefix(req.FilePath, "incoming/") {
		t.Fatalf("unexpected request %+v", req)
	}
	if len(bus.published) != 1 || bus.published[0].subject != "documents.ingest" {
		t.Fatalf("expected one published request, got %+v", bus.published)
	}

	store := newStoreFake()
	stage := NewIngestStage(store, storage, newDedupFake(), fixedScore, IngestConfig{})
	out, err := stage.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	ingested := out.(domain.DocumentIngested)
	doc, err := store.GetByID(context.Background(), ingested.DocumentID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if doc.Filename != "contract.txt" || doc.Source != domain.SourceUpload {
		t.Fatalf("unexpected document %+v", doc)
	}
	if storage.has(req.FilePath) {
		t.Fatalf("expected staged upload %s to be removed", req.FilePath)
	}
}

func TestSubmitRejectsEmptyFilename(t *testing.T) {
	submit := NewSubmitDocumentUseCase(newStorageFake(), &busFake{}, "documents.ingest")
	if _, err := submit.Submit(context.Background(), " ", "bob", strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPlaceholderCredibilityRange(t *testing.T) {
	for i := 0; i < 200; i++ {
		score := PlaceholderCredibility(nil)
		if score < 0.5 || score > 1.0 {
			t.Fatalf("score %v outside [0.5, 1.0]", score)
		}
	}
}
