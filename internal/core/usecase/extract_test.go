package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type extractorFake struct{}

func (extractorFake) Extract(_ context.Context, filename string, body io.Reader) (ports.ExtractedText, error) {
	if !strings.HasSuffix(filename, ".txt") {
		return ports.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract", errors.New("unsupported file type"))
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return ports.ExtractedText{}, err
	}
	return ports.ExtractedText{FullText: string(raw), Pages: []string{string(raw)}}, nil
}

func seedDocument(t *testing.T, store *storeFake, storage *storageFake, filename, content string) domain.DocumentIngested {
	t.Helper()
	fp := Fingerprint([]byte(content))
	key := "documents/" + fp[:12] + "_" + filename
	if err := storage.Save(context.Background(), key, bytes.NewReader([]byte(content))); err != nil {
		t.Fatalf("seed storage: %v", err)
	}
	store.put(domain.Document{
		ID:          "doc-" + fp[:6],
		Filename:    filename,
		Fingerprint: fp,
		Source:      domain.SourceLocal,
		StoragePath: key,
		Status:      domain.StatusNew,
	})
	return domain.DocumentIngested{
		FilePath:    "/inbox/" + filename,
		Source:      domain.SourceLocal,
		DocumentID:  "doc-" + fp[:6],
		Fingerprint: fp,
		StorageKey:  key,
	}
}

func TestExtractRecordsActiveExtractionAndForwards(t *testing.T) {
	store := newStoreFake()
	storage := newStorageFake()
	msg := seedDocument(t, store, storage, "memo.txt", "three little words")
	stage := NewExtractStage(store, storage, extractorFake{}, newDedupFake(), ExtractConfig{})

	out, err := stage.Process(context.Background(), msg)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	extracted, ok := out.(domain.DocumentExtracted)
	if !ok {
		t.Fatalf("expected DocumentExtracted, got %T", out)
	}
	if extracted.DocumentType != "txt" || extracted.Metadata.WordCount != 3 || extracted.ExtractedText != "three little words" {
		t.Fatalf("unexpected message %+v", extracted)
	}
	doc, _ := store.GetByID(context.Background(), msg.DocumentID)
	if doc.Status != domain.StatusExtracted {
		t.Fatalf("expected extracted status, got %s", doc.Status)
	}
	active, err := store.ActiveExtraction(context.Background(), msg.DocumentID)
	if err != nil || !active.Active {
		t.Fatalf("expected active extraction, got %+v, %v", active, err)
	}
}

func TestExtractUnsupportedTypeMarksDocumentFailed(t *testing.T) {
	store := newStoreFake()
	storage := newStorageFake()
	msg := seedDocument(t, store, storage, "image.png", "\x89PNG")
	stage := NewExtractStage(store, storage, extractorFake{}, newDedupFake(), ExtractConfig{})

	out, err := stage.Process(context.Background(), msg)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if out != nil {
		t.Fatalf("expected nothing forwarded, got %+v", out)
	}
	doc, _ := store.GetByID(context.Background(), msg.DocumentID)
	if doc.Status != domain.StatusFailed {
		t.Fatalf("expected failed status, got %s", doc.Status)
	}
	if !strings.Contains(store.failures[msg.DocumentID], "unsupported file type") {
		t.Fatalf("expected failure reason recorded, got %q", store.failures[msg.DocumentID])
	}
}

func TestExtractSkipsRecentlyExtractedFingerprint(t *testing.T) {
	store := newStoreFake()
	storage := newStorageFake()
	msg := seedDocument(t, store, storage, "memo.txt", "some text")
	stage := NewExtractStage(store, storage, extractorFake{}, newDedupFake(), ExtractConfig{})

	if _, err := stage.Process(context.Background(), msg); err != nil {
		t.Fatalf("first Process() error = %v", err)
	}
	out, err := stage.Process(context.Background(), msg)
	if err != nil || out != nil {
		t.Fatalf("expected redelivery to be skipped, got %v, %v", out, err)
	}
	if len(store.extractions[msg.DocumentID]) != 1 {
		t.Fatalf("expected one extraction, got %d", len(store.extractions[msg.DocumentID]))
	}
}

func TestExtractEmptyTextIsInvalidInput(t *testing.T) {
	store := newStoreFake()
	storage := newStorageFake()
	msg := seedDocument(t, store, storage, "blank.txt", "   \n ")
	stage := NewExtractStage(store, storage, extractorFake{}, newDedupFake(), ExtractConfig{})

	if _, err := stage.Process(context.Background(), msg); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestClassifyStageRecordsResultAndForwardsType(t *testing.T) {
	store := newStoreFake()
	store.put(domain.Document{ID: "doc-1", Filename: "a.txt", Fingerprint: "fp", Status: domain.StatusExtracted})
	model := &modelFake{labels: testLabels, probs: []float64{0.9, 0.05, 0.05}}
	stage := NewClassifyStage(store, NewClassificationEngine(DefaultClassificationConfig(), nil, nil, model, nil))

	out, err := stage.Process(context.Background(), domain.DocumentExtracted{DocumentID: "doc-1", DocumentName: "a.txt", ExtractedText: "words"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	classified := out.(domain.DocumentClassified)
	if classified.DocType != "A" || classified.Confidence != 0.9 {
		t.Fatalf("unexpected message %+v", classified)
	}
	latest, _ := store.LatestClassification(context.Background(), "doc-1")
	if latest == nil || latest.DocumentID != "doc-1" || latest.Category != "A" {
		t.Fatalf("unexpected stored classification %+v", latest)
	}
}
