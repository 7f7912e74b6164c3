package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type ExtractConfig struct {
	DedupTTL time.Duration
}

// ExtractStage extracts text from an ingested document and records the active extraction.
type ExtractStage struct {
	store     ports.LifecycleStore
	storage   ports.ObjectStorage
	extractor ports.TextExtractor
	dedup     ports.DedupCache
	cfg       ExtractConfig
}

func NewExtractStage(
	store ports.LifecycleStore,
	storage ports.ObjectStorage,
	extractor ports.TextExtractor,
	dedup ports.DedupCache,
	cfg ExtractConfig,
) *ExtractStage {
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Hour
	}
	return &ExtractStage{
		store:     store,
		storage:   storage,
		extractor: extractor,
		dedup:     dedup,
		cfg:       cfg,
	}
}

func (s *ExtractStage) Process(ctx context.Context, msg domain.DocumentIngested) (domain.Message, error) {
	seen, err := s.dedup.Seen(ctx, msg.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("check dedup cache: %w", err)
	}
	if seen {
		slog.Info("extract_duplicate_skipped", "document_id", msg.DocumentID, "fingerprint", msg.Fingerprint)
		return nil, nil
	}

	doc, err := s.store.GetByID(ctx, msg.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}

	extracted, err := s.extract(ctx, doc, msg.StorageKey)
	if err != nil {
		if domain.IsKind(err, domain.ErrInvalidInput) {
			s.markFailed(ctx, doc.ID, err)
		}
		return nil, err
	}

	now := time.Now().UTC()
	wordCount := len(strings.Fields(extracted.FullText))
	extraction := domain.Extraction{
		DocumentID: doc.ID,
		Text:       extracted.FullText,
		Pages:      extracted.Pages,
		WordCount:  wordCount,
		Metadata: domain.ExtractionMetadata{
			WordCount: wordCount,
			Timestamp: now,
			Source:    doc.Source,
			Pages:     len(extracted.Pages),
		},
		Active:      true,
		ExtractedAt: now,
	}
	if err := s.store.RecordExtraction(ctx, doc.ID, extraction); err != nil {
		return nil, fmt.Errorf("record extraction: %w", err)
	}

	if err := s.dedup.Mark(ctx, msg.Fingerprint, map[string]any{"document_id": doc.ID, "word_count": wordCount}, s.cfg.DedupTTL); err != nil {
		slog.Warn("extract_dedup_mark_failed", "document_id", doc.ID, "error", err)
	}

	return domain.DocumentExtracted{
		DocumentID:    doc.ID,
		DocumentName:  doc.Filename,
		DocumentType:  strings.TrimPrefix(strings.ToLower(filepath.Ext(doc.Filename)), "."),
		ExtractedText: extracted.FullText,
		Metadata: domain.ExtractedMetadata{
			WordCount: wordCount,
			Timestamp: now.Format(time.RFC3339),
			Source:    doc.Source,
			Pages:     len(extracted.Pages),
		},
	}, nil
}

func (s *ExtractStage) extract(ctx context.Context, doc *domain.Document, storageKey string) (ports.ExtractedText, error) {
	if storageKey == "" {
		storageKey = doc.StoragePath
	}
	reader, err := s.storage.Open(ctx, storageKey)
	if err != nil {
		return ports.ExtractedText{}, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	extracted, err := s.extractor.Extract(ctx, doc.Filename, reader)
	if err != nil {
		return ports.ExtractedText{}, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(extracted.FullText) == "" {
		return ports.ExtractedText{}, domain.WrapError(domain.ErrInvalidInput, "extract text", errors.New("empty extracted text"))
	}
	if len(extracted.Pages) == 0 {
		extracted.Pages = []string{extracted.FullText}
	}
	return extracted, nil
}

func (s *ExtractStage) markFailed(ctx context.Context, documentID string, cause error) {
	if err := s.store.MarkFailed(ctx, documentID, cause.Error()); err != nil {
		slog.Error("extract_mark_failed_error", "document_id", documentID, "error", err)
	}
}
