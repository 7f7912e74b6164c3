package usecase

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// SubmitDocumentUseCase stages an upload in object storage and queues it for ingestion.
type SubmitDocumentUseCase struct {
	storage ports.ObjectStorage
	bus     ports.MessageBus
	subject string
}

func NewSubmitDocumentUseCase(storage ports.ObjectStorage, bus ports.MessageBus, subject string) *SubmitDocumentUseCase {
	return &SubmitDocumentUseCase{storage: storage, bus: bus, subject: subject}
}

func (uc *SubmitDocumentUseCase) Submit(ctx context.Context, filename string, uploadedBy string, body io.Reader) (domain.IngestRequested, error) {
	if strings.TrimSpace(filename) == "" {
		return domain.IngestRequested{}, domain.WrapError(domain.ErrInvalidInput, "submit document", fmt.Errorf("filename is required"))
	}
	key := fmt.Sprintf("incoming/%s_%s", uuid.NewString(), sanitizeFilename(filename))
	if err := uc.storage.Save(ctx, key, body); err != nil {
		return domain.IngestRequested{}, fmt.Errorf("stage upload: %w", err)
	}

	req := domain.IngestRequested{
		FilePath:   key,
		UploadedBy: uploadedBy,
		Source:     domain.SourceUpload,
	}
	if err := uc.bus.Publish(ctx, uc.subject, req); err != nil {
		return domain.IngestRequested{}, fmt.Errorf("publish ingest request: %w", err)
	}
	return req, nil
}

// CredibilityScorer assigns the credibility score of a new document.
type CredibilityScorer func(doc *domain.Document) float64

// PlaceholderCredibility draws a score in [0.5, 1.0].
func PlaceholderCredibility(*domain.Document) float64 {
	return math.Round((0.5+rand.Float64()*0.5)*100) / 100
}

type IngestConfig struct {
	DedupTTL time.Duration
}

// IngestStage turns an ingest request into a stored, deduplicated document.
type IngestStage struct {
	store   ports.LifecycleStore
	storage ports.ObjectStorage
	dedup   ports.DedupCache
	score   CredibilityScorer
	cfg     IngestConfig
}

func NewIngestStage(
	store ports.LifecycleStore,
	storage ports.ObjectStorage,
	dedup ports.DedupCache,
	score CredibilityScorer,
	cfg IngestConfig,
) *IngestStage {
	if score == nil {
		score = PlaceholderCredibility
	}
	if cfg.DedupTTL <= 0 {
		cfg.DedupTTL = time.Hour
	}
	return &IngestStage{
		store:   store,
		storage: storage,
		dedup:   dedup,
		score:   score,
		cfg:     cfg,
	}
}

func (s *IngestStage) Process(ctx context.Context, req domain.IngestRequested) (domain.Message, error) {
	content, err := s.readSource(ctx, req)
	if err != nil {
		return nil, err
	}
	fingerprint := Fingerprint(content)
	filename := filepath.Base(req.FilePath)
	if req.Source == domain.SourceUpload {
		filename = uploadedFilename(filename)
	}

	seen, err := s.dedup.Seen(ctx, ingestDedupKey(fingerprint))
	if err != nil {
		return nil, fmt.Errorf("check dedup cache: %w", err)
	}
	if seen {
		slog.Info("ingest_duplicate_skipped", "fingerprint", fingerprint, "file", filename)
		s.discardStaged(ctx, req)
		return nil, nil
	}

	key := fmt.Sprintf("documents/%s_%s", fingerprint[:12], sanitizeFilename(filename))
	if err := s.storage.Save(ctx, key, bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("save to object storage: %w", err)
	}

	source := req.Source
	if source == "" {
		source = domain.SourceLocal
	}
	candidate := &domain.Document{
		Filename:    filename,
		Fingerprint: fingerprint,
		Source:      source,
		Sender:      req.Sender,
		UploadedBy:  req.UploadedBy,
		StoragePath: key,
		Status:      domain.StatusNew,
	}
	candidate.CredibilityScore = s.score(candidate)

	doc, created, err := s.store.CreateOrGet(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	if !created {
		slog.Info("ingest_existing_document", "document_id", doc.ID, "fingerprint", fingerprint)
		// The existing record keeps its own object; the copy saved under this filename is unreferenced.
		if doc.StoragePath != key {
			if err := s.storage.Delete(ctx, key); err != nil {
				slog.Warn("ingest_orphan_cleanup_failed", "key", key, "error", err)
			}
		}
	}

	if err := s.dedup.Mark(ctx, ingestDedupKey(fingerprint), map[string]any{"document_id": doc.ID, "filename": filename}, s.cfg.DedupTTL); err != nil {
		slog.Warn("ingest_dedup_mark_failed", "document_id", doc.ID, "error", err)
	}
	s.discardStaged(ctx, req)

	return domain.DocumentIngested{
		FilePath:    req.FilePath,
		UploadedBy:  req.UploadedBy,
		Source:      source,
		DocumentID:  doc.ID,
		Fingerprint: fingerprint,
		StorageKey:  doc.StoragePath,
	}, nil
}

func (s *IngestStage) readSource(ctx context.Context, req domain.IngestRequested) ([]byte, error) {
	if req.Source == domain.SourceUpload {
		rc, err := s.storage.Open(ctx, req.FilePath)
		if err != nil {
			return nil, fmt.Errorf("open staged upload: %w", err)
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("read staged upload: %w", err)
		}
		return content, nil
	}

	content, err := os.ReadFile(req.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "read source file", err)
		}
		return nil, fmt.Errorf("read source file: %w", err)
	}
	return content, nil
}

func (s *IngestStage) discardStaged(ctx context.Context, req domain.IngestRequested) {
	if req.Source != domain.SourceUpload {
		return
	}
	if err := s.storage.Delete(ctx, req.FilePath); err != nil {
		slog.Warn("ingest_staged_cleanup_failed", "key", req.FilePath, "error", err)
	}
}

// ingestDedupKey keeps ingest markers apart from the extract stage's, which use the bare fingerprint.
func ingestDedupKey(fingerprint string) string {
	return "ingest:" + fingerprint
}

// Fingerprint is the hex sha256 of content.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// uploadedFilename strips the "{uuid}_" staging prefix.
func uploadedFilename(staged string) string {
	if len(staged) > 37 && staged[36] == '_' {
		if _, err := uuid.Parse(staged[:36]); err == nil {
			return staged[37:]
		}
	}
	return staged
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." || base == "_" {
		return "document.bin"
	}
	return base
}
