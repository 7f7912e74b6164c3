package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// ClassifyStage classifies extracted text and appends the result to the document history.
type ClassifyStage struct {
	store      ports.LifecycleStore
	classifier ports.Classifier
}

func NewClassifyStage(store ports.LifecycleStore, classifier ports.Classifier) *ClassifyStage {
	return &ClassifyStage{store: store, classifier: classifier}
}

func (s *ClassifyStage) Process(ctx context.Context, msg domain.DocumentExtracted) (domain.Message, error) {
	result, err := s.classifier.Classify(ctx, msg.DocumentName, msg.ExtractedText)
	if err != nil {
		return nil, fmt.Errorf("classify document: %w", err)
	}

	// Cached results carry the identity of the attempt that produced them.
	result.ID = ""
	result.DocumentID = msg.DocumentID
	if err := s.store.RecordClassification(ctx, msg.DocumentID, result); err != nil {
		return nil, fmt.Errorf("record classification: %w", err)
	}

	slog.Info("document_classified",
		"document_id", msg.DocumentID,
		"category", result.Category,
		"confidence", result.Confidence,
		"source", string(result.Source),
	)
	return domain.DocumentClassified{
		DocumentID: msg.DocumentID,
		DocType:    result.Category,
		Confidence: result.Confidence,
		Source:     result.Source,
	}, nil
}
