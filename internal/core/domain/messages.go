package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type MessageKind string

const (
	KindIngestRequested    MessageKind = "ingest.requested"
	KindDocumentIngested   MessageKind = "document.ingested"
	KindDocumentExtracted  MessageKind = "document.extracted"
	KindDocumentClassified MessageKind = "document.classified"
)

// Message is a pipeline payload exchanged between stages.
type Message interface {
	Kind() MessageKind
	Validate() error
}

// IngestRequested is a submission picked up by the ingest stage.
type IngestRequested struct {
	FilePath   string     `json:"file_path"`
	UploadedBy string     `json:"uploaded_by"`
	Source     SourceKind `json:"source"`
	Sender     string     `json:"sender,omitempty"`
}

func (IngestRequested) Kind() MessageKind { return KindIngestRequested }

func (m IngestRequested) Validate() error {
	if strings.TrimSpace(m.FilePath) == "" {
		return errors.New("file_path is required")
	}
	return nil
}

// DocumentIngested flows ingest -> extract.
type DocumentIngested struct {
	FilePath    string     `json:"file_path"`
	UploadedBy  string     `json:"uploaded_by"`
	Source      SourceKind `json:"source"`
	DocumentID  string     `json:"document_id"`
	Fingerprint string     `json:"fingerprint"`
	StorageKey  string     `json:"storage_key"`
}

func (DocumentIngested) Kind() MessageKind { return KindDocumentIngested }

func (m DocumentIngested) Validate() error {
	switch {
	case strings.TrimSpace(m.DocumentID) == "":
		return errors.New("document_id is required")
	case strings.TrimSpace(m.Fingerprint) == "":
		return errors.New("fingerprint is required")
	case strings.TrimSpace(m.StorageKey) == "":
		return errors.New("storage_key is required")
	}
	return nil
}

type ExtractedMetadata struct {
	WordCount int        `json:"word_count"`
	Timestamp string     `json:"timestamp"`
	Source    SourceKind `json:"source"`
	Pages     int        `json:"pages"`
}

// DocumentExtracted flows extract -> classify.
type DocumentExtracted struct {
	DocumentID    string            `json:"document_id"`
	DocumentName  string            `json:"document_name"`
	DocumentType  string            `json:"document_type"`
	ExtractedText string            `json:"extracted_text"`
	Metadata      ExtractedMetadata `json:"metadata"`
}

func (DocumentExtracted) Kind() MessageKind { return KindDocumentExtracted }

func (m DocumentExtracted) Validate() error {
	switch {
	case strings.TrimSpace(m.DocumentID) == "":
		return errors.New("document_id is required")
	case strings.TrimSpace(m.DocumentName) == "":
		return errors.New("document_name is required")
	case strings.TrimSpace(m.ExtractedText) == "":
		return errors.New("extracted_text is required")
	}
	return nil
}

// DocumentClassified flows classify -> route.
type DocumentClassified struct {
	DocumentID string           `json:"document_id"`
	DocType    string           `json:"doc_type,omitempty"`
	Confidence float64          `json:"confidence"`
	Source     ClassifierSource `json:"source,omitempty"`
}

func (DocumentClassified) Kind() MessageKind { return KindDocumentClassified }

func (m DocumentClassified) Validate() error {
	if strings.TrimSpace(m.DocumentID) == "" {
		return errors.New("document_id is required")
	}
	return nil
}

type envelope struct {
	Kind MessageKind     `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeMessage wraps a message with its kind tag.
func EncodeMessage(msg Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.Kind(), err)
	}
	return json.Marshal(envelope{Kind: msg.Kind(), Data: data})
}

// DecodeMessage parses a tagged payload into the concrete type for want and validates it.
func DecodeMessage[T Message](raw []byte, want MessageKind) (T, error) {
	var zero T
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return zero, WrapError(ErrInvalidInput, "decode envelope", err)
	}
	if env.Kind != want {
		return zero, WrapError(ErrInvalidInput, "decode envelope", fmt.Errorf("unexpected kind %q, want %q", env.Kind, want))
	}
	var msg T
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		return zero, WrapError(ErrInvalidInput, "decode "+string(want), err)
	}
	if err := msg.Validate(); err != nil {
		return zero, WrapError(ErrInvalidInput, "validate "+string(want), err)
	}
	return msg, nil
}
