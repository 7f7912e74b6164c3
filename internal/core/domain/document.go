package domain

import "time"

type DocumentStatus string

const (
	StatusNew        DocumentStatus = "new"
	StatusExtracted  DocumentStatus = "extracted"
	StatusClassified DocumentStatus = "classified"
	StatusRouted     DocumentStatus = "routed"
	StatusFailed     DocumentStatus = "failed"
)

type SourceKind string

const (
	SourceLocal  SourceKind = "local"
	SourceUpload SourceKind = "upload"
	SourceMail   SourceKind = "mail"
	SourceDrive  SourceKind = "drive"
)

type Document struct {
	ID               string         `json:"id"`
	Filename         string         `json:"filename"`
	Fingerprint      string         `json:"fingerprint"`
	Source           SourceKind     `json:"source"`
	Sender           string         `json:"sender,omitempty"`
	UploadedBy       string         `json:"uploaded_by,omitempty"`
	StoragePath      string         `json:"storage_path"`
	RoutedPath       string         `json:"routed_path,omitempty"`
	Status           DocumentStatus `json:"status"`
	CredibilityScore float64        `json:"credibility_score"`
	Error            string         `json:"error,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Extraction is one extracted text version. Only the active version is consumed downstream.
type Extraction struct {
	ID          string             `json:"id"`
	DocumentID  string             `json:"document_id"`
	Text        string             `json:"text"`
	Pages       []string           `json:"pages"`
	WordCount   int                `json:"word_count"`
	Metadata    ExtractionMetadata `json:"metadata"`
	Active      bool               `json:"active"`
	ExtractedAt time.Time          `json:"extracted_at"`
}

type ExtractionMetadata struct {
	WordCount int        `json:"word_count"`
	Timestamp time.Time  `json:"timestamp"`
	Source    SourceKind `json:"source"`
	Pages     int        `json:"pages"`
}

// AuditEntry is a row of the per-document audit trail.
type AuditEntry struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Action     string    `json:"action"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	ActionIngested      = "ingested"
	ActionExtracted     = "extracted"
	ActionClassified    = "classified"
	ActionRouted        = "routed"
	ActionRoutingFailed = "routing_failed"
	ActionNoRule        = "no_rule"
	ActionFailed        = "failed"
)

var allowedTransitions = map[DocumentStatus][]DocumentStatus{
	StatusNew:        {StatusExtracted, StatusFailed},
	StatusExtracted:  {StatusExtracted, StatusClassified, StatusFailed},
	StatusClassified: {StatusExtracted, StatusClassified, StatusRouted, StatusFailed},
	StatusRouted:     {StatusExtracted, StatusClassified, StatusRouted},
	StatusFailed:     {StatusExtracted},
}

// CanTransition reports whether a document may move from one lifecycle status to another.
func CanTransition(from, to DocumentStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
