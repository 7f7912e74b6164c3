package ports

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// LifecycleStore is the durable record of documents and their derived artifacts.
// Every mutation commits together with its audit entry.
type LifecycleStore interface {
	CreateOrGet(ctx context.Context, doc *domain.Document) (*domain.Document, bool, error)
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	RecordExtraction(ctx context.Context, documentID string, extraction domain.Extraction) error
	RecordClassification(ctx context.Context, documentID string, result domain.ClassificationResult) error
	RecordRouting(ctx context.Context, documentID string, entry domain.RoutingLog) error
	MarkFailed(ctx context.Context, documentID, reason string) error
	AppendLog(ctx context.Context, documentID, action, message string) error
}

// DocumentHistory is the read side of the lifecycle store.
type DocumentHistory interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ActiveExtraction(ctx context.Context, documentID string) (*domain.Extraction, error)
	LatestClassification(ctx context.Context, documentID string) (*domain.ClassificationResult, error)
	ListClassifications(ctx context.Context, documentID string) ([]domain.ClassificationResult, error)
	ListRoutingLogs(ctx context.Context, documentID string) ([]domain.RoutingLog, error)
	ListAudit(ctx context.Context, documentID string) ([]domain.AuditEntry, error)
}

// ClassificationRuleStore persists keyword rules.
type ClassificationRuleStore interface {
	UpsertRule(ctx context.Context, rule domain.ClassificationRule) (*domain.ClassificationRule, error)
	DeleteRule(ctx context.Context, keyword string) error
	ListRules(ctx context.Context) ([]domain.ClassificationRule, error)
}

// RoutingRuleStore persists routing rules. Create and Enable reject a second enabled rule per doc type.
type RoutingRuleStore interface {
	CreateRoutingRule(ctx context.Context, rule *domain.RoutingRule) error
	FindEnabledRule(ctx context.Context, docType string) (*domain.RoutingRule, error)
	ListRoutingRules(ctx context.Context) ([]domain.RoutingRule, error)
	SetRoutingRuleEnabled(ctx context.Context, id string, enabled bool) error
	DeleteRoutingRule(ctx context.Context, id string) error
}

// DedupCache remembers content fingerprints for a bounded time window.
type DedupCache interface {
	Seen(ctx context.Context, fingerprint string) (bool, error)
	Mark(ctx context.Context, fingerprint string, metadata map[string]any, ttl time.Duration) error
}

// ClassificationCache holds classification results and the merged rule set.
type ClassificationCache interface {
	GetResult(ctx context.Context, documentName string) (*domain.ClassificationResult, bool, error)
	SetResult(ctx context.Context, documentName string, result domain.ClassificationResult, ttl time.Duration) error
	GetRules(ctx context.Context) (map[string]string, bool, error)
	SetRules(ctx context.Context, rules map[string]string, ttl time.Duration) error
	InvalidateRules(ctx context.Context) error
}

// ObjectStorage stores source documents.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// BucketUploader uploads into an arbitrary bucket and returns the object URI.
type BucketUploader interface {
	Upload(ctx context.Context, bucket, key string, data io.Reader, size int64) (string, error)
}

// InboundMessage is a single dequeued broker message.
type InboundMessage struct {
	Subject string
	Data    []byte
}

// ErrConsumerClosed is returned by MessageConsumer.Next once the subscription can no longer deliver.
var ErrConsumerClosed = errors.New("message consumer closed")

// MessageConsumer yields messages one at a time for a sequential consume loop.
type MessageConsumer interface {
	Next(ctx context.Context) (InboundMessage, error)
	Close() error
}

// MessageBus is a broker connection owned by one stage instance.
type MessageBus interface {
	Publish(ctx context.Context, subject string, msg domain.Message) error
	Consume(ctx context.Context, subject, group string) (MessageConsumer, error)
	Close()
}

// TextExtractor extracts text from a stored document.
type TextExtractor interface {
	Extract(ctx context.Context, filename string, body io.Reader) (ExtractedText, error)
}

type ExtractedText struct {
	FullText string
	Pages    []string
}

// ProbabilityModel is a loaded statistical model handle.
type ProbabilityModel interface {
	Labels() []string
	PredictProba(ctx context.Context, text string) ([]float64, error)
}

// RemoteClassifier is the remote classification API.
type RemoteClassifier interface {
	Classify(ctx context.Context, text string) (category string, confidence float64, err error)
}

// Dispatcher delivers a stored document to one destination kind and returns the routed location.
type Dispatcher interface {
	Dispatch(ctx context.Context, doc *domain.Document, destination string) (string, error)
}

// Chunker splits text into segments.
type Chunker interface {
	Split(text string) []string
}
