package ports

import (
	"context"
	"io"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// DocumentSubmitter accepts uploads and queues them for ingestion.
type DocumentSubmitter interface {
	Submit(ctx context.Context, filename string, uploadedBy string, body io.Reader) (domain.IngestRequested, error)
}

// Classifier is the hybrid classification decision procedure.
type Classifier interface {
	Classify(ctx context.Context, documentName, text string) (domain.ClassificationResult, error)
}

// RoutingRequest names a classified document and, optionally, its resolved type.
type RoutingRequest struct {
	DocumentID string
	DocType    string
	Confidence float64
}

// Router resolves and executes routing for a classified document.
type Router interface {
	Route(ctx context.Context, req RoutingRequest) (*domain.RoutingLog, error)
}

// RuleAdmin is the administrative surface for classification and routing rules.
type RuleAdmin interface {
	AddRule(ctx context.Context, keyword, category, createdBy string) (*domain.ClassificationRule, error)
	RemoveRule(ctx context.Context, keyword string) error
	ListRules(ctx context.Context) ([]domain.ClassificationRule, error)
	AddRoutingRule(ctx context.Context, rule domain.RoutingRule) (*domain.RoutingRule, error)
	ListRoutingRules(ctx context.Context) ([]domain.RoutingRule, error)
	SetRoutingRuleEnabled(ctx context.Context, id string, enabled bool) error
	RemoveRoutingRule(ctx context.Context, id string) error
}
