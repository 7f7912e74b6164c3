package httpadapter

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

type submitterFake struct {
	err      error
	received []byte
}

func (f *submitterFake) Submit(_ context.Context, filename, uploadedBy string, body io.Reader) (domain.IngestRequested, error) {
	if f.err != nil {
		return domain.IngestRequested{}, f.err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return domain.IngestRequested{}, err
	}
	f.received = raw
	return domain.IngestRequested{FilePath: "incoming/1_" + filename, UploadedBy: uploadedBy, Source: domain.SourceUpload}, nil
}

type historyFake struct {
	docs map[string]*domain.Document
	logs []domain.RoutingLog
}

func (f *historyFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get document", errors.New("id="+id))
	}
	return doc, nil
}

func (f *historyFake) ActiveExtraction(context.Context, string) (*domain.Extraction, error) {
	return nil, nil
}

func (f *historyFake) LatestClassification(context.Context, string) (*domain.ClassificationResult, error) {
	return nil, nil
}

func (f *historyFake) ListClassifications(context.Context, string) ([]domain.ClassificationResult, error) {
	return []domain.ClassificationResult{{Category: "Finance", Confidence: 0.8}}, nil
}

func (f *historyFake) ListRoutingLogs(context.Context, string) ([]domain.RoutingLog, error) {
	return f.logs, nil
}

func (f *historyFake) ListAudit(context.Context, string) ([]domain.AuditEntry, error) {
	return nil, nil
}

type adminFake struct {
	rules        []domain.ClassificationRule
	routingRules []domain.RoutingRule
	err          error
	enabled      map[string]bool
}

func (f *adminFake) AddRule(_ context.Context, keyword, category, createdBy string) (*domain.ClassificationRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	if keyword == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "add rule", errors.New("keyword is required"))
	}
	rule := domain.ClassificationRule{ID: "rule-1", Keyword: keyword, Category: category, CreatedBy: createdBy}
	f.rules = append(f.rules, rule)
	return &rule, nil
}

func (f *adminFake) RemoveRule(_ context.Context, keyword string) error {
	for i, rule := range f.rules {
		if rule.Keyword == keyword {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return domain.WrapError(domain.ErrRuleNotFound, "remove rule", errors.New(keyword))
}

func (f *adminFake) ListRules(context.Context) ([]domain.ClassificationRule, error) {
	return f.rules, nil
}

func (f *adminFake) AddRoutingRule(_ context.Context, rule domain.RoutingRule) (*domain.RoutingRule, error) {
	if f.err != nil {
		return nil, f.err
	}
	rule.ID = "route-1"
	f.routingRules = append(f.routingRules, rule)
	return &rule, nil
}

func (f *adminFake) ListRoutingRules(context.Context) ([]domain.RoutingRule, error) {
	return f.routingRules, nil
}

func (f *adminFake) SetRoutingRuleEnabled(_ context.Context, id string, enabled bool) error {
	if f.err != nil {
		return f.err
	}
	if f.enabled == nil {
		f.enabled = make(map[string]bool)
	}
	f.enabled[id] = enabled
	return nil
}

func (f *adminFake) RemoveRoutingRule(context.Context, string) error {
	return f.err
}

var (
	_ ports.DocumentSubmitter = (*submitterFake)(nil)
	_ ports.DocumentHistory   = (*historyFake)(nil)
	_ ports.RuleAdmin         = (*adminFake)(nil)
)

func newTestHandler(opts Options) (http.Handler, *submitterFake, *adminFake) {
	submitter := &submitterFake{}
	admin := &adminFake{}
	history := &historyFake{docs: map[string]*domain.Document{
		"doc-1": {ID: "doc-1", Filename: "invoice.pdf", Status: domain.StatusRouted},
	}}
	return NewRouter(submitter, history, admin, nil, opts).Handler(), submitter, admin
}
