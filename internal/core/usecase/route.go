package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// RoutingEngine resolves the enabled rule for a document type, dispatches the
// document and persists exactly one RoutingLog per attempt.
type RoutingEngine struct {
	store       ports.LifecycleStore
	history     ports.DocumentHistory
	rules       ports.RoutingRuleStore
	dispatchers map[domain.DestinationKind]ports.Dispatcher
}

func NewRoutingEngine(
	store ports.LifecycleStore,
	history ports.DocumentHistory,
	rules ports.RoutingRuleStore,
	dispatchers map[domain.DestinationKind]ports.Dispatcher,
) *RoutingEngine {
	return &RoutingEngine{
		store:       store,
		history:     history,
		rules:       rules,
		dispatchers: dispatchers,
	}
}

// Route returns a nil log without error when the document has no type.
func (e *RoutingEngine) Route(ctx context.Context, req ports.RoutingRequest) (*domain.RoutingLog, error) {
	docType, confidence, err := e.resolveType(ctx, req)
	if err != nil {
		return nil, err
	}
	if docType == "" {
		slog.Warn("routing_no_type_metadata", "document_id", req.DocumentID)
		return nil, nil
	}

	doc, err := e.store.GetByID(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("fetch document by id: %w", err)
	}
	rule, err := e.rules.FindEnabledRule(ctx, docType)
	if err != nil {
		return nil, fmt.Errorf("find routing rule: %w", err)
	}

	entry := e.attempt(ctx, doc, docType, confidence, rule)
	if err := e.store.RecordRouting(ctx, doc.ID, entry); err != nil {
		return &entry, fmt.Errorf("record routing: %w", err)
	}

	slog.Info("document_routed",
		"document_id", doc.ID,
		"doc_type", docType,
		"status", string(entry.Status),
		"message", entry.Message,
	)
	return &entry, nil
}

func (e *RoutingEngine) resolveType(ctx context.Context, req ports.RoutingRequest) (string, float64, error) {
	docType := strings.TrimSpace(req.DocType)
	if docType != "" {
		return docType, req.Confidence, nil
	}
	latest, err := e.history.LatestClassification(ctx, req.DocumentID)
	if err != nil {
		return "", 0, fmt.Errorf("load latest classification: %w", err)
	}
	if latest == nil {
		return "", 0, nil
	}
	return strings.TrimSpace(latest.Category), latest.Confidence, nil
}

// attempt never fails: every problem becomes a no_rule or failed outcome.
func (e *RoutingEngine) attempt(ctx context.Context, doc *domain.Document, docType string, confidence float64, rule *domain.RoutingRule) domain.RoutingLog {
	entry := domain.RoutingLog{
		DocumentID: doc.ID,
		FileName:   doc.Filename,
		DocType:    docType,
		CreatedAt:  time.Now().UTC(),
	}

	if rule == nil {
		entry.Status = domain.RoutingNoRule
		entry.Message = domain.MessageNoRule
		return entry
	}

	attrs := map[string]float64{
		"credibility_score": doc.CredibilityScore,
		"confidence":        confidence,
	}
	if ok, reason := rule.Conditions.Evaluate(attrs); !ok {
		entry.Status = domain.RoutingNoRule
		entry.Message = fmt.Sprintf("%s: %s", domain.MessageNoRule, reason)
		return entry
	}

	ruleID := rule.ID
	destination := rule.DestinationValue
	entry.RuleID = &ruleID
	entry.Destination = &destination

	kind, known := domain.ParseDestinationKind(string(rule.DestinationKind))
	dispatcher, ok := e.dispatchers[kind]
	if !known || !ok || dispatcher == nil {
		entry.Status = domain.RoutingFailed
		entry.Message = fmt.Sprintf("Invalid destination type: %s", rule.DestinationKind)
		return entry
	}

	location, err := dispatcher.Dispatch(ctx, doc, destination)
	if err != nil {
		entry.Status = domain.RoutingFailed
		entry.Message = err.Error()
		return entry
	}

	entry.Status = domain.RoutingSuccess
	if location != "" {
		entry.FilePath = &location
		entry.Message = fmt.Sprintf("Document routed to %s", location)
	} else {
		entry.Message = fmt.Sprintf("Document routed via %s", kind)
	}
	return entry
}

// RouteStage is the final pipeline stage; it emits no further message.
type RouteStage struct {
	router ports.Router
}

func NewRouteStage(router ports.Router) *RouteStage {
	return &RouteStage{router: router}
}

func (s *RouteStage) Process(ctx context.Context, msg domain.DocumentClassified) (domain.Message, error) {
	_, err := s.router.Route(ctx, ports.RoutingRequest{
		DocumentID: msg.DocumentID,
		DocType:    msg.DocType,
		Confidence: msg.Confidence,
	})
	if err != nil {
		return nil, err
	}
	return nil, nil
}
