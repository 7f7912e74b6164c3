package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// RuleAdminUseCase manages classification and routing rules. Classification
// rule mutations invalidate the cached rule set.
type RuleAdminUseCase struct {
	rules   ports.ClassificationRuleStore
	routing ports.RoutingRuleStore
	cache   ports.ClassificationCache
}

func NewRuleAdminUseCase(rules ports.ClassificationRuleStore, routing ports.RoutingRuleStore, cache ports.ClassificationCache) *RuleAdminUseCase {
	return &RuleAdminUseCase{rules: rules, routing: routing, cache: cache}
}

func (uc *RuleAdminUseCase) AddRule(ctx context.Context, keyword, category, createdBy string) (*domain.ClassificationRule, error) {
	keyword = domain.NormalizeKeyword(keyword)
	category = strings.TrimSpace(category)
	if keyword == "" || category == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "add rule", errors.New("keyword and category are required"))
	}
	rule, err := uc.rules.UpsertRule(ctx, domain.ClassificationRule{
		Keyword:   keyword,
		Category:  category,
		CreatedBy: strings.TrimSpace(createdBy),
	})
	if err != nil {
		return nil, fmt.Errorf("upsert rule: %w", err)
	}
	uc.invalidate(ctx, "add")
	return rule, nil
}

func (uc *RuleAdminUseCase) RemoveRule(ctx context.Context, keyword string) error {
	keyword = domain.NormalizeKeyword(keyword)
	if keyword == "" {
		return domain.WrapError(domain.ErrInvalidInput, "remove rule", errors.New("keyword is required"))
	}
	if err := uc.rules.DeleteRule(ctx, keyword); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	uc.invalidate(ctx, "remove")
	return nil
}

func (uc *RuleAdminUseCase) ListRules(ctx context.Context) ([]domain.ClassificationRule, error) {
	return uc.rules.ListRules(ctx)
}

func (uc *RuleAdminUseCase) AddRoutingRule(ctx context.Context, rule domain.RoutingRule) (*domain.RoutingRule, error) {
	rule.DocType = strings.TrimSpace(rule.DocType)
	rule.DestinationValue = strings.TrimSpace(rule.DestinationValue)
	if rule.DocType == "" || rule.DestinationValue == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "add routing rule", errors.New("doc_type and destination_value are required"))
	}
	kind, ok := domain.ParseDestinationKind(string(rule.DestinationKind))
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "add routing rule", fmt.Errorf("unknown destination kind %q", rule.DestinationKind))
	}
	rule.DestinationKind = kind
	if err := rule.Conditions.Validate(); err != nil {
		return nil, err
	}
	if err := uc.routing.CreateRoutingRule(ctx, &rule); err != nil {
		return nil, fmt.Errorf("create routing rule: %w", err)
	}
	return &rule, nil
}

func (uc *RuleAdminUseCase) ListRoutingRules(ctx context.Context) ([]domain.RoutingRule, error) {
	return uc.routing.ListRoutingRules(ctx)
}

func (uc *RuleAdminUseCase) SetRoutingRuleEnabled(ctx context.Context, id string, enabled bool) error {
	if strings.TrimSpace(id) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "set routing rule enabled", errors.New("id is required"))
	}
	return uc.routing.SetRoutingRuleEnabled(ctx, id, enabled)
}

func (uc *RuleAdminUseCase) RemoveRoutingRule(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "remove routing rule", errors.New("id is required"))
	}
	return uc.routing.DeleteRoutingRule(ctx, id)
}

// invalidate runs after the rule change is committed, so a cache failure is
// only logged; the cached rule set then expires on its own TTL.
func (uc *RuleAdminUseCase) invalidate(ctx context.Context, action string) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.InvalidateRules(ctx); err != nil {
		slog.Warn("classification_rules_invalidate_failed", "action", action, "error", err)
	}
}
