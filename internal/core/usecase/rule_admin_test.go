package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

func TestAddRuleAppliesToNextClassification(t *testing.T) {
	rules := newRuleStoreFake()
	cache := newClassificationCacheFake()
	admin := NewRuleAdminUseCase(rules, &routingStoreFake{}, cache)
	engine := NewClassificationEngine(DefaultClassificationConfig(), rules, cache, nil, nil)

	if hint := engine.matchRule(context.Background(), "quarterly payslip"); hint != nil {
		t.Fatalf("expected no hint before the rule exists, got %+v", hint)
	}
	if _, err := admin.AddRule(context.Background(), "  PAYSLIP ", "Finance", "admin"); err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	hint := engine.matchRule(context.Background(), "quarterly payslip")
	if hint == nil || hint.MatchedKeyword != "payslip" || hint.ForcedCategory != "Finance" {
		t.Fatalf("expected new rule to apply, got %+v", hint)
	}

	if err := admin.RemoveRule(context.Background(), "payslip"); err != nil {
		t.Fatalf("RemoveRule() error = %v", err)
	}
	if hint := engine.matchRule(context.Background(), "quarterly payslip"); hint != nil {
		t.Fatalf("expected removed rule to stop matching, got %+v", hint)
	}
}

func TestRuleChangesSurviveCacheInvalidationFailure(t *testing.T) {
	rules := newRuleStoreFake()
	cache := newClassificationCacheFake()
	cache.invalidateErr = errors.New("redis unavailable")
	admin := NewRuleAdminUseCase(rules, &routingStoreFake{}, cache)

	rule, err := admin.AddRule(context.Background(), "payslip", "Finance", "admin")
	if err != nil {
		t.Fatalf("AddRule() error = %v", err)
	}
	if rule == nil || rule.Keyword != "payslip" {
		t.Fatalf("unexpected rule %+v", rule)
	}
	if err := admin.RemoveRule(context.Background(), "payslip"); err != nil {
		t.Fatalf("RemoveRule() error = %v", err)
	}
	stored, err := rules.ListRules(context.Background())
	if err != nil {
		t.Fatalf("ListRules() error = %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("expected rule to be removed, got %+v", stored)
	}
}

func TestAddRuleRejectsBlankFields(t *testing.T) {
	admin := NewRuleAdminUseCase(newRuleStoreFake(), &routingStoreFake{}, nil)
	if _, err := admin.AddRule(context.Background(), "", "Finance", ""); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRemoveMissingRuleIsNotFound(t *testing.T) {
	admin := NewRuleAdminUseCase(newRuleStoreFake(), &routingStoreFake{}, nil)
	if err := admin.RemoveRule(context.Background(), "ghost"); !domain.IsKind(err, domain.ErrRuleNotFound) {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestAddRoutingRuleNormalizesLegacyKind(t *testing.T) {
	admin := NewRuleAdminUseCase(newRuleStoreFake(), &routingStoreFake{}, nil)
	rule, err := admin.AddRoutingRule(context.Background(), domain.RoutingRule{
		DocType: "Finance", DestinationKind: "s3", DestinationValue: "s3://archive/finance", Enabled: true,
	})
	if err != nil {
		t.Fatalf("AddRoutingRule() error = %v", err)
	}
	if rule.DestinationKind != domain.DestinationObjectStore || rule.ID == "" {
		t.Fatalf("unexpected rule %+v", rule)
	}
}

func TestAddRoutingRuleRejectsSecondEnabledRule(t *testing.T) {
	admin := NewRuleAdminUseCase(newRuleStoreFake(), &routingStoreFake{}, nil)
	base := domain.RoutingRule{DocType: "Finance", DestinationKind: domain.DestinationFolder, DestinationValue: "/a", Enabled: true}
	if _, err := admin.AddRoutingRule(context.Background(), base); err != nil {
		t.Fatalf("AddRoutingRule() error = %v", err)
	}
	base.DocType = "FINANCE"
	if _, err := admin.AddRoutingRule(context.Background(), base); !domain.IsKind(err, domain.ErrDuplicateRule) {
		t.Fatalf("expected ErrDuplicateRule, got %v", err)
	}
}

func TestAddRoutingRuleValidatesKindAndConditions(t *testing.T) {
	admin := NewRuleAdminUseCase(newRuleStoreFake(), &routingStoreFake{}, nil)
	cases := []domain.RoutingRule{
		{DocType: "Finance", DestinationKind: "ftp", DestinationValue: "/a"},
		{DocType: "", DestinationKind: domain.DestinationFolder, DestinationValue: "/a"},
		{DocType: "Finance", DestinationKind: domain.DestinationFolder, DestinationValue: "/a",
			Conditions: domain.RuleConditions{"credibility_score": {"~": 1}}},
	}
	for _, rule := range cases {
		if _, err := admin.AddRoutingRule(context.Background(), rule); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %+v, got %v", rule, err)
		}
	}
}
