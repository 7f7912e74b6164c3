package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
	"github.com/kirillkom/document-pipeline/internal/core/ports"
)

// ruleSet is the YAML import format.
type ruleSet struct {
	ClassificationRules []keywordRuleEntry `yaml:"classification_rules"`
	RoutingRules        []routingRuleEntry `yaml:"routing_rules"`
}

type keywordRuleEntry struct {
	Keyword   string `yaml:"keyword"`
	Category  string `yaml:"category"`
	CreatedBy string `yaml:"created_by"`
}

type routingRuleEntry struct {
	DocType          string                `yaml:"doc_type"`
	DestinationKind  string                `yaml:"destination_kind"`
	DestinationValue string                `yaml:"destination_value"`
	Conditions       domain.RuleConditions `yaml:"conditions"`
	Enabled          *bool                 `yaml:"enabled"`
}

type importSummary struct {
	keywordRules int
	routingRules int
	skipped      int
}

func loadRuleSet(path string) (ruleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ruleSet{}, fmt.Errorf("read rule file: %w", err)
	}
	return parseRuleSet(raw)
}

func parseRuleSet(raw []byte) (ruleSet, error) {
	var set ruleSet
	if err := yaml.Unmarshal(raw, &set); err != nil {
		return ruleSet{}, fmt.Errorf("parse rule file: %w", err)
	}
	for i, entry := range set.RoutingRules {
		if err := entry.Conditions.Validate(); err != nil {
			return ruleSet{}, fmt.Errorf("routing rule %d: %w", i+1, err)
		}
	}
	return set, nil
}

// applyRuleSet upserts keyword rules and creates routing rules. A routing rule
// that would duplicate an enabled one is skipped so imports can be re-run.
func applyRuleSet(ctx context.Context, admin ports.RuleAdmin, set ruleSet) (importSummary, error) {
	var summary importSummary
	for _, entry := range set.ClassificationRules {
		createdBy := entry.CreatedBy
		if createdBy == "" {
			createdBy = "docctl-import"
		}
		if _, err := admin.AddRule(ctx, entry.Keyword, entry.Category, createdBy); err != nil {
			return summary, fmt.Errorf("keyword rule %q: %w", entry.Keyword, err)
		}
		summary.keywordRules++
	}
	for _, entry := range set.RoutingRules {
		enabled := true
		if entry.Enabled != nil {
			enabled = *entry.Enabled
		}
		_, err := admin.AddRoutingRule(ctx, domain.RoutingRule{
			DocType:          entry.DocType,
			DestinationKind:  domain.DestinationKind(entry.DestinationKind),
			DestinationValue: entry.DestinationValue,
			Conditions:       entry.Conditions,
			Enabled:          enabled,
		})
		if errors.Is(err, domain.ErrDuplicateRule) {
			summary.skipped++
			continue
		}
		if err != nil {
			return summary, fmt.Errorf("routing rule for %q: %w", entry.DocType, err)
		}
		summary.routingRules++
	}
	return summary, nil
}
