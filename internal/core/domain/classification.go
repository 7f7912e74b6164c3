package domain

import (
	"strings"
	"time"
)

// CategoryUnknown is assigned when no classifier produced a confident answer.
const CategoryUnknown = "Unknown"

type ClassifierSource string

const (
	SourceRule      ClassifierSource = "rule"
	SourceModel     ClassifierSource = "model"
	SourceRemote    ClassifierSource = "remote-fallback"
	SourceUntrained ClassifierSource = "untrained"
)

// RuleHint is a keyword-triggered category suggestion.
type RuleHint struct {
	ForcedCategory string `json:"forced_category"`
	MatchedKeyword string `json:"matched_keyword"`
}

type ClassificationResult struct {
	ID           string           `json:"id,omitempty"`
	DocumentID   string           `json:"document_id,omitempty"`
	DocumentName string           `json:"document_name"`
	Category     string           `json:"category"`
	Confidence   float64          `json:"confidence"`
	Rationale    string           `json:"rationale"`
	Hint         *RuleHint        `json:"rule_hint,omitempty"`
	Source       ClassifierSource `json:"source"`
	// TextDigest identifies the text a cached result was computed from.
	TextDigest   string           `json:"text_digest,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

type ClassificationRule struct {
	ID        string    `json:"id"`
	Keyword   string    `json:"keyword"`
	Category  string    `json:"category"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NormalizeKeyword gives the canonical form rules are unique by.
func NormalizeKeyword(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}

// DefaultClassificationRules sit beneath stored rules; a stored rule for the same keyword wins.
func DefaultClassificationRules() map[string]string {
	return map[string]string{
		"invoice":      "Finance",
		"bill":         "Finance",
		"resume":       "Resume",
		"cv":           "Resume",
		"agreement":    "Legal",
		"contract":     "Legal",
		"prescription": "Medical",
		"report":       "Technical",
	}
}

// DefaultLabels is the fixed label set of the statistical model.
func DefaultLabels() []string {
	return []string{"Finance", "Legal", "Resume", "Medical", "Technical", "General"}
}
