package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type DestinationKind string

const (
	DestinationFolder      DestinationKind = "folder"
	DestinationObjectStore DestinationKind = "object-store"
	DestinationExternalAPI DestinationKind = "external-api"
)

// ParseDestinationKind accepts the canonical kinds plus the legacy "s3" and "erp" names.
func ParseDestinationKind(raw string) (DestinationKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "folder":
		return DestinationFolder, true
	case "object-store", "s3":
		return DestinationObjectStore, true
	case "external-api", "erp", "api":
		return DestinationExternalAPI, true
	default:
		return DestinationKind(raw), false
	}
}

type RoutingStatus string

const (
	RoutingSuccess RoutingStatus = "success"
	RoutingFailed  RoutingStatus = "failed"
	RoutingNoRule  RoutingStatus = "no_rule"
)

const MessageNoRule = "No matching routing rule found"

type RoutingRule struct {
	ID               string          `json:"id"`
	DocType          string          `json:"doc_type"`
	DestinationKind  DestinationKind `json:"destination_kind"`
	DestinationValue string          `json:"destination_value"`
	Conditions       RuleConditions  `json:"conditions,omitempty"`
	Enabled          bool            `json:"enabled"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RoutingLog is an immutable record of one routing attempt.
type RoutingLog struct {
	ID          string        `json:"id"`
	DocumentID  string        `json:"document_id"`
	RuleID      *string       `json:"rule_id"`
	FileName    string        `json:"file_name"`
	FilePath    *string       `json:"file_path"`
	DocType     string        `json:"doc_type"`
	Destination *string       `json:"destination"`
	Status      RoutingStatus `json:"status"`
	Message     string        `json:"message"`
	CreatedAt   time.Time     `json:"created_at"`
}

// RuleConditions maps a numeric document attribute to operator/operand pairs,
// e.g. {"credibility_score": {">=": 0.7}}.
type RuleConditions map[string]map[string]float64

var conditionOperators = map[string]func(a, b float64) bool{
	">":  func(a, b float64) bool { return a > b },
	">=": func(a, b float64) bool { return a >= b },
	"<":  func(a, b float64) bool { return a < b },
	"<=": func(a, b float64) bool { return a <= b },
	"==": func(a, b float64) bool { return a == b },
	"!=": func(a, b float64) bool { return a != b },
}

// Validate rejects unknown operators so misconfigured rules fail at creation.
func (c RuleConditions) Validate() error {
	for attr, ops := range c {
		if strings.TrimSpace(attr) == "" {
			return WrapError(ErrInvalidInput, "validate conditions", fmt.Errorf("empty attribute name"))
		}
		for op := range ops {
			if _, ok := conditionOperators[op]; !ok {
				return WrapError(ErrInvalidInput, "validate conditions", fmt.Errorf("unknown operator %q on %s", op, attr))
			}
		}
	}
	return nil
}

// Evaluate checks every condition against attrs in a stable order. It returns
// a description of the first condition that does not hold.
func (c RuleConditions) Evaluate(attrs map[string]float64) (bool, string) {
	attrNames := make([]string, 0, len(c))
	for attr := range c {
		attrNames = append(attrNames, attr)
	}
	sort.Strings(attrNames)

	for _, attr := range attrNames {
		value, ok := attrs[attr]
		if !ok {
			return false, fmt.Sprintf("attribute %s is not available", attr)
		}
		ops := c[attr]
		opNames := make([]string, 0, len(ops))
		for op := range ops {
			opNames = append(opNames, op)
		}
		sort.Strings(opNames)
		for _, op := range opNames {
			cmp, known := conditionOperators[op]
			if !known {
				return false, fmt.Sprintf("unknown operator %q on %s", op, attr)
			}
			if !cmp(value, ops[op]) {
				return false, fmt.Sprintf("condition %s %s %g not met (value %g)", attr, op, ops[op], value)
			}
		}
	}
	return true, ""
}
