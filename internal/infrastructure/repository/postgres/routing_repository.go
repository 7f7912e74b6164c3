package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const uniqueViolation = "23505"

type RoutingRepository struct {
	db *sql.DB
}

func NewRoutingRepository(db *sql.DB) *RoutingRepository {
	return &RoutingRepository{db: db}
}

const routingRuleColumns = `id, doc_type, destination_type, destination_value, conditions, enabled, created_at, updated_at`

// CreateRoutingRule inserts rule, rejecting a second enabled rule for the same
// doc type (case-insensitive).
func (r *RoutingRepository) CreateRoutingRule(ctx context.Context, rule *domain.RoutingRule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	condJSON, err := marshalConditions(rule.Conditions)
	if err != nil {
		return err
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if rule.Enabled {
			if err := ensureNoEnabledRule(ctx, tx, rule.DocType, rule.ID); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
INSERT INTO routing_rules (`+routingRuleColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, rule.ID, rule.DocType, string(rule.DestinationKind), rule.DestinationValue, condJSON, rule.Enabled, rule.CreatedAt, rule.UpdatedAt)
		if err != nil {
			return mapUniqueViolation("create routing rule", rule.DocType, err)
		}
		return nil
	})
}

// FindEnabledRule returns nil when no enabled rule exists for docType.
func (r *RoutingRepository) FindEnabledRule(ctx context.Context, docType string) (*domain.RoutingRule, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+routingRuleColumns+`
FROM routing_rules
WHERE lower(doc_type) = lower($1) AND enabled
ORDER BY created_at ASC
LIMIT 1
`, docType)
	if err != nil {
		return nil, fmt.Errorf("find routing rule: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("find routing rule: %w", err)
		}
		return nil, nil
	}
	rule, err := scanRoutingRule(rows)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *RoutingRepository) ListRoutingRules(ctx context.Context) ([]domain.RoutingRule, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+routingRuleColumns+`
FROM routing_rules
ORDER BY doc_type ASC, created_at ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list routing rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RoutingRule, 0)
	for rows.Next() {
		rule, err := scanRoutingRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate routing rules: %w", err)
	}
	return out, nil
}

func (r *RoutingRepository) SetRoutingRuleEnabled(ctx context.Context, id string, enabled bool) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var docType string
		err := tx.QueryRowContext(ctx, `SELECT doc_type FROM routing_rules WHERE id = $1 FOR UPDATE`, id).Scan(&docType)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return domain.WrapError(domain.ErrRuleNotFound, "set routing rule enabled", fmt.Errorf("rule %s", id))
			}
			return fmt.Errorf("load routing rule: %w", err)
		}
		if enabled {
			if err := ensureNoEnabledRule(ctx, tx, docType, id); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE routing_rules SET enabled = $2, updated_at = $3
WHERE id = $1
`, id, enabled, time.Now().UTC()); err != nil {
			return mapUniqueViolation("set routing rule enabled", docType, err)
		}
		return nil
	})
}

func (r *RoutingRepository) DeleteRoutingRule(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM routing_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete routing rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete routing rule rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrRuleNotFound, "delete routing rule", fmt.Errorf("rule %s", id))
	}
	return nil
}

func ensureNoEnabledRule(ctx context.Context, tx *sql.Tx, docType, exceptID string) error {
	var existing string
	err := tx.QueryRowContext(ctx, `
SELECT id FROM routing_rules
WHERE lower(doc_type) = lower($1) AND enabled AND id <> $2
LIMIT 1
`, docType, exceptID).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return fmt.Errorf("check enabled routing rules: %w", err)
	default:
		return domain.WrapError(domain.ErrDuplicateRule, "routing rule", fmt.Errorf("doc type %q already routed by rule %s", docType, existing))
	}
}

func mapUniqueViolation(op, docType string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return domain.WrapError(domain.ErrDuplicateRule, op, fmt.Errorf("doc type %q already has an enabled rule", docType))
	}
	return fmt.Errorf("%s: %w", op, err)
}

func marshalConditions(conds domain.RuleConditions) (any, error) {
	if len(conds) == 0 {
		return nil, nil
	}
	if err := conds.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(conds)
	if err != nil {
		return nil, fmt.Errorf("marshal conditions: %w", err)
	}
	return raw, nil
}

func scanRoutingRule(row rowScanner) (domain.RoutingRule, error) {
	var rule domain.RoutingRule
	var kind string
	var condRaw []byte
	if err := row.Scan(&rule.ID, &rule.DocType, &kind, &rule.DestinationValue, &condRaw, &rule.Enabled, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return domain.RoutingRule{}, fmt.Errorf("scan routing rule: %w", err)
	}
	// Stored kinds are not re-validated; the routing engine reports unknown kinds as failed.
	rule.DestinationKind = domain.DestinationKind(strings.TrimSpace(kind))
	if len(condRaw) > 0 && string(condRaw) != "null" {
		if err := json.Unmarshal(condRaw, &rule.Conditions); err != nil {
			return domain.RoutingRule{}, fmt.Errorf("unmarshal conditions: %w", err)
		}
	}
	return rule, nil
}
