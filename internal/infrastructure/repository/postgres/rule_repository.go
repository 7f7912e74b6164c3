package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

// RuleRepository stores keyword classification rules, unique by lower-cased keyword.
type RuleRepository struct {
	db *sql.DB
}

func NewRuleRepository(db *sql.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) UpsertRule(ctx context.Context, rule domain.ClassificationRule) (*domain.ClassificationRule, error) {
	keyword := domain.NormalizeKeyword(rule.Keyword)
	category := strings.TrimSpace(rule.Category)
	if keyword == "" || category == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upsert rule", fmt.Errorf("keyword and category are required"))
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	out := domain.ClassificationRule{}
	err := r.db.QueryRowContext(ctx, `
INSERT INTO classification_rules (id, keyword, category, created_by, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (keyword) DO UPDATE
SET category = EXCLUDED.category, created_by = EXCLUDED.created_by, created_at = EXCLUDED.created_at
RETURNING id, keyword, category, created_by, created_at
`, rule.ID, keyword, category, rule.CreatedBy, rule.CreatedAt).Scan(
		&out.ID, &out.Keyword, &out.Category, &out.CreatedBy, &out.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert classification rule: %w", err)
	}
	return &out, nil
}

func (r *RuleRepository) DeleteRule(ctx context.Context, keyword string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM classification_rules WHERE keyword = $1`, domain.NormalizeKeyword(keyword))
	if err != nil {
		return fmt.Errorf("delete classification rule: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete classification rule rows affected: %w", err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrRuleNotFound, "delete rule", fmt.Errorf("keyword %q", keyword))
	}
	return nil
}

func (r *RuleRepository) ListRules(ctx context.Context) ([]domain.ClassificationRule, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, keyword, category, created_by, created_at
FROM classification_rules
ORDER BY keyword ASC
`)
	if err != nil {
		return nil, fmt.Errorf("list classification rules: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ClassificationRule, 0)
	for rows.Next() {
		var rule domain.ClassificationRule
		if err := rows.Scan(&rule.ID, &rule.Keyword, &rule.Category, &rule.CreatedBy, &rule.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan classification rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate classification rules: %w", err)
	}
	return out, nil
}
