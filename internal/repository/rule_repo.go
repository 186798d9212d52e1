package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"emailagent/internal/model"
)

type RuleRepository struct {
	db *pgxpool.Pool
}

func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, user_id, name, description, priority, is_active, conditions,
        target_category, target_folder, auto_delete, match_count, created_at`

// ActiveRules returns the user's active rules, highest priority first and
// lowest ID first among equal priorities.
func (r *RuleRepository) ActiveRules(ctx context.Context, userID int64) ([]model.ClassificationRule, error) {
	return r.query(ctx, `
        SELECT `+ruleColumns+`
        FROM classification_rules
        WHERE user_id = $1 AND is_active = TRUE
        ORDER BY priority DESC, id ASC
    `, userID)
}

// ListByUser returns every rule of the user, active or not.
func (r *RuleRepository) ListByUser(ctx context.Context, userID int64) ([]model.ClassificationRule, error) {
	return r.query(ctx, `
        SELECT `+ruleColumns+`
        FROM classification_rules
        WHERE user_id = $1
        ORDER BY priority DESC, id ASC
    `, userID)
}

func (r *RuleRepository) query(ctx context.Context, sql string, args ...any) ([]model.ClassificationRule, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	rules, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.ClassificationRule, error) {
		var (
			rule     model.ClassificationRule
			category string
		)
		err := row.Scan(
			&rule.ID,
			&rule.UserID,
			&rule.Name,
			&rule.Description,
			&rule.Priority,
			&rule.IsActive,
			&rule.Conditions,
			&category,
			&rule.TargetFolder,
			&rule.AutoDelete,
			&rule.MatchCount,
			&rule.CreatedAt,
		)
		rule.TargetCategory = model.Category(category)
		return rule, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan rules: %w", err)
	}
	return rules, nil
}
