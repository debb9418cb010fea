package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rulewatch/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RulesRepository 监控规则仓库
type RulesRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRulesRepository 创建规则仓库
func NewRulesRepository(db *sql.DB, logger *zap.Logger) *RulesRepository {
	return &RulesRepository{db: db, logger: logger}
}

const ruleColumns = `
	rule_id,
	name,
	description,
	query_sql,
	interval_minutes,
	active,
	window_start,
	window_end,
	silenced_until,
	threshold,
	target_source,
	priority,
	notify_role,
	notify_email,
	created_at,
	updated_at
`

func scanRule(scan func(dest ...any) error) (*domain.Rule, error) {
	var rule domain.Rule
	var description, notifyRole, notifyEmail sql.NullString
	var silencedUntil sql.NullTime
	var windowStart, windowEnd int

	err := scan(
		&rule.RuleID,
		&rule.Name,
		&description,
		&rule.Query,
		&rule.IntervalMinutes,
		&rule.Active,
		&windowStart,
		&windowEnd,
		&silencedUntil,
		&rule.Threshold,
		&rule.TargetSource,
		&rule.Priority,
		&notifyRole,
		&notifyEmail,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.WindowStart = domain.ClockTime(windowStart)
	rule.WindowEnd = domain.ClockTime(windowEnd)
	if description.Valid {
		rule.Description = &description.String
	}
	if silencedUntil.Valid {
		rule.SilencedUntil = &silencedUntil.Time
	}
	if notifyRole.Valid {
		rule.NotifyRole = &notifyRole.String
	}
	if notifyEmail.Valid {
		rule.NotifyEmail = &notifyEmail.String
	}
	return &rule, nil
}

// GetRule 根据 rule_id 查询单条规则
func (r *RulesRepository) GetRule(ctx context.Context, ruleID string) (*domain.Rule, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule_id is required")
	}

	query := fmt.Sprintf(`SELECT %s FROM rules WHERE rule_id = $1`, ruleColumns)

	rule, err := scanRule(func(dest ...any) error {
		return r.db.QueryRowContext(ctx, query, ruleID).Scan(dest...)
	})
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("rule %s: %w", ruleID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query rule: %w", err)
	}
	return rule, nil
}

// ListActiveRules 查询所有启用的规则（调度器每个 tick 调用）
func (r *RulesRepository) ListActiveRules(ctx context.Context) ([]*domain.Rule, error) {
	query := fmt.Sprintf(`SELECT %s FROM rules WHERE active = true ORDER BY rule_id`, ruleColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active rules: %w", err)
	}
	defer rows.Close()

	rules := []*domain.Rule{}
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

// ListRules 查询全部规则（含停用）
func (r *RulesRepository) ListRules(ctx context.Context) ([]*domain.Rule, error) {
	query := fmt.Sprintf(`SELECT %s FROM rules ORDER BY name`, ruleColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	rules := []*domain.Rule{}
	for rows.Next() {
		rule, err := scanRule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

// CreateRule 创建规则，返回生成的 rule_id
func (r *RulesRepository) CreateRule(ctx context.Context, rule *domain.Rule) (string, error) {
	if rule == nil {
		return "", fmt.Errorf("rule is required")
	}
	if err := rule.Validate(); err != nil {
		return "", err
	}

	ruleID := uuid.New().String()
	query := `
		INSERT INTO rules (
			rule_id, name, description, query_sql, interval_minutes, active,
			window_start, window_end, silenced_until, threshold, target_source,
			priority, notify_role, notify_email, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			CURRENT_TIMESTAMP, CURRENT_TIMESTAMP
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		ruleID,
		rule.Name,
		rule.Description,
		rule.Query,
		rule.IntervalMinutes,
		rule.Active,
		int(rule.WindowStart),
		int(rule.WindowEnd),
		rule.SilencedUntil,
		rule.Threshold,
		rule.TargetSource,
		rule.Priority,
		rule.NotifyRole,
		rule.NotifyEmail,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create rule: %w", err)
	}
	return ruleID, nil
}

// UpdateRule 整体更新规则
func (r *RulesRepository) UpdateRule(ctx context.Context, rule *domain.Rule) error {
	if rule == nil || rule.RuleID == "" {
		return fmt.Errorf("rule with rule_id is required")
	}
	if err := rule.Validate(); err != nil {
		return err
	}

	query := `
		UPDATE rules SET
			name = $2,
			description = $3,
			query_sql = $4,
			interval_minutes = $5,
			active = $6,
			window_start = $7,
			window_end = $8,
			silenced_until = $9,
			threshold = $10,
			target_source = $11,
			priority = $12,
			notify_role = $13,
			notify_email = $14,
			updated_at = CURRENT_TIMESTAMP
		WHERE rule_id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		rule.RuleID,
		rule.Name,
		rule.Description,
		rule.Query,
		rule.IntervalMinutes,
		rule.Active,
		int(rule.WindowStart),
		int(rule.WindowEnd),
		rule.SilencedUntil,
		rule.Threshold,
		rule.TargetSource,
		rule.Priority,
		rule.NotifyRole,
		rule.NotifyEmail,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %s: %w", rule.RuleID, domain.ErrNotFound)
	}
	return nil
}

// DeleteRule 删除规则
// 规则停用不会取消在途执行，只阻止后续调度；删除同理
func (r *RulesRepository) DeleteRule(ctx context.Context, ruleID string) error {
	if ruleID == "" {
		return fmt.Errorf("rule_id is required")
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM rules WHERE rule_id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, domain.ErrNotFound)
	}
	return nil
}

// SilenceRule 设置规则静默截止时间
func (r *RulesRepository) SilenceRule(ctx context.Context, ruleID string, until time.Time) error {
	if ruleID == "" {
		return fmt.Errorf("rule_id is required")
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE rules SET silenced_until = $2, updated_at = CURRENT_TIMESTAMP WHERE rule_id = $1`,
		ruleID, until,
	)
	if err != nil {
		return fmt.Errorf("failed to silence rule: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("rule %s: %w", ruleID, domain.ErrNotFound)
	}
	return nil
}
