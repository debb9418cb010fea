package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"rulewatch/internal/domain"

	"go.uber.org/zap"
)

// AuditRepository 审计日志仓库（仅追加，单调自增 ID）
type AuditRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAuditRepository 创建审计日志仓库
func NewAuditRepository(db *sql.DB, logger *zap.Logger) *AuditRepository {
	return &AuditRepository{db: db, logger: logger}
}

// Append 追加一条审计记录
func (r *AuditRepository) Append(ctx context.Context, actor, action, target, details string) error {
	if action == "" {
		return fmt.Errorf("action is required")
	}
	if actor == "" {
		actor = "system"
	}

	query := `
		INSERT INTO audit_log (actor, action, target, details, ts)
		VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
	`

	if _, err := r.db.ExecContext(ctx, query, actor, action, target, details); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// AuditFilters 审计查询过滤条件
type AuditFilters struct {
	Actor     *string
	Action    *string
	StartTime *time.Time
	EndTime   *time.Time
}

// List 分页查询审计记录（ID 降序）
func (r *AuditRepository) List(ctx context.Context, filters AuditFilters, page, size int) ([]*domain.AuditEntry, int, error) {
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}

	where := []string{}
	args := []any{}
	argN := 1

	if filters.Actor != nil {
		where = append(where, fmt.Sprintf("actor = $%d", argN))
		args = append(args, *filters.Actor)
		argN++
	}
	if filters.Action != nil {
		where = append(where, fmt.Sprintf("action = $%d", argN))
		args = append(args, *filters.Action)
		argN++
	}
	if filters.StartTime != nil {
		where = append(where, fmt.Sprintf("ts >= $%d", argN))
		args = append(args, *filters.StartTime)
		argN++
	}
	if filters.EndTime != nil {
		where = append(where, fmt.Sprintf("ts <= $%d", argN))
		args = append(args, *filters.EndTime)
		argN++
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = "WHERE " + strings.Join(where, " AND ")
	}

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM audit_log %s`, whereClause)
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit entries: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT id, actor, action, target, details, ts
		FROM audit_log
		%s
		ORDER BY id DESC
		LIMIT $%d OFFSET $%d
	`, whereClause, argN, argN+1)
	args = append(args, size, (page-1)*size)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		var target, details sql.NullString
		if err := rows.Scan(&e.EntryID, &e.Actor, &e.Action, &target, &details, &e.Timestamp); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Target = target.String
		e.Details = details.String
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, total, nil
}
