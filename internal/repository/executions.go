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

// ExecutionsRepository 规则执行记录仓库（记录写入后不再变更）
type ExecutionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExecutionsRepository 创建执行记录仓库
func NewExecutionsRepository(db *sql.DB, logger *zap.Logger) *ExecutionsRepository {
	return &ExecutionsRepository{db: db, logger: logger}
}

// CreateExecution 写入一条执行记录，返回生成的 execution_id
func (r *ExecutionsRepository) CreateExecution(ctx context.Context, exec *domain.Execution) (string, error) {
	if exec == nil {
		return "", fmt.Errorf("execution is required")
	}
	if exec.RuleID == "" {
		return "", fmt.Errorf("rule_id is required")
	}
	if exec.Status != domain.ExecutionSuccess && exec.Status != domain.ExecutionError {
		return "", fmt.Errorf("invalid execution status: %s", exec.Status)
	}

	executionID := uuid.New().String()
	query := `
		INSERT INTO rule_executions (
			execution_id, rule_id, started_at, finished_at, status, result_count, error_log
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		executionID,
		exec.RuleID,
		exec.StartedAt,
		exec.FinishedAt,
		exec.Status,
		exec.ResultCount,
		exec.ErrorLog,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create execution: %w", err)
	}
	return executionID, nil
}

// GetExecution 查询单条执行记录
func (r *ExecutionsRepository) GetExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	if executionID == "" {
		return nil, fmt.Errorf("execution_id is required")
	}

	query := `
		SELECT execution_id, rule_id, started_at, finished_at, status, result_count, error_log
		FROM rule_executions
		WHERE execution_id = $1
	`

	var exec domain.Execution
	var resultCount sql.NullInt64
	var errorLog sql.NullString

	err := r.db.QueryRowContext(ctx, query, executionID).Scan(
		&exec.ExecutionID,
		&exec.RuleID,
		&exec.StartedAt,
		&exec.FinishedAt,
		&exec.Status,
		&resultCount,
		&errorLog,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("execution %s: %w", executionID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}

	if resultCount.Valid {
		count := int(resultCount.Int64)
		exec.ResultCount = &count
	}
	if errorLog.Valid {
		exec.ErrorLog = &errorLog.String
	}
	return &exec, nil
}

// LastFinishedAt 查询规则最近一次完成执行的结束时间（成功或失败都算完成）
// 没有执行过返回 nil
func (r *ExecutionsRepository) LastFinishedAt(ctx context.Context, ruleID string) (*time.Time, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule_id is required")
	}

	query := `
		SELECT finished_at
		FROM rule_executions
		WHERE rule_id = $1
		ORDER BY finished_at DESC
		LIMIT 1
	`

	var finishedAt time.Time
	err := r.db.QueryRowContext(ctx, query, ruleID).Scan(&finishedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query last execution: %w", err)
	}
	return &finishedAt, nil
}

// ListExecutions 按规则分页查询执行记录
func (r *ExecutionsRepository) ListExecutions(ctx context.Context, ruleID string, page, size int) ([]*domain.Execution, error) {
	if ruleID == "" {
		return nil, fmt.Errorf("rule_id is required")
	}
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}

	query := `
		SELECT execution_id, rule_id, started_at, finished_at, status, result_count, error_log
		FROM rule_executions
		WHERE rule_id = $1
		ORDER BY finished_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, ruleID, size, (page-1)*size)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	executions := []*domain.Execution{}
	for rows.Next() {
		var exec domain.Execution
		var resultCount sql.NullInt64
		var errorLog sql.NullString

		err := rows.Scan(
			&exec.ExecutionID,
			&exec.RuleID,
			&exec.StartedAt,
			&exec.FinishedAt,
			&exec.Status,
			&resultCount,
			&errorLog,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		if resultCount.Valid {
			count := int(resultCount.Int64)
			exec.ResultCount = &count
		}
		if errorLog.Valid {
			exec.ErrorLog = &errorLog.String
		}
		executions = append(executions, &exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}
	return executions, nil
}
