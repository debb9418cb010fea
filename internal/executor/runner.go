package executor

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// QueryRunner 规则查询执行接口
// 返回查询命中的结果行数
type QueryRunner interface {
	Run(ctx context.Context, targetSource, query string) (int, error)
}

// SQLRunner 基于 database/sql 的查询执行器
// 每个 target source 对应一个独立连接池；规则查询一律在只读事务内
// 带超时运行，失控的查询不会拖垮目标库
type SQLRunner struct {
	sources map[string]*sql.DB
	timeout time.Duration
	logger  *zap.Logger
}

// NewSQLRunner 创建查询执行器
func NewSQLRunner(sources map[string]*sql.DB, timeout time.Duration, logger *zap.Logger) *SQLRunner {
	return &SQLRunner{sources: sources, timeout: timeout, logger: logger}
}

// Run 在指定 target source 上执行查询，返回结果行数
func (r *SQLRunner) Run(ctx context.Context, targetSource, query string) (int, error) {
	db, ok := r.sources[targetSource]
	if !ok {
		return 0, fmt.Errorf("unknown target source: %s", targetSource)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return 0, fmt.Errorf("failed to begin read-only transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		count++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate query results: %w", err)
	}

	r.logger.Debug("Rule query executed",
		zap.String("target_source", targetSource),
		zap.Int("result_count", count),
	)
	return count, nil
}
