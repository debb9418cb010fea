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

// QueueRepository 执行队列仓库
// pending → running 的 claim 在单个事务内完成，是唯一的执行同步点：
// 两个 worker 竞争同一条目时只有一个成功
type QueueRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewQueueRepository 创建执行队列仓库
func NewQueueRepository(db *sql.DB, logger *zap.Logger) *QueueRepository {
	return &QueueRepository{db: db, logger: logger}
}

// Enqueue 入队一条执行请求
// originIncidentID 非空表示该条目来自事故的 REEXECUTE 操作
func (r *QueueRepository) Enqueue(ctx context.Context, ruleID string, originIncidentID *string, scheduledFor time.Time) (string, error) {
	if ruleID == "" {
		return "", fmt.Errorf("rule_id is required")
	}

	entryID := uuid.New().String()
	query := `
		INSERT INTO run_queue (
			entry_id, rule_id, origin_incident_id, status, scheduled_for, created_at
		) VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
	`

	_, err := r.db.ExecContext(ctx, query,
		entryID, ruleID, originIncidentID, domain.QueuePending, scheduledFor,
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue: %w", err)
	}
	return entryID, nil
}

// HasActiveEntry 判断规则是否已有 pending/running 条目
// 调度器入队前检查，保证 tick 重叠时队列不会无限增长
func (r *QueueRepository) HasActiveEntry(ctx context.Context, ruleID string) (bool, error) {
	if ruleID == "" {
		return false, fmt.Errorf("rule_id is required")
	}

	query := `
		SELECT EXISTS (
			SELECT 1 FROM run_queue
			WHERE rule_id = $1 AND status IN ($2, $3)
		)
	`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, ruleID, domain.QueuePending, domain.QueueRunning).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active entry: %w", err)
	}
	return exists, nil
}

// ClaimNext 原子地将一条 pending 条目置为 running 并独占返回
// 单事务内 SELECT ... FOR UPDATE SKIP LOCKED + UPDATE，并发调用不会拿到同一条目
// 没有到期的 pending 条目时返回 (nil, nil)
func (r *QueueRepository) ClaimNext(ctx context.Context, workerID string, now time.Time) (*domain.QueueEntry, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT entry_id, rule_id, origin_incident_id, scheduled_for, created_at
		FROM run_queue
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var entry domain.QueueEntry
	var originIncidentID sql.NullString

	err = tx.QueryRowContext(ctx, selectQuery, domain.QueuePending, now).Scan(
		&entry.EntryID,
		&entry.RuleID,
		&originIncidentID,
		&entry.ScheduledFor,
		&entry.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to select pending entry: %w", err)
	}

	updateQuery := `
		UPDATE run_queue
		SET status = $2, claimed_by = $3, claimed_at = $4
		WHERE entry_id = $1 AND status = $5
	`

	result, err := tx.ExecContext(ctx, updateQuery,
		entry.EntryID, domain.QueueRunning, workerID, now, domain.QueuePending,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to claim entry: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// 行锁已保证独占，条件更新落空说明条目被并发变更
		return nil, fmt.Errorf("entry %s: %w", entry.EntryID, domain.ErrConflict)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	if originIncidentID.Valid {
		entry.OriginIncidentID = &originIncidentID.String
	}
	entry.Status = domain.QueueRunning
	entry.ClaimedBy = &workerID
	claimedAt := now
	entry.ClaimedAt = &claimedAt
	return &entry, nil
}

// MarkDone 执行完成（无论查询结果成败，查询失败也是正常记录的结果）
func (r *QueueRepository) MarkDone(ctx context.Context, entryID string) error {
	return r.markFinished(ctx, entryID, domain.QueueDone)
}

// MarkFailed 仅在 claim 后的落库步骤本身失败（存储故障）时使用
func (r *QueueRepository) MarkFailed(ctx context.Context, entryID string) error {
	return r.markFinished(ctx, entryID, domain.QueueFailed)
}

func (r *QueueRepository) markFinished(ctx context.Context, entryID, status string) error {
	if entryID == "" {
		return fmt.Errorf("entry_id is required")
	}

	query := `UPDATE run_queue SET status = $2 WHERE entry_id = $1 AND status = $3`

	result, err := r.db.ExecContext(ctx, query, entryID, status, domain.QueueRunning)
	if err != nil {
		return fmt.Errorf("failed to mark entry %s: %w", status, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("entry %s not running: %w", entryID, domain.ErrConflict)
	}
	return nil
}
