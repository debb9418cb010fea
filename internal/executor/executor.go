package executor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"rulewatch/internal/domain"
)

// QueueStore 执行队列接口
type QueueStore interface {
	ClaimNext(ctx context.Context, workerID string, now time.Time) (*domain.QueueEntry, error)
	MarkDone(ctx context.Context, entryID string) error
	MarkFailed(ctx context.Context, entryID string) error
}

// RuleStore 规则读取接口
type RuleStore interface {
	GetRule(ctx context.Context, ruleID string) (*domain.Rule, error)
}

// ExecutionStore 执行记录写入接口
type ExecutionStore interface {
	CreateExecution(ctx context.Context, exec *domain.Execution) (string, error)
}

// ViolationHandler 违例处理接口（incident.Manager 实现）
type ViolationHandler interface {
	HandleViolation(ctx context.Context, rule *domain.Rule, exec *domain.Execution, originIncidentID *string) error
}

// Worker 执行 worker
// 循环从队列原子 claim 条目并执行；claim 失败的竞争（ErrConflict）直接
// 进入下一轮，保证每个条目恰好被一个 worker 处理
type Worker struct {
	id           string
	queue        QueueStore
	rules        RuleStore
	executions   ExecutionStore
	runner       QueryRunner
	incidents    ViolationHandler
	pollInterval time.Duration
	logger       *zap.Logger
	now          func() time.Time
}

// NewWorker 创建执行 worker
func NewWorker(id string, queue QueueStore, rules RuleStore, executions ExecutionStore, runner QueryRunner, incidents ViolationHandler, pollInterval time.Duration, logger *zap.Logger) *Worker {
	return &Worker{
		id:           id,
		queue:        queue,
		rules:        rules,
		executions:   executions,
		runner:       runner,
		incidents:    incidents,
		pollInterval: pollInterval,
		logger:       logger.With(zap.String("worker_id", id)),
		now:          time.Now,
	}
}

// Run 循环处理队列直到 ctx 取消
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("Worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped")
			return
		default:
		}

		processed, err := w.Poll(ctx)
		if err != nil {
			w.logger.Error("Worker poll failed", zap.Error(err))
		}
		if !processed {
			select {
			case <-ctx.Done():
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// Poll 尝试 claim 并处理一个队列条目，返回是否处理了条目
func (w *Worker) Poll(ctx context.Context) (bool, error) {
	entry, err := w.queue.ClaimNext(ctx, w.id, w.now())
	if err != nil {
		// 输在 claim 竞争上不是错误，换下一轮再试
		if errors.Is(err, domain.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	if entry == nil {
		return false, nil
	}

	w.process(ctx, entry)
	return true, nil
}

// process 处理单个已 claim 的条目
// 查询失败不算条目失败：错误会落进执行记录并按违例处理；
// 条目只有在无法产出执行记录时才标记 failed
func (w *Worker) process(ctx context.Context, entry *domain.QueueEntry) {
	rule, err := w.rules.GetRule(ctx, entry.RuleID)
	if err != nil {
		w.logger.Error("Failed to load rule for queue entry",
			zap.String("entry_id", entry.EntryID),
			zap.String("rule_id", entry.RuleID),
			zap.Error(err),
		)
		w.finish(ctx, entry.EntryID, false)
		return
	}

	started := w.now()
	count, runErr := w.runner.Run(ctx, rule.TargetSource, rule.Query)
	finished := w.now()

	exec := &domain.Execution{
		RuleID:     rule.RuleID,
		StartedAt:  started,
		FinishedAt: finished,
	}
	if runErr != nil {
		msg := runErr.Error()
		exec.Status = domain.ExecutionError
		exec.ErrorLog = &msg
		w.logger.Warn("Rule query failed",
			zap.String("rule_id", rule.RuleID),
			zap.Error(runErr),
		)
	} else {
		exec.Status = domain.ExecutionSuccess
		exec.ResultCount = &count
	}

	execID, err := w.executions.CreateExecution(ctx, exec)
	if err != nil {
		w.logger.Error("Failed to record execution",
			zap.String("rule_id", rule.RuleID),
			zap.Error(err),
		)
		w.finish(ctx, entry.EntryID, false)
		return
	}
	exec.ExecutionID = execID

	w.finish(ctx, entry.EntryID, true)

	if exec.Violation(rule.Threshold) {
		if err := w.incidents.HandleViolation(ctx, rule, exec, entry.OriginIncidentID); err != nil {
			w.logger.Error("Failed to handle violation",
				zap.String("rule_id", rule.RuleID),
				zap.String("execution_id", execID),
				zap.Error(err),
			)
		}
	}
}

func (w *Worker) finish(ctx context.Context, entryID string, ok bool) {
	var err error
	if ok {
		err = w.queue.MarkDone(ctx, entryID)
	} else {
		err = w.queue.MarkFailed(ctx, entryID)
	}
	if err != nil {
		w.logger.Error("Failed to finish queue entry",
			zap.String("entry_id", entryID),
			zap.Bool("ok", ok),
			zap.Error(err),
		)
	}
}
