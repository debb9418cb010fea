package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"rulewatch/internal/domain"
)

// RuleSource 规则来源
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]*domain.Rule, error)
}

// ExecutionLog 执行历史查询
type ExecutionLog interface {
	LastFinishedAt(ctx context.Context, ruleID string) (*time.Time, error)
}

// Queue 执行队列写入
type Queue interface {
	HasActiveEntry(ctx context.Context, ruleID string) (bool, error)
	Enqueue(ctx context.Context, ruleID string, originIncidentID *string, scheduledFor time.Time) (string, error)
}

// Scheduler 规则调度器
// 每个 tick 扫描活跃规则，把到期且不在队列中的规则入队；
// 实际执行由 executor 的 worker 通过原子 claim 拉取，调度器本身无状态，
// 多实例并发运行时靠队列去重保证同一规则不会重复入队
type Scheduler struct {
	rules      RuleSource
	executions ExecutionLog
	queue      Queue
	interval   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// New 创建调度器
func New(rules RuleSource, executions ExecutionLog, queue Queue, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		rules:      rules,
		executions: executions,
		queue:      queue,
		interval:   interval,
		logger:     logger,
		now:        time.Now,
	}
}

// Run 周期运行直到 ctx 取消
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return
		case <-ticker.C:
			if enqueued, err := s.Tick(ctx); err != nil {
				s.logger.Error("Scheduler tick failed", zap.Error(err))
			} else if enqueued > 0 {
				s.logger.Info("Scheduler tick", zap.Int("enqueued", enqueued))
			}
		}
	}
}

// Tick 执行一轮扫描，返回本轮入队的规则数
// 单条规则的失败不中断其余规则的调度
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	rules, err := s.rules.ListActiveRules(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	enqueued := 0
	for _, rule := range rules {
		due, err := s.isDue(ctx, rule, now)
		if err != nil {
			s.logger.Error("Failed to evaluate rule due status",
				zap.String("rule_id", rule.RuleID),
				zap.Error(err),
			)
			continue
		}
		if !due {
			continue
		}

		if _, err := s.queue.Enqueue(ctx, rule.RuleID, nil, now); err != nil {
			s.logger.Error("Failed to enqueue rule",
				zap.String("rule_id", rule.RuleID),
				zap.Error(err),
			)
			continue
		}
		enqueued++
		s.logger.Debug("Rule enqueued", zap.String("rule_id", rule.RuleID), zap.String("rule_name", rule.Name))
	}
	return enqueued, nil
}

// isDue 判断规则当前是否到期可入队
func (s *Scheduler) isDue(ctx context.Context, rule *domain.Rule, now time.Time) (bool, error) {
	if !rule.Active {
		return false, nil
	}
	if rule.Silenced(now) {
		return false, nil
	}
	if !rule.Window().Contains(now) {
		return false, nil
	}

	last, err := s.executions.LastFinishedAt(ctx, rule.RuleID)
	if err != nil {
		return false, err
	}
	if last != nil {
		elapsed := now.Sub(*last)
		if elapsed < time.Duration(rule.IntervalMinutes)*time.Minute {
			return false, nil
		}
	}

	// 已有 pending/running 条目时跳过，保证队列里同一规则最多一条活跃条目
	active, err := s.queue.HasActiveEntry(ctx, rule.RuleID)
	if err != nil {
		return false, err
	}
	return !active, nil
}
