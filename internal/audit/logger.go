package audit

import (
	"context"

	"go.uber.org/zap"
)

// Recorder 审计写入接口（repository.AuditRepository 实现）
type Recorder interface {
	Append(ctx context.Context, actor, action, target, details string) error
}

// Logger 审计日志器
// 审计是尽力而为的关注点：写入失败只记本地日志，绝不向调用方传播，
// 不阻塞也不失败任何主操作
type Logger struct {
	recorder Recorder
	logger   *zap.Logger
}

// NewLogger 创建审计日志器
func NewLogger(recorder Recorder, logger *zap.Logger) *Logger {
	return &Logger{recorder: recorder, logger: logger}
}

// Record 追加一条审计记录，失败被吞掉
func (l *Logger) Record(ctx context.Context, actor, action, target, details string) {
	if err := l.recorder.Append(ctx, actor, action, target, details); err != nil {
		l.logger.Error("Failed to write audit entry",
			zap.String("actor", actor),
			zap.String("action", action),
			zap.String("target", target),
			zap.Error(err),
		)
	}
}
