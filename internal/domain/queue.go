package domain

import "time"

// 执行队列状态
const (
	QueuePending = "pending"
	QueueRunning = "running"
	QueueDone    = "done"
	QueueFailed  = "failed"
)

// QueueEntry 执行队列条目
// 由调度器周期性创建，或由事故 REEXECUTE 操作创建（此时带 OriginIncidentID）
// pending → running 的变更是唯一的执行同步点，必须原子完成
type QueueEntry struct {
	EntryID          string
	RuleID           string
	OriginIncidentID *string // REEXECUTE 来源事故
	Status           string  // pending | running | done | failed
	ScheduledFor     time.Time
	ClaimedBy        *string // 占有该条目的 worker 标识
	ClaimedAt        *time.Time
	CreatedAt        time.Time
}
