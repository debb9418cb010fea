package domain

import "time"

// AuditEntry 审计日志条目（仅追加，单调递增 ID，正常运行下不修改不删除）
type AuditEntry struct {
	EntryID   int64
	Actor     string
	Action    string
	Target    string
	Details   string
	Timestamp time.Time
}
