package domain

import "time"

// IncidentStatus 事故状态
type IncidentStatus string

// 事故状态机：OPEN → ACK → CLOSED，OPEN → CLOSED 也允许（ACK 可选）
// CLOSED 之后不再变更，只能由新的违例创建全新事故
const (
	IncidentOpen   IncidentStatus = "OPEN"
	IncidentAck    IncidentStatus = "ACK"
	IncidentClosed IncidentStatus = "CLOSED"
)

// Incident 事故
// 去重约束：同一规则同时最多存在一个非 CLOSED 事故
type Incident struct {
	IncidentID        string
	RuleID            string
	Status            IncidentStatus
	Priority          string
	Details           string
	OpenedAt          time.Time
	LastOccurrenceAt  time.Time
	ResolutionComment *string // close 时填写
	OriginExecutionID *string // 触发创建的执行记录
	Version           int     // 乐观并发控制
	UpdatedAt         time.Time
}

// CanAck 仅 OPEN 状态允许确认
func (i *Incident) CanAck() bool {
	return i.Status == IncidentOpen
}

// CanClose OPEN 或 ACK 状态允许关闭
func (i *Incident) CanClose() bool {
	return i.Status == IncidentOpen || i.Status == IncidentAck
}

// 事故生命周期事件类型
const (
	IncidentEventOpen       = "OPEN"
	IncidentEventAck        = "ACK"
	IncidentEventClose      = "CLOSE"
	IncidentEventReexecute  = "REEXECUTE"
	IncidentEventOccurrence = "OCCURRENCE"
)

// IncidentEvent 事故生命周期事件（仅追加）
type IncidentEvent struct {
	EventID    string
	IncidentID string
	EventType  string
	Actor      string
	Details    string
	CreatedAt  time.Time
}
