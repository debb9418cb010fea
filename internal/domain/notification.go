package domain

import "time"

// 通知通道
const (
	ChannelPush  = "push"
	ChannelEmail = "email"
)

// 通知记录状态
const (
	NotificationPending    = "pending"
	NotificationSent       = "sent"
	NotificationFailed     = "failed"
	NotificationSuppressed = "suppressed" // 免打扰窗口内被抑制
)

// NotificationRequest 通知请求
// 目标选择器三选一：指定用户邮箱、角色广播、值班通道（取该时刻的值班人）
type NotificationRequest struct {
	TargetEmail *string `json:"target_email,omitempty"`
	TargetRole  *string `json:"target_role,omitempty"`
	DutyChannel *string `json:"duty_channel,omitempty"`

	Title      string  `json:"title"`
	Body       string  `json:"body"`
	Channel    string  `json:"channel"` // push | email
	IncidentID *string `json:"incident_id,omitempty"`
	DedupKey   *string `json:"dedup_key,omitempty"` // 相同 key 在抑制窗口内只分发一次
	Actor      string  `json:"actor"`
}

// Validate 校验通知请求
func (r *NotificationRequest) Validate() error {
	if r.Title == "" {
		return NewValidationError("title", "is required")
	}
	if r.Channel != ChannelPush && r.Channel != ChannelEmail {
		return NewValidationError("channel", "must be push or email")
	}
	targets := 0
	if r.TargetEmail != nil && *r.TargetEmail != "" {
		targets++
	}
	if r.TargetRole != nil && *r.TargetRole != "" {
		targets++
	}
	if r.DutyChannel != nil && *r.DutyChannel != "" {
		targets++
	}
	if targets != 1 {
		return NewValidationError("target", "exactly one of target_email, target_role, duty_channel is required")
	}
	return nil
}

// Notification 落库的通知记录
type Notification struct {
	NotificationID string
	IncidentID     *string
	Channel        string
	Recipient      string // 邮箱或推送端点
	Title          string
	Message        string
	Status         string
	CreatedAt      time.Time
}

// DispatchResult 一次分发的结果统计
type DispatchResult struct {
	Matched    int  `json:"matched"`    // 命中的接收人数
	Delivered  int  `json:"delivered"`  // 成功投递的端点数
	Failed     int  `json:"failed"`     // 投递失败的端点数
	Suppressed int  `json:"suppressed"` // 被免打扰/通道开关抑制的接收人数
	Deduped    bool `json:"deduped"`    // 整个请求被 dedup key 抑制
}
