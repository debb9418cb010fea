package domain

import (
	"time"
)

// Rule 监控规则
// 每条规则是一条针对目标数据源的查询，带执行周期、活动窗口和违例阈值
type Rule struct {
	RuleID          string
	Name            string
	Description     *string
	Query           string // 规则查询文本，由目标数据源执行，本服务不解释
	IntervalMinutes int    // 执行周期（分钟）
	Active          bool
	WindowStart     ClockTime // 活动窗口起点（可跨午夜）
	WindowEnd       ClockTime
	SilencedUntil   *time.Time // 静默截止时间
	Threshold       int        // 违例阈值（结果行数 >= Threshold 视为违例）
	TargetSource    string     // 目标数据源名称（配置中映射到 DSN）
	Priority        string
	NotifyRole      *string // 通知的目标角色
	NotifyEmail     *string // 通知的目标邮箱
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Window 规则的活动窗口
func (r *Rule) Window() TimeWindow {
	return TimeWindow{Start: r.WindowStart, End: r.WindowEnd}
}

// Silenced 判断规则在某时刻是否处于静默期
func (r *Rule) Silenced(now time.Time) bool {
	return r.SilencedUntil != nil && now.Before(*r.SilencedUntil)
}

// Validate 校验规则必填字段和取值范围
func (r *Rule) Validate() error {
	if r.Name == "" {
		return NewValidationError("name", "is required")
	}
	if r.Query == "" {
		return NewValidationError("query", "is required")
	}
	if r.TargetSource == "" {
		return NewValidationError("target_source", "is required")
	}
	if r.IntervalMinutes <= 0 {
		return NewValidationError("interval_minutes", "must be positive")
	}
	if r.Threshold < 0 {
		return NewValidationError("threshold", "must not be negative")
	}
	if r.WindowStart < 0 || r.WindowStart > 1439 {
		return NewValidationError("window_start", "must be a valid time of day")
	}
	if r.WindowEnd < 0 || r.WindowEnd > 1439 {
		return NewValidationError("window_end", "must be a valid time of day")
	}
	return nil
}
