package domain

import (
	"errors"
	"fmt"
)

// 错误分类（见各组件的错误处理约定）：
//   - ValidationError: 入参校验失败，持久化之前拒绝
//   - ErrNotFound: 规则/事故/用户等不存在
//   - ErrConflict: 并发 claim 或生命周期变更竞争失败，调用方可重试
//   - InvalidTransitionError: 事故状态机不允许的变更
//   - ErrNoRecipients / ErrAllDeliveriesFailed: 通知分发的两类失败结果
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict: concurrent modification")
	ErrNoRecipients        = errors.New("no recipients matched")
	ErrAllDeliveriesFailed = errors.New("all deliveries failed")
)

// ValidationError 校验错误（带字段说明）
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NewValidationError 创建校验错误
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidTransitionError 事故状态机非法变更
type InvalidTransitionError struct {
	From   IncidentStatus
	Action string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: cannot %s incident in status %s", e.Action, e.From)
}
