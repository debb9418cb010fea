package domain

import "time"

// 执行记录状态
const (
	ExecutionSuccess = "success"
	ExecutionError   = "error"
)

// Execution 规则执行记录（一旦写入不再修改）
type Execution struct {
	ExecutionID string
	RuleID      string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string  // success | error
	ResultCount *int    // 查询成功时的结果行数
	ErrorLog    *string // 查询失败时的错误文本
}

// Violation 判断该次执行是否构成违例
// 结果行数达到阈值、或查询本身失败（无法运行的检查同样需要处理）均为违例
func (e *Execution) Violation(threshold int) bool {
	if e.Status == ExecutionError {
		return true
	}
	return e.ResultCount != nil && *e.ResultCount >= threshold
}
