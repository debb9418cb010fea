package domain

// Permission 权限项
type Permission struct {
	PermissionID string
	Code         string
	Description  string
}

// RolePermission 角色级权限开关（role → permission → enabled）
type RolePermission struct {
	Role         string
	PermissionID string
	Enabled      bool
}

// UserPermission 用户级权限覆盖
// IsCustomized 一旦置位，该覆盖对后续角色级变更保持粘性
type UserPermission struct {
	UserID       string
	PermissionID string
	Enabled      bool
	IsCustomized bool
}

// EffectivePermission 计算后的有效权限
// 取值优先级：用户覆盖（customized）> 角色设置 > 默认拒绝
type EffectivePermission struct {
	PermissionID string `json:"permission_id"`
	Code         string `json:"code"`
	Description  string `json:"description"`
	Enabled      bool   `json:"enabled"`
	IsCustomized bool   `json:"is_customized"`
}
