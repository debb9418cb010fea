package repository

import (
	"context"
	"database/sql"
	"fmt"

	"rulewatch/internal/domain"

	"go.uber.org/zap"
)

// PermissionsRepository 权限存储：权限项、角色级开关、用户级覆盖
// 角色级开关的变更不触碰已有的用户覆盖；用户级开关总是置 is_customized，
// 对后续角色级变更保持粘性
type PermissionsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPermissionsRepository 创建权限仓库
func NewPermissionsRepository(db *sql.DB, logger *zap.Logger) *PermissionsRepository {
	return &PermissionsRepository{db: db, logger: logger}
}

// ListPermissions 查询全部权限项
func (r *PermissionsRepository) ListPermissions(ctx context.Context) ([]*domain.Permission, error) {
	query := `SELECT permission_id, code, description FROM permissions ORDER BY permission_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	permissions := []*domain.Permission{}
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p.PermissionID, &p.Code, &p.Description); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		permissions = append(permissions, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate permissions: %w", err)
	}
	return permissions, nil
}

// GetRoleSetting 查询角色级开关，记录不存在返回 (nil, nil)（默认拒绝由调用方兜底）
func (r *PermissionsRepository) GetRoleSetting(ctx context.Context, role, permissionID string) (*bool, error) {
	if role == "" {
		return nil, fmt.Errorf("role is required")
	}
	if permissionID == "" {
		return nil, fmt.Errorf("permission_id is required")
	}

	var enabled bool
	err := r.db.QueryRowContext(ctx,
		`SELECT enabled FROM role_permissions WHERE role = $1 AND permission_id = $2`,
		role, permissionID,
	).Scan(&enabled)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query role setting: %w", err)
	}
	return &enabled, nil
}

// SetRoleSetting 写入角色级开关（upsert）
func (r *PermissionsRepository) SetRoleSetting(ctx context.Context, role, permissionID string, enabled bool) error {
	if role == "" {
		return fmt.Errorf("role is required")
	}
	if permissionID == "" {
		return fmt.Errorf("permission_id is required")
	}

	query := `
		INSERT INTO role_permissions (role, permission_id, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (role, permission_id) DO UPDATE SET enabled = $3
	`

	if _, err := r.db.ExecContext(ctx, query, role, permissionID, enabled); err != nil {
		return fmt.Errorf("failed to set role permission: %w", err)
	}
	return nil
}

// ListRoleSettings 查询某角色的全部开关（permission_id → enabled）
func (r *PermissionsRepository) ListRoleSettings(ctx context.Context, role string) (map[string]bool, error) {
	if role == "" {
		return nil, fmt.Errorf("role is required")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT permission_id, enabled FROM role_permissions WHERE role = $1`, role,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query role settings: %w", err)
	}
	defer rows.Close()

	settings := map[string]bool{}
	for rows.Next() {
		var permissionID string
		var enabled bool
		if err := rows.Scan(&permissionID, &enabled); err != nil {
			return nil, fmt.Errorf("failed to scan role setting: %w", err)
		}
		settings[permissionID] = enabled
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role settings: %w", err)
	}
	return settings, nil
}

// ListRoleMatrix 查询全部角色级开关（权限矩阵页面用）
func (r *PermissionsRepository) ListRoleMatrix(ctx context.Context) ([]*domain.RolePermission, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT role, permission_id, enabled FROM role_permissions ORDER BY role, permission_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query role matrix: %w", err)
	}
	defer rows.Close()

	matrix := []*domain.RolePermission{}
	for rows.Next() {
		var rp domain.RolePermission
		if err := rows.Scan(&rp.Role, &rp.PermissionID, &rp.Enabled); err != nil {
			return nil, fmt.Errorf("failed to scan role permission: %w", err)
		}
		matrix = append(matrix, &rp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate role matrix: %w", err)
	}
	return matrix, nil
}

// GetUserOverride 查询用户级覆盖，记录不存在返回 (nil, nil)
func (r *PermissionsRepository) GetUserOverride(ctx context.Context, userID, permissionID string) (*domain.UserPermission, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}
	if permissionID == "" {
		return nil, fmt.Errorf("permission_id is required")
	}

	var up domain.UserPermission
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, permission_id, enabled, is_customized
		 FROM user_permissions WHERE user_id = $1 AND permission_id = $2`,
		userID, permissionID,
	).Scan(&up.UserID, &up.PermissionID, &up.Enabled, &up.IsCustomized)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user override: %w", err)
	}
	return &up, nil
}

// SetUserOverride 写入用户级覆盖（upsert），总是置 is_customized = true
func (r *PermissionsRepository) SetUserOverride(ctx context.Context, userID, permissionID string, enabled bool) error {
	if userID == "" {
		return fmt.Errorf("user_id is required")
	}
	if permissionID == "" {
		return fmt.Errorf("permission_id is required")
	}

	query := `
		INSERT INTO user_permissions (user_id, permission_id, enabled, is_customized)
		VALUES ($1, $2, $3, true)
		ON CONFLICT (user_id, permission_id) DO UPDATE SET enabled = $3, is_customized = true
	`

	if _, err := r.db.ExecContext(ctx, query, userID, permissionID, enabled); err != nil {
		return fmt.Errorf("failed to set user override: %w", err)
	}
	return nil
}

// ListUserOverrides 查询用户的全部覆盖（permission_id → override）
func (r *PermissionsRepository) ListUserOverrides(ctx context.Context, userID string) (map[string]*domain.UserPermission, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, permission_id, enabled, is_customized FROM user_permissions WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query user overrides: %w", err)
	}
	defer rows.Close()

	overrides := map[string]*domain.UserPermission{}
	for rows.Next() {
		var up domain.UserPermission
		if err := rows.Scan(&up.UserID, &up.PermissionID, &up.Enabled, &up.IsCustomized); err != nil {
			return nil, fmt.Errorf("failed to scan user override: %w", err)
		}
		overrides[up.PermissionID] = &up
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user overrides: %w", err)
	}
	return overrides, nil
}
