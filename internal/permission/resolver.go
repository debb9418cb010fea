package permission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rulewatch/internal/audit"
	"rulewatch/internal/domain"
	"rulewatch/internal/store"
)

// Store 权限数据访问接口（repository.PermissionsRepository 实现）
type Store interface {
	ListPermissions(ctx context.Context) ([]*domain.Permission, error)
	GetRoleSetting(ctx context.Context, role, permissionID string) (*bool, error)
	SetRoleSetting(ctx context.Context, role, permissionID string, enabled bool) error
	ListRoleSettings(ctx context.Context, role string) (map[string]bool, error)
	GetUserOverride(ctx context.Context, userID, permissionID string) (*domain.UserPermission, error)
	SetUserOverride(ctx context.Context, userID, permissionID string, enabled bool) error
	ListUserOverrides(ctx context.Context, userID string) (map[string]*domain.UserPermission, error)
}

// RoleStore 用户角色查询接口（repository.UsersRepository 实现）
type RoleStore interface {
	GetUserRole(ctx context.Context, userID string) (string, error)
}

// Resolver 有效权限解析器
// 取值级联：用户覆盖（is_customized）无条件优先，其次角色设置，缺省拒绝
type Resolver struct {
	perms    Store
	users    RoleStore
	kv       store.KV // 可为 nil（不启用缓存）
	cacheTTL time.Duration
	auditor  *audit.Logger
	logger   *zap.Logger
}

// NewResolver 创建权限解析器
func NewResolver(perms Store, users RoleStore, kv store.KV, auditor *audit.Logger, logger *zap.Logger) *Resolver {
	return &Resolver{
		perms:    perms,
		users:    users,
		kv:       kv,
		cacheTTL: 30 * time.Second,
		auditor:  auditor,
		logger:   logger,
	}
}

// Resolve 计算用户对单个权限的有效取值
func (r *Resolver) Resolve(ctx context.Context, userID, permissionID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("user_id is required")
	}
	if permissionID == "" {
		return false, fmt.Errorf("permission_id is required")
	}

	override, err := r.perms.GetUserOverride(ctx, userID, permissionID)
	if err != nil {
		return false, err
	}
	if override != nil && override.IsCustomized {
		return override.Enabled, nil
	}

	role, err := r.users.GetUserRole(ctx, userID)
	if err != nil {
		return false, err
	}

	setting, err := r.perms.GetRoleSetting(ctx, role, permissionID)
	if err != nil {
		return false, err
	}
	if setting == nil {
		// 角色设置缺失即默认拒绝
		return false, nil
	}
	return *setting, nil
}

func cacheKey(userID string) string {
	return "rulewatch:perm:" + userID
}

// ResolveAll 计算用户的完整有效权限矩阵
// 结果短 TTL 缓存；用户级覆盖变更时主动失效，角色级变更靠 TTL 过期
func (r *Resolver) ResolveAll(ctx context.Context, userID string) ([]domain.EffectivePermission, error) {
	if userID == "" {
		return nil, fmt.Errorf("user_id is required")
	}

	if r.kv != nil {
		if cached, err := r.kv.Get(ctx, cacheKey(userID)); err == nil {
			var matrix []domain.EffectivePermission
			if err := json.Unmarshal([]byte(cached), &matrix); err == nil {
				return matrix, nil
			}
		}
	}

	role, err := r.users.GetUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	permissions, err := r.perms.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	roleSettings, err := r.perms.ListRoleSettings(ctx, role)
	if err != nil {
		return nil, err
	}
	overrides, err := r.perms.ListUserOverrides(ctx, userID)
	if err != nil {
		return nil, err
	}

	matrix := make([]domain.EffectivePermission, 0, len(permissions))
	for _, p := range permissions {
		ep := domain.EffectivePermission{
			PermissionID: p.PermissionID,
			Code:         p.Code,
			Description:  p.Description,
		}
		if enabled, ok := roleSettings[p.PermissionID]; ok {
			ep.Enabled = enabled
		}
		if override, ok := overrides[p.PermissionID]; ok && override.IsCustomized {
			ep.Enabled = override.Enabled
			ep.IsCustomized = true
		}
		matrix = append(matrix, ep)
	}

	if r.kv != nil {
		if data, err := json.Marshal(matrix); err == nil {
			if err := r.kv.Set(ctx, cacheKey(userID), string(data), r.cacheTTL); err != nil {
				r.logger.Warn("Failed to cache permission matrix",
					zap.String("user_id", userID),
					zap.Error(err),
				)
			}
		}
	}
	return matrix, nil
}

// SetRolePermission 写入角色级开关
// 不触碰已有的用户覆盖；已定制的用户覆盖继续生效
func (r *Resolver) SetRolePermission(ctx context.Context, actor, role, permissionID string, enabled bool) error {
	if role == "" {
		return domain.NewValidationError("role", "is required")
	}
	if permissionID == "" {
		return domain.NewValidationError("permission_id", "is required")
	}

	if err := r.perms.SetRoleSetting(ctx, role, permissionID, enabled); err != nil {
		return err
	}

	r.auditor.Record(ctx, actor, "PERMISSION_ROLE_CHANGE",
		fmt.Sprintf("role %s", role),
		fmt.Sprintf("permission %s set to %t", permissionID, enabled))
	return nil
}

// SetUserPermission 写入用户级覆盖，总是置为 customized（对后续角色级变更粘性）
func (r *Resolver) SetUserPermission(ctx context.Context, actor, userID, permissionID string, enabled bool) error {
	if userID == "" {
		return domain.NewValidationError("user_id", "is required")
	}
	if permissionID == "" {
		return domain.NewValidationError("permission_id", "is required")
	}

	if err := r.perms.SetUserOverride(ctx, userID, permissionID, enabled); err != nil {
		return err
	}

	if r.kv != nil {
		if err := r.kv.Delete(ctx, cacheKey(userID)); err != nil {
			r.logger.Warn("Failed to invalidate permission cache",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}

	r.auditor.Record(ctx, actor, "PERMISSION_USER_CHANGE",
		fmt.Sprintf("user %s", userID),
		fmt.Sprintf("permission %s set to %t", permissionID, enabled))
	return nil
}
