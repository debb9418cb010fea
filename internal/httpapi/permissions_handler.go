package httpapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"rulewatch/internal/domain"
)

// PermissionResolver 有效权限解析接口（permission.Resolver 实现）
type PermissionResolver interface {
	Resolve(ctx context.Context, userID, permissionID string) (bool, error)
	ResolveAll(ctx context.Context, userID string) ([]domain.EffectivePermission, error)
	SetRolePermission(ctx context.Context, actor, role, permissionID string, enabled bool) error
	SetUserPermission(ctx context.Context, actor, userID, permissionID string, enabled bool) error
}

// RoleMatrixReader 角色权限矩阵读取接口
type RoleMatrixReader interface {
	ListRoleMatrix(ctx context.Context) ([]*domain.RolePermission, error)
}

// PermissionsHandler 权限管理 Handler
type PermissionsHandler struct {
	resolver PermissionResolver
	matrix   RoleMatrixReader
	logger   *zap.Logger
}

// NewPermissionsHandler 创建权限管理 Handler
func NewPermissionsHandler(resolver PermissionResolver, matrix RoleMatrixReader, logger *zap.Logger) *PermissionsHandler {
	return &PermissionsHandler{
		resolver: resolver,
		matrix:   matrix,
		logger:   logger,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *PermissionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/api/v1/permissions/matrix" && r.Method == http.MethodGet:
		h.GetRoleMatrix(w, r)
	case r.URL.Path == "/api/v1/permissions/calculated" && r.Method == http.MethodGet:
		h.GetCalculated(w, r)
	case r.URL.Path == "/api/v1/permissions/role" && r.Method == http.MethodPut:
		h.SetRolePermission(w, r)
	case r.URL.Path == "/api/v1/permissions/user" && r.Method == http.MethodPut:
		h.SetUserPermission(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// GetRoleMatrix 查询角色级权限矩阵
func (h *PermissionsHandler) GetRoleMatrix(w http.ResponseWriter, r *http.Request) {
	settings, err := h.matrix.ListRoleMatrix(r.Context())
	if err != nil {
		h.logger.Error("GetRoleMatrix failed", zap.Error(err))
		writeError(w, err)
		return
	}

	type matrixRow struct {
		Role         string `json:"role"`
		PermissionID string `json:"permission_id"`
		Enabled      bool   `json:"enabled"`
	}
	rows := make([]matrixRow, 0, len(settings))
	for _, s := range settings {
		rows = append(rows, matrixRow{Role: s.Role, PermissionID: s.PermissionID, Enabled: s.Enabled})
	}
	writeJSON(w, http.StatusOK, Ok(rows))
}

// GetCalculated 查询用户的完整有效权限
func (h *PermissionsHandler) GetCalculated(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, Fail("user_id is required"))
		return
	}

	matrix, err := h.resolver.ResolveAll(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(matrix))
}

// SetRolePermission 设置角色级开关
func (h *PermissionsHandler) SetRolePermission(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role         string `json:"role"`
		PermissionID string `json:"permission_id"`
		Enabled      bool   `json:"enabled"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	if err := h.resolver.SetRolePermission(r.Context(), actorFromReq(r), payload.Role, payload.PermissionID, payload.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(payload))
}

// SetUserPermission 设置用户级覆盖
func (h *PermissionsHandler) SetUserPermission(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID       string `json:"user_id"`
		PermissionID string `json:"permission_id"`
		Enabled      bool   `json:"enabled"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	if err := h.resolver.SetUserPermission(r.Context(), actorFromReq(r), payload.UserID, payload.PermissionID, payload.Enabled); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(payload))
}
