package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.Handler) {
	r.mux.Handle(pattern, h)
}

func (r *Router) HandleFunc(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterRoutes 注册全部业务路由
func (r *Router) RegisterRoutes(rules *RulesHandler, incidents *IncidentsHandler, permissions *PermissionsHandler, notifications *NotificationsHandler, auditHandler *AuditHandler) {
	// rules
	r.Handle("/api/v1/rules", rules)
	r.Handle("/api/v1/rules/", rules)

	// incidents
	r.Handle("/api/v1/incidents/", incidents)

	// permissions
	r.Handle("/api/v1/permissions/matrix", permissions)
	r.Handle("/api/v1/permissions/calculated", permissions)
	r.Handle("/api/v1/permissions/role", permissions)
	r.Handle("/api/v1/permissions/user", permissions)

	// notifications
	r.Handle("/api/v1/notifications/dispatch", notifications)

	// audit
	r.Handle("/api/v1/audit", auditHandler)
	r.Handle("/api/v1/audit/export", auditHandler)

	// health
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
