package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"rulewatch/internal/audit"
	"rulewatch/internal/domain"
	"rulewatch/internal/repository"
)

// AuditReader 审计记录查询接口（repository.AuditRepository 实现）
type AuditReader interface {
	List(ctx context.Context, filters repository.AuditFilters, page, size int) ([]*domain.AuditEntry, int, error)
}

// AuditHandler 审计查询与导出 Handler
type AuditHandler struct {
	reader AuditReader
	logger *zap.Logger
}

// NewAuditHandler 创建审计 Handler
func NewAuditHandler(reader AuditReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{reader: reader, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
func (h *AuditHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/api/v1/audit" && r.Method == http.MethodGet:
		h.List(w, r)
	case r.URL.Path == "/api/v1/audit/export" && r.Method == http.MethodGet:
		h.Export(w, r)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// filtersFromQuery 解析查询参数里的过滤条件
func filtersFromQuery(r *http.Request) repository.AuditFilters {
	filters := repository.AuditFilters{}
	if actor := r.URL.Query().Get("actor"); actor != "" {
		filters.Actor = &actor
	}
	if action := r.URL.Query().Get("action"); action != "" {
		filters.Action = &action
	}
	if from := r.URL.Query().Get("from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filters.StartTime = &t
		}
	}
	if to := r.URL.Query().Get("to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filters.EndTime = &t
		}
	}
	return filters
}

// List 分页查询审计记录
func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	page := parseInt(r.URL.Query().Get("page"), 1)
	size := parseInt(r.URL.Query().Get("size"), 50)

	entries, total, err := h.reader.List(r.Context(), filtersFromQuery(r), page, size)
	if err != nil {
		h.logger.Error("List audit entries failed", zap.Error(err))
		writeError(w, err)
		return
	}

	type entryView struct {
		EntryID   int64     `json:"entry_id"`
		Actor     string    `json:"actor"`
		Action    string    `json:"action"`
		Target    string    `json:"target"`
		Details   string    `json:"details,omitempty"`
		Timestamp time.Time `json:"timestamp"`
	}
	views := make([]entryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, entryView{
			EntryID:   e.EntryID,
			Actor:     e.Actor,
			Action:    e.Action,
			Target:    e.Target,
			Details:   e.Details,
			Timestamp: e.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, Ok(map[string]any{
		"items": views,
		"total": total,
		"page":  page,
		"size":  size,
	}))
}

// Export 导出审计记录为 xlsx
func (h *AuditHandler) Export(w http.ResponseWriter, r *http.Request) {
	// 导出不分页，上限一次取够
	entries, _, err := h.reader.List(r.Context(), filtersFromQuery(r), 1, 10000)
	if err != nil {
		h.logger.Error("Export audit entries failed", zap.Error(err))
		writeError(w, err)
		return
	}

	data, err := audit.GenerateAuditExport(entries)
	if err != nil {
		h.logger.Error("Failed to generate audit export", zap.Error(err))
		writeError(w, err)
		return
	}

	filename := fmt.Sprintf("audit-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
