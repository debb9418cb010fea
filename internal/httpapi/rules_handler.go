package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"rulewatch/internal/audit"
	"rulewatch/internal/domain"
)

// RuleStore 规则存取接口（repository.RulesRepository 实现）
type RuleStore interface {
	GetRule(ctx context.Context, ruleID string) (*domain.Rule, error)
	ListRules(ctx context.Context) ([]*domain.Rule, error)
	CreateRule(ctx context.Context, rule *domain.Rule) (string, error)
	UpdateRule(ctx context.Context, rule *domain.Rule) error
	DeleteRule(ctx context.Context, ruleID string) error
	SilenceRule(ctx context.Context, ruleID string, until time.Time) error
}

// ExecutionReader 执行历史查询接口
type ExecutionReader interface {
	ListExecutions(ctx context.Context, ruleID string, page, size int) ([]*domain.Execution, error)
}

// RulesHandler 规则管理 Handler
type RulesHandler struct {
	rules      RuleStore
	executions ExecutionReader
	auditor    *audit.Logger
	logger     *zap.Logger
}

// NewRulesHandler 创建规则管理 Handler
func NewRulesHandler(rules RuleStore, executions ExecutionReader, auditor *audit.Logger, logger *zap.Logger) *RulesHandler {
	return &RulesHandler{
		rules:      rules,
		executions: executions,
		auditor:    auditor,
		logger:     logger,
	}
}

// ruleBody 规则创建/更新请求体
type ruleBody struct {
	Name            string     `json:"name"`
	Description     *string    `json:"description"`
	Query           string     `json:"query"`
	IntervalMinutes int        `json:"interval_minutes"`
	Active          *bool      `json:"active"`
	WindowStart     string     `json:"window_start"`
	WindowEnd       string     `json:"window_end"`
	Threshold       int        `json:"threshold"`
	TargetSource    string     `json:"target_source"`
	Priority        string     `json:"priority"`
	NotifyRole      *string    `json:"notify_role"`
	NotifyEmail     *string    `json:"notify_email"`
	SilencedUntil   *time.Time `json:"silenced_until"`
}

// ruleView 规则响应体
type ruleView struct {
	RuleID          string     `json:"rule_id"`
	Name            string     `json:"name"`
	Description     *string    `json:"description,omitempty"`
	Query           string     `json:"query"`
	IntervalMinutes int        `json:"interval_minutes"`
	Active          bool       `json:"active"`
	WindowStart     string     `json:"window_start"`
	WindowEnd       string     `json:"window_end"`
	SilencedUntil   *time.Time `json:"silenced_until,omitempty"`
	Threshold       int        `json:"threshold"`
	TargetSource    string     `json:"target_source"`
	Priority        string     `json:"priority"`
	NotifyRole      *string    `json:"notify_role,omitempty"`
	NotifyEmail     *string    `json:"notify_email,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toRuleView(r *domain.Rule) ruleView {
	return ruleView{
		RuleID:          r.RuleID,
		Name:            r.Name,
		Description:     r.Description,
		Query:           r.Query,
		IntervalMinutes: r.IntervalMinutes,
		Active:          r.Active,
		WindowStart:     r.WindowStart.String(),
		WindowEnd:       r.WindowEnd.String(),
		SilencedUntil:   r.SilencedUntil,
		Threshold:       r.Threshold,
		TargetSource:    r.TargetSource,
		Priority:        r.Priority,
		NotifyRole:      r.NotifyRole,
		NotifyEmail:     r.NotifyEmail,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

func (b *ruleBody) toRule() (*domain.Rule, error) {
	window, err := domain.ParseTimeWindow(b.WindowStart, b.WindowEnd)
	if err != nil {
		return nil, domain.NewValidationError("window", err.Error())
	}
	rule := &domain.Rule{
		Name:            b.Name,
		Description:     b.Description,
		Query:           b.Query,
		IntervalMinutes: b.IntervalMinutes,
		Active:          true,
		WindowStart:     window.Start,
		WindowEnd:       window.End,
		Threshold:       b.Threshold,
		TargetSource:    b.TargetSource,
		Priority:        b.Priority,
		NotifyRole:      b.NotifyRole,
		NotifyEmail:     b.NotifyEmail,
	}
	if b.Active != nil {
		rule.Active = *b.Active
	}
	if rule.Priority == "" {
		rule.Priority = "medium"
	}
	return rule, nil
}

// ServeHTTP 实现 http.Handler 接口
func (h *RulesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case r.URL.Path == "/api/v1/rules" && r.Method == http.MethodGet:
		h.ListRules(w, r)
	case r.URL.Path == "/api/v1/rules" && r.Method == http.MethodPost:
		h.CreateRule(w, r)
	case strings.HasSuffix(r.URL.Path, "/silence") && r.Method == http.MethodPost:
		h.SilenceRule(w, r, pathSegment(r.URL.Path, "/api/v1/rules/", "/silence"))
	case strings.HasSuffix(r.URL.Path, "/executions") && r.Method == http.MethodGet:
		h.ListExecutions(w, r, pathSegment(r.URL.Path, "/api/v1/rules/", "/executions"))
	case strings.HasPrefix(r.URL.Path, "/api/v1/rules/") && r.Method == http.MethodGet:
		h.GetRule(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/rules/"))
	case strings.HasPrefix(r.URL.Path, "/api/v1/rules/") && r.Method == http.MethodPut:
		h.UpdateRule(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/rules/"))
	case strings.HasPrefix(r.URL.Path, "/api/v1/rules/") && r.Method == http.MethodDelete:
		h.DeleteRule(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/rules/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// pathSegment 取 "/prefix/{id}/suffix" 中的 {id}
func pathSegment(path, prefix, suffix string) string {
	s := strings.TrimPrefix(path, prefix)
	return strings.TrimSuffix(s, suffix)
}

// ListRules 查询规则列表
func (h *RulesHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.ListRules(r.Context())
	if err != nil {
		h.logger.Error("ListRules failed", zap.Error(err))
		writeError(w, err)
		return
	}

	views := make([]ruleView, 0, len(rules))
	for _, rule := range rules {
		views = append(views, toRuleView(rule))
	}
	writeJSON(w, http.StatusOK, Ok(views))
}

// GetRule 查询单条规则
func (h *RulesHandler) GetRule(w http.ResponseWriter, r *http.Request, ruleID string) {
	rule, err := h.rules.GetRule(r.Context(), ruleID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(toRuleView(rule)))
}

// CreateRule 创建规则
func (h *RulesHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var payload ruleBody
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	rule, err := payload.toRule()
	if err != nil {
		writeError(w, err)
		return
	}

	ruleID, err := h.rules.CreateRule(ctx, rule)
	if err != nil {
		h.logger.Error("CreateRule failed", zap.Error(err))
		writeError(w, err)
		return
	}
	rule.RuleID = ruleID

	h.auditor.Record(ctx, actorFromReq(r), "RULE_CREATE", ruleID, rule.Name)
	writeJSON(w, http.StatusCreated, Ok(toRuleView(rule)))
}

// UpdateRule 更新规则
func (h *RulesHandler) UpdateRule(w http.ResponseWriter, r *http.Request, ruleID string) {
	ctx := r.Context()

	var payload ruleBody
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	existing, err := h.rules.GetRule(ctx, ruleID)
	if err != nil {
		writeError(w, err)
		return
	}

	rule, err := payload.toRule()
	if err != nil {
		writeError(w, err)
		return
	}
	rule.RuleID = ruleID

	// 请求体未带 silenced_until 时保留既有的静默窗口
	rule.SilencedUntil = existing.SilencedUntil
	if payload.SilencedUntil != nil {
		rule.SilencedUntil = payload.SilencedUntil
	}

	if err := h.rules.UpdateRule(ctx, rule); err != nil {
		writeError(w, err)
		return
	}

	h.auditor.Record(ctx, actorFromReq(r), "RULE_UPDATE", ruleID, rule.Name)
	writeJSON(w, http.StatusOK, Ok(toRuleView(rule)))
}

// DeleteRule 删除规则
func (h *RulesHandler) DeleteRule(w http.ResponseWriter, r *http.Request, ruleID string) {
	if err := h.rules.DeleteRule(r.Context(), ruleID); err != nil {
		writeError(w, err)
		return
	}

	h.auditor.Record(r.Context(), actorFromReq(r), "RULE_DELETE", ruleID, "")
	writeJSON(w, http.StatusOK, Ok(map[string]string{"rule_id": ruleID}))
}

// SilenceRule 静默规则至指定时刻
func (h *RulesHandler) SilenceRule(w http.ResponseWriter, r *http.Request, ruleID string) {
	ctx := r.Context()

	var payload struct {
		Until time.Time `json:"until"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if payload.Until.IsZero() {
		writeJSON(w, http.StatusBadRequest, Fail("until is required"))
		return
	}

	if err := h.rules.SilenceRule(ctx, ruleID, payload.Until); err != nil {
		writeError(w, err)
		return
	}

	h.auditor.Record(ctx, actorFromReq(r), "RULE_SILENCE", ruleID, "until "+payload.Until.Format(time.RFC3339))
	writeJSON(w, http.StatusOK, Ok(map[string]any{"rule_id": ruleID, "silenced_until": payload.Until}))
}

// ListExecutions 查询规则的执行历史
func (h *RulesHandler) ListExecutions(w http.ResponseWriter, r *http.Request, ruleID string) {
	page := parseInt(r.URL.Query().Get("page"), 1)
	size := parseInt(r.URL.Query().Get("size"), 20)

	executions, err := h.executions.ListExecutions(r.Context(), ruleID, page, size)
	if err != nil {
		writeError(w, err)
		return
	}

	type execView struct {
		ExecutionID string    `json:"execution_id"`
		RuleID      string    `json:"rule_id"`
		StartedAt   time.Time `json:"started_at"`
		FinishedAt  time.Time `json:"finished_at"`
		Status      string    `json:"status"`
		ResultCount *int      `json:"result_count,omitempty"`
		ErrorLog    *string   `json:"error_log,omitempty"`
	}
	views := make([]execView, 0, len(executions))
	for _, e := range executions {
		views = append(views, execView{
			ExecutionID: e.ExecutionID,
			RuleID:      e.RuleID,
			StartedAt:   e.StartedAt,
			FinishedAt:  e.FinishedAt,
			Status:      e.Status,
			ResultCount: e.ResultCount,
			ErrorLog:    e.ErrorLog,
		})
	}
	writeJSON(w, http.StatusOK, Ok(views))
}

// actorFromReq 从请求头取操作者标识，身份签发在外部系统完成
func actorFromReq(r *http.Request) string {
	if actor := r.Header.Get("X-Actor"); actor != "" {
		return actor
	}
	return "anonymous"
}
