package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"rulewatch/internal/domain"
)

// IncidentManager 事故生命周期接口（incident.Manager 实现）
type IncidentManager interface {
	Ack(ctx context.Context, incidentID, actor string) (*domain.Incident, error)
	Close(ctx context.Context, incidentID, actor string, comment *string) (*domain.Incident, error)
	Reexecute(ctx context.Context, incidentID, actor string) (string, error)
}

// IncidentReader 事故读取接口
type IncidentReader interface {
	GetIncident(ctx context.Context, incidentID string) (*domain.Incident, error)
}

// IncidentEventReader 事故事件读取接口
type IncidentEventReader interface {
	ListEvents(ctx context.Context, incidentID string) ([]*domain.IncidentEvent, error)
}

// NotificationReader 事故通知记录读取接口
type NotificationReader interface {
	ListByIncident(ctx context.Context, incidentID string) ([]*domain.Notification, error)
}

// IncidentsHandler 事故管理 Handler
type IncidentsHandler struct {
	manager       IncidentManager
	incidents     IncidentReader
	events        IncidentEventReader
	notifications NotificationReader
	logger        *zap.Logger
}

// NewIncidentsHandler 创建事故管理 Handler
func NewIncidentsHandler(manager IncidentManager, incidents IncidentReader, events IncidentEventReader, notifications NotificationReader, logger *zap.Logger) *IncidentsHandler {
	return &IncidentsHandler{
		manager:       manager,
		incidents:     incidents,
		events:        events,
		notifications: notifications,
		logger:        logger,
	}
}

// incidentView 事故响应体
type incidentView struct {
	IncidentID        string    `json:"incident_id"`
	RuleID            string    `json:"rule_id"`
	Status            string    `json:"status"`
	Priority          string    `json:"priority"`
	Details           string    `json:"details"`
	OpenedAt          time.Time `json:"opened_at"`
	LastOccurrenceAt  time.Time `json:"last_occurrence_at"`
	ResolutionComment *string   `json:"resolution_comment,omitempty"`
	OriginExecutionID *string   `json:"origin_execution_id,omitempty"`
	Version           int       `json:"version"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toIncidentView(i *domain.Incident) incidentView {
	return incidentView{
		IncidentID:        i.IncidentID,
		RuleID:            i.RuleID,
		Status:            string(i.Status),
		Priority:          i.Priority,
		Details:           i.Details,
		OpenedAt:          i.OpenedAt,
		LastOccurrenceAt:  i.LastOccurrenceAt,
		ResolutionComment: i.ResolutionComment,
		OriginExecutionID: i.OriginExecutionID,
		Version:           i.Version,
		UpdatedAt:         i.UpdatedAt,
	}
}

// ServeHTTP 实现 http.Handler 接口
func (h *IncidentsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 路由分发
	switch {
	case strings.HasSuffix(r.URL.Path, "/ack") && r.Method == http.MethodPost:
		h.Ack(w, r, pathSegment(r.URL.Path, "/api/v1/incidents/", "/ack"))
	case strings.HasSuffix(r.URL.Path, "/close") && r.Method == http.MethodPost:
		h.Close(w, r, pathSegment(r.URL.Path, "/api/v1/incidents/", "/close"))
	case strings.HasSuffix(r.URL.Path, "/reexecute") && r.Method == http.MethodPost:
		h.Reexecute(w, r, pathSegment(r.URL.Path, "/api/v1/incidents/", "/reexecute"))
	case strings.HasSuffix(r.URL.Path, "/events") && r.Method == http.MethodGet:
		h.ListEvents(w, r, pathSegment(r.URL.Path, "/api/v1/incidents/", "/events"))
	case strings.HasSuffix(r.URL.Path, "/notifications") && r.Method == http.MethodGet:
		h.ListNotifications(w, r, pathSegment(r.URL.Path, "/api/v1/incidents/", "/notifications"))
	case strings.HasPrefix(r.URL.Path, "/api/v1/incidents/") && r.Method == http.MethodGet:
		h.GetIncident(w, r, strings.TrimPrefix(r.URL.Path, "/api/v1/incidents/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// GetIncident 查询单个事故
func (h *IncidentsHandler) GetIncident(w http.ResponseWriter, r *http.Request, incidentID string) {
	inc, err := h.incidents.GetIncident(r.Context(), incidentID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(toIncidentView(inc)))
}

// Ack 确认事故
func (h *IncidentsHandler) Ack(w http.ResponseWriter, r *http.Request, incidentID string) {
	inc, err := h.manager.Ack(r.Context(), incidentID, actorFromReq(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(toIncidentView(inc)))
}

// Close 关闭事故
func (h *IncidentsHandler) Close(w http.ResponseWriter, r *http.Request, incidentID string) {
	var payload struct {
		Comment *string `json:"comment"`
	}
	if err := readBodyJSON(r, 1<<20, &payload); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}

	inc, err := h.manager.Close(r.Context(), incidentID, actorFromReq(r), payload.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(toIncidentView(inc)))
}

// Reexecute 针对事故关联规则立即重跑
func (h *IncidentsHandler) Reexecute(w http.ResponseWriter, r *http.Request, incidentID string) {
	entryID, err := h.manager.Reexecute(r.Context(), incidentID, actorFromReq(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, Ok(map[string]string{
		"incident_id": incidentID,
		"entry_id":    entryID,
	}))
}

// ListEvents 查询事故生命周期事件
func (h *IncidentsHandler) ListEvents(w http.ResponseWriter, r *http.Request, incidentID string) {
	events, err := h.events.ListEvents(r.Context(), incidentID)
	if err != nil {
		writeError(w, err)
		return
	}

	type eventView struct {
		EventID    string    `json:"event_id"`
		IncidentID string    `json:"incident_id"`
		EventType  string    `json:"event_type"`
		Actor      string    `json:"actor"`
		Details    string    `json:"details,omitempty"`
		CreatedAt  time.Time `json:"created_at"`
	}
	views := make([]eventView, 0, len(events))
	for _, e := range events {
		views = append(views, eventView{
			EventID:    e.EventID,
			IncidentID: e.IncidentID,
			EventType:  e.EventType,
			Actor:      e.Actor,
			Details:    e.Details,
			CreatedAt:  e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, Ok(views))
}

// ListNotifications 查询事故的通知记录
func (h *IncidentsHandler) ListNotifications(w http.ResponseWriter, r *http.Request, incidentID string) {
	notifications, err := h.notifications.ListByIncident(r.Context(), incidentID)
	if err != nil {
		writeError(w, err)
		return
	}

	type notificationView struct {
		NotificationID string    `json:"notification_id"`
		Channel        string    `json:"channel"`
		Recipient      string    `json:"recipient"`
		Title          string    `json:"title"`
		Status         string    `json:"status"`
		CreatedAt      time.Time `json:"created_at"`
	}
	views := make([]notificationView, 0, len(notifications))
	for _, n := range notifications {
		views = append(views, notificationView{
			NotificationID: n.NotificationID,
			Channel:        n.Channel,
			Recipient:      n.Recipient,
			Title:          n.Title,
			Status:         n.Status,
			CreatedAt:      n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, Ok(views))
}
