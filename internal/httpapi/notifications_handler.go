package httpapi

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"rulewatch/internal/domain"
)

// NotificationDispatcher 通知分发接口（notifier.Dispatcher 实现）
type NotificationDispatcher interface {
	Dispatch(ctx context.Context, req *domain.NotificationRequest) (*domain.DispatchResult, error)
}

// NotificationsHandler 通知分发 Handler
type NotificationsHandler struct {
	dispatcher NotificationDispatcher
	logger     *zap.Logger
}

// NewNotificationsHandler 创建通知分发 Handler
func NewNotificationsHandler(dispatcher NotificationDispatcher, logger *zap.Logger) *NotificationsHandler {
	return &NotificationsHandler{dispatcher: dispatcher, logger: logger}
}

// ServeHTTP 实现 http.Handler 接口
func (h *NotificationsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/v1/notifications/dispatch" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.Dispatch(w, r)
}

// Dispatch 手动触发一次通知分发
func (h *NotificationsHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req domain.NotificationRequest
	if err := readBodyJSON(r, 1<<20, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, Fail("invalid body"))
		return
	}
	if req.Actor == "" {
		req.Actor = actorFromReq(r)
	}

	result, err := h.dispatcher.Dispatch(r.Context(), &req)
	if err != nil {
		h.logger.Warn("Manual dispatch failed", zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, Ok(result))
}
