package incident

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rulewatch/internal/audit"
	"rulewatch/internal/domain"
	"rulewatch/internal/stream"
)

// Store 事故持久化接口
type Store interface {
	GetIncident(ctx context.Context, incidentID string) (*domain.Incident, error)
	FindOpenByRule(ctx context.Context, ruleID string) (*domain.Incident, error)
	CreateIncident(ctx context.Context, inc *domain.Incident) (string, error)
	UpdateStatus(ctx context.Context, incidentID string, expectedVersion int, status domain.IncidentStatus, resolutionComment *string) error
	TouchLastOccurrence(ctx context.Context, incidentID string, occurredAt time.Time) error
}

// EventStore 事故事件追加接口
type EventStore interface {
	AppendEvent(ctx context.Context, event *domain.IncidentEvent) error
}

// RuleStore 规则读取接口（变更通知的目标解析用）
type RuleStore interface {
	GetRule(ctx context.Context, ruleID string) (*domain.Rule, error)
}

// Queue 执行队列写入接口（REEXECUTE 用）
type Queue interface {
	Enqueue(ctx context.Context, ruleID string, originIncidentID *string, scheduledFor time.Time) (string, error)
}

// Notifier 通知分发接口
type Notifier interface {
	Dispatch(ctx context.Context, req *domain.NotificationRequest) (*domain.DispatchResult, error)
}

// Manager 事故管理器
// 负责违例到事故的去重归并、OPEN → ACK → CLOSED 状态机与生命周期事件。
// 状态变更使用版本号乐观并发：版本不匹配返回 ErrConflict，由调用方重读重试
type Manager struct {
	incidents Store
	events    EventStore
	rules     RuleStore
	queue     Queue
	notifier  Notifier
	auditor   *audit.Logger
	publisher *stream.Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewManager 创建事故管理器
func NewManager(incidents Store, events EventStore, rules RuleStore, queue Queue, notifier Notifier, auditor *audit.Logger, publisher *stream.Publisher, logger *zap.Logger) *Manager {
	return &Manager{
		incidents: incidents,
		events:    events,
		rules:     rules,
		queue:     queue,
		notifier:  notifier,
		auditor:   auditor,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// HandleViolation 处理一次违例执行
// 同一规则已有非 CLOSED 事故时只更新最近发生时间并追加 OCCURRENCE 事件，
// 否则创建新事故并触发通知
func (m *Manager) HandleViolation(ctx context.Context, rule *domain.Rule, exec *domain.Execution, originIncidentID *string) error {
	existing, err := m.incidents.FindOpenByRule(ctx, rule.RuleID)
	if err != nil {
		return fmt.Errorf("failed to look up open incident: %w", err)
	}

	if existing != nil {
		if err := m.incidents.TouchLastOccurrence(ctx, existing.IncidentID, exec.FinishedAt); err != nil {
			return fmt.Errorf("failed to update last occurrence: %w", err)
		}
		m.appendEvent(ctx, existing.IncidentID, domain.IncidentEventOccurrence, "system",
			fmt.Sprintf("violation recurred, execution %s", exec.ExecutionID))
		m.logger.Info("Violation merged into open incident",
			zap.String("incident_id", existing.IncidentID),
			zap.String("rule_id", rule.RuleID),
		)
		return nil
	}

	details := fmt.Sprintf("rule %q fired", rule.Name)
	if exec.Status == domain.ExecutionError && exec.ErrorLog != nil {
		details = fmt.Sprintf("rule %q failed to run: %s", rule.Name, *exec.ErrorLog)
	} else if exec.ResultCount != nil {
		details = fmt.Sprintf("rule %q matched %d rows (threshold %d)", rule.Name, *exec.ResultCount, rule.Threshold)
	}

	inc := &domain.Incident{
		RuleID:            rule.RuleID,
		Priority:          rule.Priority,
		Details:           details,
		OpenedAt:          exec.FinishedAt,
		LastOccurrenceAt:  exec.FinishedAt,
		OriginExecutionID: &exec.ExecutionID,
	}
	incidentID, err := m.incidents.CreateIncident(ctx, inc)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}
	inc.IncidentID = incidentID

	m.appendEvent(ctx, incidentID, domain.IncidentEventOpen, "system", details)
	m.auditor.Record(ctx, "system", "INCIDENT_OPEN", incidentID, details)
	m.publisher.PublishIncidentEvent(ctx, stream.IncidentEvent{
		IncidentID: incidentID,
		RuleID:     rule.RuleID,
		EventType:  domain.IncidentEventOpen,
		Status:     string(domain.IncidentOpen),
		Actor:      "system",
		OccurredAt: m.now().Unix(),
	})
	m.logger.Info("Incident opened",
		zap.String("incident_id", incidentID),
		zap.String("rule_id", rule.RuleID),
		zap.String("priority", rule.Priority),
	)

	m.notifyOpen(ctx, rule, inc)
	return nil
}

// notifyOpen 新事故的通知分发，失败只记日志
func (m *Manager) notifyOpen(ctx context.Context, rule *domain.Rule, inc *domain.Incident) {
	m.notify(ctx, rule, inc.IncidentID,
		fmt.Sprintf("[%s] %s", rule.Priority, rule.Name),
		inc.Details,
		"incident:"+inc.IncidentID)
}

// notifyTransition 状态变更的通知分发，目标按规则解析，失败只记日志
func (m *Manager) notifyTransition(ctx context.Context, inc *domain.Incident, eventType, actor string) {
	rule, err := m.rules.GetRule(ctx, inc.RuleID)
	if err != nil {
		m.logger.Warn("Failed to load rule for transition notification",
			zap.String("incident_id", inc.IncidentID),
			zap.String("rule_id", inc.RuleID),
			zap.Error(err),
		)
		return
	}
	m.notify(ctx, rule, inc.IncidentID,
		fmt.Sprintf("[%s] %s %s", rule.Priority, rule.Name, eventType),
		fmt.Sprintf("incident %s %s by %s", inc.IncidentID, eventType, actor),
		"incident:"+inc.IncidentID+":"+eventType)
}

// notify 按规则的通知目标分发一条事故通知
func (m *Manager) notify(ctx context.Context, rule *domain.Rule, incidentID, title, body, dedup string) {
	req := &domain.NotificationRequest{
		Title:      title,
		Body:       body,
		IncidentID: &incidentID,
		DedupKey:   &dedup,
		Actor:      "system",
	}

	switch {
	case rule.NotifyRole != nil && *rule.NotifyRole != "":
		req.TargetRole = rule.NotifyRole
		req.Channel = domain.ChannelPush
	case rule.NotifyEmail != nil && *rule.NotifyEmail != "":
		req.TargetEmail = rule.NotifyEmail
		req.Channel = domain.ChannelEmail
	default:
		return
	}

	if _, err := m.notifier.Dispatch(ctx, req); err != nil {
		m.logger.Warn("Incident notification failed",
			zap.String("incident_id", incidentID),
			zap.Error(err),
		)
	}
}

// Ack 确认事故，仅 OPEN 状态允许
func (m *Manager) Ack(ctx context.Context, incidentID, actor string) (*domain.Incident, error) {
	inc, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !inc.CanAck() {
		return nil, &domain.InvalidTransitionError{From: inc.Status, Action: "ack"}
	}

	if err := m.incidents.UpdateStatus(ctx, incidentID, inc.Version, domain.IncidentAck, nil); err != nil {
		return nil, err
	}
	inc.Status = domain.IncidentAck
	inc.Version++

	m.appendEvent(ctx, incidentID, domain.IncidentEventAck, actor, "")
	m.auditor.Record(ctx, actor, "INCIDENT_ACK", incidentID, "")
	m.publisher.PublishIncidentEvent(ctx, stream.IncidentEvent{
		IncidentID: incidentID,
		RuleID:     inc.RuleID,
		EventType:  domain.IncidentEventAck,
		Status:     string(domain.IncidentAck),
		Actor:      actor,
		OccurredAt: m.now().Unix(),
	})
	m.logger.Info("Incident acknowledged", zap.String("incident_id", incidentID), zap.String("actor", actor))

	m.notifyTransition(ctx, inc, domain.IncidentEventAck, actor)
	return inc, nil
}

// Close 关闭事故，OPEN 或 ACK 状态允许，可附带处置说明
func (m *Manager) Close(ctx context.Context, incidentID, actor string, comment *string) (*domain.Incident, error) {
	inc, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !inc.CanClose() {
		return nil, &domain.InvalidTransitionError{From: inc.Status, Action: "close"}
	}

	if err := m.incidents.UpdateStatus(ctx, incidentID, inc.Version, domain.IncidentClosed, comment); err != nil {
		return nil, err
	}
	inc.Status = domain.IncidentClosed
	inc.Version++
	if comment != nil {
		inc.ResolutionComment = comment
	}

	detail := ""
	if comment != nil {
		detail = *comment
	}
	m.appendEvent(ctx, incidentID, domain.IncidentEventClose, actor, detail)
	m.auditor.Record(ctx, actor, "INCIDENT_CLOSE", incidentID, detail)
	m.publisher.PublishIncidentEvent(ctx, stream.IncidentEvent{
		IncidentID: incidentID,
		RuleID:     inc.RuleID,
		EventType:  domain.IncidentEventClose,
		Status:     string(domain.IncidentClosed),
		Actor:      actor,
		OccurredAt: m.now().Unix(),
	})
	m.logger.Info("Incident closed", zap.String("incident_id", incidentID), zap.String("actor", actor))

	m.notifyTransition(ctx, inc, domain.IncidentEventClose, actor)
	return inc, nil
}

// Reexecute 针对事故关联的规则立即入队一次执行
// 任何状态都允许，事故状态本身不变；再次违例时由去重逻辑归并
func (m *Manager) Reexecute(ctx context.Context, incidentID, actor string) (string, error) {
	inc, err := m.incidents.GetIncident(ctx, incidentID)
	if err != nil {
		return "", err
	}

	entryID, err := m.queue.Enqueue(ctx, inc.RuleID, &incidentID, m.now())
	if err != nil {
		return "", fmt.Errorf("failed to enqueue reexecution: %w", err)
	}

	m.appendEvent(ctx, incidentID, domain.IncidentEventReexecute, actor, "queue entry "+entryID)
	m.auditor.Record(ctx, actor, "INCIDENT_REEXECUTE", incidentID, "queue entry "+entryID)
	m.logger.Info("Incident reexecution enqueued",
		zap.String("incident_id", incidentID),
		zap.String("entry_id", entryID),
		zap.String("actor", actor),
	)

	m.notifyTransition(ctx, inc, domain.IncidentEventReexecute, actor)
	return entryID, nil
}

// appendEvent 追加生命周期事件，失败只记日志不中断状态变更
func (m *Manager) appendEvent(ctx context.Context, incidentID, eventType, actor, details string) {
	event := &domain.IncidentEvent{
		IncidentID: incidentID,
		EventType:  eventType,
		Actor:      actor,
		Details:    details,
	}
	if err := m.events.AppendEvent(ctx, event); err != nil {
		m.logger.Error("Failed to append incident event",
			zap.String("incident_id", incidentID),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
