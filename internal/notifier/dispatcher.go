package notifier

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rulewatch/internal/audit"
	"rulewatch/internal/domain"
	"rulewatch/internal/store"
)

const (
	dedupKeyPrefix = "rulewatch:notify:dedup:"
	dedupTTL       = 10 * time.Minute
)

// Directory 接收人目录查询接口
type Directory interface {
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	FindUsersByRole(ctx context.Context, role string) ([]*domain.User, error)
	ListActiveDeviceTokens(ctx context.Context, userID string) ([]string, error)
	FindDutyUser(ctx context.Context, channel string, at time.Time) (*domain.User, error)
}

// Store 通知记录持久化接口
type Store interface {
	CreateNotification(ctx context.Context, n *domain.Notification) (string, error)
}

// Dispatcher 通知分发器
// 按目标选择器解析接收人，逐人做通道开关与免打扰判定，再按端点去重后投递
type Dispatcher struct {
	directory Directory
	records   Store
	provider  Provider
	kv        store.KV // 可为 nil（关闭 dedup）
	auditor   *audit.Logger
	logger    *zap.Logger
	now       func() time.Time
}

// NewDispatcher 创建通知分发器
func NewDispatcher(directory Directory, records Store, provider Provider, kv store.KV, auditor *audit.Logger, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		directory: directory,
		records:   records,
		provider:  provider,
		kv:        kv,
		auditor:   auditor,
		logger:    logger,
		now:       time.Now,
	}
}

// Dispatch 执行一次通知分发
// 无论成功与否都写入恰好一条审计记录
func (d *Dispatcher) Dispatch(ctx context.Context, req *domain.NotificationRequest) (*domain.DispatchResult, error) {
	result, err := d.dispatch(ctx, req)

	actor := "system"
	if req.Actor != "" {
		actor = req.Actor
	}
	target := req.Channel
	if req.IncidentID != nil {
		target = *req.IncidentID
	}
	var detail string
	if err == nil {
		detail = fmt.Sprintf("matched=%d delivered=%d failed=%d suppressed=%d deduped=%t",
			result.Matched, result.Delivered, result.Failed, result.Suppressed, result.Deduped)
	} else {
		detail = fmt.Sprintf("dispatch failed: %v", err)
	}
	d.auditor.Record(ctx, actor, "NOTIFICATION_DISPATCH", target, detail)

	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, req *domain.NotificationRequest) (*domain.DispatchResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	result := &domain.DispatchResult{}

	// dedup key 抑制窗口内的重复请求整体短路；claim 先于投递保证并发下只有
	// 一个请求通过，但分发失败时释放 key，重试不被抑制窗口挡住
	claimedKey := ""
	if req.DedupKey != nil && *req.DedupKey != "" && d.kv != nil {
		key := dedupKeyPrefix + *req.DedupKey
		ok, err := d.kv.SetNX(ctx, key, "1", dedupTTL)
		if err != nil {
			d.logger.Warn("Dedup check failed, continuing without dedup", zap.Error(err))
		} else if !ok {
			result.Deduped = true
			d.logger.Info("Notification deduped", zap.String("dedup_key", *req.DedupKey))
			return result, nil
		} else {
			claimedKey = key
		}
	}

	if err := d.deliver(ctx, req, result); err != nil {
		if claimedKey != "" {
			if derr := d.kv.Delete(ctx, claimedKey); derr != nil {
				d.logger.Warn("Failed to release dedup key", zap.String("key", claimedKey), zap.Error(derr))
			}
		}
		return result, err
	}
	return result, nil
}

// deliver 解析接收人并按通道投递
func (d *Dispatcher) deliver(ctx context.Context, req *domain.NotificationRequest, result *domain.DispatchResult) error {
	recipients, err := d.resolveRecipients(ctx, req)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return domain.ErrNoRecipients
	}
	result.Matched = len(recipients)

	now := d.now()
	var active []*domain.User
	for _, u := range recipients {
		if !d.channelEnabled(u, req.Channel) {
			result.Suppressed++
			d.logger.Debug("Recipient channel disabled", zap.String("user_id", u.UserID), zap.String("channel", req.Channel))
			continue
		}
		if u.InQuietHours(now) {
			result.Suppressed++
			d.recordNotification(ctx, req, u.Email, domain.NotificationSuppressed)
			d.logger.Info("Notification suppressed by quiet hours", zap.String("user_id", u.UserID))
			continue
		}
		active = append(active, u)
	}

	switch req.Channel {
	case domain.ChannelPush:
		if err := d.deliverPush(ctx, req, active, result); err != nil {
			return err
		}
	case domain.ChannelEmail:
		d.deliverEmail(ctx, req, active, result)
	}

	return nil
}

// resolveRecipients 按选择器解析接收人集合
func (d *Dispatcher) resolveRecipients(ctx context.Context, req *domain.NotificationRequest) ([]*domain.User, error) {
	switch {
	case req.TargetEmail != nil && *req.TargetEmail != "":
		u, err := d.directory.GetUserByEmail(ctx, *req.TargetEmail)
		if err != nil {
			return nil, err
		}
		return []*domain.User{u}, nil
	case req.TargetRole != nil && *req.TargetRole != "":
		return d.directory.FindUsersByRole(ctx, *req.TargetRole)
	case req.DutyChannel != nil && *req.DutyChannel != "":
		u, err := d.directory.FindDutyUser(ctx, *req.DutyChannel, d.now())
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, nil
		}
		return []*domain.User{u}, nil
	}
	return nil, nil
}

func (d *Dispatcher) channelEnabled(u *domain.User, channel string) bool {
	switch channel {
	case domain.ChannelPush:
		return u.EnablePush
	case domain.ChannelEmail:
		return u.EnableEmail
	}
	return false
}

// deliverPush 推送投递
// 多个接收人可能共享同一端点，按端点去重后一次多播
func (d *Dispatcher) deliverPush(ctx context.Context, req *domain.NotificationRequest, recipients []*domain.User, result *domain.DispatchResult) error {
	seen := make(map[string]bool)
	var tokens []string
	for _, u := range recipients {
		userTokens, err := d.directory.ListActiveDeviceTokens(ctx, u.UserID)
		if err != nil {
			d.logger.Warn("Failed to list device tokens", zap.String("user_id", u.UserID), zap.Error(err))
			continue
		}
		for _, t := range userTokens {
			if seen[t] {
				continue
			}
			seen[t] = true
			tokens = append(tokens, t)
		}
	}

	if len(tokens) == 0 {
		return nil
	}

	sendResults, err := d.provider.Send(ctx, tokens, req.Title, req.Body)
	if err != nil {
		for _, t := range tokens {
			result.Failed++
			d.recordNotification(ctx, req, t, domain.NotificationFailed)
		}
		d.logger.Error("Push delivery failed", zap.Int("tokens", len(tokens)), zap.Error(err))
		return domain.ErrAllDeliveriesFailed
	}

	for _, r := range sendResults {
		if r.OK {
			result.Delivered++
			d.recordNotification(ctx, req, r.Token, domain.NotificationSent)
		} else {
			result.Failed++
			d.recordNotification(ctx, req, r.Token, domain.NotificationFailed)
			d.logger.Warn("Push endpoint rejected", zap.String("token", r.Token), zap.String("error", r.Error))
		}
	}

	if result.Delivered == 0 && result.Failed > 0 {
		return domain.ErrAllDeliveriesFailed
	}
	return nil
}

// deliverEmail 邮件投递
// 只落 pending 记录，由外部投递进程消费；同一邮箱只落一条
func (d *Dispatcher) deliverEmail(ctx context.Context, req *domain.NotificationRequest, recipients []*domain.User, result *domain.DispatchResult) {
	seen := make(map[string]bool)
	for _, u := range recipients {
		if u.Email == "" || seen[u.Email] {
			continue
		}
		seen[u.Email] = true
		d.recordNotification(ctx, req, u.Email, domain.NotificationPending)
		result.Delivered++
	}
}

// recordNotification 落库通知记录，失败只记日志不中断分发
func (d *Dispatcher) recordNotification(ctx context.Context, req *domain.NotificationRequest, recipient, status string) {
	n := &domain.Notification{
		IncidentID: req.IncidentID,
		Channel:    req.Channel,
		Recipient:  recipient,
		Title:      req.Title,
		Message:    req.Body,
		Status:     status,
	}
	if _, err := d.records.CreateNotification(ctx, n); err != nil {
		d.logger.Error("Failed to record notification",
			zap.String("recipient", recipient),
			zap.String("status", status),
			zap.Error(err),
		)
	}
}
