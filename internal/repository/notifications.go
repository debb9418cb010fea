package repository

import (
	"context"
	"database/sql"
	"fmt"

	"rulewatch/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// NotificationsRepository 通知记录仓库
// email 通道的记录以 pending 状态落库，由外部邮件服务消费；
// push 通道的记录保存网关投递结果
type NotificationsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationsRepository 创建通知记录仓库
func NewNotificationsRepository(db *sql.DB, logger *zap.Logger) *NotificationsRepository {
	return &NotificationsRepository{db: db, logger: logger}
}

// CreateNotification 写入一条通知记录，返回生成的 notification_id
func (r *NotificationsRepository) CreateNotification(ctx context.Context, n *domain.Notification) (string, error) {
	if n == nil {
		return "", fmt.Errorf("notification is required")
	}
	if n.Recipient == "" {
		return "", fmt.Errorf("recipient is required")
	}
	if n.Channel == "" {
		return "", fmt.Errorf("channel is required")
	}

	notificationID := uuid.New().String()
	query := `
		INSERT INTO notifications (
			notification_id, incident_id, channel, recipient, title, message, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, CURRENT_TIMESTAMP)
	`

	_, err := r.db.ExecContext(ctx, query,
		notificationID,
		n.IncidentID,
		n.Channel,
		n.Recipient,
		n.Title,
		n.Message,
		n.Status,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create notification: %w", err)
	}
	return notificationID, nil
}

// ListByIncident 查询某事故的通知记录
func (r *NotificationsRepository) ListByIncident(ctx context.Context, incidentID string) ([]*domain.Notification, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	query := `
		SELECT notification_id, incident_id, channel, recipient, title, message, status, created_at
		FROM notifications
		WHERE incident_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	notifications := []*domain.Notification{}
	for rows.Next() {
		var n domain.Notification
		var incID sql.NullString
		err := rows.Scan(
			&n.NotificationID,
			&incID,
			&n.Channel,
			&n.Recipient,
			&n.Title,
			&n.Message,
			&n.Status,
			&n.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if incID.Valid {
			n.IncidentID = &incID.String
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}
