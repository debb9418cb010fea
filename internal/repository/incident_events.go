package repository

import (
	"context"
	"database/sql"
	"fmt"

	"rulewatch/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// IncidentEventsRepository 事故生命周期事件仓库（仅追加）
type IncidentEventsRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewIncidentEventsRepository 创建事故事件仓库
func NewIncidentEventsRepository(db *sql.DB, logger *zap.Logger) *IncidentEventsRepository {
	return &IncidentEventsRepository{db: db, logger: logger}
}

// AppendEvent 追加一条生命周期事件
func (r *IncidentEventsRepository) AppendEvent(ctx context.Context, event *domain.IncidentEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if event.IncidentID == "" {
		return fmt.Errorf("incident_id is required")
	}
	if event.EventType == "" {
		return fmt.Errorf("event_type is required")
	}

	query := `
		INSERT INTO incident_events (event_id, incident_id, event_type, actor, details, created_at)
		VALUES ($1, $2, $3, $4, $5, CURRENT_TIMESTAMP)
	`

	_, err := r.db.ExecContext(ctx, query,
		uuid.New().String(),
		event.IncidentID,
		event.EventType,
		event.Actor,
		event.Details,
	)
	if err != nil {
		return fmt.Errorf("failed to append incident event: %w", err)
	}
	return nil
}

// ListEvents 按事故查询事件（时间升序）
func (r *IncidentEventsRepository) ListEvents(ctx context.Context, incidentID string) ([]*domain.IncidentEvent, error) {
	if incidentID == "" {
		return nil, fmt.Errorf("incident_id is required")
	}

	query := `
		SELECT event_id, incident_id, event_type, actor, details, created_at
		FROM incident_events
		WHERE incident_id = $1
		ORDER BY created_at
	`

	rows, err := r.db.QueryContext(ctx, query, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query incident events: %w", err)
	}
	defer rows.Close()

	events := []*domain.IncidentEvent{}
	for rows.Next() {
		var event domain.IncidentEvent
		err := rows.Scan(
			&event.EventID,
			&event.IncidentID,
			&event.EventType,
			&event.Actor,
			&event.Details,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident event: %w", err)
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incident events: %w", err)
	}
	return events, nil
}
