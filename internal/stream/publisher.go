package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Publisher 事故生命周期事件的 Redis Streams 发布器
// 供下游展示/聚合层消费；发布失败只记日志，不影响主流程
type Publisher struct {
	client *redis.Client
	stream string
	logger *zap.Logger
}

// NewPublisher 创建发布器
func NewPublisher(client *redis.Client, stream string, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, stream: stream, logger: logger}
}

// IncidentEvent 发布到流上的事故事件
type IncidentEvent struct {
	IncidentID string `json:"incident_id"`
	RuleID     string `json:"rule_id"`
	EventType  string `json:"event_type"`
	Status     string `json:"status"`
	Actor      string `json:"actor"`
	OccurredAt int64  `json:"occurred_at"`
}

// PublishIncidentEvent 以 JSON 封包发布一条事故事件
func (p *Publisher) PublishIncidentEvent(ctx context.Context, event IncidentEvent) {
	if p == nil || p.client == nil {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to marshal incident event", zap.Error(err))
		return
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"data":      string(data),
			"timestamp": time.Now().Unix(),
		},
	}).Err()
	if err != nil {
		p.logger.Warn("Failed to publish incident event",
			zap.String("incident_id", event.IncidentID),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}
