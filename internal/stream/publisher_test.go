package stream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishIncidentEvent(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	pub := NewPublisher(client, "rulewatch:incidents", zap.NewNop())

	pub.PublishIncidentEvent(context.Background(), IncidentEvent{
		IncidentID: "inc-1",
		RuleID:     "rule-1",
		EventType:  "ACK",
		Status:     "ACK",
		Actor:      "op1",
		OccurredAt: time.Now().Unix(),
	})

	entries, err := client.XRange(context.Background(), "rulewatch:incidents", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Values["data"], "inc-1")
}

func TestPublishIncidentEvent_NilPublisher(t *testing.T) {
	// 未配置 Redis 时发布是 no-op
	var pub *Publisher
	pub.PublishIncidentEvent(context.Background(), IncidentEvent{IncidentID: "inc-1"})
}
