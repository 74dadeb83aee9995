package fulfillment

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	eventKeyPrefix = "salesdesk:webhook:"
	eventTTL       = 24 * time.Hour
)

// EventLog remembers which webhook events have been handled.
type EventLog interface {
	// FirstDelivery reports whether id has not been seen before and marks
	// it as seen.
	FirstDelivery(ctx context.Context, id string) (bool, error)
}

type RedisEventLog struct {
	client *redis.Client
}

func NewRedisEventLog(client *redis.Client) *RedisEventLog {
	return &RedisEventLog{client: client}
}

func (l *RedisEventLog) FirstDelivery(ctx context.Context, id string) (bool, error) {
	return l.client.SetNX(ctx, eventKeyPrefix+id, time.Now().UTC().Unix(), eventTTL).Result()
}
