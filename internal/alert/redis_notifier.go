package alert

import (
	"context"
	"encoding/json"
	"time"

	redis "github.com/redis/go-redis/v9"

	"restopos/backend/internal/domain"
)

const (
	defaultChannel     = "inventory.reorder"
	defaultDedupeAfter = 30 * time.Minute
)

// RedisNotifier publishes reorder alerts on a pub/sub channel. An item is
// announced at most once per dedupe window.
type RedisNotifier struct {
	client  *redis.Client
	channel string
	window  time.Duration
}

func NewRedisNotifier(addr string, password string, db int, channel string) *RedisNotifier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return newRedisNotifier(client, channel, defaultDedupeAfter)
}

func newRedisNotifier(client *redis.Client, channel string, window time.Duration) *RedisNotifier {
	if channel == "" {
		channel = defaultChannel
	}
	if window <= 0 {
		window = defaultDedupeAfter
	}
	return &RedisNotifier{client: client, channel: channel, window: window}
}

func (n *RedisNotifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}

func (n *RedisNotifier) markerKey(itemID string) string {
	return n.channel + ":item:" + itemID
}

func (n *RedisNotifier) NotifyReorder(ctx context.Context, alert domain.ReorderAlert) error {
	fresh, err := n.client.SetNX(ctx, n.markerKey(alert.ItemID), alert.TransactionID, n.window).Result()
	if err != nil {
		return err
	}
	if !fresh {
		return nil
	}

	payload, err := json.Marshal(alert)
	if err == nil {
		err = n.client.Publish(ctx, n.channel, payload).Err()
	}
	if err != nil {
		// an unsent alert must not hold the window
		n.client.Del(context.WithoutCancel(ctx), n.markerKey(alert.ItemID))
		return err
	}
	return nil
}
