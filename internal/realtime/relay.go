package realtime

import (
	"context"
	"fmt"

	"bookshop/internal/usecase"

	"github.com/redis/go-redis/v9"
)

const relayPattern = channelPrefix + "*"

// Redis pub/sub 経由で全インスタンスへ配る。
// 受信した orders:* はローカルのHubへ流す
type RedisRelay struct {
	client *redis.Client
	hub    *Hub
	log    usecase.Logger
}

func NewRedisRelay(client *redis.Client, hub *Hub, log usecase.Logger) *RedisRelay {
	if log == nil {
		log = nopLogger{}
	}
	return &RedisRelay{client: client, hub: hub, log: log}
}

func (r *RedisRelay) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", channel, err)
	}
	return nil
}

// ctxがキャンセルされるまで受信を続ける
func (r *RedisRelay) Run(ctx context.Context) error {
	ps := r.client.PSubscribe(ctx, relayPattern)
	defer ps.Close()

	//購読完了を待つ
	if _, err := ps.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("psubscribe %s: %w", relayPattern, err)
	}
	r.log.Infof("realtime relay subscribed to %s", relayPattern)

	msgs := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			_ = r.hub.Publish(ctx, msg.Channel, []byte(msg.Payload))
		}
	}
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
