package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	inflight
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Notify(ctx context.Context, evt models.Event) {
	body, err := json.Marshal(envelopeFor(evt))
	if err != nil {
		logFailure(evt, "redis", fmt.Errorf("marshal event: %w", err))
		return
	}

	base := context.WithoutCancel(ctx)
	p.goDeliver(func() {
		pubCtx, cancel := context.WithTimeout(base, sendTimeout)
		defer cancel()
		if err := p.client.Publish(pubCtx, p.channel, body).Err(); err != nil {
			logFailure(evt, "redis", err)
		}
	})
}

func (p *RedisPublisher) Close(ctx context.Context) error {
	return p.drain(ctx)
}

var _ Publisher = (*RedisPublisher)(nil)
