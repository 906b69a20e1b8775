// Package notify delivers lifecycle events to outside listeners. Delivery
// is best-effort: Notify never blocks the caller and failures are only
// logged.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranshivaraju/agentbazaar/internal/config"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	source        = "agentbazaar"
	schemaVersion = "1.0"
	sendTimeout   = 5 * time.Second
)

// Envelope is the wire form of an event.
type Envelope struct {
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	SchemaVersion string         `json:"schema_version"`
	Source        string         `json:"source"`
	JobID         string         `json:"job_id"`
	Timestamp     time.Time      `json:"timestamp"`
	Data          map[string]any `json:"data"`
}

func envelopeFor(evt models.Event) Envelope {
	return Envelope{
		EventID:       evt.ID,
		EventType:     evt.Type,
		SchemaVersion: schemaVersion,
		Source:        source,
		JobID:         evt.JobID,
		Timestamp:     evt.Timestamp,
		Data:          evt.Data,
	}
}

// Publisher is a Notifier whose in-flight deliveries can be drained on
// shutdown.
type Publisher interface {
	models.Notifier
	Close(ctx context.Context) error
}

// New constructs the sink named in config. The redis client is only used by
// the redis sink and may be nil otherwise.
func New(cfg config.NotifyConfig, client *redis.Client) (Publisher, error) {
	switch cfg.Sink {
	case "none", "":
		return Nop{}, nil
	case "webhook":
		return NewWebhookPublisher(cfg.WebhookURLs, sendTimeout), nil
	case "redis":
		if client == nil {
			return nil, errors.New("redis notify sink requires REDIS_URL")
		}
		return NewRedisPublisher(client, cfg.RedisChannel), nil
	default:
		return nil, fmt.Errorf("unknown notify sink %q: must be one of none, webhook, redis", cfg.Sink)
	}
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(_ context.Context, _ models.Event) {}

func (Nop) Close(_ context.Context) error { return nil }

// inflight tracks background deliveries.
type inflight struct {
	wg sync.WaitGroup
}

func (f *inflight) goDeliver(fn func()) {
	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		fn()
	}()
}

func (f *inflight) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func logFailure(evt models.Event, sink string, err error) {
	slog.Warn("notification_failed",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"job_id", evt.JobID,
		"sink", sink,
		"error", err,
	)
}

var _ Publisher = Nop{}
