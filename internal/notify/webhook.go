package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kiranshivaraju/agentbazaar/pkg/models"
)

// WebhookPublisher POSTs each event to every configured URL.
type WebhookPublisher struct {
	urls    []string
	client  *http.Client
	timeout time.Duration
	inflight
}

func NewWebhookPublisher(urls []string, timeout time.Duration) *WebhookPublisher {
	return &WebhookPublisher{
		urls:    urls,
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

func (p *WebhookPublisher) Notify(ctx context.Context, evt models.Event) {
	body, err := json.Marshal(envelopeFor(evt))
	if err != nil {
		logFailure(evt, "webhook", fmt.Errorf("marshal event: %w", err))
		return
	}

	// Deliveries outlive the request that triggered them.
	base := context.WithoutCancel(ctx)
	for _, url := range p.urls {
		p.goDeliver(func() {
			sendCtx, cancel := context.WithTimeout(base, p.timeout)
			defer cancel()
			if err := p.send(sendCtx, url, evt, body); err != nil {
				logFailure(evt, "webhook", err)
			}
		})
	}
}

func (p *WebhookPublisher) send(ctx context.Context, url string, evt models.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", evt.ID)
	req.Header.Set("X-Event-Type", evt.Type)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("post %s: status %d", url, resp.StatusCode)
	}
	return nil
}

// Close waits for in-flight deliveries or until ctx is done.
func (p *WebhookPublisher) Close(ctx context.Context) error {
	return p.drain(ctx)
}

var _ Publisher = (*WebhookPublisher)(nil)
