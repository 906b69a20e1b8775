package notify_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/agentbazaar/internal/config"
	"github.com/kiranshivaraju/agentbazaar/internal/notify"
	"github.com/kiranshivaraju/agentbazaar/pkg/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func testEvent() models.Event {
	return models.Event{
		ID:        "evt_123",
		Type:      models.EventJobPosted,
		JobID:     "job_abc",
		Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Data:      map[string]any{"budget": "1.50"},
	}
}

type recorder struct {
	mu       sync.Mutex
	headers  []http.Header
	payloads []notify.Envelope
}

func (r *recorder) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var env notify.Envelope
		_ = json.NewDecoder(req.Body).Decode(&env)
		r.mu.Lock()
		r.headers = append(r.headers, req.Header.Clone())
		r.payloads = append(r.payloads, env)
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestWebhookPublisher_DeliversToEveryURL(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	srvA := httptest.NewServer(a.handler(http.StatusOK))
	defer srvA.Close()
	srvB := httptest.NewServer(b.handler(http.StatusAccepted))
	defer srvB.Close()

	p := notify.NewWebhookPublisher([]string{srvA.URL, srvB.URL}, time.Second)
	p.Notify(context.Background(), testEvent())
	require.NoError(t, p.Close(context.Background()))

	require.Equal(t, 1, a.count())
	require.Equal(t, 1, b.count())

	env := a.payloads[0]
	assert.Equal(t, "evt_123", env.EventID)
	assert.Equal(t, models.EventJobPosted, env.EventType)
	assert.Equal(t, "job_abc", env.JobID)
	assert.Equal(t, "agentbazaar", env.Source)
	assert.Equal(t, "1.50", env.Data["budget"])
	assert.Equal(t, "evt_123", a.headers[0].Get("X-Event-ID"))
	assert.Equal(t, models.EventJobPosted, a.headers[0].Get("X-Event-Type"))
	assert.Equal(t, "application/json", a.headers[0].Get("Content-Type"))
}

func TestWebhookPublisher_FailureDoesNotBlockOrPanic(t *testing.T) {
	failing := &recorder{}
	srv := httptest.NewServer(failing.handler(http.StatusInternalServerError))
	defer srv.Close()

	p := notify.NewWebhookPublisher([]string{srv.URL, "http://127.0.0.1:1"}, 500*time.Millisecond)

	start := time.Now()
	p.Notify(context.Background(), testEvent())
	assert.Less(t, time.Since(start), 100*time.Millisecond, "Notify must return before delivery")

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 1, failing.count())
}

func TestWebhookPublisher_SurvivesCallerCancellation(t *testing.T) {
	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	p := notify.NewWebhookPublisher([]string{srv.URL}, time.Second)
	p.Notify(ctx, testEvent())
	cancel()

	require.NoError(t, p.Close(context.Background()))
	assert.Equal(t, 1, rec.count())
}

func TestWebhookPublisher_CloseHonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	p := notify.NewWebhookPublisher([]string{srv.URL}, 5*time.Second)
	p.Notify(context.Background(), testEvent())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Close(ctx), context.DeadlineExceeded)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.NotifyConfig
		client  *redis.Client
		wantErr bool
	}{
		{name: "none", cfg: config.NotifyConfig{Sink: "none"}},
		{name: "empty defaults to none", cfg: config.NotifyConfig{}},
		{name: "webhook", cfg: config.NotifyConfig{Sink: "webhook", WebhookURLs: []string{"http://example.invalid"}}},
		{name: "redis without client", cfg: config.NotifyConfig{Sink: "redis", RedisChannel: "c"}, wantErr: true},
		{name: "redis", cfg: config.NotifyConfig{Sink: "redis", RedisChannel: "c"}, client: redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})},
		{name: "unknown", cfg: config.NotifyConfig{Sink: "kafka"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := notify.New(tt.cfg, tt.client)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, p)
		})
	}
}

func TestNop(t *testing.T) {
	var p notify.Nop
	p.Notify(context.Background(), testEvent())
	assert.NoError(t, p.Close(context.Background()))
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisPublisher_Publishes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupRedis(t)
	ctx := context.Background()

	sub := client.Subscribe(ctx, "bazaar.events")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	p := notify.NewRedisPublisher(client, "bazaar.events")
	p.Notify(ctx, testEvent())
	require.NoError(t, p.Close(ctx))

	select {
	case msg := <-sub.Channel():
		var env notify.Envelope
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &env))
		assert.Equal(t, "evt_123", env.EventID)
		assert.Equal(t, "job_abc", env.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
