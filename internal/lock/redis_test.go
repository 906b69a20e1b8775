package lock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/agentbazaar/internal/lock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

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

func TestRedisLocker_ExclusiveUntilUnlock(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupRedis(t)
	l := lock.NewRedisLocker(client, 5*time.Second)
	ctx := context.Background()

	unlock, err := l.Lock(ctx, lock.JobKey("j1"))
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(tctx, lock.JobKey("j1"))
	assert.True(t, errors.Is(err, lock.ErrNotAcquired))

	unlock()

	again, err := l.Lock(ctx, lock.JobKey("j1"))
	require.NoError(t, err)
	again()
}

func TestRedisLocker_ExpiredLockNotReleasedByOldHolder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupRedis(t)
	ctx := context.Background()

	short := lock.NewRedisLocker(client, 50*time.Millisecond)
	staleUnlock, err := short.Lock(ctx, "job:j2")
	require.NoError(t, err)
	time.Sleep(100 * time.Millisecond)

	l := lock.NewRedisLocker(client, 5*time.Second)
	unlock, err := l.Lock(ctx, "job:j2")
	require.NoError(t, err)
	defer unlock()

	staleUnlock()

	exists, err := client.Exists(ctx, "lock:job:j2").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
