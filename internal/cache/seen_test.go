package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestMemoryMarkSeenOnce(t *testing.T) {
	m := NewMemory(time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	first, err := m.MarkSeen(context.Background(), "mint")
	require.NoError(t, err)
	assert.True(t, first)

	again, _ := m.MarkSeen(context.Background(), "mint")
	assert.False(t, again)

	now = now.Add(2 * time.Minute)
	expired, _ := m.MarkSeen(context.Background(), "mint")
	assert.True(t, expired, "entry is forgotten after ttl")
}

func TestMemoryConcurrentSingleWinner(t *testing.T) {
	m := NewMemory(time.Hour)
	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.MarkSeen(context.Background(), "mint"); ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), winners.Load())
}

func TestMemoryEvictsExpired(t *testing.T) {
	m := NewMemory(time.Second)
	now := time.Now()
	m.now = func() time.Time { return now }
	for i := 0; i < 1100; i++ {
		_, _ = m.MarkSeen(context.Background(), fmt.Sprintf("m%d", i))
	}
	now = now.Add(time.Hour)
	_, _ = m.MarkSeen(context.Background(), "fresh")
	assert.Equal(t, 1, m.Len())
}

func TestRedisMarkSeen(t *testing.T) {
	if testing.Short() {
		t.Skip("redis container test skipped in -short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	addr, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	r, err := NewRedis(ctx, RedisConfig{Addr: addr, TTL: time.Minute})
	require.NoError(t, err)
	defer r.Close()

	first, err := r.MarkSeen(ctx, "mint")
	require.NoError(t, err)
	assert.True(t, first)

	again, err := r.MarkSeen(ctx, "mint")
	require.NoError(t, err)
	assert.False(t, again)
}
