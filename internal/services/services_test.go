package services

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryHealthCheckAll(t *testing.T) {
	r := NewRegistry()
	down := errors.New("down")

	r.Register(NewProbeFunc("postgres", func(ctx context.Context) error { return nil }))
	r.Register(NewProbeFunc("redis", func(ctx context.Context) error { return down }))

	assert.Equal(t, []string{"postgres", "redis"}, r.List())
	assert.NotNil(t, r.Get("redis"))

	results := r.HealthCheckAll(context.Background())
	assert.NoError(t, results["postgres"])
	assert.ErrorIs(t, results["redis"], down)

	r.Unregister("redis")
	assert.Nil(t, r.Get("redis"))
	assert.Len(t, r.HealthCheckAll(context.Background()), 1)
}

func TestRegistryCheck(t *testing.T) {
	ok := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("down") }

	r := NewRegistry()
	r.Register(NewProbeFunc("postgres", ok))
	r.RegisterOptional(NewProbeFunc("definitions", ok))

	report := r.Check(context.Background())
	assert.Equal(t, StatusReady, report.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "definitions": "ok"}, report.Checks)

	r.RegisterOptional(NewProbeFunc("definitions", down))
	report = r.Check(context.Background())
	assert.Equal(t, StatusDegraded, report.Status)
	assert.True(t, report.Ready())
	assert.Equal(t, "down", report.Checks["definitions"])

	r.Register(NewProbeFunc("postgres", down))
	report = r.Check(context.Background())
	assert.Equal(t, StatusNotReady, report.Status)
	assert.False(t, report.Ready())
}

func TestRegistryProbeTimeout(t *testing.T) {
	r := NewRegistry()
	r.timeout = 20 * time.Millisecond
	r.Register(NewProbeFunc("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	results := r.HealthCheckAll(context.Background())
	assert.ErrorIs(t, results["stuck"], context.DeadlineExceeded)
}

func TestLocalLockerSerializes(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "s1")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, l.held())
}

func TestLocalLockerTimeout(t *testing.T) {
	l := NewLocalLocker()

	unlock, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "s1")
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	// other keys are independent
	other, err := l.Lock(context.Background(), "s2")
	require.NoError(t, err)
	other()

	unlock()
	unlock()
	assert.Equal(t, 0, l.held())

	again, err := l.Lock(context.Background(), "s1")
	require.NoError(t, err)
	again()
}

func TestSessionLockKey(t *testing.T) {
	assert.Equal(t, "assessment:session:abc:lock", SessionLockKey("abc"))
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDRESS not set, skipping")
	}

	ctx := context.Background()
	client, err := NewRedisClient(ctx, RedisConfig{Address: addr})
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, NewRedisProbe(client).HealthCheck(ctx))

	l := NewRedisLocker(client, time.Second)
	key := SessionLockKey(uuid.New().String())

	unlock, err := l.Lock(ctx, key)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, key)
	assert.ErrorIs(t, err, ErrLockNotAcquired)

	unlock()

	again, err := l.Lock(ctx, key)
	require.NoError(t, err)
	again()

	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}
