package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSignalBusStream(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	bus := newSignalBus(rdb)

	msgs, err := bus.StreamRead(ctx, "venues", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "venues", []byte(p)))
	}

	msgs, err = bus.StreamRead(ctx, "venues", "0", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("a"), msgs[0].Payload)
	assert.Equal(t, []byte("b"), msgs[1].Payload)

	msgs, err = bus.StreamRead(ctx, "venues", msgs[1].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("c"), msgs[0].Payload)
}

func TestSignalBusStreamIgnoresForeignEntries(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	bus := newSignalBus(rdb)

	require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: "venues", Values: map[string]any{"other": "x"}}).Err())
	require.NoError(t, bus.StreamAppend(ctx, "venues", []byte("ok")))

	msgs, err := bus.StreamRead(ctx, "venues", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("ok"), msgs[0].Payload)
}

func TestSignalBusPubSub(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, rdb := newTestRedis(t)
	bus := newSignalBus(rdb)

	ch, err := bus.Subscribe(ctx, "opportunities")
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, "opportunities", []byte(`{"id":"1"}`)))

	select {
	case got := <-ch:
		assert.JSONEq(t, `{"id":"1"}`, string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("opportunities.*"))
	assert.False(t, hasPattern("opportunities"))
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	_, rdb := newTestRedis(t)
	rl := newRateLimiter(rdb)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	for i, want := range []bool{true, true, false} {
		ok, err := rl.Allow(ctx, "publish", 2, time.Second)
		require.NoError(t, err)
		assert.Equal(t, want, ok, "request %d", i)
	}

	now = now.Add(2 * time.Second)
	ok, err := rl.Allow(ctx, "publish", 2, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rl.Allow(ctx, "unlimited", 0, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLockManager(t *testing.T) {
	ctx := context.Background()
	mr, rdb := newTestRedis(t)
	lm := newLockManager(rdb)

	l, err := lm.Acquire(ctx, "engine", 10*time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "engine", 10*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	require.NoError(t, l.Extend(ctx, 10*time.Second))
	l.Release()
	l.Release()

	l2, err := lm.Acquire(ctx, "engine", time.Second)
	require.NoError(t, err)
	mr.FastForward(2 * time.Second)
	assert.ErrorIs(t, l2.Extend(ctx, time.Second), domain.ErrLockHeld)
}
