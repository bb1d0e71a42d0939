package ingress

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireRedisClient(tb testing.TB) redis.UniversalClient {
	tb.Helper()

	addr := os.Getenv("SPIKEFLOW_REDIS_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		tb.Skipf("redis is not available at %s: %v", addr, err)
	}

	tb.Cleanup(func() {
		_ = client.Close()
	})
	return client
}

func testChannel(name string) string {
	return fmt.Sprintf("spikeflow:test:%s:%d", name, time.Now().UnixNano())
}

func TestRedisSource_DeliversAcrossClients(t *testing.T) {
	client := requireRedisClient(t)
	channel := testChannel("deliver")

	em := &fakeEmitter{}
	g := NewGateway(em, Config{})
	sub := NewRedisSource(client, channel)
	pub := NewRedisSource(client, channel)
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx, sub) }()

	// Publish until the subscription is attached; pub/sub does not buffer.
	require.Eventually(t, func() bool {
		_ = pub.Publish(ctx, &Message{Signal: "remote"})
		return em.count() > 0
	}, 3*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("gateway did not stop")
	}
	assert.Equal(t, "remote", em.calls[0].signal)
}

func TestRedisSource_UndecodableMessagesAreDropped(t *testing.T) {
	client := requireRedisClient(t)
	channel := testChannel("garbage")

	m := newRecordingMetrics()
	src := NewRedisSource(client, channel)
	src.SetMetrics(m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(context.Context, string, *Message) error { return nil })
	}()

	require.Eventually(t, func() bool {
		_ = client.Publish(ctx, channel, "not json").Err()
		return m.droppedFor(DropDecode) > 0
	}, 3*time.Second, 50*time.Millisecond)

	require.NoError(t, src.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop after close")
	}
}

func TestRedisSource_ClosedAndHealth(t *testing.T) {
	client := requireRedisClient(t)
	src := NewRedisSource(client, "")
	assert.Equal(t, DefaultRedisChannel, src.Channel())

	assert.True(t, src.Healthy(context.Background()))
	require.NoError(t, src.Close())
	assert.False(t, src.Healthy(context.Background()))
	assert.ErrorIs(t, src.Publish(context.Background(), &Message{Signal: "x"}), ErrClosed)
	assert.ErrorIs(t, src.Run(context.Background(), nil), ErrClosed)
}

func TestRedisSource_PublishValidation(t *testing.T) {
	client := NewRedisClient(RedisConfig{Address: "127.0.0.1:1"})
	defer client.Close()
	src := NewRedisSource(client, "x")
	defer src.Close()
	assert.Error(t, src.Publish(context.Background(), &Message{}))
	assert.Error(t, src.Publish(context.Background(), nil))
}
