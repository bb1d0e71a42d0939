package ingress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisChannel is the pub/sub channel spikes are published on.
const DefaultRedisChannel = "spikeflow:spikes"

// RedisSource receives spikes published on a Redis pub/sub channel.
type RedisSource struct {
	client  redis.UniversalClient
	channel string

	mu      sync.Mutex
	closed  bool
	cancel  context.CancelFunc
	metrics MetricsRecorder
}

// RedisConfig configures NewRedisClient.
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient builds a client for cfg. Connections are made lazily.
func NewRedisClient(cfg RedisConfig) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// NewRedisSource creates a source on channel.
func NewRedisSource(client redis.UniversalClient, channel string) *RedisSource {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisSource{
		client:  client,
		channel: channel,
		metrics: nopMetrics{},
	}
}

// SetMetrics sets the recorder used for undecodable messages.
func (s *RedisSource) SetMetrics(m MetricsRecorder) {
	if m == nil {
		return
	}
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// Name implements Source.
func (s *RedisSource) Name() string { return "redis" }

// Channel returns the pub/sub channel name.
func (s *RedisSource) Channel() string { return s.channel }

// Publish sends msg to the channel. Any process sharing the Redis server can
// use it to inject spikes.
func (s *RedisSource) Publish(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.client.Publish(ctx, s.channel, data).Err()
}

// Run subscribes and forwards messages until ctx ends or Close is called.
func (s *RedisSource) Run(ctx context.Context, deliver DeliverFunc) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	metrics := s.metrics
	s.mu.Unlock()
	defer cancel()

	pubsub := s.client.Subscribe(runCtx, s.channel)
	defer func() {
		_ = pubsub.Close()
	}()
	// Wait for the subscription confirmation so that an unreachable server
	// fails Run instead of silently delivering nothing.
	if _, err := pubsub.Receive(runCtx); err != nil {
		if runCtx.Err() != nil {
			return runCtx.Err()
		}
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}

	redisCh := pubsub.Channel()
	for {
		select {
		case <-runCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrClosed
		case m, ok := <-redisCh:
			if !ok {
				return ErrClosed
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				metrics.RecordIngressReceived(s.Name())
				metrics.RecordIngressDropped(s.Name(), DropDecode)
				continue
			}
			if err := deliver(runCtx, s.Name(), &msg); err != nil {
				return err
			}
		}
	}
}

// Healthy pings the server.
func (s *RedisSource) Healthy(ctx context.Context) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	return s.client.Ping(ctx).Err() == nil
}

// Close stops Run. The client is owned by the caller.
func (s *RedisSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
