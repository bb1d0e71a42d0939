package ingress

import (
	"context"
	"sync"
)

// LocalSource is an in-process source backed by a buffered channel.
type LocalSource struct {
	name string
	ch   chan *Message

	mu      sync.RWMutex
	closed  bool
	metrics MetricsRecorder
}

// NewLocalSource creates a local source. A full buffer drops the oldest
// message.
func NewLocalSource(name string, bufferSize int) *LocalSource {
	if name == "" {
		name = "local"
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &LocalSource{
		name:    name,
		ch:      make(chan *Message, bufferSize),
		metrics: nopMetrics{},
	}
}

// SetMetrics sets the recorder used for buffer overflow drops.
func (s *LocalSource) SetMetrics(m MetricsRecorder) {
	if m == nil {
		return
	}
	s.mu.Lock()
	s.metrics = m
	s.mu.Unlock()
}

// Name implements Source.
func (s *LocalSource) Name() string { return s.name }

// Publish queues msg without blocking.
func (s *LocalSource) Publish(_ context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	select {
	case s.ch <- msg:
		return nil
	default:
	}
	s.metrics.RecordIngressDropped(s.name, DropBufferFull)
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- msg:
	default:
		s.metrics.RecordIngressDropped(s.name, DropBufferFull)
	}
	return nil
}

// Run implements Source.
func (s *LocalSource) Run(ctx context.Context, deliver DeliverFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.ch:
			if !ok {
				return ErrClosed
			}
			if err := deliver(ctx, s.name, msg); err != nil {
				return err
			}
		}
	}
}

// Close implements Source.
func (s *LocalSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}
