package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/nerrad567/gray-logic-tuya/internal/infrastructure/config"
)

// defaultDialTimeout bounds the broker reachability check.
const defaultDialTimeout = 5 * time.Second

// messageWriter is the subset of *kafkago.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Producer publishes JSON events keyed by device.
//
// Thread Safety: all methods are safe for concurrent use.
type Producer struct {
	writer  messageWriter
	brokers []string
	topic   string

	mu      sync.RWMutex
	closed  bool
	onError func(err error)
}

// NewProducer builds a producer for cfg.Brokers / cfg.Topic.
//
// No connection is made here; kafka-go dials lazily on the first write.
// Use HealthCheck to verify the brokers are reachable.
func NewProducer(cfg config.KafkaConfig, batchTimeout time.Duration) (*Producer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	p := &Producer{
		brokers: cfg.Brokers,
		topic:   cfg.Topic,
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	p.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		BatchSize:    batchSize,
		BatchTimeout: batchTimeout,
		RequiredAcks: kafkago.RequireAll,
		Async:        cfg.Async,
		Completion:   p.completion,
	}

	return p, nil
}

// completion receives batch results from the writer. Only async mode relies
// on it; synchronous writes return their error directly.
func (p *Producer) completion(_ []kafkago.Message, err error) {
	if err == nil {
		return
	}
	p.mu.RLock()
	callback := p.onError
	p.mu.RUnlock()
	if callback != nil {
		callback(fmt.Errorf("%w: %w", ErrPublishFailed, err))
	}
}

// SetOnError sets the callback for write failures reported after the fact.
func (p *Producer) SetOnError(callback func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = callback
}

// Topic returns the topic events are written to.
func (p *Producer) Topic() string {
	return p.topic
}

// Publish JSON-encodes v and writes it under key.
func (p *Producer) Publish(ctx context.Context, key string, v any) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}

	msg := kafkago.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// HealthCheck dials the first reachable broker.
func (p *Producer) HealthCheck(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()

	var lastErr error
	for _, broker := range p.brokers {
		conn, err := kafkago.DialContext(dialCtx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close() //nolint:errcheck // connectivity check only
		return nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no brokers configured")
	}
	return fmt.Errorf("kafka health check failed: %w", lastErr)
}

// Close flushes pending messages and closes the writer. Safe to call twice.
func (p *Producer) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("closing kafka writer: %w", err)
	}
	return nil
}
