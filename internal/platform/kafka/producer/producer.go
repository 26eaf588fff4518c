// Package producer publishes records to Kafka through franz-go.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"gatekeeper/internal/platform/kafka"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("producer is closed")

// Message is a record to publish.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Producer wraps a franz-go client.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
	mu     sync.RWMutex
	closed bool
}

// New creates a producer. The client connects lazily on first produce.
func New(cfg kafka.ProducerConfig, logger *slog.Logger) (*Producer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka brokers not configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := kgo.NewClient(clientOpts(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

func clientOpts(cfg kafka.ProducerConfig) []kgo.Opt {
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(acks(cfg.Acks)),
		kgo.RecordRetries(cfg.Retries),
		kgo.ProducerLinger(5 * time.Millisecond),
		kgo.AllowAutoTopicCreation(),
	}
	if cfg.Acks != "all" && cfg.Acks != "" {
		// idempotent writes require acks=all
		opts = append(opts, kgo.DisableIdempotentWrite())
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	if cfg.DeliveryTimeout > 0 {
		opts = append(opts, kgo.RecordDeliveryTimeout(cfg.DeliveryTimeout))
	}
	if cfg.Topic != "" {
		opts = append(opts, kgo.DefaultProduceTopic(cfg.Topic))
	}
	return opts
}

func acks(v string) kgo.Acks {
	switch v {
	case "0":
		return kgo.NoAck()
	case "1":
		return kgo.LeaderAck()
	default:
		return kgo.AllISRAcks()
	}
}

func record(msg *Message) *kgo.Record {
	r := &kgo.Record{Topic: msg.Topic, Key: msg.Key, Value: msg.Value}
	for k, v := range msg.Headers {
		r.Headers = append(r.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	return r
}

func (p *Producer) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Produce sends a message and waits for the broker acknowledgement.
func (p *Producer) Produce(ctx context.Context, msg *Message) error {
	if p.isClosed() {
		return ErrClosed
	}
	if err := p.client.ProduceSync(ctx, record(msg)).FirstErr(); err != nil {
		return fmt.Errorf("produce message: %w", err)
	}
	return nil
}

// ProduceAsync buffers a message; delivery failures are logged.
func (p *Producer) ProduceAsync(ctx context.Context, msg *Message) error {
	if p.isClosed() {
		return ErrClosed
	}
	// the request context ends before delivery completes
	p.client.Produce(context.WithoutCancel(ctx), record(msg), func(r *kgo.Record, err error) {
		if err != nil {
			p.logger.Error("kafka delivery failed",
				"topic", r.Topic,
				"partition", r.Partition,
				"error", err,
			)
		}
	})
	return nil
}

// Ping checks broker connectivity.
func (p *Producer) Ping(ctx context.Context) error {
	if p.isClosed() {
		return ErrClosed
	}
	return p.client.Ping(ctx)
}

// Close flushes buffered records until ctx expires and shuts the client down.
func (p *Producer) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	err := p.client.Flush(ctx)
	if err != nil {
		p.logger.Warn("kafka producer closed with unflushed messages",
			"buffered", p.client.BufferedProduceRecords(),
			"error", err,
		)
	}
	p.client.Close()
	return err
}

// Noop discards every message. Used when Kafka is not configured.
type Noop struct{}

func (Noop) Produce(context.Context, *Message) error      { return nil }
func (Noop) ProduceAsync(context.Context, *Message) error { return nil }
func (Noop) Ping(context.Context) error                   { return nil }
func (Noop) Close(context.Context) error                  { return nil }
