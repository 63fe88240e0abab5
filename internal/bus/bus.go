// Package bus wraps the Kafka clients used by the pipeline and the HTTP
// API: a shared producer with a partition-pinning balancer, group readers
// with manual offset commits, and ephemeral tail readers for the streaming
// endpoints.
package bus

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// PartitionHeader carries the ingress partition index on egress messages so
// the balancer can pin them to the same partition and preserve per-portfolio
// ordering across topics.
const PartitionHeader = "ingress-partition"

// Config holds bus connection and tuning settings.
type Config struct {
	Brokers      []string
	IngressTopic string
	EgressTopic  string
	GroupID      string

	BatchSize   int           // producer batch size, default 1000
	Linger      time.Duration // producer linger, default 10ms
	PollTimeout time.Duration // consumer max wait, default 100ms
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.Linger <= 0 {
		c.Linger = 10 * time.Millisecond
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 100 * time.Millisecond
	}
	return c
}

// PinnedBalancer routes a message to the partition named in its
// PartitionHeader; messages without the header (API-produced ingress
// messages) fall back to key hashing.
type PinnedBalancer struct {
	Fallback kafka.Balancer
}

// Balance implements kafka.Balancer.
func (b *PinnedBalancer) Balance(msg kafka.Message, partitions ...int) int {
	for _, h := range msg.Headers {
		if h.Key != PartitionHeader {
			continue
		}
		p, err := strconv.Atoi(string(h.Value))
		if err != nil {
			break
		}
		for _, candidate := range partitions {
			if candidate == p {
				return p
			}
		}
		break
	}
	fallback := b.Fallback
	if fallback == nil {
		fallback = &kafka.Hash{}
	}
	return fallback.Balance(msg, partitions...)
}

// Producer is a thread-safe Kafka writer shared across workers and the API.
// WriteMessages blocks until the broker acknowledges, which is the
// backpressure behavior the pipeline relies on: a full queue blocks the
// worker, it never drops.
type Producer struct {
	writer  *kafka.Writer
	brokers []string
	lastErr atomic.Value // error or nil sentinel
}

// NewProducer creates the shared producer.
func NewProducer(cfg Config) *Producer {
	cfg = cfg.withDefaults()
	p := &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &PinnedBalancer{Fallback: &kafka.Hash{}},
			BatchSize:    cfg.BatchSize,
			BatchTimeout: cfg.Linger,
			RequiredAcks: kafka.RequireAll,
		},
		brokers: cfg.Brokers,
	}
	p.lastErr.Store(errSentinel{})
	return p
}

type errSentinel struct{ err error }

// Produce publishes one message. partition >= 0 pins the output to that
// partition index; partition < 0 lets the key hash decide.
func (p *Producer) Produce(ctx context.Context, topic, key string, value []byte, partition int) error {
	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	}
	if partition >= 0 {
		msg.Headers = append(msg.Headers, kafka.Header{
			Key:   PartitionHeader,
			Value: []byte(strconv.Itoa(partition)),
		})
	}
	err := p.writer.WriteMessages(ctx, msg)
	p.lastErr.Store(errSentinel{err: err})
	if err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	return nil
}

// Healthy reports whether the last produce succeeded (or none happened yet).
func (p *Producer) Healthy() bool {
	s, _ := p.lastErr.Load().(errSentinel)
	return s.err == nil
}

// Ping dials the first broker to verify reachability.
func (p *Producer) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.brokers[0])
	if err != nil {
		return fmt.Errorf("ping broker %s: %w", p.brokers[0], err)
	}
	return conn.Close()
}

// Close flushes buffered messages and releases connections.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// NewGroupReader creates one ingress reader for a pipeline worker. All
// workers share the consumer group; Kafka assigns each a partition subset.
// CommitInterval zero means commits are synchronous and only happen when the
// worker calls CommitMessages, giving at-least-once delivery.
func NewGroupReader(cfg Config) *kafka.Reader {
	cfg = cfg.withDefaults()
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.IngressTopic,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        cfg.PollTimeout,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
}

// NewTailReader creates an ephemeral egress consumer for one streaming
// connection: unique group id, latest offset, closed with the connection.
func NewTailReader(cfg Config) *kafka.Reader {
	cfg = cfg.withDefaults()
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     "risk-api-stream-" + uuid.NewString(),
		Topic:       cfg.EgressTopic,
		MinBytes:    1,
		MaxBytes:    10 << 20,
		MaxWait:     cfg.PollTimeout,
		StartOffset: kafka.LastOffset,
	})
}
