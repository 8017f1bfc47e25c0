// Package kafka provides a thin wrapper around the franz-go Kafka client
// library, adapted to publishing the tool-call audit trail.
//
// # Architecture
//
// The server only produces. Every MCP tool call becomes one audit record
// published to a single topic; the [Producer] is synchronous, so a call to
// ProduceBatchSync returns once the brokers acknowledged the
// records (acks=all). Batching happens one level up, in the audit
// recorder, which hands over up to 64 events per call.
//
// # Thread Safety
//
// The Producer is safe for concurrent use. The underlying franz-go client
// handles connection pooling and request serialization internally.
package kafka

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/frihet-io/frihet-mcp/internal/config"
)

const clientID = "frihet-mcp"

// Producer wraps a franz-go client for producing messages to Kafka.
//
// The producer waits for all in-sync replicas (acks=all) before a record
// counts as delivered.
type Producer struct {
	client *kgo.Client
	logger *slog.Logger
}

// NewProducer creates a Kafka producer from the audit configuration.
// The producer is ready to use immediately after construction; brokers are
// contacted lazily.
func NewProducer(cfg config.AuditConfig, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(clientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()), // -1: wait for all in-sync replicas
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.RecordRetries(5),
		kgo.RetryTimeout(30 * time.Second),
		kgo.ProducerLinger(50 * time.Millisecond),
		kgo.ProducerBatchMaxBytes(1 << 20), // 1 MiB
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating Kafka producer client: %w", err)
	}

	return &Producer{
		client: client,
		logger: logger.With("component", "kafka-producer"),
	}, nil
}

// Ping checks that at least one broker is reachable. Used at startup to
// surface a misconfigured broker list early.
func (p *Producer) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("pinging Kafka brokers: %w", err)
	}
	return nil
}

// ProduceBatchSync sends multiple records to the topic and waits for broker
// acknowledgement of all of them. If any record fails, the first error is
// returned.
func (p *Producer) ProduceBatchSync(ctx context.Context, topic string, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	records := make([]*kgo.Record, len(messages))
	for i, msg := range messages {
		records[i] = msg.record(topic)
	}

	results := p.client.ProduceSync(ctx, records...)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("producing %d record(s) to %s: %w", len(messages), topic, err)
	}

	p.logger.Debug("batch produced",
		"topic", topic,
		"count", len(messages),
		"partition", results[0].Record.Partition,
		"offset", results[0].Record.Offset,
	)
	return nil
}

// Close flushes any pending messages and closes the Kafka connection.
func (p *Producer) Close() {
	p.client.Close()
}

// Message represents a single message to be produced to Kafka.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

func (m Message) record(topic string) *kgo.Record {
	rec := &kgo.Record{
		Topic: topic,
		Key:   m.Key,
		Value: m.Value,
	}
	for k, v := range m.Headers {
		rec.Headers = append(rec.Headers, kgo.RecordHeader{
			Key:   k,
			Value: []byte(v),
		})
	}
	return rec
}
