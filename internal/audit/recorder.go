package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frihet-io/frihet-mcp/internal/config"
	"github.com/frihet-io/frihet-mcp/internal/kafka"
	"github.com/frihet-io/frihet-mcp/internal/observability"
	"github.com/frihet-io/frihet-mcp/internal/partition"
)

// maxBatch bounds how many queued events are published in one produce call.
const maxBatch = 64

// Publisher is the subset of kafka.Producer the recorder needs.
type Publisher interface {
	ProduceBatchSync(ctx context.Context, topic string, messages []kafka.Message) error
}

// KafkaRecorder queues events and publishes them from Run.
type KafkaRecorder struct {
	publisher   Publisher
	encoder     Encoder
	partitioner partition.Partitioner
	topic       string
	timeout     time.Duration
	queue       chan Event
	logger      *slog.Logger
}

// NewKafkaRecorder creates a recorder publishing to cfg.Topic. Events are
// only published while Run is running.
func NewKafkaRecorder(publisher Publisher, encoder Encoder, cfg config.AuditConfig, logger *slog.Logger) *KafkaRecorder {
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	timeout := cfg.PublishTimeout.Duration
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &KafkaRecorder{
		publisher:   publisher,
		encoder:     encoder,
		partitioner: partition.New(cfg),
		topic:       cfg.Topic,
		timeout:     timeout,
		queue:       make(chan Event, size),
		logger:      logger.With("component", "audit"),
	}
}

// NewFromConfig builds the Kafka producer, the encoder (Avro when a schema
// registry is configured, JSON otherwise) and the recorder. The returned
// close function releases the producer. Unreachable brokers are logged, not
// fatal: events queue up until Kafka comes back or the queue overflows.
func NewFromConfig(ctx context.Context, cfg config.AuditConfig, logger *slog.Logger) (*KafkaRecorder, func(), error) {
	producer, err := kafka.NewProducer(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("creating audit producer: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PublishTimeout.Duration)
	if err := producer.Ping(pingCtx); err != nil {
		logger.Warn("audit brokers unreachable at startup", "brokers", cfg.Brokers, "error", err)
	}
	cancel()

	var encoder Encoder = JSONEncoder{}
	if cfg.SchemaRegistryURL != "" {
		var regOpts []kafka.RegistryOption
		if cfg.RegistryUsername != "" {
			regOpts = append(regOpts, kafka.WithRegistryCredentials(cfg.RegistryUsername, cfg.RegistryPassword))
		}
		encoder = NewAvroEncoder(kafka.NewHTTPRegistryClient(cfg.SchemaRegistryURL, regOpts...), cfg.Topic)
	}

	return NewKafkaRecorder(producer, encoder, cfg, logger), producer.Close, nil
}

// Record enqueues ev without blocking. When the queue is full the event is
// dropped.
func (r *KafkaRecorder) Record(_ context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	select {
	case r.queue <- ev:
	default:
		observability.Metrics.AuditEventsTotal.WithLabelValues("dropped").Inc()
		r.logger.Warn("audit queue full, dropping event", "tool", ev.Tool, "id", ev.ID)
	}
}

// Run publishes queued events until ctx is cancelled, then flushes what is
// left in the queue under a fresh publish timeout.
func (r *KafkaRecorder) Run(ctx context.Context) error {
	r.logger.Info("audit recorder started", "topic", r.topic, "encoding", r.encoder.ContentType())
	for {
		select {
		case <-ctx.Done():
			r.flush(context.WithoutCancel(ctx))
			r.logger.Info("audit recorder stopped")
			return nil
		case ev := <-r.queue:
			// Publishing is bounded by the publish timeout, not by shutdown.
			r.publish(context.WithoutCancel(ctx), r.collect(ev))
		}
	}
}

// collect gathers first plus whatever is already queued, up to maxBatch.
func (r *KafkaRecorder) collect(first Event) []Event {
	batch := []Event{first}
	for len(batch) < maxBatch {
		select {
		case ev := <-r.queue:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

func (r *KafkaRecorder) flush(ctx context.Context) {
	for {
		select {
		case ev := <-r.queue:
			r.publish(ctx, r.collect(ev))
		default:
			return
		}
	}
}

func (r *KafkaRecorder) publish(ctx context.Context, batch []Event) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	messages := make([]kafka.Message, 0, len(batch))
	for _, ev := range batch {
		value, err := r.encoder.Encode(ctx, ev)
		if err != nil {
			observability.Metrics.AuditEventsTotal.WithLabelValues("failed").Inc()
			r.logger.Warn("encoding audit event failed", "tool", ev.Tool, "id", ev.ID, "error", err)
			continue
		}
		messages = append(messages, kafka.Message{
			Key:   r.partitioner.Key(ev.Fields()),
			Value: value,
			Headers: map[string]string{
				"tool":         ev.Tool,
				"content-type": r.encoder.ContentType(),
			},
		})
	}
	if len(messages) == 0 {
		return
	}

	if err := r.publisher.ProduceBatchSync(ctx, r.topic, messages); err != nil {
		observability.Metrics.AuditEventsTotal.WithLabelValues("failed").Add(float64(len(messages)))
		r.logger.Warn("publishing audit events failed", "count", len(messages), "error", err)
		return
	}
	observability.Metrics.AuditEventsTotal.WithLabelValues("published").Add(float64(len(messages)))
}
