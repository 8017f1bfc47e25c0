package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/frihet-io/frihet-mcp/internal/kafka"
)

// Encoder turns an Event into a Kafka message value.
type Encoder interface {
	Encode(ctx context.Context, ev Event) ([]byte, error)
	ContentType() string
}

// JSONEncoder encodes events as plain JSON. Used when no schema registry is
// configured.
type JSONEncoder struct{}

func (JSONEncoder) Encode(_ context.Context, ev Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshaling audit event: %w", err)
	}
	return data, nil
}

func (JSONEncoder) ContentType() string { return "application/json" }

// AvroEncoder encodes events with ToolCallSchema in the Confluent wire
// format, registering the schema under "<topic>-value".
type AvroEncoder struct {
	serializer *kafka.AvroSerializer
	subject    string
}

func NewAvroEncoder(registry kafka.SchemaRegistryClient, topic string) *AvroEncoder {
	return &AvroEncoder{
		serializer: kafka.NewAvroSerializer(registry),
		subject:    topic + "-value",
	}
}

func (e *AvroEncoder) Encode(ctx context.Context, ev Event) ([]byte, error) {
	return e.serializer.Serialize(ctx, e.subject, ToolCallSchema, ev)
}

func (e *AvroEncoder) ContentType() string { return "application/vnd.confluent.avro" }
