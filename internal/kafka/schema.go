package kafka

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/hamba/avro/v2"
)

// Confluent wire format: magic byte 0, big-endian uint32 schema ID, Avro body.
const (
	wireMagic     byte = 0
	wireHeaderLen      = 5
)

// ErrNotWireFormat is returned by SplitWireFormat for foreign payloads.
var ErrNotWireFormat = errors.New("payload is not in Confluent wire format")

type schemaKey struct {
	subject     string
	fingerprint [32]byte
}

// AvroSerializer encodes values as Avro in the Confluent wire format.
// Registry lookups are cached per subject and schema fingerprint, so a
// changed schema is registered again.
type AvroSerializer struct {
	registry SchemaRegistryClient

	mu  sync.RWMutex
	ids map[schemaKey]int
}

func NewAvroSerializer(registry SchemaRegistryClient) *AvroSerializer {
	return &AvroSerializer{
		registry: registry,
		ids:      make(map[schemaKey]int),
	}
}

// Serialize encodes value with schema and prefixes the registry ID.
func (s *AvroSerializer) Serialize(ctx context.Context, subject string, schema avro.Schema, value any) ([]byte, error) {
	schemaID, err := s.schemaID(ctx, subject, schema)
	if err != nil {
		return nil, err
	}

	data, err := avro.Marshal(schema, value)
	if err != nil {
		return nil, fmt.Errorf("marshaling avro for %s: %w", subject, err)
	}

	out := make([]byte, wireHeaderLen, wireHeaderLen+len(data))
	out[0] = wireMagic
	binary.BigEndian.PutUint32(out[1:wireHeaderLen], uint32(schemaID))
	return append(out, data...), nil
}

// SplitWireFormat returns the schema ID and Avro body of a wire-format
// payload.
func SplitWireFormat(payload []byte) (int, []byte, error) {
	if len(payload) < wireHeaderLen || payload[0] != wireMagic {
		return 0, nil, ErrNotWireFormat
	}
	return int(binary.BigEndian.Uint32(payload[1:wireHeaderLen])), payload[wireHeaderLen:], nil
}

func (s *AvroSerializer) schemaID(ctx context.Context, subject string, schema avro.Schema) (int, error) {
	key := schemaKey{subject: subject, fingerprint: schema.Fingerprint()}

	s.mu.RLock()
	id, ok := s.ids[key]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}

	id, err := s.registry.GetSchemaID(ctx, subject, schema)
	if err != nil {
		return 0, fmt.Errorf("getting schema ID for subject %s: %w", subject, err)
	}

	s.mu.Lock()
	s.ids[key] = id
	s.mu.Unlock()
	return id, nil
}
