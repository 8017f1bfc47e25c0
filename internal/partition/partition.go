// Package partition provides pluggable message keying strategies for
// distributing audit records across Kafka topic partitions.
//
// # Why Does Partitioning Matter?
//
// The key of an audit record decides which partition it lands on, and with
// it:
//
//   - Ordering: records with the same key arrive in order at the consumer,
//     so keying by resource keeps the history of one ERP collection ordered.
//   - Parallelism: records spread across partitions can be consumed in parallel.
//
// # Available Strategies
//
//   - [FieldPartitioner]: uses a single field (resource or tool) as the key.
//   - [RoundRobinPartitioner]: returns a nil key, causing franz-go to spread
//     records across partitions. Best throughput, no ordering.
//   - [FieldBasedPartitioner]: hashes several field values into a fixed-length
//     key, co-locating records that share all of them.
//
// # Usage
//
//	p := partition.New(cfg.Audit)
//	key := p.Key(event.Fields())
package partition

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/frihet-io/frihet-mcp/internal/config"
)

// Record is the flat field view of a message that a Partitioner keys on.
type Record map[string]any

// Partitioner determines the Kafka message key for a record.
type Partitioner interface {
	// Key returns the message key, or nil for round-robin partitioning.
	Key(record Record) []byte
}

// New creates a Partitioner from the audit configuration:
//   - "resource": keys by the ERP collection the tool touched.
//   - "tool": keys by tool name.
//   - "round_robin": nil key for even distribution.
//   - "field_based": hashes the configured partition_key_fields.
func New(cfg config.AuditConfig) Partitioner {
	switch cfg.Partitioner {
	case "round_robin":
		return &RoundRobinPartitioner{}
	case "field_based":
		return &FieldBasedPartitioner{Fields: cfg.PartitionFields}
	case "tool":
		return &FieldPartitioner{Field: "tool"}
	default: // "resource"
		return &FieldPartitioner{Field: "resource"}
	}
}

// ----- Field Partitioner -----

// FieldPartitioner uses the value of one field as the partition key.
// Records without the field, or with an empty value, get a nil key.
type FieldPartitioner struct {
	Field string
}

// Key returns the field value as the partition key.
func (f *FieldPartitioner) Key(record Record) []byte {
	val, ok := record[f.Field]
	if !ok || val == nil {
		return nil
	}
	s := fmt.Sprintf("%v", val)
	if s == "" {
		return nil
	}
	return []byte(s)
}

// ----- Round Robin Partitioner -----

// RoundRobinPartitioner returns a nil key, causing the Kafka client to
// distribute messages evenly across all partitions.
type RoundRobinPartitioner struct{}

// Key always returns nil for round-robin distribution.
func (r *RoundRobinPartitioner) Key(_ Record) []byte {
	return nil
}

// ----- Field-Based Partitioner -----

// FieldBasedPartitioner hashes one or more field values to produce a
// deterministic partition key.
//
// The values are joined in sorted field-name order with a null byte
// separator and SHA-256 hashed, so the key is always 64 hex characters.
//
//	Fields = ["resource", "operation"]
//	resource = "invoices", operation = "delete"
//	key = hex(SHA-256("delete\x00invoices"))
type FieldBasedPartitioner struct {
	Fields []string
}

// Key returns the hex SHA-256 of the field values. Missing fields count as
// empty strings.
func (f *FieldBasedPartitioner) Key(record Record) []byte {
	if len(f.Fields) == 0 {
		return nil
	}

	sorted := make([]string, len(f.Fields))
	copy(sorted, f.Fields)
	sort.Strings(sorted)

	parts := make([]string, 0, len(sorted))
	for _, field := range sorted {
		if val, ok := record[field]; ok && val != nil {
			parts = append(parts, fmt.Sprintf("%v", val))
		} else {
			parts = append(parts, "")
		}
	}

	composite := strings.Join(parts, "\x00")
	hash := sha256.Sum256([]byte(composite))
	return []byte(hex.EncodeToString(hash[:]))
}
