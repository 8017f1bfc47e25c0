// Package audit records every MCP tool call as an event on a Kafka topic.
//
// # Pipeline
//
//	tool handler ──Record──▶ bounded queue ──Run──▶ Encoder ──▶ kafka.Producer
//	                              │                   (Avro or JSON)
//	                              └─ full: event dropped and counted
//
// Record never blocks the tool call and never fails it: publication errors
// are logged and counted in frihet_audit_events_total. With auditing
// disabled the server uses [Nop].
package audit

import (
	"context"
	"time"

	"github.com/hamba/avro/v2"

	"github.com/frihet-io/frihet-mcp/internal/partition"
)

// Outcome values of a tool call.
const (
	OutcomeSuccess          = "success"
	OutcomeError            = "error"
	OutcomeInvalidArguments = "invalid_arguments"
)

// Event describes one completed tool call. It never carries arguments or
// results, only what was called and how it ended.
type Event struct {
	ID         string    `avro:"id" json:"id"`
	Timestamp  time.Time `avro:"timestamp" json:"timestamp"`
	Tool       string    `avro:"tool" json:"tool"`
	Resource   string    `avro:"resource" json:"resource"`
	Operation  string    `avro:"operation" json:"operation"`
	Outcome    string    `avro:"outcome" json:"outcome"`
	StatusCode int       `avro:"status_code" json:"status_code"`
	ErrorCode  string    `avro:"error_code" json:"error_code,omitempty"`
	DurationMs int64     `avro:"duration_ms" json:"duration_ms"`
}

// Fields returns the event as a flat record for partitioning.
func (e Event) Fields() partition.Record {
	return partition.Record{
		"id":         e.ID,
		"tool":       e.Tool,
		"resource":   e.Resource,
		"operation":  e.Operation,
		"outcome":    e.Outcome,
		"error_code": e.ErrorCode,
	}
}

// Recorder accepts tool-call events. Implementations must not block the
// caller for long and must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, ev Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}

// ToolCallSchema is the Avro schema of Event.
var ToolCallSchema = avro.MustParse(`{
	"type": "record",
	"name": "ToolCallEvent",
	"namespace": "io.frihet.mcp",
	"fields": [
		{"name": "id", "type": "string"},
		{"name": "timestamp", "type": {"type": "long", "logicalType": "timestamp-millis"}},
		{"name": "tool", "type": "string"},
		{"name": "resource", "type": "string"},
		{"name": "operation", "type": "string"},
		{"name": "outcome", "type": "string"},
		{"name": "status_code", "type": "int"},
		{"name": "error_code", "type": "string", "default": ""},
		{"name": "duration_ms", "type": "long"}
	]
}`)
