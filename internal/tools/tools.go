// Package tools exposes the Frihet facade as MCP tools.
//
// # Tool Catalogue
//
// Each of the six resources gets list/get/create/update/delete tools, and
// invoices additionally get search_invoices: 31 tools in total.
//
//	┌───────────┬──────────────────────────┬─────────────────────────────┐
//	│ Operation │ Arguments                │ Result text                 │
//	├───────────┼──────────────────────────┼─────────────────────────────┤
//	│ list      │ limit?, offset?          │ "Found N <res> (showing …)" │
//	│ search    │ clientName, limit?, off? │ same as list                │
//	│ get       │ id                       │ "<Label>:\n<json>"          │
//	│ create    │ resource fields          │ "<Label> created:\n<json>"  │
//	│ update    │ id + fields to change    │ "<Label> updated:\n<json>"  │
//	│ delete    │ id                       │ "<Label> <id> deleted …"    │
//	└───────────┴──────────────────────────┴─────────────────────────────┘
//
// # Call Pipeline
//
// Every call goes through the same wrapper: arguments are checked against
// the tool's input schema, the API is taken from the context (HTTP, per
// caller) or the toolset default (stdio), the facade is called, the outcome
// is rendered as text, and a metric plus an audit event are recorded.
// Failures are reported as isError results, never as protocol errors.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/frihet-io/frihet-mcp/internal/audit"
	"github.com/frihet-io/frihet-mcp/internal/frihet"
	"github.com/frihet-io/frihet-mcp/internal/observability"
)

// ToolDef pairs a tool with its handler.
type ToolDef struct {
	Tool    mcp.Tool
	Handler server.ToolHandlerFunc
}

// Toolset holds the compiled tool definitions.
type Toolset struct {
	api      frihet.API
	recorder audit.Recorder
	logger   *slog.Logger
	defs     []ToolDef
}

// Option is a functional option for configuring the Toolset.
type Option func(*Toolset)

// WithRecorder sets the audit recorder. Defaults to audit.Nop.
func WithRecorder(r audit.Recorder) Option {
	return func(ts *Toolset) {
		if r != nil {
			ts.recorder = r
		}
	}
}

// New builds the toolset. api is the default client used when the call
// context carries none; it may be nil when every call is expected to bring
// its own (HTTP transport).
func New(api frihet.API, logger *slog.Logger, opts ...Option) (*Toolset, error) {
	ts := &Toolset{
		api:      api,
		recorder: audit.Nop{},
		logger:   logger.With("component", "mcp-tools"),
	}
	for _, opt := range opts {
		opt(ts)
	}

	for _, entry := range allTools() {
		v, err := compileInputSchema(entry.tool)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", entry.tool.Name, err)
		}
		ts.defs = append(ts.defs, ToolDef{
			Tool:    entry.tool,
			Handler: ts.handler(entry, v),
		})
	}
	return ts, nil
}

// Defs returns the tool definitions in registration order.
func (ts *Toolset) Defs() []ToolDef {
	return ts.defs
}

// Count returns the number of tools.
func (ts *Toolset) Count() int {
	return len(ts.defs)
}

// Register adds every tool to s.
func (ts *Toolset) Register(s *server.MCPServer) {
	for _, def := range ts.defs {
		s.AddTool(def.Tool, def.Handler)
	}
}

func (ts *Toolset) handler(entry toolSpec, v *argValidator) server.ToolHandlerFunc {
	name := entry.tool.Name
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		args := req.GetArguments()
		if args == nil {
			args = map[string]any{}
		}

		ev := audit.Event{
			Tool:      name,
			Resource:  string(entry.resource),
			Operation: entry.operation,
		}
		finish := func(res *mcp.CallToolResult, outcome string, err error) *mcp.CallToolResult {
			elapsed := time.Since(start)
			ev.Outcome = outcome
			ev.DurationMs = elapsed.Milliseconds()
			if apiErr, ok := frihet.AsAPIError(err); ok {
				ev.StatusCode = apiErr.StatusCode
				ev.ErrorCode = apiErr.Code
			}
			observability.Metrics.ToolCallsTotal.WithLabelValues(name, outcome).Inc()
			observability.Metrics.ToolCallDuration.WithLabelValues(name).Observe(elapsed.Seconds())
			ts.recorder.Record(ctx, ev)
			return res
		}

		if err := v.validate(args); err != nil {
			ts.logger.Debug("invalid tool arguments", "tool", name, "error", err)
			return finish(mcp.NewToolResultError(fmt.Sprintf("Error: Invalid arguments for %s: %v", name, err)),
				audit.OutcomeInvalidArguments, nil), nil
		}

		api := APIFromContext(ctx)
		if api == nil {
			api = ts.api
		}
		if api == nil {
			return finish(errorResult(frihet.ErrMissingAPIKey), audit.OutcomeError, frihet.ErrMissingAPIKey), nil
		}

		text, err := entry.run(ctx, api, args, v)
		if err != nil {
			ts.logger.Warn("tool call failed",
				"tool", name,
				"error", err,
				"duration", time.Since(start),
			)
			return finish(errorResult(err), audit.OutcomeError, err), nil
		}

		ts.logger.Debug("tool call succeeded", "tool", name, "duration", time.Since(start))
		ev.StatusCode = 200
		return finish(mcp.NewToolResultText(text), audit.OutcomeSuccess, nil), nil
	}
}
