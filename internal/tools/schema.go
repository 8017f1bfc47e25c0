package tools

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/frihet-io/frihet-mcp/internal/frihet"
)

const schemaBaseURL = "https://frihet.io/schemas/tools/"

// argValidator checks call arguments against a tool's declared input schema
// and extracts the declared fields into a record.
type argValidator struct {
	schema     *jsonschema.Schema
	properties map[string]struct{}
}

// compileInputSchema compiles the input schema of tool once, at
// registration.
func compileInputSchema(tool mcp.Tool) (*argValidator, error) {
	raw, err := json.Marshal(tool.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	url := schemaBaseURL + tool.Name + ".json"
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	props := make(map[string]struct{}, len(tool.InputSchema.Properties))
	for name := range tool.InputSchema.Properties {
		props[name] = struct{}{}
	}
	return &argValidator{schema: schema, properties: props}, nil
}

// validate checks args. Numbers are re-decoded as json.Number so integer
// checks are exact.
func (v *argValidator) validate(args map[string]any) error {
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding arguments: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("decoding arguments: %w", err)
	}
	return v.schema.Validate(inst)
}

// record returns the declared arguments except the excluded names.
// Undeclared arguments are dropped.
func (v *argValidator) record(args map[string]any, exclude ...string) frihet.Record {
	rec := make(frihet.Record, len(args))
	for name, value := range args {
		if _, ok := v.properties[name]; !ok {
			continue
		}
		rec[name] = value
	}
	for _, name := range exclude {
		delete(rec, name)
	}
	return rec
}

// integer narrows a number property to whole numbers.
func integer() mcp.PropertyOption {
	return func(schema map[string]any) {
		schema["type"] = "integer"
	}
}

// format sets the JSON Schema format of a string property.
func format(f string) mcp.PropertyOption {
	return func(schema map[string]any) {
		schema["format"] = f
	}
}

// ----- argument accessors (arguments are validated before use) -----

func stringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}

func intArg(args map[string]any, name string) *int {
	switch v := args[name].(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	case int64:
		n := int(v)
		return &n
	case json.Number:
		if i, err := v.Int64(); err == nil {
			n := int(i)
			return &n
		}
	}
	return nil
}

func listParams(args map[string]any) frihet.ListParams {
	return frihet.ListParams{
		Limit:  intArg(args, "limit"),
		Offset: intArg(args, "offset"),
	}
}
