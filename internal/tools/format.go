package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/frihet-io/frihet-mcp/internal/frihet"
)

// formatPage renders a list or search result:
//
//	Found 3 invoices (showing 2, offset 0):
//
//	{ ...record 1... }
//	---
//	{ ...record 2... }
//	---
//	More results available. Use offset=2 to see the next page.
func formatPage(name string, page *frihet.Page) string {
	lines := []string{
		fmt.Sprintf("Found %d %s (showing %d, offset %d):", page.Total, name, len(page.Data), page.Offset),
		"",
	}
	for _, item := range page.Data {
		lines = append(lines, indentJSON(item), "---")
	}
	if page.HasMore() {
		lines = append(lines, fmt.Sprintf("More results available. Use offset=%d to see the next page.", page.NextOffset()))
	}
	return strings.Join(lines, "\n")
}

// formatRecord renders a single record under a label.
func formatRecord(label string, rec frihet.Record) string {
	return label + ":\n" + indentJSON(rec)
}

// indentJSON encodes v with two-space indentation and without HTML
// escaping, so ERP text such as "R&D <internal>" stays readable.
func indentJSON(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
