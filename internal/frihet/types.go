package frihet

// Record is one Frihet entity (invoice, expense, client, product, quote or
// webhook) as a map of field names to values. Records are passed through
// untouched; the upstream API owns their schema.
type Record map[string]any

// Page is the envelope returned by list and search endpoints. Items that are
// JSON objects decode as Record, anything else as its plain JSON value.
type Page struct {
	Data   []any `json:"data"`
	Total  int   `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// HasMore reports whether records exist past this page.
func (p *Page) HasMore() bool {
	return p.Total > p.NextOffset()
}

// NextOffset is the offset of the first record after this page.
func (p *Page) NextOffset() int {
	return p.Offset + len(p.Data)
}

// ListParams selects a window of a collection. Nil fields are left out of the
// query string so the upstream defaults apply.
type ListParams struct {
	Limit  *int
	Offset *int
}

func (p ListParams) query() Query {
	return Query{"limit": p.Limit, "offset": p.Offset}
}

// ErrorResponse is the error body returned by the Frihet API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
