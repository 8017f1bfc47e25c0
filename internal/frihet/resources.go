package frihet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Resource is a Frihet REST collection.
type Resource string

const (
	Invoices Resource = "invoices"
	Expenses Resource = "expenses"
	Clients  Resource = "clients"
	Products Resource = "products"
	Quotes   Resource = "quotes"
	Webhooks Resource = "webhooks"
)

// Resources lists every collection exposed by the API, in display order.
var Resources = []Resource{Invoices, Expenses, Clients, Products, Quotes, Webhooks}

var singulars = map[Resource]string{
	Invoices: "invoice",
	Expenses: "expense",
	Clients:  "client",
	Products: "product",
	Quotes:   "quote",
	Webhooks: "webhook",
}

// Singular returns the singular noun for the resource ("invoices" → "invoice").
func (r Resource) Singular() string {
	if s, ok := singulars[r]; ok {
		return s
	}
	return string(r)
}

func (r Resource) collectionPath() string {
	return "/" + string(r)
}

// itemPath escapes id so that "/", "?" and "#" cannot change the route.
func (r Resource) itemPath(id string) string {
	return "/" + string(r) + "/" + url.PathEscape(id)
}

// API is the typed surface over the Frihet REST API. *Client implements it;
// the tool layer depends on the interface so it can be faked in tests.
type API interface {
	List(ctx context.Context, r Resource, params ListParams) (*Page, error)
	Get(ctx context.Context, r Resource, id string) (Record, error)
	Create(ctx context.Context, r Resource, data Record) (Record, error)
	Update(ctx context.Context, r Resource, id string, data Record) (Record, error)
	Delete(ctx context.Context, r Resource, id string) error
	SearchInvoices(ctx context.Context, clientName string, params ListParams) (*Page, error)
}

var _ API = (*Client)(nil)

// List returns one page of a collection.
func (c *Client) List(ctx context.Context, r Resource, params ListParams) (*Page, error) {
	return c.DoPage(ctx, http.MethodGet, r.collectionPath(), params.query())
}

// Get fetches a single record by id.
func (c *Client) Get(ctx context.Context, r Resource, id string) (Record, error) {
	raw, status, err := c.do(ctx, http.MethodGet, r.itemPath(id), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw, status)
}

// Create posts a new record. A nil record is sent as an empty object.
func (c *Client) Create(ctx context.Context, r Resource, data Record) (Record, error) {
	if data == nil {
		data = Record{}
	}
	raw, status, err := c.do(ctx, http.MethodPost, r.collectionPath(), data, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw, status)
}

// Update replaces the supplied fields of an existing record.
func (c *Client) Update(ctx context.Context, r Resource, id string, data Record) (Record, error) {
	if data == nil {
		data = Record{}
	}
	raw, status, err := c.do(ctx, http.MethodPut, r.itemPath(id), data, nil)
	if err != nil {
		return nil, err
	}
	return decodeRecord(raw, status)
}

// Delete removes a record. The API answers 204 No Content.
func (c *Client) Delete(ctx context.Context, r Resource, id string) error {
	_, _, err := c.do(ctx, http.MethodDelete, r.itemPath(id), nil, nil)
	return err
}

// SearchInvoices lists invoices whose client name matches clientName.
func (c *Client) SearchInvoices(ctx context.Context, clientName string, params ListParams) (*Page, error) {
	q := params.query()
	q["clientName"] = clientName
	return c.DoPage(ctx, http.MethodGet, Invoices.collectionPath(), q)
}

// decodeRecord decodes a single-entity body. Anything but a JSON object is an
// invalid response.
func decodeRecord(raw json.RawMessage, status int) (Record, error) {
	if raw == nil {
		return Record{}, nil
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil || rec == nil {
		return nil, newAPIError(status, CodeInvalidResponse,
			fmt.Sprintf("API returned a non-object body: %s", truncateBody(raw)))
	}
	return rec, nil
}

// decodePage decodes a Page envelope. Only the "data" member is checked: it
// must be a JSON array. Items are passed through whatever their shape, and
// total, limit and offset fall back to 0 unless they hold a number or a
// numeric string.
func decodePage(raw json.RawMessage) (*Page, bool) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, false
	}
	data, ok := envelope["data"]
	if !ok || !bytes.HasPrefix(bytes.TrimSpace(data), []byte("[")) {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, false
	}

	page := &Page{
		Data:   make([]any, 0, len(items)),
		Total:  lenientInt(envelope["total"]),
		Limit:  lenientInt(envelope["limit"]),
		Offset: lenientInt(envelope["offset"]),
	}
	for _, item := range items {
		page.Data = append(page.Data, decodeItem(item))
	}
	return page, true
}

func decodeItem(raw json.RawMessage) any {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err == nil && rec != nil {
		return rec
	}
	var v any
	_ = json.Unmarshal(raw, &v)
	return v
}

func lenientInt(raw json.RawMessage) int {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return int(f)
		}
	}
	return 0
}
