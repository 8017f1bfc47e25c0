package frihet

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// Query holds the query-string parameters of a request. Entries whose value
// is nil (including typed nil pointers) are dropped; everything else is
// stringified with fmt semantics and URL-encoded.
//
//	Query{"clientName": "ACME", "limit": 50, "offset": nil}.Encode()
//	// clientName=ACME&limit=50
type Query map[string]any

// Values converts the query into url.Values, dropping nil entries.
func (q Query) Values() url.Values {
	vals := url.Values{}
	for key, value := range q {
		s, ok := stringify(value)
		if !ok {
			continue
		}
		vals.Set(key, s)
	}
	return vals
}

// Encode returns the URL-encoded query string, sorted by key.
func (q Query) Encode() string {
	return q.Values().Encode()
}

func stringify(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	v := reflect.ValueOf(value)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return "", false
		}
		v = v.Elem()
	}
	return fmt.Sprint(v.Interface()), true
}

// resourceOf returns the first path segment, used as a low-cardinality label
// for metrics and logs ("/invoices/abc" → "invoices").
func resourceOf(path string) string {
	path = strings.TrimLeft(path, "/")
	if i := strings.IndexAny(path, "/?"); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "root"
	}
	return path
}
