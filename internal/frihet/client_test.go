package frihet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/frihet-io/frihet-mcp/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBaseURL(baseURL), WithBackoff(time.Millisecond)}, opts...)
	client, err := NewClient("test-key", testLogger(), opts...)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func intPtr(v int) *int { return &v }

func TestNewClient_MissingAPIKey(t *testing.T) {
	for _, key := range []string{"", "   "} {
		_, err := NewClient(key, testLogger())
		if !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("NewClient(%q) error = %v, want ErrMissingAPIKey", key, err)
		}
	}
}

func TestNewClient_Defaults(t *testing.T) {
	client, err := NewClient("k", testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.BaseURL() != config.DefaultBaseURL {
		t.Errorf("BaseURL() = %q, want %q", client.BaseURL(), config.DefaultBaseURL)
	}
	if client.Timeout() != 30*time.Second {
		t.Errorf("Timeout() = %v, want 30s", client.Timeout())
	}
	if client.maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", client.maxRetries)
	}
	if client.backoff != time.Second {
		t.Errorf("backoff = %v, want 1s", client.backoff)
	}
	if client.http == nil || client.http.Transport == nil {
		t.Error("a default HTTP client with its own transport should be built")
	}
}

type countingTransport struct {
	calls atomic.Int32
}

func (c *countingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.calls.Add(1)
	return http.DefaultTransport.RoundTrip(req)
}

func TestWithHTTPClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"x"}`))
	}))
	defer srv.Close()

	rt := &countingTransport{}
	hc := &http.Client{Transport: rt}
	client := newTestClient(t, srv.URL, WithHTTPClient(hc))
	if client.http != hc {
		t.Fatal("WithHTTPClient should install the given client")
	}
	if _, err := client.Get(context.Background(), Invoices, "x"); err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if n := rt.calls.Load(); n != 1 {
		t.Errorf("shared transport saw %d requests, want 1", n)
	}
}

type headerAuth struct{ name, value string }

func (a headerAuth) Authenticate(req *http.Request) { req.Header.Set(a.name, a.value) }

func TestClientUsesAuthenticator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"token":"` + r.Header.Get("X-Test-Token") + `","key":"` + r.Header.Get(APIKeyHeader) + `"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	client.auth = headerAuth{name: "X-Test-Token", value: "t0k"}
	rec, err := client.Get(context.Background(), Invoices, "x")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec["token"] != "t0k" || rec["key"] != "" {
		t.Errorf("request headers = %v, want only the custom authenticator's", rec)
	}
}

func TestNewClientFromConfig(t *testing.T) {
	cfg := config.FrihetConfig{
		APIKey:       "cfg-key",
		BaseURL:      "http://localhost:9999/v1/",
		Timeout:      config.Duration{Duration: 5 * time.Second},
		MaxRetries:   intPtr(0),
		RetryBackoff: config.Duration{Duration: 10 * time.Millisecond},
	}
	client, err := NewClientFromConfig(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClientFromConfig failed: %v", err)
	}
	if client.BaseURL() != "http://localhost:9999/v1" {
		t.Errorf("BaseURL() = %q, trailing slash should be trimmed", client.BaseURL())
	}
	if client.Timeout() != 5*time.Second {
		t.Errorf("Timeout() = %v, want 5s", client.Timeout())
	}
	if client.maxRetries != 0 {
		t.Errorf("maxRetries = %d, want 0", client.maxRetries)
	}
	if client.maxRetryWait != time.Minute {
		t.Errorf("maxRetryWait = %v, want 1m default when unset", client.maxRetryWait)
	}

	cfg.MaxRetryWait = &config.Duration{}
	client, err = NewClientFromConfig(cfg, testLogger())
	if err != nil {
		t.Fatalf("NewClientFromConfig failed: %v", err)
	}
	if client.maxRetryWait != 0 {
		t.Errorf("maxRetryWait = %v, want 0 (cap disabled)", client.maxRetryWait)
	}
}

func TestList_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/invoices" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "10" {
			t.Errorf("expected limit=10, got %q", got)
		}
		if r.URL.Query().Has("offset") {
			t.Errorf("nil offset should be omitted, got %q", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"id":"a"},{"id":"b"}],"total":2,"limit":10,"offset":0}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.List(context.Background(), Invoices, ListParams{Limit: intPtr(10)})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page.Data) != 2 || page.Total != 2 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if rec, ok := page.Data[0].(Record); !ok || rec["id"] != "a" {
		t.Errorf("first record = %#v, want Record with id a", page.Data[0])
	}
	if page.HasMore() {
		t.Error("HasMore() should be false when all records are returned")
	}
}

func TestList_NoParamsSendsNoQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			t.Errorf("expected empty query, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data":[],"total":0,"limit":20,"offset":0}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.List(context.Background(), Clients, ListParams{})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Data == nil {
		t.Error("Data should be an empty slice, not nil")
	}
}

func TestList_InvalidEnvelope(t *testing.T) {
	bodies := []string{
		`{"items":[]}`,
		`{"data":{"id":"x"}}`,
		`{"data":null}`,
		`[{"id":"x"}]`,
	}
	for _, body := range bodies {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		client := newTestClient(t, srv.URL)
		_, err := client.List(context.Background(), Invoices, ListParams{})
		srv.Close()

		apiErr, ok := AsAPIError(err)
		if !ok {
			t.Fatalf("body %s: expected APIError, got %v", body, err)
		}
		if apiErr.StatusCode != 200 || apiErr.Code != CodeInvalidResponse {
			t.Errorf("body %s: got %d/%s, want 200/invalid_response", body, apiErr.StatusCode, apiErr.Code)
		}
		if apiErr.Message != "API returned invalid paginated response" {
			t.Errorf("body %s: unexpected message %q", body, apiErr.Message)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not_found","message":"Invoice not found"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Get(context.Background(), Invoices, "x")

	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 404 || apiErr.Code != "not_found" || apiErr.Message != "Invoice not found" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) should be true")
	}
}

func TestGet_ErrorWithoutMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"error":"validation_error"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Get(context.Background(), Products, "p1")
	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "validation_error" {
		t.Errorf("message should fall back to the code, got %q", apiErr.Message)
	}
}

func TestGet_UnparseableErrorBody(t *testing.T) {
	tests := []struct {
		status int
		body   string
		code   string
		msg    string
	}{
		{http.StatusInternalServerError, "<html>oops</html>", "http_500", "Internal Server Error"},
		{http.StatusBadGateway, "", "http_502", "Bad Gateway"},
		{http.StatusBadRequest, `{"message":"no code"}`, "http_400", "Bad Request"},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/html")
			w.WriteHeader(tt.status)
			w.Write([]byte(tt.body))
		}))

		client := newTestClient(t, srv.URL)
		_, err := client.Get(context.Background(), Invoices, "x")
		srv.Close()

		apiErr, ok := AsAPIError(err)
		if !ok {
			t.Fatalf("status %d: expected APIError, got %v", tt.status, err)
		}
		if apiErr.StatusCode != tt.status || apiErr.Code != tt.code || apiErr.Message != tt.msg {
			t.Errorf("status %d: got %+v, want code %s message %q", tt.status, apiErr, tt.code, tt.msg)
		}
	}
}

func TestGet_NonRetryableStatusesAttemptOnce(t *testing.T) {
	for _, status := range []int{400, 401, 403, 404, 500, 503} {
		var attempts int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&attempts, 1)
			w.WriteHeader(status)
		}))

		client := newTestClient(t, srv.URL)
		_, err := client.Get(context.Background(), Invoices, "x")
		srv.Close()

		if err == nil {
			t.Errorf("status %d: expected error", status)
		}
		if n := atomic.LoadInt32(&attempts); n != 1 {
			t.Errorf("status %d: expected 1 attempt, got %d", status, n)
		}
	}
}

func TestGet_EscapesID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.EscapedPath(); got != "/invoices/a%2Fb%3Fc" {
			t.Errorf("unexpected escaped path: %s", got)
		}
		if r.URL.RawQuery != "" {
			t.Errorf("id leaked into query: %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"id":"a/b?c"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	rec, err := client.Get(context.Background(), Invoices, "a/b?c")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec["id"] != "a/b?c" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestGet_NullBody(t *testing.T) {
	for _, body := range []string{"null", "", "not json"} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))

		client := newTestClient(t, srv.URL)
		_, err := client.Get(context.Background(), Invoices, "x")
		srv.Close()

		apiErr, ok := AsAPIError(err)
		if !ok {
			t.Fatalf("body %q: expected APIError, got %v", body, err)
		}
		if apiErr.StatusCode != 200 || apiErr.Code != CodeInvalidResponse || apiErr.Message != "API returned empty response" {
			t.Errorf("body %q: unexpected error %+v", body, apiErr)
		}
		if !errors.Is(err, ErrInvalidResponse) {
			t.Errorf("body %q: errors.Is(err, ErrInvalidResponse) should be true", body)
		}
	}
}

func TestDo_ReturnsBodyVerbatim(t *testing.T) {
	const body = `{"id":"inv_1","total":121.5,"nested":{"a":[1,2,3]}}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	raw, err := client.Do(context.Background(), http.MethodGet, "/invoices/inv_1", nil, nil)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if string(raw) != body {
		t.Errorf("Do() = %s, want %s", raw, body)
	}
}

func TestDelete_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		if r.ContentLength > 0 {
			t.Errorf("DELETE should carry no body, got %d bytes", r.ContentLength)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if err := client.Delete(context.Background(), Webhooks, "wh_1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	raw, err := client.Do(context.Background(), http.MethodDelete, "/webhooks/wh_1", nil, nil)
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if raw != nil {
		t.Errorf("Do() on 204 = %s, want nil", raw)
	}
}

func TestCreate_SendsJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("expected JSON content type, got %q", r.Header.Get("Content-Type"))
		}
		var got map[string]any
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request body: %v", err)
		}
		if got["name"] != "ACME" {
			t.Errorf("unexpected body: %v", got)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"cl_1","name":"ACME"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	rec, err := client.Create(context.Background(), Clients, Record{"name": "ACME"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if rec["id"] != "cl_1" {
		t.Errorf("unexpected record: %v", rec)
	}
}

func TestUpdate_NilRecordSendsEmptyObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "{}" {
			t.Errorf("expected {} body, got %q", body)
		}
		w.Write([]byte(`{"id":"q1"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	if _, err := client.Update(context.Background(), Quotes, "q1", nil); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
}

func TestSearchInvoices_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("clientName") != "ACME & Co" {
			t.Errorf("clientName = %q", q.Get("clientName"))
		}
		if q.Get("offset") != "20" {
			t.Errorf("offset = %q", q.Get("offset"))
		}
		if q.Has("limit") {
			t.Errorf("nil limit should be omitted")
		}
		w.Write([]byte(`{"data":[{"id":"i1"}],"total":30,"limit":10,"offset":20}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	page, err := client.SearchInvoices(context.Background(), "ACME & Co", ListParams{Offset: intPtr(20)})
	if err != nil {
		t.Fatalf("SearchInvoices failed: %v", err)
	}
	if !page.HasMore() || page.NextOffset() != 21 {
		t.Errorf("HasMore=%v NextOffset=%d", page.HasMore(), page.NextOffset())
	}
}

func TestDo_Headers(t *testing.T) {
	var mu sync.Mutex
	var ids []string
	var attempt int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-API-Key"); got != "test-key" {
			t.Errorf("X-API-Key = %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Errorf("Accept = %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "frihet-mcp/test" {
			t.Errorf("User-Agent = %q", got)
		}
		mu.Lock()
		ids = append(ids, r.Header.Get(RequestIDHeader))
		mu.Unlock()
		if atomic.AddInt32(&attempt, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithUserAgent("frihet-mcp/test"))
	if _, err := client.Do(context.Background(), http.MethodGet, "/products", nil, nil); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(ids))
	}
	if ids[0] == "" || ids[0] != ids[1] {
		t.Errorf("request id should be set and stable across retries: %v", ids)
	}
}

func TestWithAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"key":"` + r.Header.Get("X-API-Key") + `"}`))
	}))
	defer srv.Close()

	base := newTestClient(t, srv.URL)
	scoped, err := base.WithAPIKey("other-key")
	if err != nil {
		t.Fatalf("WithAPIKey failed: %v", err)
	}
	rec, err := scoped.Get(context.Background(), Invoices, "x")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec["key"] != "other-key" {
		t.Errorf("scoped client sent key %v", rec["key"])
	}
	rec, err = base.Get(context.Background(), Invoices, "x")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rec["key"] != "test-key" {
		t.Errorf("base client key changed to %v", rec["key"])
	}
	if _, err := base.WithAPIKey(""); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("WithAPIKey(\"\") error = %v, want ErrMissingAPIKey", err)
	}
}

func TestDo_429RetryAfter(t *testing.T) {
	var attempt int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempt, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate_limited"}`))
			return
		}
		w.Write([]byte(`{"data":[{"id":"e1"}],"total":1,"limit":20,"offset":0}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	start := time.Now()
	page, err := client.List(context.Background(), Expenses, ListParams{})
	elapsed := time.Since(start)

	if err != nil {
		t.Fatalf("should succeed after 429: %v", err)
	}
	if len(page.Data) != 1 {
		t.Errorf("expected 1 record, got %d", len(page.Data))
	}
	if elapsed < 900*time.Millisecond {
		t.Errorf("Retry-After should be honoured, elapsed only %v", elapsed)
	}
	if n := atomic.LoadInt32(&attempt); n != 2 {
		t.Errorf("expected 2 attempts, got %d", n)
	}
}

func TestDo_429ExhaustsRetries(t *testing.T) {
	var attempt int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempt, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithMaxRetries(3))
	_, err := client.Get(context.Background(), Invoices, "x")

	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 429 || apiErr.Code != CodeRateLimitExceeded {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if apiErr.Message != "Rate limit exceeded after multiple retries. Please try again later." {
		t.Errorf("unexpected message: %q", apiErr.Message)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("errors.Is(err, ErrRateLimited) should be true")
	}
	if n := atomic.LoadInt32(&attempt); n != 4 {
		t.Errorf("expected 4 attempts (1 + 3 retries), got %d", n)
	}
}

func TestDo_429ZeroRetries(t *testing.T) {
	var attempt int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempt, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithMaxRetries(0))
	_, err := client.Get(context.Background(), Invoices, "x")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if n := atomic.LoadInt32(&attempt); n != 1 {
		t.Errorf("expected 1 attempt, got %d", n)
	}
}

func TestDo_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := client.Get(context.Background(), Invoices, "slow")
	elapsed := time.Since(start)

	apiErr, ok := AsAPIError(err)
	if !ok {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != 408 || apiErr.Code != CodeRequestTimeout {
		t.Errorf("unexpected error: %+v", apiErr)
	}
	if apiErr.Message != "Request timed out after 0.05 seconds" {
		t.Errorf("unexpected message: %q", apiErr.Message)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) should be true")
	}
	if elapsed > time.Second {
		t.Errorf("attempt should be aborted at its deadline, took %v", elapsed)
	}
}

func TestDo_ParentCancellationIsNotTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Get(ctx, Invoices, "x")
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if _, ok := AsAPIError(err); ok {
		t.Errorf("caller cancellation should not become an APIError: %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestDo_CancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Get(ctx, Invoices, "x")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("backoff should stop on cancellation, took %v", elapsed)
	}
}

func TestDo_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client := newTestClient(t, url)
	_, err := client.Get(context.Background(), Invoices, "x")
	if err == nil {
		t.Fatal("expected error for unreachable server")
	}
	if _, ok := AsAPIError(err); ok {
		t.Errorf("network failure should not be an APIError: %v", err)
	}
	if !strings.Contains(err.Error(), "HTTP request failed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDo_MarshalFailure(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")
	_, err := client.Do(context.Background(), http.MethodPost, "/invoices", map[string]any{"bad": make(chan int)}, nil)
	if err == nil || !strings.Contains(err.Error(), "marshaling request body") {
		t.Errorf("expected marshal error, got %v", err)
	}
}

func TestRetryDelay(t *testing.T) {
	c := &Client{backoff: time.Second, maxRetryWait: 5 * time.Second}
	tests := []struct {
		header string
		retry  int
		want   time.Duration
	}{
		{"", 0, time.Second},
		{"", 1, 2 * time.Second},
		{"", 2, 4 * time.Second},
		{"3", 0, 3 * time.Second},
		{"0", 1, 2 * time.Second},
		{"garbage", 0, time.Second},
		{"120", 0, 5 * time.Second},
		{"", 5, 5 * time.Second},
	}
	for _, tt := range tests {
		got := c.retryDelay(tt.header, tt.retry)
		if got != tt.want {
			t.Errorf("retryDelay(%q, %d) = %v, want %v", tt.header, tt.retry, got, tt.want)
		}
	}

	unclamped := &Client{backoff: time.Second}
	if got := unclamped.retryDelay("120", 0); got != 120*time.Second {
		t.Errorf("retryDelay without cap = %v, want 120s", got)
	}
}

func TestRetryDelayLargeRetryCount(t *testing.T) {
	capped := &Client{backoff: time.Second, maxRetryWait: time.Minute}
	uncapped := &Client{backoff: time.Second}
	for _, retry := range []int{33, 34, 40, 62, 63, 64, 100} {
		if got := capped.retryDelay("", retry); got != time.Minute {
			t.Errorf("capped retryDelay(%d) = %v, want 1m", retry, got)
		}
		if got := uncapped.retryDelay("", retry); got <= 0 {
			t.Errorf("uncapped retryDelay(%d) = %v, want a positive delay", retry, got)
		}
	}
	if got := uncapped.retryDelay("", 33); got != time.Second<<33 {
		t.Errorf("uncapped retryDelay(33) = %v, want %v", got, time.Second<<33)
	}
	if got := uncapped.retryDelay("", 34); got != time.Duration(math.MaxInt64) {
		t.Errorf("uncapped retryDelay(34) = %v, want saturation at max duration", got)
	}
	if got := uncapped.retryDelay("", 64); got != time.Duration(math.MaxInt64) {
		t.Errorf("uncapped retryDelay(64) = %v, want saturation at max duration", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		header string
		want   time.Duration
		ok     bool
	}{
		{"", 0, false},
		{"5", 5 * time.Second, true},
		{"120", 120 * time.Second, true},
		{"-1", 0, false},
		{"invalid", 0, false},
		{"9999999999999", time.Duration(math.MaxInt64), true},
		{now.Add(30 * time.Second).Format(http.TimeFormat), 30 * time.Second, true},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
	}
	for _, tt := range tests {
		got, ok := parseRetryAfter(tt.header, now)
		if got != tt.want || ok != tt.ok {
			t.Errorf("parseRetryAfter(%q) = (%v, %v), want (%v, %v)", tt.header, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTruncateBody(t *testing.T) {
	short := "hello"
	if truncateBody([]byte(short)) != short {
		t.Error("short body should not be truncated")
	}

	long := strings.Repeat("x", 600)
	result := truncateBody([]byte(long))
	if len(result) != 503 {
		t.Errorf("truncated body length = %d, want 503", len(result))
	}
	if !strings.HasSuffix(result, "...") {
		t.Error("truncated body should end with ...")
	}
}

func TestBuildURL(t *testing.T) {
	c := &Client{baseURL: "https://api.frihet.io/v1"}
	tests := []struct {
		path  string
		query Query
		want  string
	}{
		{"/invoices", nil, "https://api.frihet.io/v1/invoices"},
		{"/invoices", Query{"limit": 5}, "https://api.frihet.io/v1/invoices?limit=5"},
		{"/invoices?x=1", Query{"limit": 5}, "https://api.frihet.io/v1/invoices?x=1&limit=5"},
		{"/invoices", Query{"limit": (*int)(nil)}, "https://api.frihet.io/v1/invoices"},
	}
	for _, tt := range tests {
		if got := c.buildURL(tt.path, tt.query); got != tt.want {
			t.Errorf("buildURL(%q, %v) = %q, want %q", tt.path, tt.query, got, tt.want)
		}
	}
}
