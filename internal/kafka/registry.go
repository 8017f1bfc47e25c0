package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hamba/avro/v2"
)

const registryContentType = "application/vnd.schemaregistry.v1+json"

// SchemaRegistryClient resolves the registry ID of a schema.
type SchemaRegistryClient interface {
	// GetSchemaID registers schema under subject if needed and returns its ID.
	GetSchemaID(ctx context.Context, subject string, schema avro.Schema) (int, error)
}

// RegistryError is a non-2xx answer from the schema registry.
type RegistryError struct {
	StatusCode int
	ErrorCode  int
	Message    string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("schema registry error (status %d, code %d): %s", e.StatusCode, e.ErrorCode, e.Message)
}

// HTTPRegistryClient implements SchemaRegistryClient against the Confluent
// REST API.
type HTTPRegistryClient struct {
	baseURL  string
	client   *http.Client
	username string
	password string
}

// RegistryOption configures an HTTPRegistryClient.
type RegistryOption func(*HTTPRegistryClient)

// WithRegistryCredentials enables HTTP basic auth, as used by hosted
// registries (API key and secret).
func WithRegistryCredentials(username, password string) RegistryOption {
	return func(c *HTTPRegistryClient) {
		c.username = username
		c.password = password
	}
}

// WithRegistryHTTPClient replaces the default HTTP client (10s timeout).
func WithRegistryHTTPClient(hc *http.Client) RegistryOption {
	return func(c *HTTPRegistryClient) {
		if hc != nil {
			c.client = hc
		}
	}
}

// NewHTTPRegistryClient creates a registry client for baseURL.
func NewHTTPRegistryClient(baseURL string, opts ...RegistryOption) *HTTPRegistryClient {
	c := &HTTPRegistryClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetSchemaID registers the schema under subject (a no-op when the same
// schema is already registered) and returns its global ID.
func (c *HTTPRegistryClient) GetSchemaID(ctx context.Context, subject string, schema avro.Schema) (int, error) {
	body, err := json.Marshal(struct {
		Schema string `json:"schema"`
	}{Schema: schema.String()})
	if err != nil {
		return 0, fmt.Errorf("encoding schema: %w", err)
	}

	endpoint := c.baseURL + "/subjects/" + url.PathEscape(subject) + "/versions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("creating registry request: %w", err)
	}
	req.Header.Set("Content-Type", registryContentType)
	req.Header.Set("Accept", registryContentType)
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("registering schema for %s: %w", subject, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, registryError(resp)
	}

	var registered struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&registered); err != nil {
		return 0, fmt.Errorf("decoding registry response: %w", err)
	}
	return registered.ID, nil
}

// registryError reads at most 1 KiB of an error body. Bodies that are not
// the registry's {"error_code","message"} shape are kept as the message.
func registryError(resp *http.Response) *RegistryError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	regErr := &RegistryError{StatusCode: resp.StatusCode}
	var body struct {
		ErrorCode int    `json:"error_code"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		regErr.ErrorCode = body.ErrorCode
		regErr.Message = body.Message
		return regErr
	}
	regErr.Message = strings.TrimSpace(string(raw))
	return regErr
}
