package frihet

import (
	"net/http"
	"strings"
)

// APIKeyHeader carries the Frihet API key on every request.
const APIKeyHeader = "X-API-Key"

// Authenticator attaches credentials to an outgoing request.
// Implementations must be safe for concurrent use by multiple goroutines.
type Authenticator interface {
	Authenticate(req *http.Request)
}

// APIKeyAuthenticator sends a static API key in the X-API-Key header.
// The key is fixed at construction time.
type APIKeyAuthenticator struct {
	key string
}

// NewAPIKeyAuthenticator returns ErrMissingAPIKey for an empty or blank key.
func NewAPIKeyAuthenticator(key string) (*APIKeyAuthenticator, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	return &APIKeyAuthenticator{key: key}, nil
}

// Authenticate sets the X-API-Key header.
func (a *APIKeyAuthenticator) Authenticate(req *http.Request) {
	req.Header.Set(APIKeyHeader, a.key)
}

// RedactKey masks an API key for logging.
func RedactKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}
