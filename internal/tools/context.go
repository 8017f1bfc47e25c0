package tools

import (
	"context"

	"github.com/frihet-io/frihet-mcp/internal/frihet"
)

type apiKey struct{}

// WithAPI returns a context whose tool calls use api instead of the
// toolset's default client. The HTTP front door uses it to bind each
// request to the caller's API key.
func WithAPI(ctx context.Context, api frihet.API) context.Context {
	return context.WithValue(ctx, apiKey{}, api)
}

// APIFromContext returns the API bound by WithAPI, or nil.
func APIFromContext(ctx context.Context) frihet.API {
	api, _ := ctx.Value(apiKey{}).(frihet.API)
	return api
}
