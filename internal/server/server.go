// Package server is the HTTP front door for remote MCP clients.
//
// # Routes
//
//	OPTIONS *          → 204 with CORS headers
//	GET /, GET /health → server info document
//	/mcp               → stateless streamable-HTTP MCP endpoint (POST, GET, DELETE)
//	anything else      → 404 not_found
//
// # Authentication
//
// Every /mcp request carries the caller's Frihet API key, looked up in this
// order:
//
//  1. Authorization: Bearer <key>
//  2. X-API-Key: <key>
//  3. ?api_key=<key>
//
// The key is turned into a frihet.API by the configured APIFactory and put in
// the request context, where the tool handlers pick it up. Requests without a
// key get 401 authentication_required.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/frihet-io/frihet-mcp/internal/config"
	"github.com/frihet-io/frihet-mcp/internal/frihet"
	"github.com/frihet-io/frihet-mcp/internal/tools"
)

// Name is the MCP server name reported to clients.
const Name = "frihet-erp"

const (
	corsMethods = "GET, POST, DELETE, OPTIONS"
	corsHeaders = "Content-Type, Authorization, X-API-Key, mcp-session-id, MCP-Protocol-Version"
	corsExpose  = "mcp-session-id"
)

// APIFactory builds the API a caller's tool calls go through.
type APIFactory func(apiKey string) (frihet.API, error)

// Server serves the MCP protocol over HTTP.
type Server struct {
	addr    string
	version string
	origins []string
	newAPI  APIFactory
	tools   int
	mcp     http.Handler
	logger  *slog.Logger
	srv     *http.Server
}

// NewServer creates the HTTP front door for the given toolset.
func NewServer(cfg config.ServerConfig, version string, ts *tools.Toolset, newAPI APIFactory, logger *slog.Logger) *Server {
	s := &Server{
		addr:    cfg.Addr,
		version: version,
		origins: cfg.AllowedOrigins,
		newAPI:  newAPI,
		tools:   ts.Count(),
		logger:  logger.With("component", "http-server"),
	}

	s.mcp = mcpserver.NewStreamableHTTPServer(NewMCPServer(version, ts),
		mcpserver.WithStateLess(true),
		mcpserver.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if api := tools.APIFromContext(r.Context()); api != nil {
				return tools.WithAPI(ctx, api)
			}
			return ctx
		}),
	)

	// No write timeout: tool calls may wait out several 429 backoffs.
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// NewMCPServer creates an MCP server with every tool of ts registered.
func NewMCPServer(version string, ts *tools.Toolset) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer(Name, version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)
	ts.Register(s)
	return s
}

// Handler returns the routing handler, wrapped in CORS and panic recovery.
func (s *Server) Handler() http.Handler {
	return s.recoverer(http.HandlerFunc(s.route))
}

// Start begins listening for HTTP requests. Blocks until the context is
// cancelled, then gracefully shuts down the server.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("MCP HTTP server starting", "addr", s.addr, "tools", s.tools)

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down MCP HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shutdownCtx)
	}()

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("MCP HTTP server: %w", err)
	}
	return nil
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	s.setCORS(w, r)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	switch r.URL.Path {
	case "/", "/health":
		writeJSON(w, http.StatusOK, s.info(r))
	case "/mcp":
		s.serveMCP(w, r)
	default:
		writeJSON(w, http.StatusNotFound, errorBody{
			Error:   "not_found",
			Message: "Use /mcp for MCP protocol, / for server info.",
		})
	}
}

func (s *Server) serveMCP(w http.ResponseWriter, r *http.Request) {
	apiKey := extractAPIKey(r)
	if apiKey == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{
			Error: "authentication_required",
			Message: "Frihet API key is required. Pass via Authorization: Bearer <key>, " +
				"X-API-Key header, or ?api_key= query param.",
		})
		return
	}

	api, err := s.newAPI(apiKey)
	if err != nil {
		s.logger.Error("creating API client", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "server_error", Message: err.Error()})
		return
	}

	s.logger.Debug("MCP request", "method", r.Method, "key", frihet.RedactKey(apiKey))
	s.mcp.ServeHTTP(w, r.WithContext(tools.WithAPI(r.Context(), api)))
}

// extractAPIKey returns the caller's key or "" when none was sent.
func extractAPIKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		if token := strings.TrimSpace(auth[len("Bearer "):]); token != "" {
			return token
		}
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	return r.URL.Query().Get("api_key")
}

// setCORS echoes allow-listed origins. Other origins, and requests without
// one, get the first allowed origin, which browsers will reject.
func (s *Server) setCORS(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	if origin := s.corsOrigin(r.Header.Get("Origin")); origin != "" {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	}
	h.Set("Access-Control-Allow-Methods", corsMethods)
	h.Set("Access-Control-Allow-Headers", corsHeaders)
	h.Set("Access-Control-Expose-Headers", corsExpose)
}

func (s *Server) corsOrigin(origin string) string {
	if origin != "" && slices.Contains(s.origins, origin) {
		return origin
	}
	if len(s.origins) > 0 {
		return s.origins[0]
	}
	return ""
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error("panic serving request", "path", r.URL.Path, "panic", rec)
				s.setCORS(w, r)
				writeJSON(w, http.StatusInternalServerError, errorBody{
					Error:   "server_error",
					Message: fmt.Sprint(rec),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ----- info document -----

type infoDoc struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Transport   string            `json:"transport"`
	Description string            `json:"description"`
	Tools       int               `json:"tools"`
	Resources   []string          `json:"resources"`
	Auth        authDoc           `json:"auth"`
	Endpoints   map[string]string `json:"endpoints"`
}

type authDoc struct {
	Methods []string `json:"methods"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) info(r *http.Request) infoDoc {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	base := scheme + "://" + r.Host

	resources := make([]string, len(frihet.Resources))
	for i, res := range frihet.Resources {
		resources[i] = string(res)
	}

	return infoDoc{
		Name:        Name,
		Version:     s.version,
		Transport:   "streamable-http",
		Description: "Frihet ERP MCP Server (remote)",
		Tools:       s.tools,
		Resources:   resources,
		Auth: authDoc{Methods: []string{
			"Authorization: Bearer <api_key>",
			"X-API-Key: <api_key>",
			"?api_key=<api_key>",
		}},
		Endpoints: map[string]string{
			"mcp":    base + "/mcp",
			"health": base + "/health",
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
