// Package config provides YAML-based configuration loading, validation, and
// defaults for the Frihet MCP server.
//
// Values are resolved in this order, later sources winning:
//
//  1. Built-in defaults
//  2. The YAML file (with ${VAR} references expanded)
//  3. FRIHET_API_KEY / FRIHET_API_URL environment variables
//  4. Command-line overrides passed as [LoadOption]s
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport names accepted by server.transport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// DefaultBaseURL is the production Frihet REST endpoint.
const DefaultBaseURL = "https://api.frihet.io/v1"

// Per-attempt request deadlines. HTTP deployments usually sit behind a proxy
// or platform with a ~30s ceiling of its own, so they get a smaller budget.
const (
	DefaultStdioTimeout = 30 * time.Second
	DefaultHTTPTimeout  = 25 * time.Second
)

const (
	DefaultMaxRetryWait = time.Minute

	// MaxRetriesLimit bounds frihet.max_retries. With exponential backoff
	// anything above this waits for hours.
	MaxRetriesLimit = 10
)

// Config is the top-level configuration for the server.
type Config struct {
	Frihet        FrihetConfig        `yaml:"frihet"`
	Server        ServerConfig        `yaml:"server"`
	Audit         AuditConfig         `yaml:"audit"`
	Observability ObservabilityConfig `yaml:"observability"`
	LogLevel      string              `yaml:"log_level"`
}

// FrihetConfig holds the upstream API connection settings.
type FrihetConfig struct {
	APIKey       string    `yaml:"api_key"`
	BaseURL      string    `yaml:"base_url"`
	Timeout      Duration  `yaml:"timeout"`
	MaxRetries   *int      `yaml:"max_retries"`
	RetryBackoff Duration  `yaml:"retry_backoff"`
	MaxRetryWait *Duration `yaml:"max_retry_wait"`
	RateLimitRPS float64   `yaml:"rate_limit_rps"`
}

// MaxRetriesValue returns the effective 429 retry budget.
func (f FrihetConfig) MaxRetriesValue() int {
	if f.MaxRetries == nil {
		return 3
	}
	return *f.MaxRetries
}

// MaxRetryWaitValue returns the cap on a single 429 wait. An explicit zero
// disables the cap.
func (f FrihetConfig) MaxRetryWaitValue() time.Duration {
	if f.MaxRetryWait == nil {
		return DefaultMaxRetryWait
	}
	return f.MaxRetryWait.Duration
}

// ServerConfig controls how MCP clients reach the server.
type ServerConfig struct {
	Transport      string   `yaml:"transport"` // "stdio" or "http"
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuditConfig controls the optional Kafka audit trail of tool calls.
type AuditConfig struct {
	Enabled           bool     `yaml:"enabled"`
	Brokers           []string `yaml:"brokers"`
	Topic             string   `yaml:"topic"`
	SchemaRegistryURL string   `yaml:"schema_registry_url"`
	RegistryUsername  string   `yaml:"schema_registry_username"`
	RegistryPassword  string   `yaml:"schema_registry_password"`
	Partitioner       string   `yaml:"partitioner"` // "resource", "tool", "round_robin" or "field_based"
	PartitionFields   []string `yaml:"partition_key_fields"`
	PublishTimeout    Duration `yaml:"publish_timeout"`
	QueueSize         int      `yaml:"queue_size"`
}

// ObservabilityConfig controls the metrics/health HTTP server. An empty Addr
// disables it in stdio mode.
type ObservabilityConfig struct {
	Addr string `yaml:"addr"`
}

// Duration is a time.Duration that unmarshals from YAML strings like "500ms" or "30s".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = dur
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// LoadOption overrides a configuration value after the file and environment
// have been read, before defaults and validation run.
type LoadOption func(*Config)

// WithTransport forces the server transport.
func WithTransport(transport string) LoadOption {
	return func(c *Config) {
		if transport != "" {
			c.Server.Transport = transport
		}
	}
}

// WithAddr forces the HTTP listen address.
func WithAddr(addr string) LoadOption {
	return func(c *Config) {
		if addr != "" {
			c.Server.Addr = addr
		}
	}
}

// Load reads a YAML config file, expands environment variables, applies
// overrides and defaults, and validates. An empty path skips the file and
// builds the configuration from the environment alone.
func Load(path string, opts ...LoadOption) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand ${VAR} and $VAR references in the YAML.
		expanded := os.ExpandEnv(string(data))

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config YAML: %w", err)
		}
	}

	applyEnv(cfg)
	for _, opt := range opts {
		opt(cfg)
	}
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyEnv lets the conventional environment variables win over the file.
func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("FRIHET_API_KEY")); v != "" {
		cfg.Frihet.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("FRIHET_API_URL")); v != "" {
		cfg.Frihet.BaseURL = v
	}
}

// applyDefaults sets default values for unset fields.
func applyDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	srv := &cfg.Server
	if srv.Transport == "" {
		srv.Transport = TransportStdio
	}
	srv.Transport = strings.ToLower(srv.Transport)
	if srv.Addr == "" {
		srv.Addr = ":8787"
	}
	if len(srv.AllowedOrigins) == 0 {
		srv.AllowedOrigins = []string{
			"https://claude.ai",
			"https://app.frihet.io",
			"https://frihet.io",
			"https://cursor.sh",
			"https://www.cursor.sh",
		}
	}

	fr := &cfg.Frihet
	fr.APIKey = strings.TrimSpace(fr.APIKey)
	if fr.BaseURL == "" {
		fr.BaseURL = DefaultBaseURL
	}
	if fr.Timeout.Duration == 0 {
		if srv.Transport == TransportHTTP {
			fr.Timeout.Duration = DefaultHTTPTimeout
		} else {
			fr.Timeout.Duration = DefaultStdioTimeout
		}
	}
	if fr.MaxRetries == nil {
		defaultRetries := 3
		fr.MaxRetries = &defaultRetries
	}
	if fr.RetryBackoff.Duration == 0 {
		fr.RetryBackoff.Duration = time.Second
	}
	if fr.MaxRetryWait == nil {
		fr.MaxRetryWait = &Duration{Duration: DefaultMaxRetryWait}
	}

	au := &cfg.Audit
	if au.Topic == "" {
		au.Topic = "frihet.tool_calls"
	}
	if au.Partitioner == "" {
		au.Partitioner = "resource"
	}
	if au.PublishTimeout.Duration == 0 {
		au.PublishTimeout.Duration = 5 * time.Second
	}
	if au.QueueSize == 0 {
		au.QueueSize = 256
	}

	if cfg.Observability.Addr == "" && srv.Transport == TransportHTTP {
		cfg.Observability.Addr = ":9090"
	}
}

// validate checks that all required fields are present and valid.
func validate(cfg *Config) error {
	var errs []error

	// Server
	switch cfg.Server.Transport {
	case TransportStdio, TransportHTTP:
	default:
		errs = append(errs, fmt.Errorf("server.transport must be 'stdio' or 'http', got %q", cfg.Server.Transport))
	}

	// Frihet. Over HTTP every caller brings its own key.
	if cfg.Frihet.APIKey == "" && cfg.Server.Transport == TransportStdio {
		errs = append(errs, errors.New("frihet.api_key is required (set FRIHET_API_KEY)"))
	}
	if u, err := url.Parse(cfg.Frihet.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("frihet.base_url is not a valid URL: %s", cfg.Frihet.BaseURL))
	}
	if cfg.Frihet.Timeout.Duration < 0 {
		errs = append(errs, errors.New("frihet.timeout must not be negative"))
	}
	if n := cfg.Frihet.MaxRetriesValue(); n < 0 || n > MaxRetriesLimit {
		errs = append(errs, fmt.Errorf("frihet.max_retries must be between 0 and %d, got %d", MaxRetriesLimit, n))
	}
	if cfg.Frihet.MaxRetryWaitValue() < 0 {
		errs = append(errs, errors.New("frihet.max_retry_wait must not be negative"))
	}
	if cfg.Frihet.RateLimitRPS < 0 {
		errs = append(errs, errors.New("frihet.rate_limit_rps must not be negative"))
	}

	// Audit
	if cfg.Audit.Enabled {
		if len(cfg.Audit.Brokers) == 0 {
			errs = append(errs, errors.New("audit.brokers must contain at least one broker when audit is enabled"))
		}
		if cfg.Audit.SchemaRegistryURL != "" {
			if u, err := url.Parse(cfg.Audit.SchemaRegistryURL); err != nil || u.Scheme == "" {
				errs = append(errs, fmt.Errorf("audit.schema_registry_url is not a valid URL: %s", cfg.Audit.SchemaRegistryURL))
			}
		}
	}
	switch cfg.Audit.Partitioner {
	case "resource", "tool", "round_robin":
	case "field_based":
		if len(cfg.Audit.PartitionFields) == 0 {
			errs = append(errs, errors.New("audit.partition_key_fields is required for the field_based partitioner"))
		}
	default:
		errs = append(errs, fmt.Errorf("audit.partitioner must be 'resource', 'tool', 'round_robin' or 'field_based', got %q", cfg.Audit.Partitioner))
	}
	if cfg.Audit.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("audit.queue_size must not be negative, got %d", cfg.Audit.QueueSize))
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log_level must be debug, info, warn or error, got %q", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
