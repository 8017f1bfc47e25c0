// Frihet ERP MCP Server
//
// A standalone Go binary that exposes the Frihet ERP REST API to MCP
// clients (Claude, Cursor, ...) as 31 tools:
//
//	MCP client  →  stdio or streamable HTTP  →  tools  →  Frihet REST API
//
// # Usage
//
//	frihet-mcp [flags]
//
//	Flags:
//	  --config string      Path to config YAML file (optional; env only when empty)
//	  --transport string   "stdio" (default) or "http"
//	  --addr string        HTTP listen address (default ":8787")
//	  --version            Print version information and exit
//
// # Architecture
//
// The server starts the following components based on configuration:
//
//  1. Observability server (HTTP mode, or when configured): /healthz, /readyz, /metrics
//  2. Audit recorder (if enabled): tool-call events to Kafka
//  3. The MCP transport: stdio with the process-wide API key, or the HTTP
//     front door with a key per request
//
// All components are managed via errgroup. In HTTP mode the config file is
// watched and the server restarts when it changes.
//
// # Signal Handling
//
//	SIGINT/SIGTERM → Cancel context → Transport stops → Audit queue flushed → Exit
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	mcpserver "github.com/mark3labs/mcp-go/server"
	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/frihet-io/frihet-mcp/internal/audit"
	"github.com/frihet-io/frihet-mcp/internal/config"
	"github.com/frihet-io/frihet-mcp/internal/frihet"
	"github.com/frihet-io/frihet-mcp/internal/observability"
	"github.com/frihet-io/frihet-mcp/internal/server"
	"github.com/frihet-io/frihet-mcp/internal/tools"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

type flags struct {
	configPath string
	transport  string
	addr       string
}

func (f flags) loadOptions() []config.LoadOption {
	return []config.LoadOption{config.WithTransport(f.transport), config.WithAddr(f.addr)}
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "", "Path to configuration YAML file")
	flag.StringVar(&f.transport, "transport", "", "MCP transport: stdio or http")
	flag.StringVar(&f.addr, "addr", "", "HTTP listen address (http transport)")
	showVersion := flag.Bool("version", false, "Print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("frihet-mcp %s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// stdout carries the stdio protocol, so logs always go to stderr.
	logger := newLogger("info")
	slog.SetDefault(logger)

	cfg, err := config.Load(f.configPath, f.loadOptions()...)
	if err != nil {
		logger.Error("failed to load configuration", "path", f.configPath, "error", err)
		os.Exit(1)
	}
	logger = newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting frihet-mcp",
		"version", version,
		"commit", commit,
		"build_date", buildDate,
		"transport", cfg.Server.Transport,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Hot reload only makes sense for the long-running HTTP server.
	reloadCh := make(chan struct{}, 1)
	if cfg.Server.Transport == config.TransportHTTP && f.configPath != "" {
		go watchConfig(ctx, f.configPath, reloadCh, logger)
	}

	for {
		runCtx, runCancel := context.WithCancel(ctx)

		errCh := make(chan error, 1)
		go func() {
			errCh <- run(runCtx, f, logger)
		}()

		select {
		case sig := <-sigCh:
			logger.Info("received shutdown signal", "signal", sig)
			runCancel()
			cancel()
			<-errCh
			logger.Info("shutdown complete")
			return
		case <-reloadCh:
			logger.Info("reloading configuration...")
			runCancel()
			if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("previous run exited with error on reload", "error", err)
			}
			logger.Info("restarting with new configuration")
		case err := <-errCh:
			runCancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("server exited with error", "error", err)
				os.Exit(1)
			}
			logger.Info("shutdown complete")
			return
		}
	}
}

func newLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// watchConfig uses fsnotify to watch the config file for changes.
func watchConfig(ctx context.Context, path string, reloadCh chan<- struct{}, logger *slog.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create config watcher", "error", err)
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(path); err != nil {
		logger.Error("failed to watch config file", "path", path, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Some editors replace the file instead of writing it.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				logger.Info("config file changed", "event", event.Name)
				select {
				case reloadCh <- struct{}{}:
				default:
					// already has a reload queued
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("config watcher error", "error", err)
		}
	}
}

// run loads the configuration, wires the components and runs them via
// errgroup until ctx is cancelled or the transport stops.
func run(ctx context.Context, f flags, logger *slog.Logger) error {
	cfg, err := config.Load(f.configPath, f.loadOptions()...)
	if err != nil {
		return fmt.Errorf("loading configuration from %q: %w", f.configPath, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(ctx)

	// 1. Observability server.
	var obsSrv *observability.Server
	if cfg.Observability.Addr != "" {
		obsSrv = observability.NewServer(cfg.Observability.Addr, logger)
		defer obsSrv.SetReady(false)
		g.Go(func() error {
			return obsSrv.Start(gCtx)
		})
	}

	// 2. Audit recorder.
	var recorder audit.Recorder = audit.Nop{}
	if cfg.Audit.Enabled {
		kr, closeProducer, err := audit.NewFromConfig(ctx, cfg.Audit, logger)
		if err != nil {
			return fmt.Errorf("initializing audit trail: %w", err)
		}
		defer closeProducer()
		recorder = kr
		g.Go(func() error {
			return kr.Run(gCtx)
		})
		logger.Info("audit trail enabled", "topic", cfg.Audit.Topic, "partitioner", cfg.Audit.Partitioner)
	}

	// 3. Default API client, used when a call brings no key of its own.
	var defaultAPI frihet.API
	if cfg.Frihet.APIKey != "" {
		client, err := frihet.NewClientFromConfig(cfg.Frihet, logger)
		if err != nil {
			return fmt.Errorf("creating Frihet client: %w", err)
		}
		defaultAPI = client
	}

	ts, err := tools.New(defaultAPI, logger, tools.WithRecorder(recorder))
	if err != nil {
		return fmt.Errorf("building tools: %w", err)
	}

	// 4. MCP transport. When it stops the whole run stops.
	switch cfg.Server.Transport {
	case config.TransportStdio:
		stdio := mcpserver.NewStdioServer(server.NewMCPServer(version, ts))
		stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
		g.Go(func() error {
			defer cancel()
			err := stdio.Listen(gCtx, os.Stdin, os.Stdout)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	case config.TransportHTTP:
		httpSrv := server.NewServer(cfg.Server, version, ts, apiFactory(cfg.Frihet, logger), logger)
		g.Go(func() error {
			defer cancel()
			return httpSrv.Start(gCtx)
		})
	}

	if obsSrv != nil {
		obsSrv.SetReady(true)
	}
	logger.Info("frihet-mcp is ready",
		"transport", cfg.Server.Transport,
		"addr", cfg.Server.Addr,
		"tools", ts.Count(),
		"base_url", cfg.Frihet.BaseURL,
		"audit_enabled", cfg.Audit.Enabled,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// apiFactory builds one client per HTTP request, bound to the caller's key.
// All of them share a single connection pool.
func apiFactory(cfg config.FrihetConfig, logger *slog.Logger) server.APIFactory {
	hc := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return func(apiKey string) (frihet.API, error) {
		c := cfg
		c.APIKey = apiKey
		client, err := frihet.NewClientFromConfig(c, logger, frihet.WithHTTPClient(hc))
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}
