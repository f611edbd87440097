// Command agentgateway serves a /chat endpoint backed by a tool-calling
// agent. Tools are discovered at startup from MCP servers declared in a
// JSON config and launched over stdio; the AGENT_ENABLE_MCP gate turns
// the whole tool subsystem off, leaving a plain chat proxy.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cgthayer/agentgateway/pkg/agent"
	"github.com/cgthayer/agentgateway/pkg/httpapi"
	"github.com/cgthayer/agentgateway/pkg/toolhost"
)

func main() {
	// Load .env if present; real environment variables take precedence.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	}))
	slog.SetDefault(logger)

	cfg := LoadConfig()
	if cfg.APIKey == "" {
		logger.Warn("no API key configured; /chat will fail until AGENT_API_KEY is set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := toolhost.NewRegistry()
	if cfg.EnableMCP {
		host, err := startToolHost(ctx, cfg, logger)
		if err != nil {
			logger.Error("tool host startup failed", "error", err)
			os.Exit(1)
		}
		defer func() { _ = host.Close() }()
		registry = host.Registry()
	} else {
		logger.Info("tool integration disabled", "gate", "AGENT_ENABLE_MCP")
	}

	ag := agent.New(registry, agent.Options{
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Model:       cfg.Model,
		MaxSteps:    cfg.MaxSteps,
		Temperature: float32(cfg.Temperature),
		Logger:      logger.With("component", "agent"),
	})

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: httpapi.New(httpapi.Options{
			Agent:  ag,
			Logger: logger.With("component", "http"),
		}),
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("agent gateway listening", "addr", cfg.Addr, "model", cfg.Model, "tools", registry.Len())

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			os.Exit(1)
		}
	}
}

// startToolHost wires the supervisor and host and connects every
// enabled server. Individual server failures are logged inside
// Connect and do not abort startup; only a malformed config does.
func startToolHost(ctx context.Context, cfg Config, logger *slog.Logger) (*toolhost.Host, error) {
	descs, err := toolhost.LoadServers(cfg.ServersFile)
	if err != nil {
		return nil, err
	}

	sup := toolhost.NewSupervisor(&toolhost.SupervisorOptions{
		Logger: logger.With("component", "supervisor"),
	})
	if err := sup.Start(); err != nil {
		return nil, err
	}

	host, err := toolhost.NewHost(sup, descs, &toolhost.HostOptions{
		Logger:         logger.With("component", "toolhost"),
		ClientName:     "agentgateway",
		StartupTimeout: cfg.StartupTimeout,
		ServerTimeout:  cfg.ServerTimeout,
		CallTimeout:    cfg.CallTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := host.Connect(ctx); err != nil {
		return nil, err
	}
	return host, nil
}

func logLevel() slog.Level {
	switch strings.ToLower(os.Getenv("AGENT_LOG_LEVEL")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
