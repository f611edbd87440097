package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all gateway configuration, loaded from environment
// variables (optionally seeded from a .env file).
type Config struct {
	// Server
	Addr string // HTTP listen address (default ":3000")

	// LLM
	APIKey      string // API key for the chat-completions endpoint
	BaseURL     string // OpenAI-compatible base URL (empty = api.openai.com)
	Model       string // Model identifier sent with every request
	MaxSteps    int    // Max model round-trips per request (default 20)
	Temperature float64

	// Tool servers
	EnableMCP      bool          // Feature gate; off = no subprocesses, empty registry
	ServersFile    string        // JSON list of server descriptors
	StartupTimeout time.Duration // Global window for connecting all servers
	ServerTimeout  time.Duration // Per-server launch+handshake+discovery bound
	CallTimeout    time.Duration // Default per-call deadline
}

// LoadConfig reads configuration from the environment.
func LoadConfig() Config {
	apiKey := os.Getenv("AGENT_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return Config{
		Addr:           envStr("AGENT_ADDR", ":3000"),
		APIKey:         apiKey,
		BaseURL:        os.Getenv("AGENT_API_BASE_URL"),
		Model:          envStr("AGENT_MODEL", "gpt-4o"),
		MaxSteps:       envInt("AGENT_MAX_STEPS", 20),
		Temperature:    0,
		EnableMCP:      envBool("AGENT_ENABLE_MCP"),
		ServersFile:    envStr("AGENT_MCP_SERVERS", "mcp_servers.json"),
		StartupTimeout: envDuration("AGENT_STARTUP_TIMEOUT", 60*time.Second),
		ServerTimeout:  envDuration("AGENT_SERVER_TIMEOUT", 20*time.Second),
		CallTimeout:    envDuration("AGENT_CALL_TIMEOUT", 30*time.Second),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envBool treats "1", "true", and "yes" (any case) as true.
func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
