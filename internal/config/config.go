// Package config loads the agent loop runtime's process-wide
// configuration from a YAML document with environment-variable
// expansion: storage location, provider credentials, round and
// concurrency bounds, and logging.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document, loaded from a single YAML
// file (conventionally agentloopd.yaml).
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Loop    LoopConfig    `yaml:"loop"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the transport-facing process.
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`

	// StorageBackend selects the event log store implementation:
	// "file" (default, one JSON snapshot plus JSONL journal per
	// session) or "sqlite" (a single database file under DataDir).
	StorageBackend string `yaml:"storage_backend"`
}

// LLMConfig selects and configures the provider adapter.
type LLMConfig struct {
	// Provider selects which adapter to construct: "anthropic" or
	// "openai".
	Provider  string              `yaml:"provider"`
	Anthropic ProviderCredentials `yaml:"anthropic"`
	OpenAI    ProviderCredentials `yaml:"openai"`
}

// ProviderCredentials is the shared shape for any provider's
// credentials and defaults.
type ProviderCredentials struct {
	APIKey       string        `yaml:"api_key"`
	DefaultModel string        `yaml:"default_model"`
	BaseURL      string        `yaml:"base_url"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	MaxTokens    int           `yaml:"max_tokens"`
}

// LoopConfig configures the Scheduler and its collaborators: round
// bounds, dispatcher concurrency and timeout, broadcaster buffer size,
// and the per-session write-lock timeout.
type LoopConfig struct {
	MaxRounds          int           `yaml:"max_rounds"`
	ToolConcurrency    int           `yaml:"tool_concurrency"`
	ToolTimeout        time.Duration `yaml:"tool_timeout"`
	InlineBudgetTokens int           `yaml:"inline_budget_tokens"`
	BroadcastBuffer    int           `yaml:"broadcast_buffer"`
	LockTimeout        time.Duration `yaml:"lock_timeout"`
}

// LoggingConfig configures the slog handler cmd/agentloopd installs.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns a Config with every field set to its documented
// default.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "127.0.0.1", Port: 8787, DataDir: "./data", StorageBackend: "file"},
		LLM:    LLMConfig{Provider: "anthropic"},
		Loop: LoopConfig{
			MaxRounds:          50,
			ToolConcurrency:    4,
			ToolTimeout:        2 * time.Minute,
			InlineBudgetTokens: 1000,
			BroadcastBuffer:    100,
			LockTimeout:        5 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// NewLogger builds a *slog.Logger from cfg: Format "json" installs
// slog.NewJSONHandler, anything else installs slog.NewTextHandler; an
// unrecognized Level falls back to slog.LevelInfo.
func (cfg LoggingConfig) NewLogger() *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// Load reads and parses the YAML document at path, expanding ${VAR}
// environment references before parsing, then overlays it onto
// Default() so an incomplete document still yields valid settings.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := Default()
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
