// Package config provides unified configuration for chatrelay.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. YAML config file (discovered or explicitly specified)
//  3. Legacy OPENWEBUI_* environment variables
//  4. Environment variable overrides (CHATRELAY_ prefix)
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import "time"

// Config holds all configuration for chatrelay.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Engine   EngineConfig   `yaml:"engine"`
	Storage  StorageConfig  `yaml:"storage"`
	MCP      MCPConfig      `yaml:"mcp"`
	Tools    ToolsConfig    `yaml:"tools"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProviderConfig holds the Chat Completions backend settings.
type ProviderConfig struct {
	Name          string        `yaml:"name"`           // default: "openai-compatible"
	BaseURL       string        `yaml:"base_url"`       // required, without the /v1 suffix
	APIKey        string        `yaml:"api_key"`        // optional
	APIKeyFile    string        `yaml:"api_key_file"`   // _file variant for api_key
	Timeout       time.Duration `yaml:"timeout"`        // default: 30s
	StreamTimeout time.Duration `yaml:"stream_timeout"` // default: derived from timeout
	MaxRetries    int           `yaml:"max_retries"`    // default: 2
	RetryDelay    time.Duration `yaml:"retry_delay"`    // default: 1s

	StrictFinishReasons bool `yaml:"strict_finish_reasons"`
	DisableStreamUsage  bool `yaml:"disable_stream_usage"`

	IdleSkipThreshold int           `yaml:"idle_skip_threshold"` // default: 10
	IdleDelay         time.Duration `yaml:"idle_delay"`          // default: 100ms

	Headers map[string]string `yaml:"headers"`
}

// EngineConfig holds continuation loop settings.
type EngineConfig struct {
	DefaultModel string `yaml:"default_model"` // optional
	MaxSteps     int    `yaml:"max_steps"`     // default: 5
	SystemPrompt string `yaml:"system_prompt"` // optional
}

// StorageConfig holds response history settings.
type StorageConfig struct {
	Type     string         `yaml:"type"`     // "none", "memory" or "postgres", default: "memory"
	MaxSize  int            `yaml:"max_size"` // for memory store, default: 1000
	Postgres PostgresConfig `yaml:"postgres"`
}

// PostgresConfig holds PostgreSQL-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	DSNFile        string `yaml:"dsn_file"`         // _file variant for dsn
	MaxConns       int32  `yaml:"max_conns"`        // default: 10
	MigrateOnStart bool   `yaml:"migrate_on_start"` // default: true
}

// MCPConfig holds MCP (Model Context Protocol) server settings.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

// MCPServerConfig describes a single MCP server connection.
type MCPServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "sse" or "streamable-http"
	URL       string            `yaml:"url"`
	Headers   map[string]string `yaml:"headers"`
}

// ToolsConfig holds settings for the built-in function tools.
type ToolsConfig struct {
	WebSearch WebSearchConfig `yaml:"web_search"`
}

// WebSearchConfig enables the web_search tool when URL is set.
type WebSearchConfig struct {
	URL        string `yaml:"url"`         // SearXNG base URL
	MaxResults int    `yaml:"max_results"` // default: 5
}

// LoggingConfig holds slog and debug category settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // default: "INFO"
	Format string `yaml:"format"` // "text" or "json", default: "text"
	Debug  string `yaml:"debug"`  // comma-separated debug categories
}

// Defaults returns a Config with all default values filled in.
func Defaults() Config {
	return Config{
		Provider: ProviderConfig{
			Name:              "openai-compatible",
			Timeout:           30 * time.Second,
			MaxRetries:        2,
			RetryDelay:        time.Second,
			IdleSkipThreshold: 10,
			IdleDelay:         100 * time.Millisecond,
		},
		Engine: EngineConfig{
			MaxSteps: 5,
		},
		Storage: StorageConfig{
			Type:    "memory",
			MaxSize: 1000,
			Postgres: PostgresConfig{
				MaxConns:       10,
				MigrateOnStart: true,
			},
		},
		Tools: ToolsConfig{
			WebSearch: WebSearchConfig{MaxResults: 5},
		},
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
		},
	}
}
