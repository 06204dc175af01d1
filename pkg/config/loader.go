package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rhuss/chatrelay/pkg/debug"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CHATRELAY_CONFIG env, ./chatrelay.yaml, /etc/chatrelay/config.yaml)
//  3. Legacy OPENWEBUI_* environment variables
//  4. CHATRELAY_* environment variables
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
		debug.Log("config", "loaded config file", "path", filePath)
	}

	applyLegacyEnv(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. CHATRELAY_CONFIG environment variable
// 3. ./chatrelay.yaml in the current directory
// 4. /etc/chatrelay/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("CHATRELAY_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"chatrelay.yaml", "/etc/chatrelay/config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyLegacyEnv maps the OPENWEBUI_* variables used by earlier
// deployments. CHATRELAY_* variables are applied afterwards and win.
func applyLegacyEnv(cfg *Config) {
	if v := os.Getenv("OPENWEBUI_BASE_API_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("OPENWEBUI_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("OPENWEBUI_DEFAULT_MODEL"); v != "" {
		cfg.Engine.DefaultModel = v
	}
}

// applyEnvOverrides maps CHATRELAY_* environment variables to config
// fields. Malformed numeric or duration values are reported rather than
// silently ignored.
func applyEnvOverrides(cfg *Config) error {
	setString(&cfg.Provider.BaseURL, "CHATRELAY_BASE_URL")
	setString(&cfg.Provider.APIKey, "CHATRELAY_API_KEY")
	setString(&cfg.Provider.Name, "CHATRELAY_PROVIDER")
	setString(&cfg.Engine.DefaultModel, "CHATRELAY_MODEL")
	setString(&cfg.Engine.SystemPrompt, "CHATRELAY_SYSTEM_PROMPT")
	setString(&cfg.Storage.Type, "CHATRELAY_STORAGE")
	setString(&cfg.Storage.Postgres.DSN, "CHATRELAY_POSTGRES_DSN")
	setString(&cfg.Tools.WebSearch.URL, "CHATRELAY_SEARXNG_URL")
	setString(&cfg.Logging.Level, "CHATRELAY_LOG_LEVEL")
	setString(&cfg.Logging.Debug, "CHATRELAY_DEBUG")

	var errs []error
	if err := setInt(&cfg.Engine.MaxSteps, "CHATRELAY_MAX_STEPS"); err != nil {
		errs = append(errs, err)
	}
	if err := setInt(&cfg.Storage.MaxSize, "CHATRELAY_STORAGE_SIZE"); err != nil {
		errs = append(errs, err)
	}
	if err := setInt(&cfg.Provider.MaxRetries, "CHATRELAY_MAX_RETRIES"); err != nil {
		errs = append(errs, err)
	}
	if err := setDuration(&cfg.Provider.Timeout, "CHATRELAY_TIMEOUT"); err != nil {
		errs = append(errs, err)
	}
	if v := os.Getenv("CHATRELAY_STRICT_FINISH_REASONS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATRELAY_STRICT_FINISH_REASONS: %w", err))
		} else {
			cfg.Provider.StrictFinishReasons = b
		}
	}

	// CHATRELAY_MCP_SERVERS: JSON array of MCP server configs.
	if v := os.Getenv("CHATRELAY_MCP_SERVERS"); v != "" {
		servers, err := parseMCPServersJSON(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATRELAY_MCP_SERVERS: %w", err))
		} else if len(servers) > 0 {
			cfg.MCP.Servers = servers
		}
	}

	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: invalid integer %q", key, v)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, v)
	}
	*dst = d
	return nil
}

// parseMCPServersJSON parses a JSON array of MCP server configurations.
func parseMCPServersJSON(jsonStr string) ([]MCPServerConfig, error) {
	var servers []MCPServerConfig
	if err := json.Unmarshal([]byte(jsonStr), &servers); err != nil {
		return nil, fmt.Errorf("parsing MCP servers JSON: %w", err)
	}
	return servers, nil
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. An inline value wins over its file reference.
func resolveFileReferences(cfg *Config) error {
	if cfg.Provider.APIKeyFile != "" {
		if cfg.Provider.APIKey != "" {
			slog.Warn("provider.api_key is set, ignoring provider.api_key_file")
		} else {
			val, err := readSecretFile(cfg.Provider.APIKeyFile)
			if err != nil {
				return fmt.Errorf("provider.api_key_file: %w", err)
			}
			cfg.Provider.APIKey = val
		}
	}

	if cfg.Storage.Postgres.DSNFile != "" && cfg.Storage.Postgres.DSN == "" {
		val, err := readSecretFile(cfg.Storage.Postgres.DSNFile)
		if err != nil {
			return fmt.Errorf("storage.postgres.dsn_file: %w", err)
		}
		cfg.Storage.Postgres.DSN = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
