package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/rhuss/chatrelay/pkg/config"
	"github.com/rhuss/chatrelay/pkg/engine"
	"github.com/rhuss/chatrelay/pkg/provider/openaicompat"
	"github.com/rhuss/chatrelay/pkg/storage"
	"github.com/rhuss/chatrelay/pkg/storage/memory"
	"github.com/rhuss/chatrelay/pkg/storage/postgres"
	"github.com/rhuss/chatrelay/pkg/tools"
	"github.com/rhuss/chatrelay/pkg/tools/mcp"
	"github.com/rhuss/chatrelay/pkg/tools/registry"
	"github.com/rhuss/chatrelay/pkg/tools/websearch"
)

// loadDotEnv loads path, or else the nearest .env walking up from the
// working directory. Variables already set in the environment win.
func loadDotEnv(path string) {
	if path != "" {
		if err := godotenv.Load(path); err != nil {
			slog.Warn("failed to load env file", "path", path, "error", err)
		}
		return
	}

	dir, err := os.Getwd()
	if err != nil {
		return
	}
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

// newClient builds the Chat Completions client from the provider section.
func newClient(c config.ProviderConfig) *openaicompat.Client {
	return openaicompat.NewClient(openaicompat.Config{
		BaseURL:             c.BaseURL,
		APIKey:              c.APIKey,
		Name:                c.Name,
		Timeout:             c.Timeout,
		StreamTimeout:       c.StreamTimeout,
		MaxRetries:          c.MaxRetries,
		RetryDelay:          c.RetryDelay,
		DisableStreamUsage:  c.DisableStreamUsage,
		StrictFinishReasons: c.StrictFinishReasons,
		Idle: openaicompat.IdlePolicy{
			SkipThreshold: c.IdleSkipThreshold,
			Delay:         c.IdleDelay,
		},
		Headers: c.Headers,
	})
}

// newStore opens the configured response store. It returns nil for
// storage type "none".
func newStore(ctx context.Context, c config.StorageConfig) (storage.ResponseStore, error) {
	switch c.Type {
	case "memory":
		return memory.New(c.MaxSize), nil
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:            c.Postgres.DSN,
			MaxConns:       c.Postgres.MaxConns,
			MigrateOnStart: c.Postgres.MigrateOnStart,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, nil
	}
}

// toolSources holds the executors offered to the engine and closes them.
type toolSources struct {
	functions *registry.FunctionRegistry
	mcp       *mcp.Executor
}

// newToolSources registers the built-in function tools and connects the
// configured MCP servers. An unreachable MCP setup is logged and skipped
// so the command still works without remote tools.
func newToolSources(ctx context.Context, tc config.ToolsConfig, c config.MCPConfig) *toolSources {
	ts := &toolSources{functions: registry.New()}
	ts.functions.Register(builtinTools())

	if tc.WebSearch.URL != "" {
		ws, err := websearch.New(websearch.NewSearXNG(tc.WebSearch.URL), tc.WebSearch.MaxResults)
		if err != nil {
			slog.Warn("web search unavailable", "error", err)
		} else {
			ts.functions.Register(ws)
		}
	}

	if len(c.Servers) == 0 {
		return ts
	}
	servers := make([]mcp.ServerConfig, 0, len(c.Servers))
	for _, s := range c.Servers {
		servers = append(servers, mcp.ServerConfig{
			Name:      s.Name,
			Transport: s.Transport,
			URL:       s.URL,
			Headers:   s.Headers,
		})
	}
	exec, err := mcp.Connect(ctx, mcp.Config{Servers: servers})
	if err != nil {
		slog.Warn("MCP tools unavailable", "error", err)
		return ts
	}
	ts.mcp = exec
	return ts
}

func (ts *toolSources) executors() []tools.ToolExecutor {
	execs := []tools.ToolExecutor{ts.functions}
	if ts.mcp != nil {
		execs = append(execs, ts.mcp)
	}
	return execs
}

func (ts *toolSources) Close() error {
	var errs []error
	errs = append(errs, ts.functions.Close())
	if ts.mcp != nil {
		errs = append(errs, ts.mcp.Close())
	}
	return errors.Join(errs...)
}

// session bundles everything a command needs to run requests.
type session struct {
	client *openaicompat.Client
	store  storage.ResponseStore
	tools  *toolSources
	engine *engine.Engine
}

// openSession wires client, store, tools and engine from cfg. withTools
// controls whether tool sources are connected at all.
func openSession(ctx context.Context, withTools bool) (*session, error) {
	s := &session{client: newClient(cfg.Provider)}

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		s.client.Close()
		return nil, err
	}
	s.store = store

	var execs []tools.ToolExecutor
	if withTools {
		s.tools = newToolSources(ctx, cfg.Tools, cfg.MCP)
		execs = s.tools.executors()
	}

	s.engine, err = engine.New(s.client, s.store, engine.Config{
		DefaultModel: cfg.Engine.DefaultModel,
		MaxSteps:     cfg.Engine.MaxSteps,
		Executors:    execs,
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() {
	if s.tools != nil {
		if err := s.tools.Close(); err != nil {
			slog.Warn("closing tools", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Warn("closing store", "error", err)
		}
	}
	s.client.Close()
}
