// Command chat talks to an OpenAI-compatible Chat Completions backend
// through the chatrelay engine. It streams or collects answers, runs local
// and MCP tools requested by the model, and browses stored responses.
//
// Configuration is read from chatrelay.yaml and CHATRELAY_* environment
// variables (see pkg/config). A .env file in the working directory or one
// of its parents is loaded first.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rhuss/chatrelay/pkg/config"
	"github.com/rhuss/chatrelay/pkg/debug"
)

// Version set via ldflags during build
var version = "dev"

var rootFlags struct {
	config  string
	envFile string
}

// cfg is populated by the root PersistentPreRunE before any subcommand runs.
var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "chat",
	Short:         "Chat with an OpenAI-compatible backend, with tool calling",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loadDotEnv(rootFlags.envFile)

		loaded, err := config.Load(rootFlags.config)
		if err != nil {
			return err
		}
		cfg = loaded

		debug.Init(debug.Options{
			Categories: cfg.Logging.Debug,
			Level:      cfg.Logging.Level,
			Format:     cfg.Logging.Format,
		})
		debug.Log("config", "configuration loaded",
			"base_url", cfg.Provider.BaseURL,
			"storage", cfg.Storage.Type,
			"mcp_servers", len(cfg.MCP.Servers),
			"debug", debug.Categories())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootFlags.config, "config", "c", "", "Config file (default: $CHATRELAY_CONFIG, ./chatrelay.yaml, /etc/chatrelay/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootFlags.envFile, "env-file", "", "Explicit .env file to load (default: nearest .env)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(toolsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
