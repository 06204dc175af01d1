package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/tools/registry"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools offered to the model",
	Args:  cobra.NoArgs,
	RunE:  runTools,
}

func runTools(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), true)
	if err != nil {
		return err
	}
	defer s.Close()

	defs, err := s.engine.ToolDefinitions(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, d := range defs {
		fmt.Fprintf(out, "%-20s %s\n", d.Name, d.Description)
	}
	local := s.tools.functions.Len()
	fmt.Fprintf(out, "\n%d function tools, %d from MCP servers\n", local, len(defs)-local)
	return nil
}

// builtinTools are always available, independent of MCP servers.
func builtinTools() *registry.FunctionSet {
	return registry.NewFunctionSet("builtin",
		registry.Function{
			Definition: api.ToolDefinition{
				Name:        "current_time",
				Description: "Current date and time, optionally in an IANA time zone",
				Parameters: json.RawMessage(`{"type":"object","properties":{` +
					`"timezone":{"type":"string","description":"IANA zone such as Europe/Berlin"}}}`),
			},
			Handler: currentTime,
		},
		registry.Function{
			Definition: api.ToolDefinition{
				Name:        "word_count",
				Description: "Count the words and characters of a text",
				Parameters: json.RawMessage(`{"type":"object","properties":{` +
					`"text":{"type":"string"}},"required":["text"]}`),
			},
			Handler: wordCount,
		},
	)
}

func currentTime(_ context.Context, args map[string]any) (any, error) {
	now := time.Now()
	if tz, _ := args["timezone"].(string); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("unknown time zone %q", tz)
		}
		now = now.In(loc)
	}
	return map[string]any{
		"time":     now.Format(time.RFC3339),
		"timezone": now.Location().String(),
	}, nil
}

func wordCount(_ context.Context, args map[string]any) (any, error) {
	text, ok := args["text"].(string)
	if !ok {
		return nil, fmt.Errorf("text is required")
	}
	return map[string]int{
		"words":      len(strings.Fields(text)),
		"characters": len([]rune(text)),
	}, nil
}
