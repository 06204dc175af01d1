package main

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type weatherInput struct {
	Location string `json:"location" jsonschema:"City name, e.g. Berlin"`
	Unit     string `json:"unit,omitempty" jsonschema:"celsius or fahrenheit"`
}

type weatherOutput struct {
	Location    string `json:"location"`
	Temperature int    `json:"temperature"`
	Unit        string `json:"unit"`
	Conditions  string `json:"conditions"`
}

type echoInput struct {
	Message string `json:"message" jsonschema:"The message to echo back"`
}

var conditions = []string{"sunny", "cloudy", "light rain", "windy", "foggy"}

// forecast derives stable pseudo weather from the location name.
func forecast(in weatherInput) weatherOutput {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(in.Location))))
	sum := h.Sum32()

	celsius := int(sum%30) - 5
	out := weatherOutput{
		Location:    in.Location,
		Temperature: celsius,
		Unit:        "celsius",
		Conditions:  conditions[int(sum/30)%len(conditions)],
	}
	if strings.EqualFold(in.Unit, "fahrenheit") {
		out.Temperature = celsius*9/5 + 32
		out.Unit = "fahrenheit"
	}
	return out
}

func newMCPServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "chatrelay-test-mcp", Version: "v1.0.0"}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_weather",
		Description: "Current weather for a location",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in weatherInput) (*mcp.CallToolResult, weatherOutput, error) {
		if in.Location == "" {
			return nil, weatherOutput{}, fmt.Errorf("location is required")
		}
		out := forecast(in)
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("%s: %d°%s, %s",
					out.Location, out.Temperature, strings.ToUpper(out.Unit[:1]), out.Conditions)},
			},
		}, out, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "echo",
		Description: "Echoes the provided message back",
	}, func(_ context.Context, _ *mcp.CallToolRequest, in echoInput) (*mcp.CallToolResult, any, error) {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: "Echo: " + in.Message}},
		}, nil, nil
	})

	return server
}

func routes(server *mcp.Server) http.Handler {
	getServer := func(*http.Request) *mcp.Server { return server }

	mux := http.NewServeMux()
	mux.Handle("/mcp", mcp.NewStreamableHTTPHandler(getServer, nil))
	mux.Handle("/sse", mcp.NewSSEHandler(getServer, nil))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok\n"))
	})
	return mux
}
