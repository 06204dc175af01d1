// Package websearch provides the web_search function tool.
package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/debug"
	"github.com/rhuss/chatrelay/pkg/tools/registry"
)

// ToolName is the name the model uses to call the tool.
const ToolName = "web_search"

// DefaultMaxResults applies when Provider is created with maxResults <= 0.
const DefaultMaxResults = 5

var parameters = json.RawMessage(`{"type":"object","properties":{"query":{"type":"string","description":"Search query"}},"required":["query"]}`)

var (
	queries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatrelay_websearch_queries_total",
			Help: "Total web search queries",
		},
		[]string{"status"},
	)

	resultsReturned = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatrelay_websearch_results_returned",
			Help:    "Number of web search results returned",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)
)

func init() {
	prometheus.MustRegister(queries, resultsReturned)
}

// Provider is a registry.FunctionProvider that answers web_search calls
// from a search Backend.
type Provider struct {
	backend    Backend
	maxResults int
}

var _ registry.FunctionProvider = (*Provider)(nil)

// New creates a Provider.
func New(backend Backend, maxResults int) (*Provider, error) {
	if backend == nil {
		return nil, errors.New("web_search: backend is required")
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Provider{backend: backend, maxResults: maxResults}, nil
}

func (p *Provider) Name() string                { return ToolName }
func (p *Provider) CanExecute(name string) bool { return name == ToolName }
func (p *Provider) Close() error                { return nil }

func (p *Provider) Tools() []api.ToolDefinition {
	return []api.ToolDefinition{{
		Name:        ToolName,
		Description: "Search the web for current information",
		Parameters:  parameters,
	}}
}

// Execute runs the search. Bad arguments and backend failures become error
// results so the model can react to them.
func (p *Provider) Execute(ctx context.Context, call api.ToolCall) (*api.ToolResult, error) {
	fail := func(msg string) *api.ToolResult {
		queries.WithLabelValues("error").Inc()
		return &api.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: msg, IsError: true}
	}

	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
		return fail(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return fail("query must not be empty"), nil
	}

	debug.Log("tools", "web search", "query", query, "limit", p.maxResults)
	results, err := p.backend.Search(ctx, query, p.maxResults)
	if err != nil {
		return fail(fmt.Sprintf("search failed: %v", err)), nil
	}

	queries.WithLabelValues("success").Inc()
	resultsReturned.Observe(float64(len(results)))

	return &api.ToolResult{ToolCallID: call.ID, Name: call.Name, Result: format(query, results)}, nil
}

func format(query string, results []Result) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&b, "\n%d. %s\n   URL: %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String()
}
