package websearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rhuss/chatrelay/pkg/api"
	"github.com/rhuss/chatrelay/pkg/tools/registry"
)

func newSearXNGServer(t *testing.T, status int, results []map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("format") != "json" {
			t.Errorf("unexpected request %s", r.URL)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"results": results})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSearXNG_Search(t *testing.T) {
	srv := newSearXNGServer(t, http.StatusOK, []map[string]string{
		{"title": "<b>Go</b> Programming", "url": "https://go.dev", "content": "The <em>Go</em> language"},
		{"title": "Go Tour", "url": "https://go.dev/tour", "content": "A tour of Go"},
		{"title": "Go Docs", "url": "https://go.dev/doc", "content": "Documentation"},
	})

	results, err := NewSearXNG(srv.URL+"/").Search(context.Background(), "golang", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Title != "Go Programming" || results[0].Snippet != "The Go language" {
		t.Errorf("html not stripped: %+v", results[0])
	}
}

func TestSearXNG_Status(t *testing.T) {
	srv := newSearXNGServer(t, http.StatusBadGateway, nil)

	if _, err := NewSearXNG(srv.URL).Search(context.Background(), "x", 5); err == nil {
		t.Fatal("expected an error for status 502")
	}
}

func TestProvider_Execute(t *testing.T) {
	srv := newSearXNGServer(t, http.StatusOK, []map[string]string{
		{"title": "Go", "url": "https://go.dev", "content": "The Go language"},
	})
	down := newSearXNGServer(t, http.StatusInternalServerError, nil)

	tests := []struct {
		name      string
		url       string
		args      string
		wantError bool
		want      string
	}{
		{name: "results", url: srv.URL, args: `{"query":"golang"}`, want: "1. Go\n   URL: https://go.dev"},
		{name: "empty query", url: srv.URL, args: `{"query":"  "}`, wantError: true, want: "query must not be empty"},
		{name: "bad json", url: srv.URL, args: `{"query":`, wantError: true, want: "invalid arguments"},
		{name: "backend down", url: down.URL, args: `{"query":"golang"}`, wantError: true, want: "search failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(NewSearXNG(tt.url), 0)
			if err != nil {
				t.Fatal(err)
			}
			res, err := p.Execute(context.Background(), api.ToolCall{ID: "call_1", Name: ToolName, Arguments: tt.args})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.IsError != tt.wantError {
				t.Fatalf("IsError = %v, want %v (%v)", res.IsError, tt.wantError, res.Result)
			}
			if res.ToolCallID != "call_1" {
				t.Errorf("ToolCallID = %q", res.ToolCallID)
			}
			if out, _ := res.Result.(string); !strings.Contains(out, tt.want) {
				t.Errorf("result = %q, want it to contain %q", out, tt.want)
			}
		})
	}
}

func TestProvider_NoResults(t *testing.T) {
	srv := newSearXNGServer(t, http.StatusOK, nil)
	p, _ := New(NewSearXNG(srv.URL), 3)

	res, err := p.Execute(context.Background(), api.ToolCall{ID: "c", Name: ToolName, Arguments: `{"query":"nothing"}`})
	if err != nil {
		t.Fatal(err)
	}
	if res.Result != `No results found for "nothing".` {
		t.Errorf("result = %v", res.Result)
	}
}

func TestProvider_ThroughRegistry(t *testing.T) {
	srv := newSearXNGServer(t, http.StatusOK, nil)
	p, _ := New(NewSearXNG(srv.URL), 3)

	reg := registry.New()
	reg.Register(p)

	defs, err := reg.Definitions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 || defs[0].Name != ToolName {
		t.Fatalf("definitions = %+v", defs)
	}
	if !reg.CanExecute(ToolName) {
		t.Error("registry should route web_search")
	}
}

func TestNew_RequiresBackend(t *testing.T) {
	if _, err := New(nil, 5); err == nil {
		t.Fatal("expected error")
	}
}
