package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/rhuss/chatrelay/pkg/api"
)

// renderer prints answers, using glamour markdown rendering when stdout
// is a terminal.
type renderer struct {
	out io.Writer
	md  *glamour.TermRenderer
}

func newRenderer(out io.Writer, plain bool) *renderer {
	r := &renderer{out: out}
	if plain {
		return r
	}
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return r
	}
	width := 100
	if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 20 && w < width {
		width = w
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err == nil {
		r.md = md
	}
	return r
}

// interactive reports whether output goes to a terminal.
func (r *renderer) interactive() bool {
	return r.md != nil
}

func (r *renderer) markdown(text string) {
	if r.md == nil || strings.TrimSpace(text) == "" {
		if text != "" {
			fmt.Fprintln(r.out, text)
		}
		return
	}
	out, err := r.md.Render(text)
	if err != nil {
		fmt.Fprintln(r.out, text)
		return
	}
	fmt.Fprint(r.out, out)
}

func (r *renderer) toolCall(call api.ToolCall) {
	if r.interactive() {
		fmt.Fprintf(r.out, "\033[36m▶ %s\033[0m \033[2m%s\033[0m\n", call.Name, call.Arguments)
		return
	}
	fmt.Fprintf(r.out, "[tool] %s %s\n", call.Name, call.Arguments)
}

func (r *renderer) toolResult(res api.ToolResult) {
	content, err := res.Content()
	if err != nil {
		content = err.Error()
	}
	content = truncate(content, 200)
	switch {
	case r.interactive() && res.IsError:
		fmt.Fprintf(r.out, "\033[31m✗ %s\033[0m\n", content)
	case r.interactive():
		fmt.Fprintf(r.out, "\033[2m← %s\033[0m\n", content)
	case res.IsError:
		fmt.Fprintf(r.out, "[tool error] %s\n", content)
	default:
		fmt.Fprintf(r.out, "[tool result] %s\n", content)
	}
}

func (r *renderer) usage(reason api.FinishReason, u api.Usage) {
	line := fmt.Sprintf("── %s · %d prompt + %d completion = %d tokens ──",
		reason, u.PromptTokens, u.CompletionTokens, u.Total())
	if r.interactive() {
		fmt.Fprintf(r.out, "\033[2m%s\033[0m\n", line)
		return
	}
	fmt.Fprintln(r.out, line)
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "…"
}
