package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rhuss/chatrelay/pkg/api"
)

var askFlags struct {
	stream      bool
	model       string
	system      string
	maxSteps    int
	noTools     bool
	toolChoice  string
	temperature float64
	maxTokens   int
	jsonOut     bool
	plain       bool
}

var askCmd = &cobra.Command{
	Use:   "ask [prompt...]",
	Short: "Send a prompt and print the answer",
	Long: `Send a prompt and print the answer.

The prompt is taken from the arguments, or from stdin when no arguments are
given. Tools requested by the model are executed and their results sent
back until the model answers or --max-steps rounds have been made.`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVarP(&askFlags.stream, "stream", "s", false, "Stream the answer as it is generated")
	askCmd.Flags().StringVarP(&askFlags.model, "model", "m", "", "Model to use (default: engine.default_model)")
	askCmd.Flags().StringVar(&askFlags.system, "system", "", "System prompt (default: engine.system_prompt)")
	askCmd.Flags().IntVar(&askFlags.maxSteps, "max-steps", 0, "Maximum rounds including tool continuations (default: engine.max_steps)")
	askCmd.Flags().BoolVar(&askFlags.noTools, "no-tools", false, "Do not offer any tools to the model")
	askCmd.Flags().StringVar(&askFlags.toolChoice, "tool-choice", "", "Tool choice for the first round: auto, none, required or a tool name")
	askCmd.Flags().Float64Var(&askFlags.temperature, "temperature", -1, "Sampling temperature (default: backend default)")
	askCmd.Flags().IntVar(&askFlags.maxTokens, "max-tokens", 0, "Completion token limit per round (default: backend default)")
	askCmd.Flags().BoolVar(&askFlags.jsonOut, "json", false, "Print events (with --stream) or the response as JSON")
	askCmd.Flags().BoolVar(&askFlags.plain, "plain", false, "Disable markdown rendering")
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	prompt, err := readPrompt(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	s, err := openSession(ctx, !askFlags.noTools)
	if err != nil {
		return err
	}
	defer s.Close()

	conv := buildConversation(cmd, prompt)
	if !askFlags.noTools {
		defs, err := s.engine.ToolDefinitions(ctx)
		if err != nil {
			return fmt.Errorf("listing tools: %w", err)
		}
		conv.Tools = append(conv.Tools, defs...)
	}

	out := cmd.OutOrStdout()
	if askFlags.stream {
		return streamAnswer(cmd, s, conv, out)
	}

	resp, err := s.engine.Text(ctx, conv)
	if err != nil {
		return err
	}
	if askFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	r := newRenderer(out, askFlags.plain)
	for _, step := range resp.Steps {
		for i, call := range step.ToolCalls {
			r.toolCall(call)
			if i < len(step.ToolResults) {
				r.toolResult(step.ToolResults[i])
			}
		}
	}
	r.markdown(resp.Text())
	r.usage(resp.FinishReason(), resp.Usage())
	return nil
}

func streamAnswer(cmd *cobra.Command, s *session, conv *api.Conversation, out io.Writer) error {
	if askFlags.jsonOut {
		enc := json.NewEncoder(out)
		for ev, err := range s.engine.Stream(cmd.Context(), conv) {
			if err != nil {
				return err
			}
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}

	// Deltas are printed raw, markdown rendering needs the whole text.
	r := newRenderer(out, askFlags.plain)
	var lineOpen bool
	for ev, err := range s.engine.Stream(cmd.Context(), conv) {
		if err != nil {
			if lineOpen {
				fmt.Fprintln(out)
			}
			return err
		}
		switch ev.Type {
		case api.EventTextDelta:
			fmt.Fprint(out, ev.Delta)
			lineOpen = !strings.HasSuffix(ev.Delta, "\n")
		case api.EventToolCall:
			if lineOpen {
				fmt.Fprintln(out)
				lineOpen = false
			}
			r.toolCall(*ev.ToolCall)
		case api.EventToolResult:
			r.toolResult(*ev.ToolResult)
		case api.EventStreamEnd:
			if lineOpen {
				fmt.Fprintln(out)
				lineOpen = false
			}
			var u api.Usage
			if ev.Usage != nil {
				u = *ev.Usage
			}
			r.usage(ev.FinishReason, u)
		}
	}
	return nil
}

func buildConversation(cmd *cobra.Command, prompt string) *api.Conversation {
	conv := &api.Conversation{
		Model:    askFlags.model,
		MaxSteps: askFlags.maxSteps,
	}

	system := askFlags.system
	if system == "" {
		system = cfg.Engine.SystemPrompt
	}
	if system != "" {
		conv.SystemPrompts = []api.Message{api.NewSystemMessage(system)}
	}

	if cmd.Flags().Changed("temperature") {
		t := askFlags.temperature
		conv.Temperature = &t
	}
	if askFlags.maxTokens > 0 {
		n := askFlags.maxTokens
		conv.MaxTokens = &n
	}

	switch askFlags.toolChoice {
	case "":
	case string(api.ToolChoiceAuto), string(api.ToolChoiceNone), string(api.ToolChoiceRequired):
		conv.ToolChoice = &api.ToolChoice{Mode: api.ToolChoiceMode(askFlags.toolChoice)}
	default:
		conv.ToolChoice = &api.ToolChoice{Mode: api.ToolChoiceFunction, Name: askFlags.toolChoice}
	}

	conv.AddMessage(api.NewUserMessage(prompt))
	return conv
}

// readPrompt joins the arguments, or reads stdin when there are none and
// stdin is not a terminal.
func readPrompt(args []string, in io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", fmt.Errorf("no prompt given")
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("reading prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", fmt.Errorf("no prompt given")
	}
	return prompt, nil
}
