package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rhuss/chatrelay/pkg/storage"
)

var historyFlags struct {
	limit   int
	after   string
	before  string
	model   string
	order   string
	jsonOut bool
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse stored responses",
	Long: `Browse stored responses.

Responses are kept by the configured store. The memory store lives only as
long as the process, so history across invocations needs storage.type
postgres.`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored responses, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <response-id>",
	Short: "Show the steps of a stored response",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <response-id>",
	Short: "Delete a stored response",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

func init() {
	historyListCmd.Flags().IntVarP(&historyFlags.limit, "limit", "n", storage.DefaultListLimit, "Maximum number of responses")
	historyListCmd.Flags().StringVar(&historyFlags.after, "after", "", "Cursor: list responses after this ID")
	historyListCmd.Flags().StringVar(&historyFlags.before, "before", "", "Cursor: list responses before this ID")
	historyListCmd.Flags().StringVarP(&historyFlags.model, "model", "m", "", "Only responses for this model")
	historyListCmd.Flags().StringVar(&historyFlags.order, "order", "desc", "Sort order: asc or desc")
	historyShowCmd.Flags().BoolVar(&historyFlags.jsonOut, "json", false, "Print the response as JSON")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd)
}

// openHistoryStore opens the configured store without provider or tools.
func openHistoryStore(cmd *cobra.Command) (storage.ResponseStore, error) {
	store, err := newStore(cmd.Context(), cfg.Storage)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, errors.New("history needs a store, storage.type is \"none\"")
	}
	if err := store.HealthCheck(cmd.Context()); err != nil {
		store.Close()
		return nil, fmt.Errorf("store unavailable: %w", err)
	}
	return store, nil
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	list, err := store.ListResponses(cmd.Context(), storage.ListOptions{
		Limit:  historyFlags.limit,
		After:  historyFlags.after,
		Before: historyFlags.before,
		Model:  historyFlags.model,
		Order:  historyFlags.order,
	})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tMODEL\tSTEPS\tFINISH\tTOKENS")
	for _, r := range list.Data {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%d\n",
			r.ID,
			time.Unix(r.CreatedAt, 0).Format(time.DateTime),
			r.Model,
			len(r.Steps),
			r.FinishReason(),
			r.Usage().Total())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if list.HasMore {
		fmt.Fprintf(cmd.OutOrStdout(), "\nmore results: --after %s\n", list.LastID)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	resp, err := store.GetResponse(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("response %s not found", args[0])
		}
		return err
	}

	out := cmd.OutOrStdout()
	if historyFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Fprintf(out, "%s  %s  %s\n\n", resp.ID, resp.Model, time.Unix(resp.CreatedAt, 0).Format(time.DateTime))
	r := newRenderer(out, false)
	for i, step := range resp.Steps {
		fmt.Fprintf(out, "step %d (%s)\n", i+1, step.FinishReason)
		for j, call := range step.ToolCalls {
			r.toolCall(call)
			if j < len(step.ToolResults) {
				r.toolResult(step.ToolResults[j])
			}
		}
		if step.Text != "" {
			r.markdown(step.Text)
		}
	}
	r.usage(resp.FinishReason(), resp.Usage())
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	store, err := openHistoryStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteResponse(cmd.Context(), args[0]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("response %s not found", args[0])
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}
