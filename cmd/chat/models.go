package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var modelsFlags struct {
	jsonOut bool
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the models offered by the backend",
	Args:  cobra.NoArgs,
	RunE:  runModels,
}

func init() {
	modelsCmd.Flags().BoolVar(&modelsFlags.jsonOut, "json", false, "Print the model list as JSON")
}

func runModels(cmd *cobra.Command, args []string) error {
	client := newClient(cfg.Provider)
	defer client.Close()

	models, err := client.ListModels(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if modelsFlags.jsonOut {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(models)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tOWNED BY")
	for _, m := range models {
		marker := ""
		if m.ID == cfg.Engine.DefaultModel {
			marker = " (default)"
		}
		fmt.Fprintf(tw, "%s%s\t%s\n", m.ID, marker, m.OwnedBy)
	}
	return tw.Flush()
}
