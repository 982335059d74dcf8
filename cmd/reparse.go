package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var reparseCmd = &cobra.Command{
	Use:   "reparse <schedule-id>",
	Short: "Re-run discovery and extraction for a staged schedule",
	Long:  "A pending_review schedule is re-run in place. An approved, rejected or failed schedule is left as is and a new schedule linked to it is created.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		ps, err := env.Pipeline.Reparse(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "reparse")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ps)
	},
}

func init() {
	rootCmd.AddCommand(reparseCmd)
}
