package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newCheckpointCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and commit checkpoints",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "List committed checkpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.setup(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			entries, err := e.src.Checkpoints(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no checkpoints committed")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tCHECKPOINT\tUPDATED")
			for _, entry := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Source, entry.Checkpoint, entry.UpdatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "commit <checkpoint>",
		Short: "Commit a checkpoint for the configured source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := root.setup(cmd.Context(), cmd, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.src.Commit(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "committed %s for %s\n", args[0], e.cfg.Source)
			return nil
		},
	})

	return cmd
}
