package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

type nextOptions struct {
	checkpoint string
	limit      int64
	commit     bool
	output     string
}

func newNextCmd(root *rootOptions) *cobra.Command {
	opts := &nextOptions{}
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Select the next batch",
		Long: `Select the next batch of files after a checkpoint.

Without --checkpoint the checkpoint committed for the configured source is used.
The batch is printed together with the checkpoint to commit once it has been
ingested; --commit records that checkpoint immediately.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runNext(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.checkpoint, "checkpoint", "", "checkpoint to select from (default: committed checkpoint)")
	f.Int64Var(&opts.limit, "limit", 0, "byte budget for this batch (default: source_limit)")
	f.BoolVar(&opts.commit, "commit", false, "commit the returned checkpoint")
	f.StringVarP(&opts.output, "output", "o", "json", "output format (json, paths)")
	return cmd
}

func runNext(cmd *cobra.Command, root *rootOptions, opts *nextOptions) error {
	if opts.output != "json" && opts.output != "paths" {
		return fmt.Errorf("unknown output format %q", opts.output)
	}

	ctx := cmd.Context()
	e, err := root.setup(ctx, cmd, nil)
	if err != nil {
		return err
	}
	defer e.Close()

	var cp *string
	if cmd.Flags().Changed("checkpoint") {
		cp = &opts.checkpoint
	}
	var limit *int64
	if cmd.Flags().Changed("limit") {
		limit = &opts.limit
	}

	res, err := e.src.Select(ctx, cp, limit)
	if err != nil {
		return err
	}

	if opts.commit && res.Paths != nil {
		if err := e.src.Commit(ctx, res.Checkpoint); err != nil {
			return fmt.Errorf("commit checkpoint: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if opts.output == "paths" {
		if res.Paths != nil {
			fmt.Fprintln(out, strings.ReplaceAll(*res.Paths, ",", "\n"))
		}
		return nil
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Paths      *string `json:"paths"`
		Checkpoint string  `json:"checkpoint"`
		Files      int     `json:"files"`
		Bytes      int64   `json:"bytes"`
		Committed  bool    `json:"committed"`
	}{
		Paths:      res.Paths,
		Checkpoint: res.Checkpoint,
		Files:      res.Stats.Selected,
		Bytes:      res.Stats.SelectedBytes,
		Committed:  opts.commit && res.Paths != nil,
	})
}
