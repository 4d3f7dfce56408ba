package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CageChen/dfsselect/internal/checkpoint"
	"github.com/CageChen/dfsselect/internal/config"
	"github.com/CageChen/dfsselect/internal/handler"
	"github.com/CageChen/dfsselect/internal/logging"
	"github.com/CageChen/dfsselect/internal/metrics"
)

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configPath  string
	root        string
	sourceLimit int64
	logLevel    string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "dfsselect",
		Short: "Select the next batch of new files from a directory tree",
		Long: `dfsselect walks a directory tree (local, git ref, or S3 prefix), keeps the
regular files modified after a checkpoint, and hands them out oldest first in
batches bounded by a byte budget, together with the checkpoint to resume from.

Examples:
  dfsselect next                      Select the batch after the committed checkpoint
  dfsselect next --commit             Select and commit in one step
  dfsselect checkpoint show           List committed checkpoints
  dfsselect serve --port 8080         Serve the HTTP and websocket API`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "config file (default is $HOME/.config/dfsselect/config.yaml, then ./dfsselect.yaml)")
	pf.StringVar(&opts.root, "root", "", "root to scan, overrides the config file")
	pf.Int64Var(&opts.sourceLimit, "source-limit", 0, "byte budget per batch, overrides the config file")
	pf.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newNextCmd(opts))
	cmd.AddCommand(newCheckpointCmd(opts))
	cmd.AddCommand(newInitCmd(opts))
	return cmd
}

// loadConfig reads the config file and applies flag overrides.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	o.applyOverrides(cmd, cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyOverrides copies explicitly set flags over cfg.
func (o *rootOptions) applyOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("root") {
		cfg.Root = o.root
		cfg.Source = ""
	}
	if flags.Changed("source-limit") {
		cfg.SourceLimit = o.sourceLimit
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
}

// env is everything a command needs to select or commit.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	store  checkpoint.Store
	src    *handler.Source
}

func (e *env) Close() {
	_ = e.store.Close()
	_ = e.logger.Sync()
}

func (o *rootOptions) setup(ctx context.Context, cmd *cobra.Command, m *metrics.Metrics) (*env, error) {
	cfg, err := o.loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	store, err := checkpoint.Open(cfg.Checkpoint.Backend, cfg.Checkpoint.Path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store: %w", err)
	}
	src, err := handler.NewSource(ctx, cfg, store, m, nil, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return &env{cfg: cfg, logger: logger, store: store, src: src}, nil
}
