package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CageChen/dfsselect/internal/config"
	"github.com/CageChen/dfsselect/internal/handler"
	"github.com/CageChen/dfsselect/internal/metrics"
	"github.com/CageChen/dfsselect/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the batch API over HTTP and websocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, root, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port, overrides the config file")
	return cmd
}

func runServe(cmd *cobra.Command, root *rootOptions, port int) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	e, err := root.setup(ctx, cmd, m)
	if err != nil {
		return err
	}
	defer e.Close()
	cfg, logger := e.cfg, e.logger

	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}

	logger.Info("dfsselect starting",
		zap.String("config", cfg.GetConfigFilePath()),
		zap.String("source", cfg.Source),
		zap.String("root", e.src.Root()),
		zap.String("fs", cfg.Filesystem.Type),
		zap.Strings("ignore_prefixes", cfg.IgnorePrefixes),
		zap.Int64("source_limit", cfg.SourceLimit),
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend))

	// Setup config watcher if enabled
	if cfg.Watch {
		if _, statErr := os.Stat(cfg.GetConfigFilePath()); statErr == nil {
			w, err := watcher.New(cfg.GetConfigFilePath(), logger)
			if err != nil {
				logger.Warn("failed to create config watcher", zap.Error(err))
			} else {
				w.OnChange(func(next *config.Config) {
					root.applyOverrides(cmd, next)
					next.Normalize()
					if err := next.Validate(); err != nil {
						e.src.ReloadFailed(err)
						return
					}
					e.src.Reload(next)
				})
				w.OnError(e.src.ReloadFailed)
				if err := w.Start(); err != nil {
					logger.Warn("failed to start config watcher", zap.Error(err))
				}
				defer func() { _ = w.Stop() }()
				logger.Info("config watcher enabled")
			}
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := handler.NewRouter(e.src, m, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	router.WS.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
