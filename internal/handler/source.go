// Package handler provides the HTTP handlers for the dfsselect REST API.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CageChen/dfsselect/internal/checkpoint"
	"github.com/CageChen/dfsselect/internal/config"
	"github.com/CageChen/dfsselect/internal/fs"
	"github.com/CageChen/dfsselect/internal/metrics"
	"github.com/CageChen/dfsselect/internal/report"
	"github.com/CageChen/dfsselect/internal/selector"
)

// FilesystemFactory resolves the filesystem for a configuration.
type FilesystemFactory func(ctx context.Context, cfg *config.Config) (fs.FileSystem, error)

// DefaultFilesystemFactory builds the filesystem named by the configuration.
func DefaultFilesystemFactory(ctx context.Context, cfg *config.Config) (fs.FileSystem, error) {
	return fs.New(ctx, cfg.FilesystemOptions())
}

// Source is the live selector for the configured root, together with the
// checkpoint store and the outcome of the last selection. Handlers share it.
type Source struct {
	store     checkpoint.Store
	metrics   *metrics.Metrics
	logger    *zap.Logger
	newFS     FilesystemFactory
	mu        sync.RWMutex
	cfg       *config.Config
	fsys      fs.FileSystem
	sel       *selector.Selector
	last      *selector.Selection
	lastAt    time.Time
	lastError string
}

// NewSource builds the selector for cfg.
func NewSource(ctx context.Context, cfg *config.Config, store checkpoint.Store, m *metrics.Metrics, newFS FilesystemFactory, logger *zap.Logger) (*Source, error) {
	if newFS == nil {
		newFS = DefaultFilesystemFactory
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Source{
		store:   store,
		metrics: m,
		logger:  logger,
		newFS:   newFS,
	}
	fsys, sel, err := s.build(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.cfg, s.fsys, s.sel = cfg, fsys, sel
	return s, nil
}

func (s *Source) build(ctx context.Context, cfg *config.Config) (fs.FileSystem, *selector.Selector, error) {
	fsys, err := s.newFS(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve filesystem: %w", err)
	}
	sel, err := selector.New(fsys, selector.Options{
		IgnorePrefixes: cfg.IgnorePrefixes,
		Exclude:        cfg.Exclude,
		Parallelism:    cfg.Parallelism,
	}, s.logger)
	if err != nil {
		return nil, nil, err
	}
	return fsys, sel, nil
}

// Reload swaps in a new configuration. On failure the previous settings stay
// in effect.
func (s *Source) Reload(cfg *config.Config) {
	fsys, sel, err := s.build(context.Background(), cfg)
	if s.metrics != nil {
		s.metrics.RecordReload(err == nil)
	}
	if err != nil {
		s.logger.Warn("config reload rejected", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.cfg, s.fsys, s.sel = cfg, fsys, sel
	s.mu.Unlock()
	s.logger.Info("selector settings updated",
		zap.String("root", fsys.Root()),
		zap.Strings("ignore_prefixes", cfg.IgnorePrefixes),
		zap.Int64("source_limit", cfg.SourceLimit))
}

// ReloadFailed records a configuration file that could not be loaded.
func (s *Source) ReloadFailed(err error) {
	if s.metrics != nil {
		s.metrics.RecordReload(false)
	}
	s.logger.Warn("config reload failed", zap.Error(err))
}

// Config returns the configuration currently in effect.
func (s *Source) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Root returns the root the current selector walks.
func (s *Source) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fsys.Root()
}

func (s *Source) current() (*selector.Selector, *config.Config) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sel, s.cfg
}

// Select runs one selection. A nil checkpoint falls back to the committed
// checkpoint of the source; a nil limit falls back to the configured source limit.
func (s *Source) Select(ctx context.Context, cp *string, limit *int64) (selector.Selection, error) {
	sel, cfg := s.current()

	if cp == nil && s.store != nil {
		stored, err := s.store.Load(ctx, cfg.Source)
		if err != nil {
			return selector.Selection{}, fmt.Errorf("load checkpoint: %w", err)
		}
		cp = stored
	}
	budget := cfg.SourceLimit
	if limit != nil {
		budget = *limit
	}

	res, err := sel.SelectNextBatch(ctx, cp, budget)
	s.record(res, err)
	return res, err
}

func (s *Source) record(res selector.Selection, err error) {
	if s.metrics != nil {
		if err != nil {
			s.metrics.RecordSelectionError(errors.Is(err, selector.ErrInvalidCheckpoint))
		} else {
			s.metrics.RecordSelection(res.Stats)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastAt = time.Now()
	if err != nil {
		s.lastError = err.Error()
		return
	}
	s.lastError = ""
	s.last = &res
}

// Checkpoint returns the committed checkpoint of the source.
func (s *Source) Checkpoint(ctx context.Context) (*string, error) {
	if s.store == nil {
		return nil, nil
	}
	return s.store.Load(ctx, s.Config().Source)
}

// Checkpoints lists every committed checkpoint in the store.
func (s *Source) Checkpoints(ctx context.Context) ([]checkpoint.Entry, error) {
	if s.store == nil {
		return []checkpoint.Entry{}, nil
	}
	entries, err := s.store.List(ctx)
	if entries == nil && err == nil {
		entries = []checkpoint.Entry{}
	}
	return entries, err
}

// Commit records checkpoint as processed for the source.
func (s *Source) Commit(ctx context.Context, cp string) error {
	if s.store == nil {
		return errors.New("no checkpoint store configured")
	}
	err := s.store.Commit(ctx, s.Config().Source, cp)
	if s.metrics != nil {
		s.metrics.RecordCommit(commitResult(err))
	}
	return err
}

func commitResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, checkpoint.ErrRegression):
		return "regression"
	case errors.Is(err, selector.ErrInvalidCheckpoint):
		return "invalid"
	default:
		return "error"
	}
}

// Explain classifies the entries of one directory.
func (s *Source) Explain(ctx context.Context, dir string, cp *string) ([]selector.EntryVerdict, error) {
	sel, _ := s.current()
	return sel.Explain(ctx, dir, cp)
}

// Status gathers what the status page shows.
func (s *Source) Status(ctx context.Context) report.Status {
	s.mu.RLock()
	cfg, fsys := s.cfg, s.fsys
	st := report.Status{
		Source:         cfg.Source,
		Root:           fsys.Root(),
		FSType:         fsys.Type(),
		IgnorePrefixes: cfg.IgnorePrefixes,
		Exclude:        cfg.Exclude,
		SourceLimit:    cfg.SourceLimit,
		Last:           s.last,
		LastAt:         s.lastAt,
		LastError:      s.lastError,
	}
	s.mu.RUnlock()

	if s.store != nil {
		entries, err := s.store.List(ctx)
		if err != nil {
			s.logger.Warn("list checkpoints", zap.Error(err))
		}
		st.Checkpoints = entries
	}
	if data, err := cfg.Marshal(); err == nil {
		st.Config = data
	}
	return st
}

// statusCode maps selection and commit errors to HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, selector.ErrInvalidCheckpoint):
		return http.StatusBadRequest
	case errors.Is(err, checkpoint.ErrRegression):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
