// Package selector picks the next batch of files to ingest from a filesystem
// tree. Each call walks the whole tree, keeps regular files newer than the
// caller's checkpoint, orders them oldest first and returns the longest
// prefix that fits the byte budget together with the checkpoint to resume from.
package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/CageChen/dfsselect/internal/fs"
)

// DefaultParallelism bounds concurrent directory listings when unset.
const DefaultParallelism = 8

var (
	// ErrInvalidCheckpoint is returned for checkpoints that are not base-10 integers.
	ErrInvalidCheckpoint = errors.New("invalid checkpoint")
	// ErrIO wraps every filesystem failure during a selection.
	ErrIO = errors.New("unable to read from source")
)

// DefaultIgnorePrefixes returns the name prefixes skipped when none are configured.
func DefaultIgnorePrefixes() []string {
	return []string{".", "_"}
}

// Options tune a Selector.
type Options struct {
	// IgnorePrefixes skips files and directories whose names start with any
	// prefix, at every depth. Nil means DefaultIgnorePrefixes; an empty,
	// non-nil slice ignores nothing.
	IgnorePrefixes []string
	// Exclude holds doublestar patterns matched against root-relative paths.
	Exclude []string
	// Parallelism bounds concurrent directory listings.
	Parallelism int
}

// Stats describes one selection.
type Stats struct {
	DirsListed         int           `json:"dirs_listed"`
	EntriesSeen        int           `json:"entries_seen"`
	Ignored            int           `json:"ignored"`
	Excluded           int           `json:"excluded"`
	SkippedSymlinkDirs int           `json:"skipped_symlink_dirs"`
	MissingDirs        int           `json:"missing_dirs"`
	Eligible           int           `json:"eligible"`
	Selected           int           `json:"selected"`
	SelectedBytes      int64         `json:"selected_bytes"`
	Duration           time.Duration `json:"duration_ns"`
}

func (s *Stats) add(o Stats) {
	s.DirsListed += o.DirsListed
	s.EntriesSeen += o.EntriesSeen
	s.Ignored += o.Ignored
	s.Excluded += o.Excluded
	s.SkippedSymlinkDirs += o.SkippedSymlinkDirs
	s.MissingDirs += o.MissingDirs
}

// Selection is the outcome of SelectNextBatch.
type Selection struct {
	// Paths is the comma-joined list of selected paths in batch order, or nil
	// when nothing was selected.
	Paths *string `json:"paths"`
	// Checkpoint is what the caller passes back on the next call.
	Checkpoint string `json:"checkpoint"`
	// Files carries the selected entries in the same order as Paths.
	Files []fs.FileStatus `json:"files"`
	Stats Stats           `json:"stats"`
}

// Selector computes batches for one filesystem root. It holds no state
// between calls and is safe for concurrent use.
type Selector struct {
	fs     fs.FileSystem
	walker *walker
	logger *zap.Logger
}

// New creates a Selector over fsys.
func New(fsys fs.FileSystem, opts Options, logger *zap.Logger) (*Selector, error) {
	if fsys == nil {
		return nil, errors.New("selector: filesystem is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, pattern := range opts.Exclude {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("selector: invalid exclude pattern %q", pattern)
		}
	}
	prefixes := opts.IgnorePrefixes
	if prefixes == nil {
		prefixes = DefaultIgnorePrefixes()
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	logger = logger.With(zap.String("root", fsys.Root()), zap.String("fs", fsys.Type()))
	return &Selector{
		fs: fsys,
		walker: &walker{
			fs:             fsys,
			ignorePrefixes: prefixes,
			exclude:        opts.Exclude,
			parallelism:    parallelism,
			logger:         logger,
		},
		logger: logger,
	}, nil
}

// Root returns the root the selector walks.
func (s *Selector) Root() string {
	return s.fs.Root()
}

// SelectNextBatch returns the oldest files newer than lastCheckpoint whose
// combined size stays below byteBudget. A nil lastCheckpoint starts from the
// beginning of time. When nothing fits, Paths is nil and the checkpoint is
// returned unchanged.
func (s *Selector) SelectNextBatch(ctx context.Context, lastCheckpoint *string, byteBudget int64) (Selection, error) {
	threshold, err := ParseCheckpoint(lastCheckpoint)
	if err != nil {
		return Selection{}, err
	}

	start := time.Now()
	s.logger.Info("selecting next batch",
		zap.Stringp("checkpoint", lastCheckpoint),
		zap.Int64("source_limit", byteBudget))

	files, stats, err := s.walker.walk(ctx, threshold)
	if err != nil {
		return Selection{}, fmt.Errorf("%w from checkpoint %s: %w", ErrIO, describe(lastCheckpoint), err)
	}

	sortByModTime(files)
	batch, total, maxModTime := takePrefix(files, byteBudget)
	paths, next := resolveCheckpoint(batch, maxModTime, lastCheckpoint)

	stats.Selected = len(batch)
	stats.SelectedBytes = total
	stats.Duration = time.Since(start)

	s.logger.Info("selected batch",
		zap.Int("eligible", stats.Eligible),
		zap.Int("selected", stats.Selected),
		zap.Int64("bytes", stats.SelectedBytes),
		zap.String("next_checkpoint", next),
		zap.Duration("duration", stats.Duration))

	return Selection{
		Paths:      paths,
		Checkpoint: next,
		Files:      batch,
		Stats:      stats,
	}, nil
}

func describe(checkpoint *string) string {
	if checkpoint == nil {
		return "<none>"
	}
	return *checkpoint
}

// EntryVerdict is one directory entry together with the walker's decision.
type EntryVerdict struct {
	fs.FileStatus
	Verdict Verdict `json:"verdict"`
}

// Explain lists dir and reports how each entry would be treated by a
// selection from lastCheckpoint. An empty dir means the root.
func (s *Selector) Explain(ctx context.Context, dir string, lastCheckpoint *string) ([]EntryVerdict, error) {
	threshold, err := ParseCheckpoint(lastCheckpoint)
	if err != nil {
		return nil, err
	}
	root := s.fs.Root()
	if dir == "" {
		dir = root
	}

	entries, err := s.fs.ListDir(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("%w from checkpoint %s: %w", ErrIO, describe(lastCheckpoint), err)
	}
	out := make([]EntryVerdict, len(entries))
	for i, e := range entries {
		out[i] = EntryVerdict{FileStatus: e, Verdict: s.walker.classify(root, e, threshold)}
	}
	return out, nil
}
