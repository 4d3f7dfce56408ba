package selector

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/CageChen/dfsselect/internal/fs"
)

// walker enumerates every eligible file under a root. Directories are
// processed level by level from an explicit worklist, so tree depth never
// grows the call stack; siblings on the same level are listed concurrently.
type walker struct {
	fs             fs.FileSystem
	ignorePrefixes []string
	exclude        []string
	parallelism    int
	logger         *zap.Logger
}

// levelResult collects what one directory listing contributed.
type levelResult struct {
	subdirs []string
	files   []fs.FileStatus
}

// walk returns all regular files under the root that are newer than
// threshold and non-empty. Any listing failure aborts the whole walk, except
// a subdirectory that no longer exists, which counts as empty.
func (w *walker) walk(ctx context.Context, threshold int64) ([]fs.FileStatus, Stats, error) {
	var (
		mu       sync.Mutex
		stats    Stats
		eligible []fs.FileStatus
	)

	root := w.fs.Root()
	frontier := []string{root}
	for len(frontier) > 0 {
		results := make([]levelResult, len(frontier))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(w.parallelism)
		for i, dir := range frontier {
			g.Go(func() error {
				entries, err := w.fs.ListDir(gctx, dir)
				if err != nil {
					// Subdirectories may vanish mid-walk; a missing root is a
					// misconfiguration and must not look like "no new data".
					if errors.Is(err, iofs.ErrNotExist) && dir != root {
						w.logger.Debug("directory disappeared, treating as empty", zap.String("dir", dir))
						mu.Lock()
						stats.MissingDirs++
						mu.Unlock()
						return nil
					}
					return fmt.Errorf("list %s: %w", dir, err)
				}

				var local Stats
				local.DirsListed = 1
				local.EntriesSeen = len(entries)

				res := &results[i]
				for _, e := range entries {
					switch w.classify(root, e, threshold) {
					case VerdictIgnored:
						local.Ignored++
					case VerdictExcluded:
						local.Excluded++
					case VerdictSymlinkDir:
						w.logger.Debug("not following symlinked directory", zap.String("path", e.Path))
						local.SkippedSymlinkDirs++
					case VerdictDir:
						res.subdirs = append(res.subdirs, e.Path)
					case VerdictEligible:
						res.files = append(res.files, e)
					}
				}

				mu.Lock()
				stats.add(local)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, stats, err
		}

		frontier = frontier[:0:0]
		for _, res := range results {
			frontier = append(frontier, res.subdirs...)
			eligible = append(eligible, res.files...)
		}
	}

	stats.Eligible = len(eligible)
	return eligible, stats, nil
}

// Verdict is the walker's decision for one directory entry.
type Verdict string

// Entry verdicts, in the order they are checked.
const (
	VerdictIgnored    Verdict = "ignored"
	VerdictExcluded   Verdict = "excluded"
	VerdictSymlinkDir Verdict = "symlink_dir"
	VerdictDir        Verdict = "dir"
	VerdictNotNewer   Verdict = "not_newer"
	VerdictEmpty      Verdict = "empty"
	VerdictEligible   Verdict = "eligible"
)

func (w *walker) classify(root string, e fs.FileStatus, threshold int64) Verdict {
	switch {
	case w.ignored(e.Name):
		return VerdictIgnored
	case w.excluded(root, e.Path):
		return VerdictExcluded
	case e.IsDir && e.IsSymlink:
		return VerdictSymlinkDir
	case e.IsDir:
		return VerdictDir
	case e.ModTime <= threshold:
		return VerdictNotNewer
	case e.Size <= 0:
		return VerdictEmpty
	default:
		return VerdictEligible
	}
}

func (w *walker) ignored(name string) bool {
	for _, prefix := range w.ignorePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (w *walker) excluded(root, path string) bool {
	if len(w.exclude) == 0 {
		return false
	}
	rel := strings.TrimLeft(filepath.ToSlash(strings.TrimPrefix(path, root)), "/")
	for _, pattern := range w.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}
