package fs

import (
	"context"
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// LocalFS implements FileSystem on the local disk through a go-billy
// filesystem rooted at the scan root.
type LocalFS struct {
	root string
	fs   billy.Filesystem
}

// NewLocalFS creates a LocalFS rooted at the given directory.
func NewLocalFS(root string) (*LocalFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root %q: %w", root, err)
	}
	abs = filepath.Clean(abs)
	return &LocalFS{root: abs, fs: osfs.New(abs)}, nil
}

// Root returns the absolute scan root.
func (l *LocalFS) Root() string { return l.root }

// Type returns "local".
func (l *LocalFS) Type() string { return TypeLocal }

func (l *LocalFS) rel(path string) (string, error) {
	if path == "" || path == l.root {
		return ".", nil
	}
	rel, err := filepath.Rel(l.root, path)
	if err != nil {
		return "", fmt.Errorf("path %q: %w", path, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q is outside root %q", path, l.root)
	}
	return rel, nil
}

// ListDir lists the immediate children of the directory at the given absolute path.
func (l *LocalFS) ListDir(ctx context.Context, path string) ([]FileStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, err := l.rel(path)
	if err != nil {
		return nil, err
	}

	infos, err := l.fs.ReadDir(rel)
	if err != nil {
		if errors.Is(err, iofs.ErrNotExist) {
			// An entry may vanish between readdir and lstat. Only report
			// not-exist when the directory itself is gone.
			if _, statErr := l.fs.Lstat(rel); statErr == nil {
				return nil, fmt.Errorf("billy: readdir %q: entry vanished during listing: %v", rel, err)
			}
		}
		return nil, fmt.Errorf("billy: readdir %q: %w", rel, err)
	}

	dir := filepath.Join(l.root, rel)
	result := make([]FileStatus, 0, len(infos))
	for _, info := range infos {
		status := FileStatus{
			Path:    filepath.Join(dir, info.Name()),
			Name:    info.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime().UnixMilli(),
			IsDir:   info.IsDir(),
		}
		if info.Mode()&os.ModeSymlink != 0 {
			status.IsSymlink = true
			status.IsDir = false
			status.Size = 0
			target, statErr := l.fs.Stat(filepath.Join(rel, info.Name()))
			if statErr == nil {
				status.IsDir = target.IsDir()
				status.Size = target.Size()
				status.ModTime = target.ModTime().UnixMilli()
			}
		}
		result = append(result, status)
	}
	return result, nil
}
