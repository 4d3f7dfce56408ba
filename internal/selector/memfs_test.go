package selector

import (
	"context"
	"fmt"
	iofs "io/fs"
	"path"
	"sync"

	"github.com/CageChen/dfsselect/internal/fs"
)

// memFS is an in-memory fs.FileSystem rooted at /data.
type memFS struct {
	root string
	dirs map[string][]fs.FileStatus
	errs map[string]error

	mu     sync.Mutex
	listed []string
}

func newMemFS() *memFS {
	return &memFS{
		root: "/data",
		dirs: map[string][]fs.FileStatus{"/data": {}},
		errs: map[string]error{},
	}
}

func (m *memFS) Root() string { return m.root }
func (m *memFS) Type() string { return "mem" }

func (m *memFS) ListDir(ctx context.Context, dir string) ([]fs.FileStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.listed = append(m.listed, dir)
	m.mu.Unlock()

	if err := m.errs[dir]; err != nil {
		return nil, err
	}
	entries, ok := m.dirs[dir]
	if !ok {
		return nil, fmt.Errorf("list %s: %w", dir, iofs.ErrNotExist)
	}
	return append([]fs.FileStatus(nil), entries...), nil
}

func (m *memFS) abs(rel string) string {
	return path.Join(m.root, rel)
}

func (m *memFS) ensureDir(dir string) {
	if _, ok := m.dirs[dir]; ok {
		return
	}
	m.dirs[dir] = []fs.FileStatus{}
	parent := path.Dir(dir)
	m.ensureDir(parent)
	m.dirs[parent] = append(m.dirs[parent], fs.FileStatus{Path: dir, Name: path.Base(dir), IsDir: true})
}

// file adds a regular file at rel with the given size and modification time.
func (m *memFS) file(rel string, size, modTime int64) string {
	p := m.abs(rel)
	parent := path.Dir(p)
	m.ensureDir(parent)
	m.dirs[parent] = append(m.dirs[parent], fs.FileStatus{
		Path: p, Name: path.Base(p), Size: size, ModTime: modTime,
	})
	return p
}

// dir adds an empty directory at rel.
func (m *memFS) dir(rel string) string {
	p := m.abs(rel)
	m.ensureDir(p)
	return p
}

// symlinkDir adds a symlink at rel that resolves to the directory target.
func (m *memFS) symlinkDir(rel, target string) string {
	p := m.abs(rel)
	parent := path.Dir(p)
	m.ensureDir(parent)
	m.dirs[parent] = append(m.dirs[parent], fs.FileStatus{
		Path: p, Name: path.Base(p), IsDir: true, IsSymlink: true,
	})
	// Listing the link itself would show the target's entries.
	m.dirs[p] = m.dirs[m.abs(target)]
	return p
}

// phantomDir lists a directory in its parent that no longer exists.
func (m *memFS) phantomDir(rel string) string {
	p := m.abs(rel)
	parent := path.Dir(p)
	m.ensureDir(parent)
	m.dirs[parent] = append(m.dirs[parent], fs.FileStatus{Path: p, Name: path.Base(p), IsDir: true})
	return p
}

func (m *memFS) wasListed(dir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.listed {
		if d == dir {
			return true
		}
	}
	return false
}
