package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// GitFS implements FileSystem by listing a git ref (branch, tag, or commit).
// Paths are qualified as "<ref>:<path>" so they can be read back with git show.
type GitFS struct {
	repo    *git.Repository
	ref     string
	subPath string

	// go-git repositories are not safe for concurrent use
	mu sync.Mutex
}

// NewGitFS opens the repository at repoPath and lists the tree of ref,
// starting at subPath ("" for the repository root).
func NewGitFS(repoPath, ref, subPath string) (*GitFS, error) {
	repo, err := git.PlainOpenWithOptions(repoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open git repository %q: %w", repoPath, err)
	}
	return NewGitFSFromRepository(repo, ref, subPath), nil
}

// NewGitFSFromRepository lists ref in an already opened repository.
func NewGitFSFromRepository(repo *git.Repository, ref, subPath string) *GitFS {
	if ref == "" {
		ref = "HEAD"
	}
	return &GitFS{repo: repo, ref: ref, subPath: strings.Trim(subPath, "/")}
}

// Root returns the qualified scan root.
func (g *GitFS) Root() string { return g.qualify(g.subPath) }

// Type returns "git".
func (g *GitFS) Type() string { return TypeGit }

func (g *GitFS) qualify(objPath string) string {
	return g.ref + ":" + objPath
}

func (g *GitFS) unqualify(p string) (string, error) {
	prefix := g.ref + ":"
	if !strings.HasPrefix(p, prefix) {
		return "", fmt.Errorf("path %q does not belong to ref %q", p, g.ref)
	}
	return strings.Trim(strings.TrimPrefix(p, prefix), "/"), nil
}

func (g *GitFS) resolve() (*object.Commit, error) {
	hash, err := g.repo.ResolveRevision(plumbing.Revision(g.ref))
	if err != nil {
		return nil, fmt.Errorf("resolve ref %q: %w", g.ref, err)
	}
	commit, err := g.repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return commit, nil
}

// ListDir lists the immediate children of the tree at the given qualified path.
func (g *GitFS) ListDir(ctx context.Context, p string) ([]FileStatus, error) {
	objPath, err := g.unqualify(p)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	head, err := g.resolve()
	if err != nil {
		return nil, err
	}
	root, err := head.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", g.ref, err)
	}
	tree := root
	if objPath != "" {
		tree, err = root.Tree(objPath)
		if err != nil {
			if errors.Is(err, object.ErrDirectoryNotFound) {
				return nil, fmt.Errorf("git tree %s:%s: %w", g.ref, objPath, os.ErrNotExist)
			}
			return nil, fmt.Errorf("git tree %s:%s: %w", g.ref, objPath, err)
		}
	}

	entries := make([]FileStatus, 0, len(tree.Entries))
	// object path -> entries whose ModTime is the last change to that path
	pending := make(map[string][]int)
	for _, e := range tree.Entries {
		full := path.Join(objPath, e.Name)
		status := FileStatus{
			Path: g.qualify(full),
			Name: e.Name,
		}
		switch e.Mode {
		case filemode.Dir:
			status.IsDir = true
		case filemode.Submodule:
			// submodules are never followed
			status.IsDir = true
			status.IsSymlink = true
		case filemode.Symlink:
			status.IsSymlink = true
			target, te, err := g.resolveLink(root, full, e.Hash)
			if err != nil {
				return nil, err
			}
			if te != nil {
				switch {
				case te.Mode == filemode.Dir:
					status.IsDir = true
				case te.Mode.IsFile() && te.Mode != filemode.Symlink:
					if status.Size, err = g.blobSize(te.Hash); err != nil {
						return nil, err
					}
					pending[target] = append(pending[target], len(entries))
				}
			}
		default:
			if status.Size, err = g.blobSize(e.Hash); err != nil {
				return nil, err
			}
			pending[full] = append(pending[full], len(entries))
		}
		entries = append(entries, status)
	}

	if err := g.fillModTimes(ctx, head, entries, pending); err != nil {
		return nil, err
	}
	return entries, nil
}

func (g *GitFS) blobSize(h plumbing.Hash) (int64, error) {
	blob, err := g.repo.BlobObject(h)
	if err != nil {
		return 0, fmt.Errorf("read blob %s: %w", h, err)
	}
	return blob.Size, nil
}

var rootEntry = &object.TreeEntry{Mode: filemode.Dir}

// resolveLink returns the in-tree target of a symlink blob. Absolute links,
// links leaving the repository and dangling links return a nil entry.
func (g *GitFS) resolveLink(root *object.Tree, linkPath string, h plumbing.Hash) (string, *object.TreeEntry, error) {
	blob, err := g.repo.BlobObject(h)
	if err != nil {
		return "", nil, fmt.Errorf("read symlink %s: %w", linkPath, err)
	}
	r, err := blob.Reader()
	if err != nil {
		return "", nil, fmt.Errorf("read symlink %s: %w", linkPath, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("read symlink %s: %w", linkPath, err)
	}

	target := strings.TrimSpace(string(data))
	if path.IsAbs(target) {
		return "", nil, nil
	}
	resolved := path.Clean(path.Join(path.Dir(linkPath), target))
	switch {
	case resolved == ".":
		return resolved, rootEntry, nil
	case resolved == ".." || strings.HasPrefix(resolved, "../"):
		return "", nil, nil
	}

	te, err := root.FindEntry(resolved)
	if err != nil {
		if errors.Is(err, object.ErrEntryNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("resolve symlink %s: %w", linkPath, err)
	}
	return resolved, te, nil
}

// fillModTimes sets the ModTime of every pending entry to the committer time,
// in epoch milliseconds, of the latest commit that changed its path. One
// history walk serves the whole listing.
func (g *GitFS) fillModTimes(ctx context.Context, head *object.Commit, entries []FileStatus, pending map[string][]int) error {
	if len(pending) == 0 {
		return nil
	}

	iter, err := g.repo.Log(&git.LogOptions{
		From:  head.Hash,
		Order: git.LogOrderCommitterTime,
		PathFilter: func(p string) bool {
			_, ok := pending[p]
			return ok
		},
	})
	if err != nil {
		return fmt.Errorf("git log %s: %w", g.ref, err)
	}
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		changed, err := changedPaths(c, pending)
		if err != nil {
			return err
		}
		for _, p := range changed {
			for _, i := range pending[p] {
				entries[i].ModTime = c.Committer.When.UnixMilli()
			}
			delete(pending, p)
		}
		if len(pending) == 0 {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("git log %s: %w", g.ref, err)
	}
	return nil
}

// changedPaths reports which pending paths differ between c and its first parent.
func changedPaths(c *object.Commit, pending map[string][]int) ([]string, error) {
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree of %s: %w", c.Hash, err)
	}
	var parent *object.Tree
	if c.NumParents() > 0 {
		pc, err := c.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("read parent of %s: %w", c.Hash, err)
		}
		if parent, err = pc.Tree(); err != nil {
			return nil, fmt.Errorf("read tree of %s: %w", pc.Hash, err)
		}
	}

	var changed []string
	for p := range pending {
		cur, ok := entryHash(tree, p)
		if !ok {
			continue
		}
		if parent == nil {
			changed = append(changed, p)
			continue
		}
		if prev, ok := entryHash(parent, p); !ok || prev != cur {
			changed = append(changed, p)
		}
	}
	return changed, nil
}

func entryHash(t *object.Tree, p string) (plumbing.Hash, bool) {
	e, err := t.FindEntry(p)
	if err != nil {
		return plumbing.ZeroHash, false
	}
	return e.Hash, true
}
