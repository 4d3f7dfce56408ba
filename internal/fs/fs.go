// Package fs provides filesystem abstractions for listing data files on local disk,
// in a git ref, or under an S3 prefix.
package fs

import (
	"context"
	"errors"
)

// Filesystem type identifiers accepted by New.
const (
	TypeLocal = "local"
	TypeGit   = "git"
	TypeS3    = "s3"
)

// ErrUnknownFilesystem is returned by New for an unsupported filesystem type.
var ErrUnknownFilesystem = errors.New("unknown filesystem type")

// FileStatus holds the metadata of one listed entry.
type FileStatus struct {
	// Path is the fully qualified path in the filesystem's namespace.
	Path string `json:"path"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	// ModTime is the last modification time in epoch milliseconds.
	ModTime   int64 `json:"modTime"`
	IsDir     bool  `json:"isDir"`
	IsSymlink bool  `json:"isSymlink"`
}

// FileSystem abstracts directory listing so callers can scan the local
// filesystem, a git object database, or an object store the same way.
//
// ListDir returns an error wrapping io/fs.ErrNotExist when path does not
// exist, an empty slice for an empty directory, and any other error for
// I/O failures.
type FileSystem interface {
	ListDir(ctx context.Context, path string) ([]FileStatus, error)
	// Root returns the qualified path scanning starts from.
	Root() string
	// Type returns the filesystem type identifier ("local", "git", "s3").
	Type() string
}
