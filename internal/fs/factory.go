package fs

import (
	"context"
	"fmt"
)

// Options selects and configures a FileSystem implementation.
type Options struct {
	Type string
	// Root is a directory for "local", a repository path for "git", and an
	// s3://bucket/prefix URI for "s3".
	Root    string
	GitRef  string
	SubPath string
	S3      S3Config
}

// New resolves a FileSystem handle for the given options.
func New(ctx context.Context, opts Options) (FileSystem, error) {
	switch opts.Type {
	case TypeLocal, "":
		l, err := NewLocalFS(opts.Root)
		if err != nil {
			return nil, err
		}
		return l, nil
	case TypeGit:
		g, err := NewGitFS(opts.Root, opts.GitRef, opts.SubPath)
		if err != nil {
			return nil, err
		}
		return g, nil
	case TypeS3:
		client, err := NewS3Client(ctx, opts.S3)
		if err != nil {
			return nil, err
		}
		s, err := NewS3FS(client, opts.Root)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFilesystem, opts.Type)
	}
}
