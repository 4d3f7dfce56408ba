// Package checkpoint persists the checkpoint each source has committed, so a
// consumer can resume selection after a restart. The selector itself never
// writes checkpoints; callers commit them once a batch has been ingested.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CageChen/dfsselect/internal/selector"
)

// Backends understood by Open.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// ErrRegression is returned when a commit would move a source's checkpoint backwards.
var ErrRegression = errors.New("checkpoint regression")

// Entry is the committed checkpoint of one source.
type Entry struct {
	Source     string    `yaml:"source" json:"source"`
	Checkpoint string    `yaml:"checkpoint" json:"checkpoint"`
	UpdatedAt  time.Time `yaml:"updated_at" json:"updated_at"`
}

// Store keeps one checkpoint per source.
type Store interface {
	// Load returns the committed checkpoint for source, or nil if none exists.
	Load(ctx context.Context, source string) (*string, error)
	// Commit records checkpoint for source. Committing the current value is a
	// no-op; a lower value fails with ErrRegression.
	Commit(ctx context.Context, source, checkpoint string) error
	// List returns every committed checkpoint ordered by source.
	List(ctx context.Context) ([]Entry, error)
	Close() error
}

// Open creates the store for backend at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendFile, "":
		s, err := OpenFile(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendSQLite:
		s, err := OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
}

// checkAdvance validates next and reports whether it moves past current.
func checkAdvance(current *string, next string) (bool, error) {
	nextVal, err := selector.ParseCheckpoint(&next)
	if err != nil {
		return false, err
	}
	if current == nil {
		return true, nil
	}
	curVal, err := selector.ParseCheckpoint(current)
	if err != nil {
		// A corrupt stored value is replaced.
		return true, nil
	}
	switch {
	case nextVal < curVal:
		return false, fmt.Errorf("%w: %s is older than committed %s", ErrRegression, next, *current)
	case nextVal == curVal:
		return false, nil
	default:
		return true, nil
	}
}
