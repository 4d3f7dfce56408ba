package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type fileEntry struct {
	Checkpoint string    `yaml:"checkpoint"`
	UpdatedAt  time.Time `yaml:"updated_at"`
}

// FileStore keeps checkpoints in a YAML document keyed by source. Every
// commit rewrites the document through a temp file and rename.
type FileStore struct {
	path string

	mu      sync.Mutex
	entries map[string]fileEntry
}

// OpenFile loads the store at path. A missing file is an empty store.
func OpenFile(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("checkpoint file path cannot be empty")
	}
	s := &FileStore{path: path, entries: map[string]fileEntry{}}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read checkpoints %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("parse checkpoints %s: %w", path, err)
	}
	if s.entries == nil {
		s.entries = map[string]fileEntry{}
	}
	return s, nil
}

func (s *FileStore) Load(_ context.Context, source string) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[source]
	if !ok {
		return nil, nil
	}
	cp := e.Checkpoint
	return &cp, nil
}

func (s *FileStore) Commit(_ context.Context, source, checkpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var current *string
	if e, ok := s.entries[source]; ok {
		current = &e.Checkpoint
	}
	advance, err := checkAdvance(current, checkpoint)
	if err != nil || !advance {
		return err
	}

	prev, existed := s.entries[source]
	s.entries[source] = fileEntry{Checkpoint: checkpoint, UpdatedAt: time.Now().UTC()}
	if err := s.flush(); err != nil {
		if existed {
			s.entries[source] = prev
		} else {
			delete(s.entries, source)
		}
		return err
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for source, e := range s.entries {
		out = append(out, Entry{Source: source, Checkpoint: e.Checkpoint, UpdatedAt: e.UpdatedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (s *FileStore) Close() error { return nil }

func (s *FileStore) flush() error {
	data, err := yaml.Marshal(s.entries)
	if err != nil {
		return fmt.Errorf("encode checkpoints: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".checkpoints-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", s.path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", s.path, err)
	}
	return nil
}
