package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Signature identifies a file's content cheaply.
type Signature struct {
	ModTime int64 `json:"mtime"` // UnixNano
	Size    int64 `json:"size"`
}

// Stat returns the signature of path.
func Stat(path string) (Signature, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Signature{}, err
	}
	return Signature{ModTime: fi.ModTime().UnixNano(), Size: fi.Size()}, nil
}

// Record is what the store keeps about a task's last successful run.
type Record struct {
	FileDeps map[string]Signature `json:"file_deps"`
	Key      string               `json:"key,omitempty"`
	RunAt    time.Time            `json:"run_at"`
}

// StateStore persists Records between runs.
type StateStore interface {
	Load(ctx context.Context, task string) (Record, bool, error)
	Save(ctx context.Context, task string, rec Record) error
	Forget(ctx context.Context, tasks ...string) error
	Close() error
}

// FileStore keeps every record in one JSON file, rewritten on each Save.
type FileStore struct {
	path string
	mu   sync.Mutex
	m    map[string]Record
}

// NewFileStore loads path if it exists. A corrupt file is treated as empty
// so that every task reruns.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, m: make(map[string]Record)}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &s.m); err != nil {
		slog.Warn("state file unreadable, starting fresh", "path", path, "error", err)
		s.m = make(map[string]Record)
	}
	return s, nil
}

// Path returns the file location.
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(_ context.Context, task string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.m[task]
	return rec, ok, nil
}

func (s *FileStore) Save(_ context.Context, task string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[task] = rec
	return s.flush()
}

func (s *FileStore) Forget(_ context.Context, tasks ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(tasks) == 0 {
		s.m = make(map[string]Record)
	}
	for _, t := range tasks {
		delete(s.m, t)
	}
	return s.flush()
}

func (s *FileStore) Close() error { return nil }

// Snapshot returns a copy of all records.
func (s *FileStore) Snapshot() map[string]Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.m)
}

// flush writes through a temp file; caller holds mu.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.m, "", "  ")
	if err != nil {
		return fmt.Errorf("state marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("state write: %w", err)
	}
	return os.Rename(tmp, s.path)
}
