package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Checkpoint remembers when the mailboxes were last polled so a cycle can
// restrict its search to newer mail.
type Checkpoint interface {
	// Load returns the last poll time; ok is false when there is none yet.
	Load() (t time.Time, ok bool, err error)
	Save(t time.Time) error
}

type MemoryCheckpoint struct {
	mu   sync.RWMutex
	last time.Time
}

func NewMemoryCheckpoint() *MemoryCheckpoint {
	return &MemoryCheckpoint{}
}

func (m *MemoryCheckpoint) Load() (time.Time, bool, error) {
	m.mu.RLock()
	last := m.last
	m.mu.RUnlock()
	return last, !last.IsZero(), nil
}

func (m *MemoryCheckpoint) Save(t time.Time) error {
	m.mu.Lock()
	m.last = t
	m.mu.Unlock()
	return nil
}

// FileCheckpoint persists the last poll time as Unix seconds in a single
// line file.
type FileCheckpoint struct {
	path string
}

func NewFileCheckpoint(path string) (*FileCheckpoint, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("checkpoint path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileCheckpoint{path: path}, nil
}

func (f *FileCheckpoint) Path() string {
	return f.path
}

func (f *FileCheckpoint) Load() (time.Time, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return time.Time{}, false, nil
	}
	secs, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse checkpoint %s: %w", f.path, err)
	}
	return time.Unix(secs, 0), true, nil
}

// Save replaces the checkpoint file atomically.
func (f *FileCheckpoint) Save(t time.Time) error {
	tmp := f.path + ".tmp"
	data := strconv.FormatInt(t.Unix(), 10) + "\n"
	if err := os.WriteFile(tmp, []byte(data), 0o600); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}
