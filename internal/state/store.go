// Package state persists the engine's suppression snapshot as a single JSON
// file, written atomically and reloaded in full at process start.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ssupshub/cicd-anomaly-detection/internal/engine"
)

// DefaultPath is where the daemon keeps its snapshot unless configured
// otherwise.
const DefaultPath = "./data/alert_state.json"

// StoreError wraps a snapshot read or write failure. The engine treats these
// as degradable: it logs and keeps deciding rather than terminating.
type StoreError struct {
	Op   string // "load" or "save"
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// FileStore implements engine.StateStore on a single JSON file. Save writes
// a temp file in the same directory and renames it over the target, so a
// crash mid-write never leaves a half-written snapshot behind.
type FileStore struct {
	path string
}

// Ensure FileStore satisfies the engine contract.
var _ engine.StateStore = (*FileStore)(nil)

// NewFileStore creates a store backed by the given path, or DefaultPath when
// empty. The file itself is created lazily on first Save.
func NewFileStore(path string) *FileStore {
	if path == "" {
		path = DefaultPath
	}
	return &FileStore{path: path}
}

// Path returns the snapshot location.
func (s *FileStore) Path() string { return s.path }

// Load reads the full snapshot. A missing file is a clean first run and
// reports ok=false with no error.
func (s *FileStore) Load() (*engine.Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &StoreError{Op: "load", Path: s.path, Err: err}
	}

	var snap engine.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, &StoreError{Op: "load", Path: s.path, Err: err}
	}
	return &snap, true, nil
}

// Save serializes the snapshot and replaces the file atomically.
func (s *FileStore) Save(snap *engine.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return &StoreError{Op: "save", Path: s.path, Err: err}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &StoreError{Op: "save", Path: s.path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return &StoreError{Op: "save", Path: s.path, Err: err}
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &StoreError{Op: "save", Path: s.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "save", Path: s.path, Err: err}
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return &StoreError{Op: "save", Path: s.path, Err: err}
	}
	return nil
}
