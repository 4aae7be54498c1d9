package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrNotFound is returned when a requested session does not exist.
var ErrNotFound = errors.New("session not found")

// Store persists and retrieves session records.
type Store interface {
	// Save persists a session's state, overwriting any previous record.
	Save(state *State) error

	// Load retrieves a session by id. An empty id loads the most recent
	// session. Returns ErrNotFound if no matching session exists.
	Load(id string) (*State, error)

	// LoadLatest retrieves the most recently created session.
	LoadLatest() (*State, error)

	// List returns all session ids sorted newest-first.
	List() ([]string, error)
}

// FileStore stores one JSON document per session under a base directory.
//
// The file layout assumes a single writing process: the engine is the only
// writer for any given session id, so no cross-process lock is taken.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a FileStore rooted at the given directory, creating
// it if necessary.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create session store directory: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Save persists the session atomically.
func (fs *FileStore) Save(state *State) error {
	if state.ID == "" {
		return errors.New("session id cannot be empty")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	return atomicWriteFile(fs.path(state.ID), data, 0644)
}

// Load retrieves a session by id, or the most recent session when id is "".
func (fs *FileStore) Load(id string) (*State, error) {
	if id == "" {
		ids, err := fs.List()
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			return nil, ErrNotFound
		}
		id = ids[0]
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("session %s corrupted: %w", id, err)
	}
	return &state, nil
}

// LoadLatest retrieves the most recent session.
func (fs *FileStore) LoadLatest() (*State, error) {
	return fs.Load("")
}

// List returns session ids sorted newest-first. Session ids are
// time-sortable, so reverse lexicographic order is reverse chronological.
func (fs *FileStore) List() ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(fs.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session store directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Sort(sort.Reverse(sort.StringSlice(ids)))
	return ids, nil
}

func (fs *FileStore) path(id string) string {
	return filepath.Join(fs.baseDir, id+".json")
}

// atomicWriteFile writes data to a file atomically by writing to a temporary
// file in the same directory, then renaming. The target file is never seen
// in a partially written state.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	success = true
	return nil
}
