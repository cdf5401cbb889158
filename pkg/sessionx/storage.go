package sessionx

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// sessionFileName keeps the on-disk name aligned with the session key the
// browser front-end uses for local storage.
const sessionFileName = "clinic.auth.session.json"

// Storage persists a session across restarts.
type Storage interface {
	Load() (*Session, error)
	Save(*Session) error
	Delete() error
}

// FileStorage keeps the session as a mode-0600 JSON file in a directory.
type FileStorage struct {
	path string
}

func NewFileStorage(dir string) (*FileStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sessionx: create state dir: %w", err)
	}
	return &FileStorage{path: filepath.Join(dir, sessionFileName)}, nil
}

// Load returns nil without error when no session has been saved. A file
// that cannot be parsed is removed and treated as absent.
func (f *FileStorage) Load() (*Session, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("sessionx: read session file: %w", err)
	}
	var session Session
	if err := json.Unmarshal(data, &session); err != nil {
		os.Remove(f.path) //nolint:errcheck
		return nil, nil
	}
	return &session, nil
}

func (f *FileStorage) Save(session *Session) error {
	if session == nil {
		return f.Delete()
	}
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("sessionx: encode session: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("sessionx: write session file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp) //nolint:errcheck
		return fmt.Errorf("sessionx: replace session file: %w", err)
	}
	return nil
}

func (f *FileStorage) Delete() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("sessionx: remove session file: %w", err)
	}
	return nil
}

// MemoryStorage holds the session in memory, for tests and ephemeral runs.
type MemoryStorage struct {
	mu      sync.Mutex
	session *Session
}

func NewMemoryStorage() *MemoryStorage { return &MemoryStorage{} }

func (m *MemoryStorage) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil, nil
	}
	copy := *m.session
	return &copy, nil
}

func (m *MemoryStorage) Save(session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if session == nil {
		m.session = nil
		return nil
	}
	copy := *session
	m.session = &copy
	return nil
}

func (m *MemoryStorage) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}
