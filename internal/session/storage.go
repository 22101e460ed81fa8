package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Tokens is the persisted credential pair. Writes always carry both values.
// A loaded document is present as long as it holds a refresh token: the
// access token can be missing or stale and is reissued on restore.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (t Tokens) valid() bool {
	return t.AccessToken != "" && t.RefreshToken != ""
}

func (t Tokens) restorable() bool {
	return t.RefreshToken != ""
}

// Storage persists the credential pair between process runs.
type Storage interface {
	Load() (Tokens, bool, error)
	Save(Tokens) error
	Clear() error
}

// FileStorage keeps the pair in a single JSON document, written atomically
// via a temp file and rename.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

func (f *FileStorage) Load() (Tokens, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Tokens{}, false, nil
	}
	if err != nil {
		return Tokens{}, false, fmt.Errorf("session storage read: %w", err)
	}
	var t Tokens
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tokens{}, false, fmt.Errorf("session storage decode: %w", err)
	}
	if !t.restorable() {
		return Tokens{}, false, nil
	}
	return t, true, nil
}

func (f *FileStorage) Save(t Tokens) error {
	if !t.valid() {
		return errors.New("session storage: both tokens are required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("session storage encode: %w", err)
	}
	dir := filepath.Dir(f.path)
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("session storage write: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("session storage write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session storage write: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session storage write: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("session storage write: %w", err)
	}
	return nil
}

func (f *FileStorage) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session storage clear: %w", err)
	}
	return nil
}

// MemoryStorage is the in-process Storage, used in tests and ephemeral
// sessions.
type MemoryStorage struct {
	mu     sync.Mutex
	tokens Tokens
	set    bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (m *MemoryStorage) Load() (Tokens, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return Tokens{}, false, nil
	}
	return m.tokens, true, nil
}

func (m *MemoryStorage) Save(t Tokens) error {
	if !t.valid() {
		return errors.New("session storage: both tokens are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = t
	m.set = true
	return nil
}

func (m *MemoryStorage) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = Tokens{}
	m.set = false
	return nil
}
