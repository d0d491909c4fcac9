package restapi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
	"mentara-client/internal/domain"
)

// TokenStore persists bearer credentials between runs.
type TokenStore interface {
	Load() (domain.Tokens, error)
	Save(tokens domain.Tokens) error
	Clear() error
}

// FileTokens stores credentials in a user-only YAML file.
type FileTokens struct {
	path string
	mu   sync.Mutex
}

func NewFileTokens(path string) *FileTokens {
	return &FileTokens{path: path}
}

// Load returns empty tokens when the file does not exist yet.
func (f *FileTokens) Load() (domain.Tokens, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var tokens domain.Tokens
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return tokens, nil
	}
	if err != nil {
		return tokens, err
	}
	if err := yaml.Unmarshal(data, &tokens); err != nil {
		return tokens, fmt.Errorf("parse credentials %s: %w", f.path, err)
	}
	return tokens, nil
}

func (f *FileTokens) Save(tokens domain.Tokens) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := yaml.Marshal(tokens)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileTokens) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// MemoryTokens keeps credentials in process memory.
type MemoryTokens struct {
	mu     sync.RWMutex
	tokens domain.Tokens
}

func NewMemoryTokens(initial domain.Tokens) *MemoryTokens {
	return &MemoryTokens{tokens: initial}
}

func (m *MemoryTokens) Load() (domain.Tokens, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tokens, nil
}

func (m *MemoryTokens) Save(tokens domain.Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = tokens
	return nil
}

func (m *MemoryTokens) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens = domain.Tokens{}
	return nil
}
