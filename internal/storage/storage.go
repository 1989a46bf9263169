package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/eddiefleurent/vagrid/internal/models"
)

// JSONStorage keeps one JSON document per symbol in a directory.
type JSONStorage struct {
	mu  sync.RWMutex
	dir string
}

// NewJSONStorage creates the state directory if needed.
func NewJSONStorage(dir string) (*JSONStorage, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	return &JSONStorage{dir: dir}, nil
}

// Dir returns the state directory.
func (s *JSONStorage) Dir() string { return s.dir }

// Path returns the state file of symbol.
func (s *JSONStorage) Path(symbol string) string {
	name := strings.NewReplacer("/", "_", "\\", "_").Replace(symbol)
	return filepath.Join(s.dir, name+".json")
}

// LoadState reads the state file of symbol.
func (s *JSONStorage) LoadState(_ context.Context, symbol string) (*models.PersistedState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.Path(symbol))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read state %s: %w", symbol, err)
	}
	var st models.PersistedState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state %s: %w", symbol, err)
	}
	return &st, nil
}

// SaveState writes the state file of symbol atomically.
func (s *JSONStorage) SaveState(_ context.Context, symbol string, state models.PersistedState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state %s: %w", symbol, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(symbol)
	// Write to temp file first
	tmpFile := path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("write state %s: %w", symbol, err)
	}
	// Atomic rename
	if err := os.Rename(tmpFile, path); err != nil {
		_ = os.Remove(tmpFile)
		return fmt.Errorf("rename state %s: %w", symbol, err)
	}
	return nil
}

// DeleteState removes the state file of symbol. A missing file is not an error.
func (s *JSONStorage) DeleteState(_ context.Context, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.Path(symbol)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete state %s: %w", symbol, err)
	}
	return nil
}

// Symbols lists the symbols that have a state file.
func (s *JSONStorage) Symbols() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".json"))
	}
	return out, nil
}
