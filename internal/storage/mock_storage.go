package storage

import (
	"context"
	"sync"

	"github.com/eddiefleurent/vagrid/internal/models"
)

// MockStorage implements Interface in memory for testing.
type MockStorage struct {
	mu            sync.Mutex
	states        map[string]models.PersistedState
	saveError     error
	loadError     error
	saveCallCount int
	loadCallCount int
}

// NewMockStorage creates a new mock storage for testing
func NewMockStorage() *MockStorage {
	return &MockStorage{states: make(map[string]models.PersistedState)}
}

func (m *MockStorage) LoadState(_ context.Context, symbol string) (*models.PersistedState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCallCount++
	if m.loadError != nil {
		return nil, m.loadError
	}
	st, ok := m.states[symbol]
	if !ok {
		return nil, ErrNotFound
	}
	return &st, nil
}

func (m *MockStorage) SaveState(_ context.Context, symbol string, state models.PersistedState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveCallCount++
	if m.saveError != nil {
		return m.saveError
	}
	m.states[symbol] = state
	return nil
}

func (m *MockStorage) DeleteState(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, symbol)
	return nil
}

// State returns the last saved state of symbol.
func (m *MockStorage) State(symbol string) (models.PersistedState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[symbol]
	return st, ok
}

// SetSaveError makes subsequent saves fail.
func (m *MockStorage) SetSaveError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveError = err
}

// SetLoadError makes subsequent loads fail.
func (m *MockStorage) SetLoadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadError = err
}

// SaveCallCount returns the number of SaveState calls.
func (m *MockStorage) SaveCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCallCount
}

// LoadCallCount returns the number of LoadState calls.
func (m *MockStorage) LoadCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loadCallCount
}
