package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/models"
)

// StateKey is the parameter store key holding the mirrored state of symbol.
func StateKey(symbol string) string { return "state_" + symbol }

// MirroredStorage writes state to files and mirrors it into a ParamStore.
// Reads prefer the file and fall back to the mirror.
type MirroredStorage struct {
	files  Interface
	params ParamStore
	logger logrus.FieldLogger
}

// NewMirroredStorage combines a file store with an optional parameter mirror.
func NewMirroredStorage(files Interface, params ParamStore, logger logrus.FieldLogger) *MirroredStorage {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MirroredStorage{files: files, params: params, logger: logger}
}

// LoadState returns the file state, else the mirrored state, else ErrNotFound.
func (m *MirroredStorage) LoadState(ctx context.Context, symbol string) (*models.PersistedState, error) {
	st, err := m.files.LoadState(ctx, symbol)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, ErrNotFound) {
		m.logger.WithError(err).WithField("symbol", symbol).Warn("state file unreadable, trying parameter store")
	}
	if m.params == nil {
		return nil, ErrNotFound
	}

	raw, perr := m.params.Get(ctx, StateKey(symbol))
	if perr != nil {
		if !errors.Is(perr, ErrNotFound) {
			m.logger.WithError(perr).WithField("symbol", symbol).Warn("parameter store read failed")
		}
		return nil, ErrNotFound
	}
	var mirrored models.PersistedState
	if err := json.Unmarshal([]byte(raw), &mirrored); err != nil {
		return nil, fmt.Errorf("parse mirrored state %s: %w", symbol, err)
	}
	return &mirrored, nil
}

// SaveState writes the file first, then the mirror. Both are attempted; the
// returned error joins any failures.
func (m *MirroredStorage) SaveState(ctx context.Context, symbol string, state models.PersistedState) error {
	var errs []error
	if err := m.files.SaveState(ctx, symbol, state); err != nil {
		errs = append(errs, err)
	}
	if m.params != nil {
		data, err := json.Marshal(state)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode state %s: %w", symbol, err))
		} else if err := m.params.Set(ctx, StateKey(symbol), string(data)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DeleteState removes the file and the mirror.
func (m *MirroredStorage) DeleteState(ctx context.Context, symbol string) error {
	var errs []error
	if err := m.files.DeleteState(ctx, symbol); err != nil {
		errs = append(errs, err)
	}
	if m.params != nil {
		if err := m.params.Delete(ctx, StateKey(symbol)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
