// Package storage persists per-symbol grid state as JSON files and mirrors it
// into a key/value parameter store.
package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/vagrid/internal/config"
	"github.com/eddiefleurent/vagrid/internal/models"
)

// Interface defines the contract for symbol state persistence.
//
// Implementations must be safe for concurrent use.
type Interface interface {
	// LoadState returns the saved state of symbol, or ErrNotFound.
	LoadState(ctx context.Context, symbol string) (*models.PersistedState, error)
	SaveState(ctx context.Context, symbol string, state models.PersistedState) error
	DeleteState(ctx context.Context, symbol string) error
}

// ParamStore is a flat string key/value store.
type ParamStore interface {
	// Get returns ErrNotFound for a missing key.
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Ensure implementations satisfy their interfaces.
var (
	_ Interface  = (*JSONStorage)(nil)
	_ Interface  = (*MirroredStorage)(nil)
	_ Interface  = (*MockStorage)(nil)
	_ ParamStore = (*MemoryParams)(nil)
	_ ParamStore = (*RedisParams)(nil)
)

// NewParamStore builds the parameter store selected by cfg. The "none" provider
// returns nil, which disables mirroring.
func NewParamStore(cfg config.ParamStoreConfig, logger logrus.FieldLogger) (ParamStore, error) {
	switch cfg.Provider {
	case "", "memory":
		return NewMemoryParams(), nil
	case "none":
		return nil, nil
	case "redis":
		return NewRedisParams(cfg.Redis, logger), nil
	default:
		return nil, fmt.Errorf("unknown param store provider %q", cfg.Provider)
	}
}

// NewStorage creates the state store: JSON files under stateDir mirrored into params.
func NewStorage(stateDir string, params ParamStore, logger logrus.FieldLogger) (Interface, error) {
	files, err := NewJSONStorage(stateDir)
	if err != nil {
		return nil, err
	}
	return NewMirroredStorage(files, params, logger), nil
}
