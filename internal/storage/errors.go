package storage

import "errors"

// ErrNotFound is returned when no saved state exists for a symbol or key.
var ErrNotFound = errors.New("not found")
