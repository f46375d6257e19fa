package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned by every data operation before Connect.
	ErrNotConnected = errors.New("store not connected")

	// ErrStore wraps failures reported by the database engine.
	ErrStore = errors.New("store error")
)

func storeErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStore, op, err)
}
