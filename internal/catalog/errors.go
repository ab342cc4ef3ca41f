package catalog

import "errors"

var (
	// ErrBusy indicates the single writer slot could not be acquired in time.
	ErrBusy = errors.New("catalog busy")
	// ErrIntegrity indicates a unique or foreign-key constraint violation.
	ErrIntegrity = errors.New("catalog integrity violation")
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("catalog row not found")
)
