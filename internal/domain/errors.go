package domain

import "errors"

var (
	// ErrNotFound is returned by stores when no record matches.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional write loses to existing state.
	ErrConflict = errors.New("conflict")
)
