package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound       = errors.New("team not found")
	ErrConflict       = errors.New("conflict")
	ErrValidation     = errors.New("validation failed")
	ErrDuplicate      = errors.New("run already committed")
	ErrReentrantWrite = errors.New("re-entrant store write")
	ErrClosed         = errors.New("store closed")
	ErrUnknownBackend = errors.New("unknown store backend")
)
