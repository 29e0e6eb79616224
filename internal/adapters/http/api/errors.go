package api

import "errors"

// Sentinel kinds for API errors.
var (
	ErrBadRequest     = errors.New("bad request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUnknownCommand = errors.New("unknown command")
	ErrUnavailable    = errors.New("not available")
)
