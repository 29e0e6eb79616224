package state

import "errors"

var (
	ErrInvalidStatus = errors.New("invalid tournament status")
	ErrRecapNotFound = errors.New("run not found")
)
