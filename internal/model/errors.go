package model

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrDuplicateTarget   = errors.New("duplicate target account")

	// ErrCorrupted means an invariant was observed broken. It is a bug, never clamped away.
	ErrCorrupted = errors.New("registry corrupted")
)
