package config

import "errors"

var (
	// ErrNotFound is returned when a requested record does not exist in the store.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an insert violates a uniqueness constraint,
	// such as a duplicate email, project name, or API key name per owner.
	ErrConflict = errors.New("conflict")
)
