package config

import "errors"

// ErrNotFound is returned when a requested resource does not exist in the store.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating a resource whose key is taken.
var ErrAlreadyExists = errors.New("already exists")
