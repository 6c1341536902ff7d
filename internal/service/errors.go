package service

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials covers every failed login. Callers see one
	// generic message whatever the cause.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountExpired is a login against an identity whose deletion grace
	// period has passed. It wraps ErrInvalidCredentials.
	ErrAccountExpired = fmt.Errorf("account deletion is final: %w", ErrInvalidCredentials)

	ErrIdentityExists   = errors.New("identity already exists")
	ErrIdentityNotFound = errors.New("identity not found")
	ErrUnauthenticated  = errors.New("invalid or expired token")
	ErrSelfDeletion     = errors.New("cannot delete your own identity")
	ErrCurrentSecret    = errors.New("current password is incorrect")
	// ErrDeletionFinal is a restore of an identity whose deletion grace
	// period has passed. Only the purge can act on it.
	ErrDeletionFinal = errors.New("identity deletion is final")
)

// ValidationError reports input that breaks a naming or strength rule.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}
