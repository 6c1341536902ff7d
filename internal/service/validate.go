package service

import (
	"errors"
	"net/mail"
	"regexp"

	"github.com/nikoai/niko/internal/password"
)

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{2,29}$`)

// ValidateName enforces the identity naming rules: 3 to 30 characters,
// starting with a letter, then letters, digits or underscores.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return &ValidationError{
			Field:   "username",
			Message: "must be 3-30 characters, start with a letter and contain only letters, digits and underscores",
		}
	}
	return nil
}

// ValidateSecret applies the password strength rules.
func ValidateSecret(secret string) error {
	if err := password.ValidateStrength(secret); err != nil {
		msg := "must be at least 8 characters and contain an upper-case letter, a lower-case letter and a digit"
		if errors.Is(err, password.ErrSecretTooLong) {
			msg = "must not exceed 72 bytes"
		}
		return &ValidationError{Field: "password", Message: msg}
	}
	return nil
}

// ValidateEmail accepts an empty value or a single bare address.
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Message: "must be a valid e-mail address"}
	}
	return nil
}
