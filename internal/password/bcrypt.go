// Package password hashes and verifies identity secrets with bcrypt.
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"sync"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MaxSecretBytes is the longest secret bcrypt will accept.
const MaxSecretBytes = 72

var (
	ErrSecretTooLong = errors.New("secret exceeds 72 bytes")
	ErrSecretTooWeak = errors.New("secret must be at least 8 characters and contain an upper-case letter, a lower-case letter and a digit")
)

// Hasher hashes secrets with bcrypt at a fixed cost.
type Hasher struct {
	cost              int
	plaintextFallback bool

	dummyOnce sync.Once
	dummy     []byte
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithPlaintextFallback lets Verify accept a stored value that was never
// hashed when it equals the presented secret. Records written by Hash are
// never affected.
func WithPlaintextFallback(enabled bool) Option {
	return func(h *Hasher) { h.plaintextFallback = enabled }
}

// NewHasher creates a Hasher. A cost outside bcrypt's accepted range falls
// back to bcrypt.DefaultCost.
func NewHasher(cost int, opts ...Option) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	h := &Hasher{cost: cost}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Cost returns the bcrypt cost used by Hash.
func (h *Hasher) Cost() int {
	return h.cost
}

// Hash returns a salted bcrypt hash of secret.
func (h *Hasher) Hash(secret string) (string, error) {
	if len(secret) > MaxSecretBytes {
		return "", ErrSecretTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether secret matches the stored hash. It never panics;
// a malformed hash simply does not match.
func (h *Hasher) Verify(secret, hash string) bool {
	if hash == "" {
		return false
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		// Not a bcrypt hash: only a legacy unhashed record can match.
		if !h.plaintextFallback {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(secret), []byte(hash)) == 1
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// NeedsRehash reports whether a stored value should be replaced by a fresh
// Hash after a successful Verify: legacy unhashed values and bcrypt hashes
// below the configured cost.
func (h *Hasher) NeedsRehash(hash string) bool {
	cost, err := bcrypt.Cost([]byte(hash))
	if err != nil {
		return true
	}
	return cost < h.cost
}

// Equalize burns roughly the time of one Verify against a real hash. Login
// calls it for unknown names so response time does not reveal whether a
// name exists.
func (h *Hasher) Equalize(secret string) {
	h.dummyOnce.Do(func() {
		buf := make([]byte, 32)
		_, _ = rand.Read(buf)
		h.dummy, _ = bcrypt.GenerateFromPassword(buf, h.cost)
	})
	_ = bcrypt.CompareHashAndPassword(h.dummy, []byte(secret))
}

// ValidateStrength enforces the registration rules for new secrets.
func ValidateStrength(secret string) error {
	if len(secret) > MaxSecretBytes {
		return ErrSecretTooLong
	}
	if len([]rune(secret)) < 8 {
		return ErrSecretTooWeak
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range secret {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return ErrSecretTooWeak
	}
	return nil
}
