// Package token issues and verifies the signed, expiring access tokens that
// carry an identity between login and later requests. Tokens are HS256 JWTs
// and are not stored server side.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nikoai/niko/internal/clock"
)

// DefaultTTL is the lifetime of an access token.
const DefaultTTL = 24 * time.Hour

// ErrInvalid is returned for every token that must be rejected. The wrapped
// reason (ErrMalformed, ErrSignature, ErrExpired) is for internal
// diagnostics only and must not be shown to callers.
var ErrInvalid = errors.New("invalid or expired token")

var (
	ErrMalformed = errors.New("malformed token")
	ErrSignature = errors.New("bad token signature")
	ErrExpired   = errors.New("token expired")
)

// Issued is a freshly signed token with its embedded timestamps.
type Issued struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Service signs and verifies access tokens with a process-wide secret.
type Service struct {
	secret []byte
	ttl    time.Duration
	issuer string
	clock  clock.Clock
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = clock.OrSystem(c) }
}

// WithIssuer sets the iss claim written into every token.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// NewService creates a Service signing with secret. A non-positive ttl
// falls back to DefaultTTL.
func NewService(secret string, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &Service{
		secret: []byte(secret),
		ttl:    ttl,
		issuer: "niko",
		clock:  clock.System{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TTL returns the lifetime given to issued tokens.
func (s *Service) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subject that expires ttl after now.
func (s *Service) Issue(subject string) (Issued, error) {
	if subject == "" {
		return Issued{}, errors.New("issue token: empty subject")
	}
	if len(s.secret) == 0 {
		return Issued{}, errors.New("issue token: signing secret not configured")
	}

	now := s.clock.Now().Truncate(time.Second)
	exp := now.Add(s.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Issued{}, fmt.Errorf("sign token: %w", err)
	}
	return Issued{Token: signed, IssuedAt: now, ExpiresAt: exp}, nil
}

// Verify checks the signature and expiry of raw and returns its subject.
// Any input, however malformed, yields either a subject or an error that
// wraps ErrInvalid.
func (s *Service) Verify(raw string) (subject string, err error) {
	defer func() {
		if r := recover(); r != nil {
			subject, err = "", fmt.Errorf("%w: %w", ErrInvalid, ErrMalformed)
		}
	}()

	if raw == "" || len(s.secret) == 0 {
		return "", fmt.Errorf("%w: %w", ErrInvalid, ErrMalformed)
	}

	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(raw, claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalid, classify(err))
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalid, ErrMalformed)
	}
	return claims.Subject, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrSignature
	default:
		return ErrMalformed
	}
}
