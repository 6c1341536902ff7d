// Package service holds the identity lifecycle: registration, login with
// resurrection of pending deletions, token resolution, profile and admin
// management, and the purge of expired deletions.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nikoai/niko/internal/clock"
	"github.com/nikoai/niko/internal/config"
	"github.com/nikoai/niko/internal/model"
	"github.com/nikoai/niko/internal/password"
	"github.com/nikoai/niko/internal/token"
)

// DefaultRetention is how long a deleted identity can still be restored by
// logging in.
const DefaultRetention = 30 * 24 * time.Hour

// PurgeHook is called once for every identity removed by PurgeExpired so
// collaborators holding data keyed by the name can drop it.
type PurgeHook func(ctx context.Context, name string) error

// Recorder receives lifecycle events for metrics.
type Recorder interface {
	Login(result string)
	Purged(n int)
}

type nopRecorder struct{}

func (nopRecorder) Login(string) {}
func (nopRecorder) Purged(int)   {}

// AuthService implements identity registration, login and token resolution
// on top of the credential store.
type AuthService struct {
	store     *config.Store
	hasher    *password.Hasher
	tokens    *token.Service
	clock     clock.Clock
	retention time.Duration
	logger    *slog.Logger
	recorder  Recorder
	hooks     []PurgeHook
}

// Option configures an AuthService.
type Option func(*AuthService)

// WithClock overrides the time source used for deletion markers and the
// retention check.
func WithClock(c clock.Clock) Option {
	return func(s *AuthService) { s.clock = clock.OrSystem(c) }
}

// WithRetention sets the deletion grace period.
func WithRetention(d time.Duration) Option {
	return func(s *AuthService) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *AuthService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *AuthService) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithPurgeHook registers a hook run for each purged identity.
func WithPurgeHook(h PurgeHook) Option {
	return func(s *AuthService) { s.hooks = append(s.hooks, h) }
}

// NewAuthService creates an AuthService.
func NewAuthService(store *config.Store, hasher *password.Hasher, tokens *token.Service, opts ...Option) *AuthService {
	s := &AuthService{
		store:     store,
		hasher:    hasher,
		tokens:    tokens,
		clock:     clock.System{},
		retention: DefaultRetention,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Retention returns the deletion grace period.
func (s *AuthService) Retention() time.Duration {
	return s.retention
}

// Tokens returns the token service.
func (s *AuthService) Tokens() *token.Service {
	return s.tokens
}

// Ping checks that the credential store is reachable.
func (s *AuthService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *AuthService) now() time.Time {
	return s.clock.Now().UTC()
}

// ---------------------------------------------------------------------------
// Registration and login
// ---------------------------------------------------------------------------

// RegisterInput carries a self-registration request.
type RegisterInput struct {
	Name     string
	Secret   string
	Email    string
	FullName string
}

// Register creates an unprivileged identity.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.Identity, error) {
	return s.create(ctx, in, false)
}

func (s *AuthService) create(ctx context.Context, in RegisterInput, privileged bool) (*model.Identity, error) {
	if err := ValidateName(in.Name); err != nil {
		return nil, err
	}
	if err := ValidateSecret(in.Secret); err != nil {
		return nil, err
	}
	if err := ValidateEmail(in.Email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Secret)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}

	now := s.now()
	id := &model.Identity{
		Name:         in.Name,
		SecretHash:   hash,
		IsPrivileged: privileged,
		Email:        in.Email,
		FullName:     in.FullName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateIdentity(ctx, id); err != nil {
		if errors.Is(err, config.ErrAlreadyExists) {
			return nil, ErrIdentityExists
		}
		return nil, err
	}

	s.logger.Info("identity created", "name", id.Name, "privileged", privileged)
	return id, nil
}

// LoginResult is a successful login.
type LoginResult struct {
	Token    token.Issued
	Identity *model.Identity
	// Restored is true when the login cleared a pending deletion.
	Restored bool
}

// Login checks a name and secret and issues an access token. A login
// inside the retention window of a pending deletion cancels the deletion;
// after the window it fails with ErrAccountExpired even for the right
// secret. Every other failure is ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, name, secret string) (*LoginResult, error) {
	id, err := s.store.GetIdentity(ctx, name)
	if errors.Is(err, config.ErrNotFound) {
		s.hasher.Equalize(secret)
		s.recorder.Login("invalid")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("load identity: %w", err)
	}

	if !s.hasher.Verify(secret, id.SecretHash) {
		s.recorder.Login("invalid")
		return nil, ErrInvalidCredentials
	}

	// Upgrade legacy or weaker hashes now that the secret is known.
	verifiedHash := id.SecretHash
	var rehashed string
	if s.hasher.NeedsRehash(verifiedHash) {
		if h, err := s.hasher.Hash(secret); err == nil {
			rehashed = h
		} else {
			s.logger.Warn("rehash on login failed", "name", name, "error", err)
		}
	}

	var restored bool
	now := s.now()
	updated, err := s.store.UpdateIdentity(ctx, name, func(cur *model.Identity) error {
		if cur.SecretHash != verifiedHash {
			return ErrInvalidCredentials
		}
		if cur.DeletedAt != nil {
			if now.Sub(*cur.DeletedAt) >= s.retention {
				return ErrAccountExpired
			}
			cur.DeletedAt = nil
			restored = true
		}
		if rehashed != "" {
			cur.SecretHash = rehashed
		}
		cur.LastLoginAt = &now
		return nil
	})
	switch {
	case errors.Is(err, ErrAccountExpired):
		s.recorder.Login("expired")
		return nil, ErrAccountExpired
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, config.ErrNotFound):
		s.recorder.Login("invalid")
		return nil, ErrInvalidCredentials
	case err != nil:
		return nil, fmt.Errorf("record login: %w", err)
	}

	issued, err := s.tokens.Issue(updated.Name)
	if err != nil {
		return nil, err
	}

	if restored {
		s.recorder.Login("restored")
		s.logger.Info("pending deletion cancelled by login", "name", name)
	} else {
		s.recorder.Login("success")
	}
	return &LoginResult{Token: issued, Identity: updated, Restored: restored}, nil
}

// Authenticate resolves a bearer token to a live identity. Invalid tokens
// and missing, purged or pending-deletion identities all yield an error
// wrapping ErrUnauthenticated. A store failure is returned as is and must
// not be treated as a missing identity.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (*model.Identity, error) {
	subject, err := s.tokens.Verify(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	id, err := s.store.GetIdentity(ctx, subject)
	if errors.Is(err, config.ErrNotFound) {
		return nil, fmt.Errorf("%w: identity %s no longer exists", ErrUnauthenticated, subject)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve identity: %w", err)
	}
	if id.PendingDeletion() {
		return nil, fmt.Errorf("%w: identity %s is pending deletion", ErrUnauthenticated, subject)
	}
	return id, nil
}
