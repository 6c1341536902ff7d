package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/nikoai/niko/internal/config"
	"github.com/nikoai/niko/internal/model"
)

// ---------------------------------------------------------------------------
// Profile
// ---------------------------------------------------------------------------

// ProfileUpdate changes an identity's own profile. Nil fields are left
// alone. Changing the secret requires the current one.
type ProfileUpdate struct {
	Email         *string
	FullName      *string
	CurrentSecret string
	NewSecret     string
}

// UpdateProfile applies a self-service profile change.
func (s *AuthService) UpdateProfile(ctx context.Context, name string, u ProfileUpdate) (*model.Identity, error) {
	if u.Email != nil {
		if err := ValidateEmail(*u.Email); err != nil {
			return nil, err
		}
	}

	var verifiedHash, newHash string
	if u.NewSecret != "" {
		if err := ValidateSecret(u.NewSecret); err != nil {
			return nil, err
		}
		cur, err := s.GetIdentity(ctx, name)
		if err != nil {
			return nil, err
		}
		if !s.hasher.Verify(u.CurrentSecret, cur.SecretHash) {
			return nil, ErrCurrentSecret
		}
		verifiedHash = cur.SecretHash
		if newHash, err = s.hasher.Hash(u.NewSecret); err != nil {
			return nil, fmt.Errorf("hash secret: %w", err)
		}
	}

	id, err := s.store.UpdateIdentity(ctx, name, func(cur *model.Identity) error {
		if newHash != "" {
			if cur.SecretHash != verifiedHash {
				return ErrCurrentSecret
			}
			cur.SecretHash = newHash
		}
		if u.Email != nil {
			cur.Email = *u.Email
		}
		if u.FullName != nil {
			cur.FullName = *u.FullName
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if newHash != "" {
		s.logger.Info("secret changed", "name", name)
	}
	return id, nil
}

// RequestDeletion marks an identity for deletion. The identity can be
// restored by logging in until the retention period has passed. Repeating
// the request keeps the original marker.
func (s *AuthService) RequestDeletion(ctx context.Context, name string) (*model.Identity, error) {
	now := s.now()
	id, err := s.store.UpdateIdentity(ctx, name, func(cur *model.Identity) error {
		if cur.DeletedAt == nil {
			cur.DeletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.logger.Info("deletion requested", "name", name, "purge_after", id.PurgeAfter(s.retention))
	return id, nil
}

// ---------------------------------------------------------------------------
// Admin management
// ---------------------------------------------------------------------------

// GetIdentity returns an identity by name, including one pending deletion.
func (s *AuthService) GetIdentity(ctx context.Context, name string) (*model.Identity, error) {
	id, err := s.store.GetIdentity(ctx, name)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return id, nil
}

// ListIdentities returns identities matching f.
func (s *AuthService) ListIdentities(ctx context.Context, f config.ListFilter) ([]model.Identity, error) {
	return s.store.ListIdentities(ctx, f)
}

// CreateInput carries an administrative identity creation.
type CreateInput struct {
	RegisterInput
	IsPrivileged bool
}

// CreateIdentity creates an identity on behalf of an administrator.
func (s *AuthService) CreateIdentity(ctx context.Context, in CreateInput) (*model.Identity, error) {
	return s.create(ctx, in.RegisterInput, in.IsPrivileged)
}

// AdminUpdate changes another identity. Nil fields are left alone; a new
// secret is set without knowing the old one.
type AdminUpdate struct {
	Email        *string
	FullName     *string
	IsPrivileged *bool
	NewSecret    *string
}

// UpdateIdentity applies an administrative change.
func (s *AuthService) UpdateIdentity(ctx context.Context, name string, u AdminUpdate) (*model.Identity, error) {
	if u.Email != nil {
		if err := ValidateEmail(*u.Email); err != nil {
			return nil, err
		}
	}
	var newHash string
	if u.NewSecret != nil {
		if err := ValidateSecret(*u.NewSecret); err != nil {
			return nil, err
		}
		h, err := s.hasher.Hash(*u.NewSecret)
		if err != nil {
			return nil, fmt.Errorf("hash secret: %w", err)
		}
		newHash = h
	}

	id, err := s.store.UpdateIdentity(ctx, name, func(cur *model.Identity) error {
		if u.Email != nil {
			cur.Email = *u.Email
		}
		if u.FullName != nil {
			cur.FullName = *u.FullName
		}
		if u.IsPrivileged != nil {
			cur.IsPrivileged = *u.IsPrivileged
		}
		if newHash != "" {
			cur.SecretHash = newHash
		}
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return id, nil
}

// DeleteIdentity marks another identity for deletion. An administrator
// cannot delete themselves this way.
func (s *AuthService) DeleteIdentity(ctx context.Context, actor, name string) (*model.Identity, error) {
	if actor == name {
		return nil, ErrSelfDeletion
	}
	return s.RequestDeletion(ctx, name)
}

// RestoreIdentity clears a pending deletion marker. A marker at least the
// retention period old is final and fails with ErrDeletionFinal.
func (s *AuthService) RestoreIdentity(ctx context.Context, name string) (*model.Identity, error) {
	now := s.now()
	id, err := s.store.UpdateIdentity(ctx, name, func(cur *model.Identity) error {
		if cur.DeletedAt != nil && now.Sub(*cur.DeletedAt) >= s.retention {
			return ErrDeletionFinal
		}
		cur.DeletedAt = nil
		return nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	s.logger.Info("identity restored", "name", name)
	return id, nil
}

// ---------------------------------------------------------------------------
// Purge
// ---------------------------------------------------------------------------

// PurgeExpired permanently removes identities whose deletion marker is at
// least the retention period old and runs the purge hooks for each. Hook
// failures are logged and do not stop the sweep.
func (s *AuthService) PurgeExpired(ctx context.Context) ([]string, error) {
	cutoff := s.now().Add(-s.retention)
	names, err := s.store.PurgeDeletedBefore(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("purge expired identities: %w", err)
	}

	for _, name := range names {
		for _, hook := range s.hooks {
			if err := hook(ctx, name); err != nil {
				s.logger.Error("purge hook failed", "name", name, "error", err)
			}
		}
	}
	if len(names) > 0 {
		s.recorder.Purged(len(names))
		s.logger.Info("purged expired identities", "count", len(names))
	}
	return names, nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, config.ErrNotFound) {
		return ErrIdentityNotFound
	}
	return err
}
