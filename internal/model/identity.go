package model

import "time"

// Identity is a registered principal. The secret is stored only as a bcrypt
// hash and is never serialized.
type Identity struct {
	Name         string     `json:"name" db:"name"`
	SecretHash   string     `json:"-" db:"secret_hash"` // bcrypt hash, never expose
	IsPrivileged bool       `json:"is_privileged" db:"is_privileged"`
	Email        string     `json:"email,omitempty" db:"email"`
	FullName     string     `json:"full_name,omitempty" db:"full_name"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// PendingDeletion reports whether the identity carries a deletion marker.
func (i *Identity) PendingDeletion() bool {
	return i.DeletedAt != nil
}

// PurgeAfter returns the instant at which a pending deletion becomes
// permanent, or the zero time when no deletion is pending.
func (i *Identity) PurgeAfter(retention time.Duration) time.Time {
	if i.DeletedAt == nil {
		return time.Time{}
	}
	return i.DeletedAt.Add(retention)
}
