// Package model defines the data structures used throughout the identity core.
package model

import (
	"strings"
	"time"
)

// Identity represents a registered user account in the local (primary) store.
//
// The email address is the login name. It is stored normalized (trimmed and
// lower-cased, see NormalizeEmail) and is UNIQUE across all identities.
//
// PasswordHash holds a bcrypt hash, never the plaintext. The json:"-" tag
// keeps it out of every API response.
//
// ExternalID is a weak link to the identity provider's own record. It is
// empty while the identity is local-only (the provider was unreachable at
// signup, or no provider is configured).
type Identity struct {
	ID           string    `json:"id"          db:"id"`
	Email        string    `json:"email"       db:"email"`
	PasswordHash string    `json:"-"           db:"password_hash"`
	FirstName    string    `json:"firstName"   db:"first_name"`
	LastName     string    `json:"lastName"    db:"last_name"`
	Phone        string    `json:"phone"       db:"phone"`
	IsStaff      bool      `json:"isStaff"     db:"is_staff"`
	IsSuperuser  bool      `json:"isSuperuser" db:"is_superuser"`
	ExternalID   string    `json:"-"           db:"external_id"`
	CreatedAt    time.Time `json:"createdAt"   db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt"   db:"updated_at"`
}

// ShortName is how the identity is greeted: the first name, or the email
// when no first name is set.
func (i *Identity) ShortName() string {
	if name := strings.TrimSpace(i.FirstName); name != "" {
		return name
	}
	return i.Email
}

// Profile returns the mirrored subset of the identity.
func (i *Identity) Profile() Profile {
	return Profile{
		FirstName: i.FirstName,
		LastName:  i.LastName,
		Phone:     i.Phone,
	}
}

// MergeProfile overwrites the mirrored fields with the non-blank values of
// p. Blank values in p leave the local field as it is.
func (i *Identity) MergeProfile(p Profile) {
	if p.FirstName != "" {
		i.FirstName = p.FirstName
	}
	if p.LastName != "" {
		i.LastName = p.LastName
	}
	if p.Phone != "" {
		i.Phone = p.Phone
	}
}

// Privileged reports whether the identity carries the staff or superuser flag.
func (i *Identity) Privileged() bool {
	return i.IsStaff || i.IsSuperuser
}

// NormalizeEmail is the canonical form used for uniqueness and lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
