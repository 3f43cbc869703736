// Package credential is the Credential Store: the durable record of
// registered identities and the only place plaintext passwords are turned
// into (or checked against) bcrypt hashes.
//
// SERIALIZATION:
// Mutations are serialized per key with an in-process keyed mutex:
//
//	LockCommand       → lock "cmd:<normalized email>" (whole command)
//	LockSync          → lock "sync:<identity id>" (write plus provider push)
//	Create            → lock "email:<normalized email>"
//	Update / Modify   → lock "id:<identity id>", then the new email's lock
//
// An email lock is always the last lock taken, so the lock graph has no
// cycles. Operations on different identities run concurrently. The
// database UNIQUE index backs this up across processes.
package credential

import (
	"context"
	"errors"
	"fmt"

	"github.com/tripease/identity/internal/apperror"
	"github.com/tripease/identity/internal/auth"
	"github.com/tripease/identity/internal/model"
	"github.com/tripease/identity/internal/repository"
)

// NewIdentity is the input to Create. Password is plaintext; it is hashed
// before it reaches the repository.
type NewIdentity struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	Phone       string
	ExternalID  string
	IsStaff     bool
	IsSuperuser bool
}

// Store is the Credential Store.
type Store struct {
	repo      repository.IdentityRepository
	passwords *auth.PasswordService
	locks     *keyedMutex
}

// NewStore wires a Store over repo.
func NewStore(repo repository.IdentityRepository, passwords *auth.PasswordService) *Store {
	return &Store{
		repo:      repo,
		passwords: passwords,
		locks:     newKeyedMutex(),
	}
}

func emailKey(email string) string   { return "email:" + model.NormalizeEmail(email) }
func idKey(id string) string         { return "id:" + id }
func commandKey(email string) string { return "cmd:" + model.NormalizeEmail(email) }
func syncKey(id string) string       { return "sync:" + id }

// LockCommand serializes multi-step commands (signup, login) on one email.
// It uses its own key space, so the holder may still call Create, Update
// and Modify for that email.
func (s *Store) LockCommand(email string) (unlock func()) {
	return s.locks.Lock(commandKey(email))
}

// LockSync serializes a local profile write with the provider push that
// follows it, so the provider receives profiles in commit order. Like
// LockCommand it has its own key space and is taken before any store lock.
func (s *Store) LockSync(identityID string) (unlock func()) {
	return s.locks.Lock(syncKey(identityID))
}

// Create registers a new identity. It fails with apperror.ErrDuplicateEmail
// when the normalized email is already registered; the existing row is left
// untouched.
func (s *Store) Create(ctx context.Context, in NewIdentity) (*model.Identity, error) {
	email := model.NormalizeEmail(in.Email)
	if email == "" {
		return nil, apperror.ValidationFailed("email", "Email is required.")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}

	unlock := s.locks.Lock(emailKey(email))
	defer unlock()

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return nil, apperror.DuplicateEmail(email)
	} else if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("credential: checking email: %w", err)
	}

	identity := &model.Identity{
		Email:        email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		ExternalID:   in.ExternalID,
		IsStaff:      in.IsStaff,
		IsSuperuser:  in.IsSuperuser,
	}
	if err := s.repo.Create(ctx, identity); err != nil {
		if errors.Is(err, apperror.ErrDuplicateEmail) {
			return nil, err
		}
		return nil, fmt.Errorf("credential: creating identity: %w", err)
	}
	return identity, nil
}

// FindByCredentials returns the identity whose email and password match.
// An unknown email and a wrong password both yield apperror.ErrNotFound,
// and take about the same time.
func (s *Store) FindByCredentials(ctx context.Context, email, password string) (*model.Identity, error) {
	identity, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.passwords.VerifyAbsent(password)
			return nil, apperror.NotFound("identity", model.NormalizeEmail(email))
		}
		return nil, fmt.Errorf("credential: looking up email: %w", err)
	}

	if err := s.passwords.Verify(identity.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.NotFound("identity", identity.Email)
		}
		return nil, fmt.Errorf("credential: verifying password: %w", err)
	}
	return identity, nil
}

// CheckPassword reports whether password verifies against identity's hash.
func (s *Store) CheckPassword(identity *model.Identity, password string) bool {
	return s.passwords.Verify(identity.PasswordHash, password) == nil
}

// GetByID returns the identity with the given ID.
func (s *Store) GetByID(ctx context.Context, id string) (*model.Identity, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByEmail returns the identity with the given (normalized) email.
func (s *Store) GetByEmail(ctx context.Context, email string) (*model.Identity, error) {
	return s.repo.GetByEmail(ctx, email)
}

// Update replaces the mutable fields of an existing identity and bumps
// UpdatedAt. It fails with apperror.ErrNotFound when the ID does not exist.
// Privilege flags are written as given: callers run them through the
// policy engine first.
func (s *Store) Update(ctx context.Context, identity *model.Identity) error {
	unlockID := s.locks.Lock(idKey(identity.ID))
	defer unlockID()
	unlockEmail := s.locks.Lock(emailKey(identity.Email))
	defer unlockEmail()

	return s.repo.Update(ctx, identity)
}

// Modify loads the identity, applies fn to a copy and writes the result,
// all under the identity's lock so concurrent read-modify-write cycles
// cannot lose updates. If fn returns an error nothing is written.
func (s *Store) Modify(ctx context.Context, id string, fn func(*model.Identity) error) (*model.Identity, error) {
	unlockID := s.locks.Lock(idKey(id))
	defer unlockID()

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	next := *current
	if err := fn(&next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	next.CreatedAt = current.CreatedAt

	unlockEmail := s.locks.Lock(emailKey(next.Email))
	defer unlockEmail()

	if err := s.repo.Update(ctx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// SetPassword replaces the stored hash with a hash of password.
func (s *Store) SetPassword(ctx context.Context, id, password string) (*model.Identity, error) {
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("credential: %w", err)
	}
	return s.Modify(ctx, id, func(i *model.Identity) error {
		i.PasswordHash = hash
		return nil
	})
}

// LinkExternal records the provider's identifier for the identity.
func (s *Store) LinkExternal(ctx context.Context, id, externalID string) (*model.Identity, error) {
	return s.Modify(ctx, id, func(i *model.Identity) error {
		i.ExternalID = externalID
		return nil
	})
}

// Delete removes the identity.
func (s *Store) Delete(ctx context.Context, id string) error {
	unlock := s.locks.Lock(idKey(id))
	defer unlock()
	return s.repo.Delete(ctx, id)
}
