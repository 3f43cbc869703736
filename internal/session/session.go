// Package session tracks who is logged in on each UI instance.
//
// STATE MACHINE (per UI instance):
//
//	Anonymous ──login/signup──▶ Authenticated(identity)
//	    ▲                            │
//	    └──────────logout────────────┘
//
// A new login on an Authenticated instance replaces the bound identity; it
// never stacks. There is no automatic expiry.
//
// Sessions are plain values passed to every operation. The Manager only
// loads and stores them; it holds no "current user" of its own.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tripease/identity/internal/model"
)

// State is the lifecycle state of a session.
type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

// Session is the authenticated context of one UI instance.
//
// Email, FirstName and the flags are a display copy taken at login. Access
// decisions never read them; the service reloads the bound identity for
// each command.
type Session struct {
	InstanceID  string    `json:"instanceId"`
	IdentityID  string    `json:"identityId,omitempty"`
	Email       string    `json:"email,omitempty"`
	FirstName   string    `json:"firstName,omitempty"`
	IsStaff     bool      `json:"isStaff,omitempty"`
	IsSuperuser bool      `json:"isSuperuser,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// State reports whether an identity is bound.
func (s *Session) State() State {
	if s != nil && s.IdentityID != "" {
		return Authenticated
	}
	return Anonymous
}

// Authenticated is shorthand for State() == Authenticated.
func (s *Session) Authenticated() bool {
	return s.State() == Authenticated
}

// ErrNoSession is returned by a Store when nothing is stored for an instance.
var ErrNoSession = errors.New("session: not found")

// Store persists sessions keyed by instance ID.
type Store interface {
	Load(ctx context.Context, instanceID string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, instanceID string) error
}

// Manager drives the session state machine over a Store.
type Manager struct {
	store Store
	now   func() time.Time
}

// NewManager creates a Manager. A nil store means an in-memory store.
func NewManager(store Store) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Manager{store: store, now: time.Now}
}

// Current returns the session of instanceID, or a fresh anonymous session
// when none is stored.
func (m *Manager) Current(ctx context.Context, instanceID string) (*Session, error) {
	if instanceID == "" {
		return nil, errors.New("session: instance ID must not be empty")
	}
	s, err := m.store.Load(ctx, instanceID)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return &Session{InstanceID: instanceID, CreatedAt: m.now()}, nil
		}
		return nil, fmt.Errorf("session: loading %s: %w", instanceID, err)
	}
	return s, nil
}

// Authenticate binds identity to the instance of sess, replacing whatever
// was bound before. The returned session is new; sess is not modified.
func (m *Manager) Authenticate(ctx context.Context, sess *Session, identity *model.Identity) (*Session, error) {
	if identity == nil || identity.ID == "" {
		return nil, errors.New("session: cannot authenticate without an identity")
	}
	next := &Session{
		InstanceID:  sess.InstanceID,
		IdentityID:  identity.ID,
		Email:       identity.Email,
		FirstName:   identity.FirstName,
		IsStaff:     identity.IsStaff,
		IsSuperuser: identity.IsSuperuser,
		CreatedAt:   m.now(),
	}
	if err := m.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("session: saving %s: %w", next.InstanceID, err)
	}
	return next, nil
}

// Refresh re-snapshots identity's fields into sess if sess is bound to it.
// Sessions bound to other identities are returned unchanged.
func (m *Manager) Refresh(ctx context.Context, sess *Session, identity *model.Identity) (*Session, error) {
	if sess.IdentityID != identity.ID {
		return sess, nil
	}
	next := *sess
	next.Email = identity.Email
	next.FirstName = identity.FirstName
	next.IsStaff = identity.IsStaff
	next.IsSuperuser = identity.IsSuperuser
	if err := m.store.Save(ctx, &next); err != nil {
		return nil, fmt.Errorf("session: saving %s: %w", next.InstanceID, err)
	}
	return &next, nil
}

// Logout returns the instance to Anonymous.
func (m *Manager) Logout(ctx context.Context, sess *Session) (*Session, error) {
	if err := m.store.Delete(ctx, sess.InstanceID); err != nil {
		return nil, fmt.Errorf("session: deleting %s: %w", sess.InstanceID, err)
	}
	return &Session{InstanceID: sess.InstanceID, CreatedAt: m.now()}, nil
}

// Forget ends every session bound to identityID known to the store, if the
// store supports it. Used when an identity is deleted.
func (m *Manager) Forget(ctx context.Context, identityID string) error {
	f, ok := m.store.(interface {
		DeleteIdentity(ctx context.Context, identityID string) error
	})
	if !ok {
		return nil
	}
	return f.DeleteIdentity(ctx, identityID)
}
