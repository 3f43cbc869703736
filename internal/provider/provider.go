// Package provider is the adapter to the external identity provider: the
// hosted auth service that mirrors accounts and can authenticate them.
//
// The provider is never authoritative. The identity core keeps working when
// it is missing (New returns nil) or down (calls fail with ErrUnreachable).
package provider

import (
	"context"
	"errors"
	"time"

	"github.com/tripease/identity/internal/model"
)

var (
	// ErrUnreachable covers transport failures, timeouts and 5xx answers.
	// The caller may fall back to local data.
	ErrUnreachable = errors.New("provider: unreachable")

	// ErrRejected means the provider answered and said no: wrong
	// credentials, an already registered email, a malformed request.
	ErrRejected = errors.New("provider: rejected")
)

// Provider is the capability set the core needs from an identity provider.
type Provider interface {
	// SignUp creates the external account and stores p as its metadata.
	SignUp(ctx context.Context, email, password string, p model.Profile) (*model.ExternalIdentity, error)

	// SignIn authenticates email/password and returns the external account.
	SignIn(ctx context.Context, email, password string) (*model.ExternalIdentity, error)

	// UpdateMetadata replaces the mirrored profile of the external account.
	UpdateMetadata(ctx context.Context, externalID string, p model.Profile) error

	// RequestPasswordReset asks the provider to mail a reset link.
	RequestPasswordReset(ctx context.Context, email string) error
}

// DefaultTimeout bounds every provider call when Config.Timeout is zero.
const DefaultTimeout = 5 * time.Second

// Config holds the provider connection settings.
type Config struct {
	BaseURL    string        // e.g. https://xyzcompany.supabase.co
	PublicKey  string        // anon key, used for end-user calls
	ServiceKey string        // service-role key, used for admin calls; falls back to PublicKey
	Timeout    time.Duration // per-call bound
}

// Configured reports whether enough settings are present to talk to a
// provider.
func (c Config) Configured() bool {
	return c.BaseURL != "" && c.PublicKey != ""
}

func (c Config) serviceKey() string {
	if c.ServiceKey != "" {
		return c.ServiceKey
	}
	return c.PublicKey
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}
