// Package service is the business layer of the identity core.
//
// AccountService is the single entry point front ends talk to. Every command
// takes the caller's session explicitly and returns the next one; nothing in
// this package remembers "who is logged in".
//
//	Handler (HTTP) ─┐
//	Any front end  ─┴→ AccountService ─→ validation  (form rules)
//	                                   ├→ policy      (who may touch which row)
//	                                   ├→ credential  (local store, authoritative)
//	                                   ├→ session     (per-instance state)
//	                                   └→ provider    (external mirror, best effort)
//
// SOURCE OF TRUTH:
// The local store decides whether an identity exists and what its fields are.
// The provider is a mirror. The one exception is the refresh right after a
// successful provider login, where the provider's metadata overwrites the
// local copy.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tripease/identity/internal/apperror"
	"github.com/tripease/identity/internal/credential"
	"github.com/tripease/identity/internal/model"
	"github.com/tripease/identity/internal/notify"
	"github.com/tripease/identity/internal/policy"
	"github.com/tripease/identity/internal/provider"
	"github.com/tripease/identity/internal/session"
	"github.com/tripease/identity/internal/validation"
)

// User-facing outcome messages.
const (
	MsgSignedUp        = "Account created successfully! Welcome to TripEase!"
	MsgLoggedOut       = "Logged out successfully"
	MsgProfileUpdated  = "Profile updated successfully."
	MsgPasswordChanged = "Your password was changed successfully."
	MsgPasswordReset   = "If an account exists for that email, a password reset link has been sent."
	MsgFlagsReverted   = "You cannot change your own staff or superuser status."
	MsgIdentityDeleted = "Account deleted."
)

// Outcome is what a command hands back to the front end.
type Outcome struct {
	Session  *session.Session
	Identity *model.Identity // nil when the command has nothing to show
	Messages []notify.Message
}

// ProfileUpdate is a partial update. nil fields keep their current value.
type ProfileUpdate struct {
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	Email       *string `json:"email"`
	Phone       *string `json:"phone"`
	IsStaff     *bool   `json:"is_staff"`
	IsSuperuser *bool   `json:"is_superuser"`
}

func (u ProfileUpdate) values() validation.Values {
	v := validation.Values{}
	set := func(field string, p *string) {
		if p != nil {
			v[field] = *p
		}
	}
	set(validation.FieldFirstName, u.FirstName)
	set(validation.FieldLastName, u.LastName)
	set(validation.FieldEmail, u.Email)
	set(validation.FieldPhone, u.Phone)
	return v
}

func (u ProfileUpdate) apply(i *model.Identity) {
	if u.FirstName != nil {
		i.FirstName = *u.FirstName
	}
	if u.LastName != nil {
		i.LastName = *u.LastName
	}
	if u.Email != nil {
		i.Email = model.NormalizeEmail(*u.Email)
	}
	if u.Phone != nil {
		i.Phone = *u.Phone
	}
	if u.IsStaff != nil {
		i.IsStaff = *u.IsStaff
	}
	if u.IsSuperuser != nil {
		i.IsSuperuser = *u.IsSuperuser
	}
}

// Options tunes the provider call policy. Zero values mean the defaults.
type Options struct {
	ProviderTimeout time.Duration
	SyncAttempts    int
	Mailbox         *notify.Mailbox // optional; receives every outcome message
}

// AccountService runs the identity commands.
type AccountService struct {
	store    *credential.Store
	sessions *session.Manager
	provider provider.Provider // nil: local-only
	policy   *policy.Engine
	mailbox  *notify.Mailbox
	logger   *slog.Logger
	timeout  time.Duration
	attempts int
}

// NewAccountService wires the service. prov may be nil.
func NewAccountService(
	store *credential.Store,
	sessions *session.Manager,
	prov provider.Provider,
	engine *policy.Engine,
	logger *slog.Logger,
	opts Options,
) *AccountService {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.SyncAttempts <= 0 {
		opts.SyncAttempts = DefaultSyncAttempts
	}
	if engine == nil {
		engine = policy.NewEngine()
	}
	return &AccountService{
		store:    store,
		sessions: sessions,
		provider: prov,
		policy:   engine,
		mailbox:  opts.Mailbox,
		logger:   logger,
		timeout:  opts.ProviderTimeout,
		attempts: opts.SyncAttempts,
	}
}

// ProviderConfigured reports whether an external provider is wired in.
func (s *AccountService) ProviderConfigured() bool {
	return s.provider != nil
}

func (s *AccountService) outcome(sess *session.Session, identity *model.Identity, msgs ...notify.Message) *Outcome {
	if s.mailbox != nil && sess != nil {
		s.mailbox.Push(sess.InstanceID, msgs...)
	}
	return &Outcome{Session: sess, Identity: identity, Messages: msgs}
}

func validate(schema *validation.Schema, values validation.Values) error {
	if report := schema.ValidateForm(values); !report.Valid {
		return apperror.FormInvalid(report.Errors())
	}
	return nil
}

// =========================================================================
// FORM FEEDBACK
// =========================================================================

// ValidateField checks one field of a named form against the values typed
// so far. Used for live feedback when a field loses focus.
func (s *AccountService) ValidateField(form string, values validation.Values, field string) (validation.Result, error) {
	schema, ok := validation.Lookup(form)
	if !ok {
		return validation.Result{}, apperror.NotFound("form", form)
	}
	return schema.ValidateField(values, field), nil
}

// =========================================================================
// SIGNUP
// =========================================================================

// SubmitSignup registers a new identity and binds it to the session.
//
//  1. Validate the whole form (every failing field is reported).
//  2. Authorize the insert as an anonymous caller. Signup is an anonymous
//     operation even when the instance already has a session.
//  3. Create the identity locally. A taken email stops here with
//     apperror.ErrDuplicateEmail and the session is left as it was.
//  4. Mirror the new identity to the provider. Failure is logged and the
//     identity stays local-only.
//  5. Authenticate the session.
func (s *AccountService) SubmitSignup(ctx context.Context, sess *session.Session, values validation.Values) (*Outcome, error) {
	if err := validate(validation.SignupSchema, values); err != nil {
		return nil, err
	}
	if _, err := s.policy.Authorize(policy.Anonymous(), policy.OpInsert, nil); err != nil {
		return nil, err
	}

	email := model.NormalizeEmail(values.Get(validation.FieldEmail))
	password := values.Get(validation.FieldPassword)

	unlock := s.store.LockCommand(email)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	identity, err := s.store.Create(ctx, credential.NewIdentity{
		Email:     email,
		Password:  password,
		FirstName: values.Get(validation.FieldFirstName),
		LastName:  values.Get(validation.FieldLastName),
		Phone:     values.Get(validation.FieldPhone),
	})
	if err != nil {
		if !errors.Is(err, apperror.ErrDuplicateEmail) {
			s.logger.Error("signup: creating identity failed", slog.String("email", email), slog.String("error", err.Error()))
		}
		return nil, err
	}
	s.logger.Info("identity created", slog.String("identityID", identity.ID), slog.String("email", email))

	ev := SyncEvent{Kind: SyncCreate, IdentityID: identity.ID, Email: email, Profile: identity.Profile()}
	if linked, err := s.linkOnSignup(ctx, ev, password); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("signup: provider mirror failed, identity is local-only",
			append(ev.attrs(), slog.String("error", err.Error()))...)
	} else if linked != nil {
		identity = linked
	}

	next, err := s.sessions.Authenticate(ctx, sess, identity)
	if err != nil {
		return nil, fmt.Errorf("service/account: signup session: %w", err)
	}
	return s.outcome(next, identity, notify.Successf(MsgSignedUp)), nil
}

// linkOnSignup creates the provider account and records its ID. It returns
// (nil, nil) when no provider is configured.
func (s *AccountService) linkOnSignup(ctx context.Context, ev SyncEvent, password string) (*model.Identity, error) {
	if s.provider == nil {
		return nil, nil
	}
	ext, err := callProvider(ctx, s, ev, func(ctx context.Context) (*model.ExternalIdentity, error) {
		return s.provider.SignUp(ctx, ev.Email, password, ev.Profile)
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.policy.Authorize(policy.Service(), policy.OpUpdate, &model.Identity{ID: ev.IdentityID}); err != nil {
		return nil, err
	}
	linked, err := s.store.LinkExternal(ctx, ev.IdentityID, ext.ID)
	if err != nil {
		return nil, fmt.Errorf("service/account: linking external id: %w", err)
	}
	s.logger.Info("identity linked to provider", append(ev.attrs(), slog.String("externalID", ext.ID))...)
	return linked, nil
}

// =========================================================================
// LOGIN / LOGOUT
// =========================================================================

// SubmitLogin authenticates email/password and binds the identity to the
// session, replacing any identity bound before.
//
// With a provider configured, the provider is asked first. If it accepts,
// the local identity is found or created and refreshed from the provider.
// If it rejects or cannot be reached, the local store decides. The caller
// never learns which path answered, nor whether the email exists.
func (s *AccountService) SubmitLogin(ctx context.Context, sess *session.Session, values validation.Values) (*Outcome, error) {
	if err := validate(validation.LoginSchema, values); err != nil {
		return nil, err
	}

	email := model.NormalizeEmail(values.Get(validation.FieldEmail))
	password := values.Get(validation.FieldPassword)

	unlock := s.store.LockCommand(email)
	defer unlock()

	identity, unreachable, err := s.loginViaProvider(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		identity, err = s.loginLocally(ctx, email, password)
		if err != nil {
			// The local store cannot tell a wrong password from an account
			// that exists only at the provider, so an outage is reported as
			// an outage.
			if unreachable != nil && errors.Is(err, apperror.ErrInvalidCredentials) {
				return nil, apperror.ProviderUnreachable(unreachable)
			}
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	next, err := s.sessions.Authenticate(ctx, sess, identity)
	if err != nil {
		return nil, fmt.Errorf("service/account: login session: %w", err)
	}
	s.logger.Info("identity logged in",
		slog.String("identityID", identity.ID),
		slog.String("instanceID", next.InstanceID),
	)

	return s.outcome(next, identity, notify.Successf("Welcome back, "+identity.ShortName()+"!")), nil
}

// loginViaProvider returns a nil identity when the caller should fall back
// to the local store. unreachable is the provider failure when the fallback
// happened because the provider could not be reached.
func (s *AccountService) loginViaProvider(ctx context.Context, email, password string) (identity *model.Identity, unreachable, err error) {
	if s.provider == nil {
		return nil, nil, nil
	}

	ev := SyncEvent{Kind: SyncLoginReconcile, Email: email}
	ext, err := callProvider(ctx, s, ev, func(ctx context.Context) (*model.ExternalIdentity, error) {
		return s.provider.SignIn(ctx, email, password)
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, nil, ctx.Err()
	case errors.Is(err, provider.ErrUnreachable):
		s.logger.Warn("login: provider unreachable, falling back to local store",
			slog.String("email", email), slog.String("error", err.Error()))
		return nil, err, nil
	default:
		s.logger.Info("login: provider rejected credentials, trying local store",
			slog.String("email", email))
		return nil, nil, nil
	}

	ev.ExternalID = ext.ID
	ev.Profile = ext.Profile
	identity, err = s.reconcileLogin(ctx, ev, password)
	if err != nil {
		return nil, nil, fmt.Errorf("service/account: reconciling provider login: %w", err)
	}
	return identity, nil, nil
}

// reconcileLogin brings the local identity in line with the provider after
// the provider accepted a login. It runs as the service actor.
func (s *AccountService) reconcileLogin(ctx context.Context, ev SyncEvent, password string) (*model.Identity, error) {
	actor := policy.Service()

	current, err := s.store.GetByEmail(ctx, ev.Email)
	if errors.Is(err, apperror.ErrNotFound) {
		if _, err := s.policy.Authorize(actor, policy.OpInsert, nil); err != nil {
			return nil, err
		}
		created, err := s.store.Create(ctx, credential.NewIdentity{
			Email:      ev.Email,
			Password:   password,
			FirstName:  ev.Profile.FirstName,
			LastName:   ev.Profile.LastName,
			Phone:      ev.Profile.Phone,
			ExternalID: ev.ExternalID,
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info("local identity created from provider account",
			append(ev.attrs(), slog.String("identityID", created.ID))...)
		return created, nil
	}
	if err != nil {
		return nil, err
	}

	ev.IdentityID = current.ID
	if _, err := s.policy.Authorize(actor, policy.OpUpdate, current); err != nil {
		return nil, err
	}

	updated, err := s.store.Modify(ctx, current.ID, func(i *model.Identity) error {
		// The provider wins for this refresh.
		i.MergeProfile(ev.Profile)
		i.ExternalID = ev.ExternalID
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The provider's password is the one the user just proved. Keep the
	// local hash in step so the fallback path accepts it too.
	if !s.store.CheckPassword(updated, password) {
		updated, err = s.store.SetPassword(ctx, updated.ID, password)
		if err != nil {
			return nil, err
		}
		s.logger.Info("local password re-synced from provider login", ev.attrs()...)
	}
	return updated, nil
}

func (s *AccountService) loginLocally(ctx context.Context, email, password string) (*model.Identity, error) {
	identity, err := s.store.FindByCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.InvalidCredentials()
		}
		return nil, fmt.Errorf("service/account: local login: %w", err)
	}
	// Verification reads the row as an anonymous caller would.
	if _, err := s.policy.Authorize(policy.Anonymous(), policy.OpRead, identity); err != nil {
		return nil, apperror.InvalidCredentials()
	}
	return identity, nil
}

// Logout returns the session to Anonymous.
func (s *AccountService) Logout(ctx context.Context, sess *session.Session) (*Outcome, error) {
	next, err := s.sessions.Logout(ctx, sess)
	if err != nil {
		return nil, fmt.Errorf("service/account: logout: %w", err)
	}
	if sess.Authenticated() {
		s.logger.Info("identity logged out",
			slog.String("identityID", sess.IdentityID),
			slog.String("instanceID", sess.InstanceID),
		)
	}
	return s.outcome(next, nil, notify.Infof(MsgLoggedOut)), nil
}

// =========================================================================
// IDENTITY ACCESS
// =========================================================================

// actor classifies the caller from the stored row of the bound identity,
// so flag changes and deletions take effect on every live session at once.
// A session whose identity no longer exists acts as anonymous.
func (s *AccountService) actor(ctx context.Context, sess *session.Session) (policy.Actor, error) {
	if !sess.Authenticated() {
		return policy.Anonymous(), nil
	}
	current, err := s.store.GetByID(ctx, sess.IdentityID)
	if errors.Is(err, apperror.ErrNotFound) {
		return policy.Anonymous(), nil
	}
	if err != nil {
		return policy.Actor{}, fmt.Errorf("service/account: loading session identity: %w", err)
	}
	return policy.ActorOf(current), nil
}

// load fetches the row for actor. Callers without staff visibility get
// PermissionDenied for unknown IDs rather than NotFound, so they cannot
// learn which IDs exist.
func (s *AccountService) load(ctx context.Context, actor policy.Actor, id string) (*model.Identity, error) {
	row, err := s.store.GetByID(ctx, id)
	if err == nil {
		return row, nil
	}
	if errors.Is(err, apperror.ErrNotFound) && actor.Role != policy.RoleStaff && actor.Role != policy.RoleService {
		return nil, apperror.PermissionDenied(fmt.Sprintf("%s may not read this identity", actor.Role))
	}
	return nil, err
}

// GetIdentity returns the identity with the given ID as the session may see
// it.
func (s *AccountService) GetIdentity(ctx context.Context, sess *session.Session, id string) (*model.Identity, error) {
	actor, err := s.actor(ctx, sess)
	if err != nil {
		return nil, err
	}
	row, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	d, err := s.policy.Authorize(actor, policy.OpRead, row)
	if err != nil {
		return nil, err
	}
	if d.Scope != policy.ScopeFull {
		// The credential view exists for login verification only.
		return nil, apperror.PermissionDenied(fmt.Sprintf("%s may not read this identity", actor.Role))
	}
	return policy.View(d, row), nil
}

// UpdateProfile applies a partial update to the identity with the given ID.
//
// Flag changes the session may not make are reverted, not rejected: the
// rest of the update still applies and a warning message is returned.
// The mirrored fields are then pushed to the provider on a best-effort
// basis; a failed push never fails the command.
func (s *AccountService) UpdateProfile(ctx context.Context, sess *session.Session, id string, upd ProfileUpdate) (*Outcome, error) {
	actor, err := s.actor(ctx, sess)
	if err != nil {
		return nil, err
	}

	if report := validation.ProfileSchema.ValidatePartial(upd.values()); !report.Valid {
		return nil, apperror.FormInvalid(report.Errors())
	}

	row, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.policy.Authorize(actor, policy.OpUpdate, row); err != nil {
		return nil, err
	}

	// Held until the provider push below returns, so two updates of one
	// identity reach the provider in the order they were committed.
	unlock := s.store.LockSync(id)
	defer unlock()

	var reverted []string
	var before model.Profile
	updated, err := s.store.Modify(ctx, id, func(i *model.Identity) error {
		current := *i
		before = current.Profile()
		upd.apply(i)
		sanitized, r := s.policy.SanitizeUpdate(actor, &current, i)
		*i = *sanitized
		reverted = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	msgs := []notify.Message{notify.Successf(MsgProfileUpdated)}
	if len(reverted) > 0 {
		s.logger.Warn("privilege flag change reverted",
			slog.String("identityID", id),
			slog.String("actorRole", actor.Role.String()),
			slog.Any("columns", reverted),
		)
		msgs = append(msgs, notify.Message{Level: notify.Warning, Text: MsgFlagsReverted})
	}

	if updated.Profile() != before {
		s.mirror(ctx, SyncEvent{
			Kind:       SyncProfileUpdate,
			IdentityID: updated.ID,
			ExternalID: updated.ExternalID,
			Email:      updated.Email,
			Profile:    updated.Profile(),
		})
	}

	next, err := s.sessions.Refresh(ctx, sess, updated)
	if err != nil {
		return nil, fmt.Errorf("service/account: refreshing session: %w", err)
	}
	return s.outcome(next, updated, msgs...), nil
}

// DeleteIdentity removes the identity and ends every session bound to it.
func (s *AccountService) DeleteIdentity(ctx context.Context, sess *session.Session, id string) (*Outcome, error) {
	actor, err := s.actor(ctx, sess)
	if err != nil {
		return nil, err
	}
	row, err := s.load(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.policy.Authorize(actor, policy.OpDelete, row); err != nil {
		return nil, err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	if err := s.sessions.Forget(ctx, id); err != nil {
		s.logger.Warn("ending sessions of deleted identity failed",
			slog.String("identityID", id), slog.String("error", err.Error()))
	}
	s.logger.Info("identity deleted",
		slog.String("identityID", id),
		slog.String("actorRole", actor.Role.String()),
	)

	next := sess
	if sess.IdentityID == id {
		next, err = s.sessions.Logout(ctx, sess)
		if err != nil {
			return nil, fmt.Errorf("service/account: ending own session: %w", err)
		}
	}
	return s.outcome(next, nil, notify.Infof(MsgIdentityDeleted)), nil
}

// =========================================================================
// PASSWORDS
// =========================================================================

// RequestPasswordReset asks the provider to mail a reset link. The answer
// is the same whether or not the email is registered, and whether or not
// the provider could be reached.
func (s *AccountService) RequestPasswordReset(ctx context.Context, sess *session.Session, values validation.Values) (*Outcome, error) {
	if err := validate(validation.PasswordResetSchema, values); err != nil {
		return nil, err
	}
	email := model.NormalizeEmail(values.Get(validation.FieldEmail))

	if s.provider != nil {
		ev := SyncEvent{Kind: SyncPasswordReset, Email: email}
		_, err := callProvider(ctx, s, ev, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.provider.RequestPasswordReset(ctx, email)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("password reset request failed", append(ev.attrs(), slog.String("error", err.Error()))...)
		}
	} else {
		s.logger.Info("password reset requested without a provider", slog.String("email", email))
	}
	return s.outcome(sess, nil, notify.Infof(MsgPasswordReset)), nil
}

// ChangePassword sets a new password for the session's own identity. The
// new password is stored locally only. Until the provider learns it, logins
// with it are answered by the local store after the provider rejects them.
func (s *AccountService) ChangePassword(ctx context.Context, sess *session.Session, values validation.Values) (*Outcome, error) {
	if !sess.Authenticated() {
		return nil, apperror.PermissionDenied("log in to change your password")
	}
	if err := validate(validation.PasswordChangeSchema, values); err != nil {
		return nil, err
	}

	actor, err := s.actor(ctx, sess)
	if err != nil {
		return nil, err
	}
	row, err := s.load(ctx, actor, sess.IdentityID)
	if err != nil {
		return nil, err
	}
	if _, err := s.policy.Authorize(actor, policy.OpUpdate, row); err != nil {
		return nil, err
	}

	updated, err := s.store.SetPassword(ctx, row.ID, values.Get(validation.FieldPassword))
	if err != nil {
		return nil, err
	}
	s.logger.Info("password changed", slog.String("identityID", updated.ID))
	return s.outcome(sess, updated, notify.Successf(MsgPasswordChanged)), nil
}
