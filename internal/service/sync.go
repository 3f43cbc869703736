package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tripease/identity/internal/model"
	"github.com/tripease/identity/internal/provider"
)

// SyncKind names the local mutation a SyncEvent mirrors.
type SyncKind string

const (
	SyncCreate         SyncKind = "create"
	SyncProfileUpdate  SyncKind = "profile-update"
	SyncLoginReconcile SyncKind = "login-reconcile"
	SyncPasswordReset  SyncKind = "password-reset"
)

// SyncEvent describes one attempt to bring the provider in line with a local
// change. Events live for the duration of the command that created them;
// they are never queued or persisted.
type SyncEvent struct {
	Kind       SyncKind
	IdentityID string
	ExternalID string
	Email      string
	Profile    model.Profile
}

func (e SyncEvent) attrs() []any {
	return []any{
		slog.String("kind", string(e.Kind)),
		slog.String("identityID", e.IdentityID),
		slog.String("externalID", e.ExternalID),
		slog.String("email", e.Email),
	}
}

// Defaults for the provider call policy.
const (
	DefaultProviderTimeout = provider.DefaultTimeout
	DefaultSyncAttempts    = 2
)

// callProvider runs call against the provider for ev, retrying while the
// provider is unreachable, up to s.attempts tries. A rejection is final.
//
// CANCELLATION:
// Each try runs detached from the caller's cancellation (but bounded by
// s.timeout). If the caller goes away mid-call, callProvider returns the
// caller's context error at once; the in-flight request finishes on its own
// and its result is dropped.
func callProvider[T any](ctx context.Context, s *AccountService, ev SyncEvent, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if s.provider == nil {
		return zero, fmt.Errorf("%w: no provider configured", provider.ErrUnreachable)
	}

	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := detached(ctx, s.timeout, call)
		if err == nil {
			if attempt > 1 {
				s.logger.Info("provider call succeeded after retry",
					append(ev.attrs(), slog.Int("attempt", attempt))...)
			}
			return v, nil
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		lastErr = err
		if !errors.Is(err, provider.ErrUnreachable) {
			return zero, err
		}

		s.logger.Warn("provider unreachable",
			append(ev.attrs(),
				slog.Int("attempt", attempt),
				slog.Int("maxAttempts", s.attempts),
				slog.String("error", err.Error()),
			)...)
	}
	return zero, lastErr
}

// detached runs call in its own goroutine under a context that keeps ctx's
// values but not its cancellation, with timeout as the only bound.
func detached[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	done := make(chan result, 1)
	go func() {
		defer cancel()
		v, err := call(callCtx)
		if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, provider.ErrUnreachable) {
			err = fmt.Errorf("%w: %v", provider.ErrUnreachable, err)
		}
		done <- result{v, err}
	}()

	select {
	case r := <-done:
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// mirror pushes ev's profile to the provider. Failures are logged and
// swallowed: the local store stays authoritative and the next profile
// update or login reconciles.
func (s *AccountService) mirror(ctx context.Context, ev SyncEvent) {
	if s.provider == nil {
		return
	}
	if ev.ExternalID == "" {
		s.logger.Debug("identity not linked to provider, skipping mirror", ev.attrs()...)
		return
	}

	_, err := callProvider(ctx, s, ev, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.provider.UpdateMetadata(ctx, ev.ExternalID, ev.Profile)
	})
	switch {
	case err == nil:
		s.logger.Info("profile mirrored to provider", ev.attrs()...)
	case ctx.Err() != nil:
		s.logger.Info("profile mirror abandoned by caller", ev.attrs()...)
	default:
		s.logger.Warn("profile mirror failed, provider copy is stale",
			append(ev.attrs(), slog.String("error", err.Error()))...)
	}
}
