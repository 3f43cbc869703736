package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tripease/identity/internal/session"
)

// InstanceCookie is the cookie naming the UI instance a request comes from.
const InstanceCookie = "instance"

// contextKey is an unexported type used for context keys in this package.
//
// WHY A CUSTOM TYPE FOR CONTEXT KEYS?
// context.WithValue uses any as the key type. A package-private type means
// only THIS package can store or read the session, so nothing else can
// shadow it by accident.
type contextKey string

const sessionKey contextKey = "session"

// LoadSession is a middleware that attaches the caller's session to every
// request.
//
// UI INSTANCES:
// Each browser (or other front end) is one UI instance. The instance is
// named by a signed token in the "instance" HttpOnly cookie:
//
//	first request  → no cookie → new instance ID, Set-Cookie: instance=<jwt>
//	later requests → cookie    → instance ID → session.Manager.Current
//
// The cookie holds only the instance ID. Who is logged in on that instance
// lives server-side in the session store, so logout takes effect at once
// and a stolen cookie stops working after logout.
//
// A missing, expired or tampered cookie is not an error: the request just
// gets a fresh anonymous instance.
func LoadSession(tokens *TokenService, sessions *session.Manager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			instanceID := ""
			if c, err := r.Cookie(InstanceCookie); err == nil {
				if id, err := tokens.Validate(c.Value); err == nil {
					instanceID = id
				} else {
					logger.Debug("discarding invalid instance cookie", slog.String("error", err.Error()))
				}
			}

			if instanceID == "" {
				instanceID = NewInstanceID()
				token, err := tokens.Issue(instanceID)
				if err != nil {
					logger.Error("issuing instance token failed", slog.String("error", err.Error()))
					http.Error(w, `{"error":"internal_error","message":"An internal error occurred"}`, http.StatusInternalServerError)
					return
				}
				http.SetCookie(w, &http.Cookie{
					Name:     InstanceCookie,
					Value:    token,
					Path:     "/",
					MaxAge:   int(tokens.TTL().Seconds()),
					HttpOnly: true,
					SameSite: http.SameSiteLaxMode,
					// Secure: true, // Uncomment in production (requires HTTPS)
				})
			}

			sess, err := sessions.Current(r.Context(), instanceID)
			if err != nil {
				logger.Error("loading session failed",
					slog.String("instanceID", instanceID),
					slog.String("error", err.Error()),
				)
				http.Error(w, `{"error":"internal_error","message":"An internal error occurred"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// RequireAuthenticated stops requests whose session has no bound identity.
// It must run after LoadSession.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !SessionFromContext(r.Context()).Authenticated() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized","message":"valid authentication required"}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WithSession returns a copy of ctx carrying sess.
func WithSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext returns the request's session. Outside LoadSession it
// returns an anonymous session with no instance.
func SessionFromContext(ctx context.Context) *session.Session {
	if sess, ok := ctx.Value(sessionKey).(*session.Session); ok && sess != nil {
		return sess
	}
	return &session.Session{}
}
