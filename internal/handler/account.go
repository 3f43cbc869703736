// Package handler adapts HTTP requests to the account service commands.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tripease/identity/internal/apperror"
	"github.com/tripease/identity/internal/auth"
	"github.com/tripease/identity/internal/model"
	"github.com/tripease/identity/internal/notify"
	"github.com/tripease/identity/internal/service"
	"github.com/tripease/identity/internal/session"
	"github.com/tripease/identity/internal/validation"
)

// maxBodyBytes bounds every request body this package reads.
const maxBodyBytes = 64 << 10

// AccountHandler exposes the identity commands over HTTP.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignup / HandleLogin / HandleLogout → session transitions
//   - HandlePasswordReset / HandleChangePassword → password flows
//   - HandleValidateField → live per-field feedback
//   - HandleMe / HandleGetIdentity / HandleUpdateIdentity / HandleDeleteIdentity
//   - HandleMessages → pending notifications for this UI instance
//
// The session comes from auth.LoadSession; handlers never read cookies.
type AccountHandler struct {
	accounts *service.AccountService
	mailbox  *notify.Mailbox
	logger   *slog.Logger
}

// NewAccountHandler creates an AccountHandler. mailbox must be the one the
// service pushes to; it may be nil, in which case each response carries the
// command's own messages.
func NewAccountHandler(accounts *service.AccountService, mailbox *notify.Mailbox, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{accounts: accounts, mailbox: mailbox, logger: logger}
}

// SessionResponse is returned by every command that may change the session.
type SessionResponse struct {
	Authenticated bool             `json:"authenticated"`
	Identity      *model.Identity  `json:"identity,omitempty"`
	Messages      []notify.Message `json:"messages"`
}

func (h *AccountHandler) messages(sess *session.Session, fallback []notify.Message) []notify.Message {
	if h.mailbox == nil {
		if fallback == nil {
			return []notify.Message{}
		}
		return fallback
	}
	return h.mailbox.Drain(sess.InstanceID)
}

func (h *AccountHandler) respond(w http.ResponseWriter, status int, out *service.Outcome) {
	writeJSON(w, status, SessionResponse{
		Authenticated: out.Session.Authenticated(),
		Identity:      out.Identity,
		Messages:      h.messages(out.Session, out.Messages),
	})
}

// decodeValues reads a form submission. Both JSON objects of strings and
// URL-encoded forms are accepted, so plain HTML forms work too.
func decodeValues(w http.ResponseWriter, r *http.Request) (validation.Values, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return nil, apperror.ValidationFailed("body", "The submitted form could not be read.")
		}
		values := validation.Values{}
		for k := range r.PostForm {
			values[k] = r.PostForm.Get(k)
		}
		return values, nil
	}

	values := validation.Values{}
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperror.ValidationFailed("body", "Request body must be a JSON object of strings.")
	}
	return values, nil
}

// =========================================================================
// SESSION TRANSITIONS
// =========================================================================

// HandleSignup registers a new identity and logs it in on this instance.
//
// HTTP: POST /auth/signup
// REQUEST BODY: {"first_name","last_name","email","phone","password","confirm_password"}
// RESPONSES: 201 created, 400 invalid fields, 409 email taken
func (h *AccountHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	values, err := decodeValues(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.accounts.SubmitSignup(r.Context(), auth.SessionFromContext(r.Context()), values)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusCreated, out)
}

// HandleLogin authenticates and binds the identity to this instance.
//
// HTTP: POST /auth/login
// REQUEST BODY: {"email","password"}
// RESPONSES: 200, 400 invalid fields, 401 wrong email or password
func (h *AccountHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	values, err := decodeValues(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.accounts.SubmitLogin(r.Context(), auth.SessionFromContext(r.Context()), values)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, out)
}

// HandleLogout returns this instance to anonymous.
//
// HTTP: POST /auth/logout
//
// The instance cookie is kept: it names the browser, not the user.
func (h *AccountHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	out, err := h.accounts.Logout(r.Context(), auth.SessionFromContext(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, out)
}

// =========================================================================
// PASSWORDS
// =========================================================================

// HandlePasswordReset asks for a reset link.
//
// HTTP: POST /auth/password-reset
// REQUEST BODY: {"email"}
// RESPONSES: 202 with the same message whether or not the email exists
func (h *AccountHandler) HandlePasswordReset(w http.ResponseWriter, r *http.Request) {
	values, err := decodeValues(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.accounts.RequestPasswordReset(r.Context(), auth.SessionFromContext(r.Context()), values)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusAccepted, out)
}

// HandleChangePassword sets a new password for the logged-in identity.
//
// HTTP: PUT /api/me/password
// REQUEST BODY: {"password","confirm_password"}
func (h *AccountHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	values, err := decodeValues(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	out, err := h.accounts.ChangePassword(r.Context(), auth.SessionFromContext(r.Context()), values)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, out)
}

// =========================================================================
// FIELD FEEDBACK
// =========================================================================

// ValidateFieldRequest is the body of a blur-time validation call. Values
// holds every field typed so far, so cross-field rules (password
// confirmation) see the current state of the form.
type ValidateFieldRequest struct {
	Field  string            `json:"field"`
	Values validation.Values `json:"values"`
}

// HandleValidateField checks a single field when it loses focus.
//
// HTTP: POST /api/forms/{form}/validate
// RESPONSE: {"field":"email","valid":false,"reason":"Enter a valid email address."}
func (h *AccountHandler) HandleValidateField(w http.ResponseWriter, r *http.Request) {
	var req ValidateFieldRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("body", "Request body must be JSON."))
		return
	}
	if req.Field == "" {
		writeError(w, h.logger, apperror.ValidationFailed("field", "Field name is required."))
		return
	}

	res, err := h.accounts.ValidateField(chi.URLParam(r, "form"), req.Values, req.Field)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =========================================================================
// IDENTITIES
// =========================================================================

// HandleMe returns the logged-in identity.
//
// HTTP: GET /api/me (behind auth.RequireAuthenticated)
func (h *AccountHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	sess := auth.SessionFromContext(r.Context())
	identity, err := h.accounts.GetIdentity(r.Context(), sess, sess.IdentityID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// HandleGetIdentity returns one identity, as far as the session may see it.
//
// HTTP: GET /api/identities/{id}
func (h *AccountHandler) HandleGetIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := h.accounts.GetIdentity(r.Context(), auth.SessionFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, identity)
}

// HandleUpdateIdentity applies a partial profile update.
//
// HTTP: PATCH /api/identities/{id}
// REQUEST BODY: any of {"first_name","last_name","email","phone","is_staff","is_superuser"}
//
// Flag changes the caller may not make are reverted and reported as a
// warning message; the rest of the update still applies.
func (h *AccountHandler) HandleUpdateIdentity(w http.ResponseWriter, r *http.Request) {
	var upd service.ProfileUpdate
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&upd); err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("body", "Request body must be a JSON profile update."))
		return
	}

	out, err := h.accounts.UpdateProfile(r.Context(), auth.SessionFromContext(r.Context()), chi.URLParam(r, "id"), upd)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, out)
}

// HandleDeleteIdentity removes an identity (staff only).
//
// HTTP: DELETE /api/identities/{id}
func (h *AccountHandler) HandleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	out, err := h.accounts.DeleteIdentity(r.Context(), auth.SessionFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.respond(w, http.StatusOK, out)
}

// HandleMessages returns and clears the pending notifications of this
// instance.
//
// HTTP: GET /api/messages
func (h *AccountHandler) HandleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.messages(auth.SessionFromContext(r.Context()), nil))
}
