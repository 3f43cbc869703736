// Package apperror defines the error taxonomy shared by every layer of the
// identity core.
//
// Each category is a sentinel error. Constructors return an *AppError that
// wraps the sentinel, so callers classify with errors.Is and read the
// human-readable message with errors.As:
//
//	if errors.Is(err, apperror.ErrDuplicateEmail) { ... }
//
// HTTP status codes are NOT chosen here. The handler package maps
// categories to statuses (see handler.writeError).
package apperror

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrDuplicateEmail      = errors.New("duplicate email")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrProviderUnreachable = errors.New("identity provider unreachable")
	ErrPermissionDenied    = errors.New("permission denied")
)

type AppError struct {
	Err     error             // sentinel category
	Message string            // Human-readable error message
	Field   string            // Optional: single field causing the error
	Fields  map[string]string // Optional: every failing field of a form, field → reason
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
		Fields:  map[string]string{field: message},
	}
}

// FormInvalid reports a whole form that failed validation. fields holds the
// reason for every failing field, not just the first one.
func FormInvalid(fields map[string]string) *AppError {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	msg := "please correct the highlighted fields"
	if len(names) == 1 {
		msg = fields[names[0]]
	}

	e := &AppError{
		Err:     ErrValidation,
		Message: msg,
		Fields:  fields,
	}
	if len(names) == 1 {
		e.Field = names[0]
	}
	return e
}

// DuplicateEmail is returned on signup (or email change) when another
// identity already owns the normalized address.
func DuplicateEmail(email string) *AppError {
	return &AppError{
		Err:     ErrDuplicateEmail,
		Message: "An account with this email already exists.",
		Field:   "email",
		Fields:  map[string]string{"email": "An account with this email already exists."},
	}
}

// InvalidCredentials never says which half of the pair was wrong.
func InvalidCredentials() *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: "Please enter a correct email and password.",
	}
}

// ProviderUnreachable wraps the transport failure that made the external
// identity provider unusable.
func ProviderUnreachable(cause error) *AppError {
	msg := "identity provider unreachable"
	if cause != nil {
		msg = fmt.Sprintf("identity provider unreachable: %v", cause)
	}
	return &AppError{
		Err:     ErrProviderUnreachable,
		Message: msg,
	}
}

// PermissionDenied returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func PermissionDenied(message string) *AppError {
	return &AppError{
		Err:     ErrPermissionDenied,
		Message: message,
	}
}
