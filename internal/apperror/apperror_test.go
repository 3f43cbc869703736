package apperror

import (
	"errors"
	"fmt"
	"testing"
)

// Each constructor must be classifiable through errors.Is, including when
// it has been wrapped by fmt.Errorf further up the stack.
func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("identity", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("email", "email is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "FormInvalid wraps ErrValidation",
			err:       FormInvalid(map[string]string{"email": "bad", "phone": "bad"}),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "DuplicateEmail wraps ErrDuplicateEmail",
			err:       DuplicateEmail("a@b.com"),
			target:    ErrDuplicateEmail,
			wantMatch: true,
		},
		{
			name:      "InvalidCredentials wraps ErrInvalidCredentials",
			err:       InvalidCredentials(),
			target:    ErrInvalidCredentials,
			wantMatch: true,
		},
		{
			name:      "ProviderUnreachable wraps ErrProviderUnreachable",
			err:       ProviderUnreachable(errors.New("dial tcp: refused")),
			target:    ErrProviderUnreachable,
			wantMatch: true,
		},
		{
			name:      "PermissionDenied wraps ErrPermissionDenied",
			err:       PermissionDenied("nope"),
			target:    ErrPermissionDenied,
			wantMatch: true,
		},
		{
			name:      "wrapped DuplicateEmail still matches",
			err:       fmt.Errorf("service/account: signup: %w", DuplicateEmail("a@b.com")),
			target:    ErrDuplicateEmail,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrInvalidCredentials",
			err:       NotFound("identity", "abc123"),
			target:    ErrInvalidCredentials,
			wantMatch: false,
		},
		{
			name:      "ValidationFailed does NOT match ErrNotFound",
			err:       ValidationFailed("name", "too long"),
			target:    ErrNotFound,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("identity", "abc123"),
			wantMessage: "identity not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("email", "email is required"),
			wantMessage: "email is required",
		},
		{
			name:        "InvalidCredentials does not mention the email",
			err:         InvalidCredentials(),
			wantMessage: "Please enter a correct email and password.",
		},
		{
			name:        "FormInvalid with one field uses that field's reason",
			err:         FormInvalid(map[string]string{"phone": "Please enter a valid phone number."}),
			wantMessage: "Please enter a valid phone number.",
		},
		{
			name:        "FormInvalid with several fields uses a summary",
			err:         FormInvalid(map[string]string{"phone": "x", "email": "y"}),
			wantMessage: "please correct the highlighted fields",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	err := NotFound("identity", "abc123")
	if unwrapped := err.Unwrap(); unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestFormInvalidKeepsEveryField(t *testing.T) {
	err := FormInvalid(map[string]string{
		"email":            "Enter a valid email address.",
		"confirm_password": "Passwords do not match.",
	})

	if len(err.Fields) != 2 {
		t.Fatalf("len(Fields) = %d, want 2", len(err.Fields))
	}
	if err.Field != "" {
		t.Errorf("Field = %q, want empty for a multi-field failure", err.Field)
	}

	var appErr *AppError
	wrapped := fmt.Errorf("signup: %w", err)
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As should find the *AppError")
	}
	if appErr.Fields["confirm_password"] != "Passwords do not match." {
		t.Errorf("Fields[confirm_password] = %q", appErr.Fields["confirm_password"])
	}
}
