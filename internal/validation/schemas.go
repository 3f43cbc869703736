package validation

import "regexp"

// Field names shared by the built-in forms.
const (
	FieldFirstName       = "first_name"
	FieldLastName        = "last_name"
	FieldEmail           = "email"
	FieldPhone           = "phone"
	FieldPassword        = "password"
	FieldConfirmPassword = "confirm_password"
)

// Limits applied by the built-in forms.
const (
	MinPasswordLength = 6
	MaxPasswordBytes  = 72 // bcrypt limit
	MaxNameLength     = 30
	MaxPhoneLength    = 15
	MaxEmailLength    = 254
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	// Digits, optionally separated by '+', '-' or spaces, with at least one digit.
	phonePattern = regexp.MustCompile(`^[+\- ]*[0-9][0-9+\- ]*$`)
)

var (
	firstNameRule = Rule{Label: "First name", Required: true, MaxLength: MaxNameLength}
	lastNameRule  = Rule{Label: "Last name", Required: true, MaxLength: MaxNameLength}
	emailRule     = Rule{
		Label:          "Email",
		Required:       true,
		MaxLength:      MaxEmailLength,
		Pattern:        emailPattern,
		PatternMessage: "Enter a valid email address.",
	}
	phoneRule = Rule{
		Label:          "Phone",
		Required:       true,
		MaxLength:      MaxPhoneLength,
		Pattern:        phonePattern,
		PatternMessage: "Please enter a valid phone number.",
	}
	newPasswordRule = Rule{
		Label:     "Password",
		Required:  true,
		MinLength: MinPasswordLength,
		MaxBytes:  MaxPasswordBytes,
	}
	confirmPasswordRule = Rule{
		Label:        "Confirm password",
		Required:     true,
		Matches:      FieldPassword,
		MatchMessage: "The two password fields didn't match.",
	}
)

// SignupSchema is the registration form.
var SignupSchema = NewSchema("signup",
	Field{FieldFirstName, firstNameRule},
	Field{FieldLastName, lastNameRule},
	Field{FieldEmail, emailRule},
	Field{FieldPhone, phoneRule},
	Field{FieldPassword, newPasswordRule},
	Field{FieldConfirmPassword, confirmPasswordRule},
)

// LoginSchema only checks shape; the password length rule is not applied so
// that accounts created under older rules can still log in.
var LoginSchema = NewSchema("login",
	Field{FieldEmail, emailRule},
	Field{FieldPassword, Rule{Label: "Password", Required: true, MaxBytes: MaxPasswordBytes}},
)

// ProfileSchema is used with ValidatePartial: only submitted fields are checked.
var ProfileSchema = NewSchema("profile",
	Field{FieldFirstName, firstNameRule},
	Field{FieldLastName, lastNameRule},
	Field{FieldEmail, emailRule},
	Field{FieldPhone, phoneRule},
)

var PasswordResetSchema = NewSchema("password_reset",
	Field{FieldEmail, emailRule},
)

var PasswordChangeSchema = NewSchema("password_change",
	Field{FieldPassword, newPasswordRule},
	Field{FieldConfirmPassword, confirmPasswordRule},
)

var builtin = map[string]*Schema{
	SignupSchema.Name():         SignupSchema,
	LoginSchema.Name():          LoginSchema,
	ProfileSchema.Name():        ProfileSchema,
	PasswordResetSchema.Name():  PasswordResetSchema,
	PasswordChangeSchema.Name(): PasswordChangeSchema,
}

// Lookup returns a built-in schema by form name.
func Lookup(name string) (*Schema, bool) {
	s, ok := builtin[name]
	return s, ok
}
