package auth

import (
	"regexp"
	"sort"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const minPasswordLen = 6

// ValidationError lists form fields that failed validation, keyed by field
// name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("validation failed")
	for i, k := range keys {
		if i == 0 {
			b.WriteString(": ")
		} else {
			b.WriteString("; ")
		}
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(e.Fields[k])
	}
	return b.String()
}

type fieldErrors map[string]string

func (f fieldErrors) set(field, msg string) {
	if _, ok := f[field]; !ok {
		f[field] = msg
	}
}

func (f fieldErrors) err() error {
	if len(f) == 0 {
		return nil
	}
	return &ValidationError{Fields: f}
}

// LoginForm is the sign-in form.
type LoginForm struct {
	Email    string
	Password string
}

// Validate checks the form, reporting every failing field.
func (f LoginForm) Validate() error {
	errs := fieldErrors{}

	email := strings.TrimSpace(f.Email)
	switch {
	case email == "":
		errs.set("email", "Email is required")
	case !emailPattern.MatchString(email):
		errs.set("email", "Please enter a valid email address")
	}

	switch {
	case strings.TrimSpace(f.Password) == "":
		errs.set("password", "Password is required")
	case len(f.Password) < minPasswordLen:
		errs.set("password", "Password must be at least 6 characters")
	}

	return errs.err()
}

// RegisterForm is the sign-up form. Address is optional and not retained.
type RegisterForm struct {
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	Address         string
}

// Validate checks the form, reporting every failing field.
func (f RegisterForm) Validate() error {
	errs := fieldErrors{}

	if strings.TrimSpace(f.Username) == "" {
		errs.set("username", "Username is required")
	}

	email := strings.TrimSpace(f.Email)
	switch {
	case email == "":
		errs.set("email", "Email is required")
	case !emailPattern.MatchString(email):
		errs.set("email", "Invalid email format")
	}

	if f.Password == "" {
		errs.set("password", "Password is required")
	} else if f.Password != f.ConfirmPassword {
		errs.set("confirmPassword", "Passwords do not match")
	}

	return errs.err()
}
