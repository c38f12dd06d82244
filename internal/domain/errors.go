package domain

import "errors"

var (
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrInvalidCredentials hides whether email or password failed.
	// The same sentinel covers unknown, inactive and wrong-password accounts.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrAccountLocked signals temporary lockout after repeated failed attempts.
	ErrAccountLocked = errors.New("account locked")
	// ErrEmailNotVerified is the one login failure callers may tell apart.
	ErrEmailNotVerified = errors.New("email not verified")
	// ErrSchoolInactive is returned when the user's school is pending or suspended.
	ErrSchoolInactive = errors.New("school account is not active")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")
	ErrConflict       = errors.New("conflict")
	ErrRateLimited    = errors.New("rate limited")
	// ErrInvalidCode collapses not-found, expired and already-used verification codes.
	ErrInvalidCode = errors.New("invalid or expired verification code")
	// ErrDependency marks store, cache or mail failures. Callers must not read
	// it as an authentication outcome.
	ErrDependency = errors.New("dependency unavailable")
)

// ValidationError reports a rejected input field.
// It unwraps to ErrInvalidInput so errors.Is keeps working for callers.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// InvalidField builds a field-scoped validation error.
func InvalidField(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// SchoolInactiveError carries the school status so clients can render it.
type SchoolInactiveError struct {
	Status SchoolStatus
}

func (e *SchoolInactiveError) Error() string {
	return ErrSchoolInactive.Error()
}

func (e *SchoolInactiveError) Unwrap() error {
	return ErrSchoolInactive
}
