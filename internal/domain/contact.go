package domain

import (
	"net/mail"
	"regexp"
	"strings"
)

var (
	emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	// Tanzanian numbers: +255 or 0, then a non-zero digit and eight more digits.
	phoneShape = regexp.MustCompile(`^(\+255|0)[1-9]\d{8}$`)
)

// NormalizeEmail lower-cases and trims email, rejecting malformed input.
func NormalizeEmail(field, email string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(email))
	if trimmed == "" {
		return "", InvalidField(field, field+" is required")
	}
	if !emailShape.MatchString(trimmed) {
		return "", InvalidField(field, "invalid email format")
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return "", InvalidField(field, "invalid email format")
	}
	return trimmed, nil
}

// NormalizePhone strips whitespace, validates the local shape and returns
// the number in +255 form.
func NormalizePhone(field, phone string) (string, error) {
	compact := strings.Join(strings.Fields(phone), "")
	if compact == "" {
		return "", InvalidField(field, field+" is required")
	}
	if !phoneShape.MatchString(compact) {
		return "", InvalidField(field, "invalid phone number, use +255 or 0 followed by 9 digits")
	}
	if strings.HasPrefix(compact, "0") {
		return "+255" + compact[1:], nil
	}
	return compact, nil
}
