package domain

import (
	"time"

	"github.com/google/uuid"
)

// CodeType scopes a verification code to the flow that issued it.
type CodeType string

const (
	CodeFounderRegistration CodeType = "founder_registration"
	CodeSchoolEmail         CodeType = "school_email"
	CodePasswordReset       CodeType = "password_reset"
	CodeEmailChange         CodeType = "email_change"
	CodeTeacherInvitation   CodeType = "teacher_invitation"
	CodeParentInvitation    CodeType = "parent_invitation"
)

// CodeKind selects the alphabet of a generated code.
type CodeKind int

const (
	CodeNumeric CodeKind = iota
	CodeAlphanumeric
)

// CodePolicy is the generation and lifetime policy for one code type.
type CodePolicy struct {
	Kind   CodeKind
	Length int
	TTL    time.Duration
}

var codePolicies = map[CodeType]CodePolicy{
	CodeFounderRegistration: {Kind: CodeNumeric, Length: 6, TTL: 30 * time.Minute},
	CodeSchoolEmail:         {Kind: CodeNumeric, Length: 6, TTL: 60 * time.Minute},
	CodePasswordReset:       {Kind: CodeNumeric, Length: 6, TTL: 15 * time.Minute},
	CodeEmailChange:         {Kind: CodeNumeric, Length: 6, TTL: 30 * time.Minute},
	CodeTeacherInvitation:   {Kind: CodeAlphanumeric, Length: 8, TTL: 7 * 24 * time.Hour},
	CodeParentInvitation:    {Kind: CodeAlphanumeric, Length: 8, TTL: 7 * 24 * time.Hour},
}

// PolicyFor returns the policy of t and false for unknown types.
func PolicyFor(t CodeType) (CodePolicy, bool) {
	p, ok := codePolicies[t]
	return p, ok
}

const (
	// ResendWindow and ResendLimit bound how many codes one (email, type) gets.
	ResendWindow = 5 * time.Minute
	ResendLimit  = 3
	// CodeMaxAttempts wrong guesses against one (email, type) spend every
	// outstanding code of that pair.
	CodeMaxAttempts = 5
)

// VerificationCode is a single-use, time-boxed proof of email ownership.
// CodeHash is a one-way hash; the plain code only travels in the email.
type VerificationCode struct {
	ID        uuid.UUID
	Email     string
	CodeHash  string
	Type      CodeType
	UserID    *uuid.UUID
	SchoolID  *uuid.UUID
	Metadata  map[string]string
	Used      bool
	UsedAt    *time.Time
	ExpiresAt time.Time
	CreatedAt time.Time
}
