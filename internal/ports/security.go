package ports

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// PasswordHasher hashes and verifies account passwords.
// Verify returns false, nil on mismatch; errors mean the stored hash is malformed.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

type TokenKind string

const (
	AccessToken  TokenKind = "access"
	RefreshToken TokenKind = "refresh"
)

// TokenClaims is the union of access and refresh claims. Refresh tokens only
// carry UserID, Email, TokenVersion and TokenID.
type TokenClaims struct {
	Kind         TokenKind
	UserID       uuid.UUID
	Email        string
	Role         string
	SchoolID     *uuid.UUID
	SchoolCode   string
	TokenVersion int
	TokenID      string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	KeyID        string
}

// TokenFailure classifies why a token was rejected.
type TokenFailure string

const (
	TokenMalformed        TokenFailure = "malformed"
	TokenSignatureInvalid TokenFailure = "signature_invalid"
	TokenExpired          TokenFailure = "expired"
)

// TokenError is returned by TokenIssuer.Verify.
type TokenError struct {
	Reason TokenFailure
	Err    error
}

func (e *TokenError) Error() string {
	if e.Err == nil {
		return "token " + string(e.Reason)
	}
	return "token " + string(e.Reason) + ": " + e.Err.Error()
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// TokenFailureOf extracts the failure reason from err, if any.
func TokenFailureOf(err error) (TokenFailure, bool) {
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return tokenErr.Reason, true
	}
	return "", false
}

// TokenIssuer signs and verifies access and refresh tokens with distinct keys.
type TokenIssuer interface {
	IssueAccessToken(claims TokenClaims, ttl time.Duration) (string, error)
	IssueRefreshToken(claims TokenClaims, ttl time.Duration) (string, error)
	Verify(raw string, kind TokenKind) (TokenClaims, error)
	PublicJWKs() ([]map[string]any, error)
}
