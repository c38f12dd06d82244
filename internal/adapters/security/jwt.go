package security

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

const (
	defaultKeyID   = "ephemeral-access-1"
	defaultLeeway  = 30 * time.Second
	minSecretBytes = 32
)

// TokenIssuerConfig carries key material for both token kinds.
// Access tokens are RS256 with the PEM pair, refresh tokens HS256 with RefreshSecret.
type TokenIssuerConfig struct {
	AccessKeyID         string
	AccessPrivateKeyPEM string
	AccessPublicKeyPEM  string
	RefreshSecret       string
	AllowEphemeral      bool
	Leeway              time.Duration
	Clock               func() time.Time
}

// TokenIssuer signs access tokens with an RSA key and refresh tokens with an
// HMAC secret, so neither kind verifies as the other.
type TokenIssuer struct {
	kid           string
	privateKey    *rsa.PrivateKey
	publicKey     *rsa.PublicKey
	refreshSecret []byte
	leeway        time.Duration
	nowFn         func() time.Time
}

// NewTokenIssuer builds an issuer from configured key material. Missing
// material is generated in memory only when AllowEphemeral is set.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	issuer := &TokenIssuer{
		kid:    strings.TrimSpace(cfg.AccessKeyID),
		leeway: cfg.Leeway,
		nowFn:  cfg.Clock,
	}
	if issuer.leeway <= 0 {
		issuer.leeway = defaultLeeway
	}
	if issuer.nowFn == nil {
		issuer.nowFn = time.Now
	}

	switch {
	case cfg.AccessPrivateKeyPEM != "" && cfg.AccessPublicKeyPEM != "":
		if issuer.kid == "" {
			return nil, errors.New("jwt key id (kid) is required")
		}
		priv, err := parseRSAPrivate(cfg.AccessPrivateKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse access private key: %w", err)
		}
		pub, err := parseRSAPublic(cfg.AccessPublicKeyPEM)
		if err != nil {
			return nil, fmt.Errorf("parse access public key: %w", err)
		}
		if priv.PublicKey.N.Cmp(pub.N) != 0 || priv.PublicKey.E != pub.E {
			return nil, errors.New("access private and public keys do not match")
		}
		issuer.privateKey, issuer.publicKey = priv, pub
	case cfg.AllowEphemeral:
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
		if issuer.kid == "" {
			issuer.kid = defaultKeyID
		}
		issuer.privateKey, issuer.publicKey = priv, &priv.PublicKey
	default:
		return nil, errors.New("jwt access private/public keys are required")
	}

	switch {
	case cfg.RefreshSecret != "":
		if len(cfg.RefreshSecret) < minSecretBytes {
			return nil, fmt.Errorf("refresh token secret must be at least %d bytes", minSecretBytes)
		}
		secret := []byte(cfg.RefreshSecret)
		if bytes.Contains([]byte(cfg.AccessPrivateKeyPEM), secret) || bytes.Contains([]byte(cfg.AccessPublicKeyPEM), secret) {
			return nil, errors.New("refresh token secret must differ from the access key material")
		}
		issuer.refreshSecret = secret
	case cfg.AllowEphemeral:
		secret := make([]byte, 64)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
		issuer.refreshSecret = secret
	default:
		return nil, errors.New("refresh token secret is required")
	}

	return issuer, nil
}

type accessJWTClaims struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	Role         string `json:"role"`
	SchoolID     string `json:"school_id,omitempty"`
	SchoolCode   string `json:"school_code,omitempty"`
	TokenVersion int    `json:"token_version"`
	Type         string `json:"typ"`
	jwt.RegisteredClaims
}

type refreshJWTClaims struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	TokenVersion int    `json:"token_version"`
	Type         string `json:"typ"`
	jwt.RegisteredClaims
}

func (t *TokenIssuer) registered(ttl time.Duration) jwt.RegisteredClaims {
	now := t.nowFn().UTC()
	return jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (t *TokenIssuer) IssueAccessToken(claims ports.TokenClaims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("access token ttl must be positive")
	}
	body := accessJWTClaims{
		UserID:           claims.UserID.String(),
		Email:            claims.Email,
		Role:             claims.Role,
		SchoolCode:       claims.SchoolCode,
		TokenVersion:     claims.TokenVersion,
		Type:             string(ports.AccessToken),
		RegisteredClaims: t.registered(ttl),
	}
	if claims.SchoolID != nil {
		body.SchoolID = claims.SchoolID.String()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, body)
	token.Header["kid"] = t.kid
	return token.SignedString(t.privateKey)
}

func (t *TokenIssuer) IssueRefreshToken(claims ports.TokenClaims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", errors.New("refresh token ttl must be positive")
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, refreshJWTClaims{
		UserID:           claims.UserID.String(),
		Email:            claims.Email,
		TokenVersion:     claims.TokenVersion,
		Type:             string(ports.RefreshToken),
		RegisteredClaims: t.registered(ttl),
	})
	return token.SignedString(t.refreshSecret)
}

// Verify parses raw as the given kind. Failures are always *ports.TokenError.
func (t *TokenIssuer) Verify(raw string, kind ports.TokenKind) (ports.TokenClaims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ports.TokenClaims{}, &ports.TokenError{Reason: ports.TokenMalformed, Err: errors.New("empty token")}
	}
	switch kind {
	case ports.AccessToken:
		return t.verifyAccess(raw)
	case ports.RefreshToken:
		return t.verifyRefresh(raw)
	default:
		return ports.TokenClaims{}, &ports.TokenError{Reason: ports.TokenMalformed, Err: fmt.Errorf("unknown token kind %q", kind)}
	}
}

func (t *TokenIssuer) parserOptions(method jwt.SigningMethod) []jwt.ParserOption {
	return []jwt.ParserOption{
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithLeeway(t.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(t.nowFn),
	}
}

func (t *TokenIssuer) verifyAccess(raw string) (ports.TokenClaims, error) {
	var claims accessJWTClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return t.publicKey, nil
	}, t.parserOptions(jwt.SigningMethodRS256)...)
	if err != nil {
		return ports.TokenClaims{}, classify(err)
	}
	if !parsed.Valid || claims.Type != string(ports.AccessToken) {
		return ports.TokenClaims{}, &ports.TokenError{Reason: ports.TokenSignatureInvalid, Err: errors.New("not an access token")}
	}

	out, err := baseClaims(ports.AccessToken, claims.UserID, claims.Email, claims.TokenVersion, claims.RegisteredClaims)
	if err != nil {
		return ports.TokenClaims{}, err
	}
	out.Role = claims.Role
	out.SchoolCode = claims.SchoolCode
	if claims.SchoolID != "" {
		schoolID, err := uuid.Parse(claims.SchoolID)
		if err != nil {
			return ports.TokenClaims{}, &ports.TokenError{Reason: ports.TokenMalformed, Err: fmt.Errorf("parse school_id: %w", err)}
		}
		out.SchoolID = &schoolID
	}
	out.KeyID, _ = parsed.Header["kid"].(string)
	return out, nil
}

func (t *TokenIssuer) verifyRefresh(raw string) (ports.TokenClaims, error) {
	var claims refreshJWTClaims
	parsed, err := jwt.ParseWithClaims(raw, &claims, func(token *jwt.Token) (any, error) {
		return t.refreshSecret, nil
	}, t.parserOptions(jwt.SigningMethodHS256)...)
	if err != nil {
		return ports.TokenClaims{}, classify(err)
	}
	if !parsed.Valid || claims.Type != string(ports.RefreshToken) {
		return ports.TokenClaims{}, &ports.TokenError{Reason: ports.TokenSignatureInvalid, Err: errors.New("not a refresh token")}
	}
	return baseClaims(ports.RefreshToken, claims.UserID, claims.Email, claims.TokenVersion, claims.RegisteredClaims)
}

func baseClaims(kind ports.TokenKind, rawUserID, email string, version int, reg jwt.RegisteredClaims) (ports.TokenClaims, error) {
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		return ports.TokenClaims{}, &ports.TokenError{Reason: ports.TokenMalformed, Err: fmt.Errorf("parse user_id: %w", err)}
	}
	out := ports.TokenClaims{
		Kind:         kind,
		UserID:       userID,
		Email:        email,
		TokenVersion: version,
		TokenID:      reg.ID,
	}
	if reg.IssuedAt != nil {
		out.IssuedAt = reg.IssuedAt.Time.UTC()
	}
	if reg.ExpiresAt != nil {
		out.ExpiresAt = reg.ExpiresAt.Time.UTC()
	}
	return out, nil
}

// classify maps jwt/v5 validation errors onto the three failure reasons.
// A token signed with the other kind's algorithm fails as signature_invalid.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &ports.TokenError{Reason: ports.TokenExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable),
		errors.Is(err, jwt.ErrSignatureInvalid):
		return &ports.TokenError{Reason: ports.TokenSignatureInvalid, Err: err}
	default:
		return &ports.TokenError{Reason: ports.TokenMalformed, Err: err}
	}
}

// PublicJWKs exposes the access verification key. The refresh secret is never published.
func (t *TokenIssuer) PublicJWKs() ([]map[string]any, error) {
	e := big.NewInt(int64(t.publicKey.E)).Bytes()
	n := t.publicKey.N.Bytes()

	return []map[string]any{
		{
			"kid": t.kid,
			"kty": "RSA",
			"alg": jwt.SigningMethodRS256.Alg(),
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(n),
			"e":   base64.RawURLEncoding.EncodeToString(e),
		},
	}, nil
}

func parseRSAPrivate(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid private PEM")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not RSA")
	}
	return key, nil
}

func parseRSAPublic(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, errors.New("invalid public PEM")
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not RSA")
	}
	return key, nil
}
