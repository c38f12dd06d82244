package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

const tokenTypeBearer = "Bearer"

// Login authenticates email and password and opens a refresh session.
// Unknown, inactive and wrong-password accounts get the same error.
func (s *Service) Login(ctx context.Context, req LoginRequest) (res LoginResult, err error) {
	defer func() { s.observe("login", err) }()

	email, err := domain.NormalizeEmail("email", req.Email)
	if err != nil {
		return LoginResult{}, err
	}
	if req.Password == "" {
		return LoginResult{}, domain.InvalidField("password", "password is required")
	}

	lockKey := "login:" + email
	if s.lockedOut(ctx, lockKey) {
		return LoginResult{}, domain.ErrAccountLocked
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	user, err := s.users.GetByEmail(callCtx, email)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.burnPasswordCheck(req.Password)
			return LoginResult{}, s.recordLoginFailure(ctx, lockKey)
		}
		return LoginResult{}, dependencyError("login.find_user", err)
	}
	if !user.IsActive {
		s.burnPasswordCheck(req.Password)
		return LoginResult{}, s.recordLoginFailure(ctx, lockKey)
	}

	ok, err := s.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		logger().ErrorContext(ctx, "stored password hash unreadable",
			"operation", "login",
			"outcome", "failure",
			"error_code", "PASSWORD_HASH_MALFORMED",
			"user_id", user.UserID,
			"error", err,
		)
		return LoginResult{}, s.recordLoginFailure(ctx, lockKey)
	}
	if !ok {
		return LoginResult{}, s.recordLoginFailure(ctx, lockKey)
	}
	s.clearLockout(ctx, lockKey)

	if !user.EmailVerified {
		return LoginResult{}, domain.ErrEmailNotVerified
	}

	school, membership, err := s.schoolForUser(ctx, user.UserID)
	if err != nil {
		return LoginResult{}, err
	}
	if school != nil && school.Status != domain.SchoolActive {
		return LoginResult{}, &domain.SchoolInactiveError{Status: school.Status}
	}

	accessToken, err := s.tokens.IssueAccessToken(accessClaims(user, school), s.cfg.AccessTokenTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := s.tokens.IssueRefreshToken(refreshClaims(user), s.cfg.RefreshTokenTTL)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue refresh token: %w", err)
	}

	sessionTTL := s.sessionTTL(req.RememberMe)
	device := domain.DeviceInfo{UserAgent: req.UserAgent, IPAddress: req.IPAddress}
	if _, err := s.registry.Issue(ctx, user.UserID, refreshToken, sessionTTL, device, req.RememberMe); err != nil {
		return LoginResult{}, err
	}

	now := s.nowFn()
	callCtx, cancel = withTimeout(ctx, s.cfg.StoreTimeout)
	if err := s.users.TouchLastLogin(callCtx, user.UserID, now); err != nil {
		logger().WarnContext(ctx, "last login not recorded",
			"operation", "login",
			"outcome", "warning",
			"user_id", user.UserID,
			"error", err,
		)
	} else {
		user.LastLogin = &now
	}
	cancel()

	result := LoginResult{
		AccessToken:   accessToken,
		TokenType:     tokenTypeBearer,
		ExpiresIn:     int64(s.cfg.AccessTokenTTL.Seconds()),
		User:          summarizeUser(user),
		RefreshToken:  refreshToken,
		RefreshMaxAge: sessionTTL,
	}
	if school != nil {
		summary := summarizeSchool(*school, membership)
		result.School = &summary
	}
	return result, nil
}

// RefreshAccessToken mints a new access token from a refresh token. Every
// rejection is ErrUnauthorized; the transport clears the cookie on it.
func (s *Service) RefreshAccessToken(ctx context.Context, rawToken string, device domain.DeviceInfo) (res RefreshResult, err error) {
	defer func() { s.observe("refresh", err) }()

	if rawToken == "" {
		return RefreshResult{}, domain.ErrUnauthorized
	}

	claims, err := s.tokens.Verify(rawToken, ports.RefreshToken)
	if err != nil {
		reason, _ := ports.TokenFailureOf(err)
		logger().InfoContext(ctx, "refresh token rejected",
			"operation", "refresh",
			"outcome", "rejected",
			"reason", string(reason),
		)
		return RefreshResult{}, domain.ErrUnauthorized
	}

	record, err := s.registry.Lookup(ctx, rawToken)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.detectReuse(ctx, rawToken)
			return RefreshResult{}, domain.ErrUnauthorized
		}
		return RefreshResult{}, err
	}
	if record.UserID != claims.UserID {
		return RefreshResult{}, domain.ErrUnauthorized
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	user, err := s.users.GetByID(callCtx, record.UserID)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return RefreshResult{}, domain.ErrUnauthorized
		}
		return RefreshResult{}, dependencyError("refresh.find_user", err)
	}
	if !user.CanAuthenticate() {
		return RefreshResult{}, domain.ErrUnauthorized
	}

	if claims.TokenVersion != user.TokenVersion {
		revoked, revokeErr := s.registry.RevokeAllForUser(ctx, user.UserID)
		logger().WarnContext(ctx, "refresh token version mismatch, sessions revoked",
			"operation", "refresh",
			"outcome", "blocked",
			"user_id", user.UserID,
			"token_version", claims.TokenVersion,
			"current_version", user.TokenVersion,
			"revoked", revoked,
			"error", revokeErr,
		)
		return RefreshResult{}, domain.ErrUnauthorized
	}

	school, _, err := s.schoolForUser(ctx, user.UserID)
	if err != nil {
		return RefreshResult{}, err
	}
	if school != nil && school.Status != domain.SchoolActive {
		return RefreshResult{}, &domain.SchoolInactiveError{Status: school.Status}
	}

	accessToken, err := s.tokens.IssueAccessToken(accessClaims(user, school), s.cfg.AccessTokenTTL)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("issue access token: %w", err)
	}

	result := RefreshResult{
		AccessToken: accessToken,
		TokenType:   tokenTypeBearer,
		ExpiresIn:   int64(s.cfg.AccessTokenTTL.Seconds()),
	}

	if !s.cfg.RotateRefreshTokens {
		s.registry.Touch(ctx, record.ID)
		return result, nil
	}

	nextRaw, err := s.tokens.IssueRefreshToken(refreshClaims(user), s.cfg.RefreshTokenTTL)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("issue refresh token: %w", err)
	}
	sessionTTL := s.sessionTTL(record.RememberMe)
	if _, err := s.registry.Rotate(ctx, record, nextRaw, sessionTTL, device); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return RefreshResult{}, domain.ErrUnauthorized
		}
		return RefreshResult{}, err
	}
	result.RefreshToken = nextRaw
	result.RefreshMaxAge = sessionTTL
	return result, nil
}

// detectReuse revokes the whole lineage when a rotated-away token comes back.
func (s *Service) detectReuse(ctx context.Context, rawToken string) {
	if !s.cfg.RotateRefreshTokens {
		return
	}
	record, err := s.registry.FindAny(ctx, rawToken)
	if err != nil || record.ReplacedBy == nil {
		return
	}
	revoked, err := s.registry.RevokeAllForUser(ctx, record.UserID)
	logger().WarnContext(ctx, "rotated refresh token reused, sessions revoked",
		"operation", "refresh",
		"outcome", "blocked",
		"user_id", record.UserID,
		"revoked", revoked,
		"error", err,
	)
}

// Logout revokes the presented refresh token. It never fails.
func (s *Service) Logout(ctx context.Context, rawToken string) {
	if rawToken == "" {
		return
	}
	if err := s.registry.Revoke(ctx, rawToken); err != nil {
		logger().WarnContext(ctx, "logout revoke failed",
			"operation", "logout",
			"outcome", "warning",
			"error", err,
		)
	}
	s.observe("logout", nil)
}

// LogoutAllDevices revokes every refresh session of userID and bumps the
// token version so outstanding access tokens stop authenticating too.
func (s *Service) LogoutAllDevices(ctx context.Context, userID uuid.UUID) (revoked int64, err error) {
	defer func() { s.observe("logout_all", err) }()

	revoked, err = s.registry.RevokeAllForUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := s.nowFn()
	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	version, err := s.users.BumpTokenVersion(callCtx, userID, now)
	if err != nil {
		return revoked, dependencyError("logout_all.bump_version", err)
	}

	payload, _ := json.Marshal(map[string]any{
		"user_id":       userID,
		"revoked":       revoked,
		"token_version": version,
		"revoked_at":    now,
	})
	if err := s.outbox.Enqueue(callCtx, ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventTypeSessionsRevoked,
		PartitionKey: userID.String(),
		Payload:      payload,
		OccurredAt:   now,
	}); err != nil {
		logger().WarnContext(ctx, "sessions revoked event not enqueued",
			"operation", "logout_all",
			"outcome", "warning",
			"user_id", userID,
			"error", err,
		)
	}
	return revoked, nil
}

// GetCurrentUser returns the caller's profile without credential material.
func (s *Service) GetCurrentUser(ctx context.Context, userID uuid.UUID) (CurrentUser, error) {
	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	user, err := s.users.GetByID(callCtx, userID)
	cancel()
	if err != nil {
		return CurrentUser{}, dependencyError("me", err)
	}
	if !user.IsActive {
		return CurrentUser{}, domain.ErrNotFound
	}

	school, membership, err := s.schoolForUser(ctx, user.UserID)
	if err != nil {
		return CurrentUser{}, err
	}
	out := CurrentUser{User: summarizeUser(user)}
	if school != nil {
		summary := summarizeSchool(*school, membership)
		out.School = &summary
	}
	return out, nil
}

// AuthenticateAccessToken backs bearer authorization: signature and expiry,
// then the same account checks Login applies.
func (s *Service) AuthenticateAccessToken(ctx context.Context, rawToken string) (Principal, error) {
	claims, err := s.tokens.Verify(rawToken, ports.AccessToken)
	if err != nil {
		return Principal{}, domain.ErrUnauthorized
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	user, err := s.users.GetByID(callCtx, claims.UserID)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return Principal{}, domain.ErrUnauthorized
		}
		return Principal{}, dependencyError("authenticate", err)
	}
	if !user.CanAuthenticate() || user.TokenVersion != claims.TokenVersion {
		return Principal{}, domain.ErrUnauthorized
	}

	return Principal{
		UserID:       user.UserID,
		Email:        user.Email,
		Role:         user.Role,
		SchoolID:     claims.SchoolID,
		SchoolCode:   claims.SchoolCode,
		TokenVersion: user.TokenVersion,
	}, nil
}

// schoolForUser returns nil without error for accounts not tied to a school.
func (s *Service) schoolForUser(ctx context.Context, userID uuid.UUID) (*domain.School, *domain.SchoolMembership, error) {
	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	school, membership, err := s.schools.FindForUser(callCtx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, dependencyError("find_user_school", err)
	}
	return &school, membership, nil
}

func (s *Service) sessionTTL(rememberMe bool) time.Duration {
	if rememberMe {
		return s.cfg.RememberMeTTL
	}
	return s.cfg.SessionTTL
}

func (s *Service) lockedOut(ctx context.Context, key string) bool {
	if s.lockouts == nil {
		return false
	}
	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	state, err := s.lockouts.Get(callCtx, key)
	if err != nil {
		logger().WarnContext(ctx, "lockout state unavailable",
			"operation", "login",
			"outcome", "warning",
			"error", err,
		)
		return false
	}
	if state.LockedUntil != nil && state.LockedUntil.After(s.nowFn()) {
		logger().WarnContext(ctx, "account lockout active",
			"operation", "login",
			"outcome", "blocked",
			"locked_until", state.LockedUntil,
		)
		return true
	}
	return false
}

func (s *Service) recordLoginFailure(ctx context.Context, key string) error {
	if s.lockouts == nil {
		return domain.ErrInvalidCredentials
	}
	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	now := s.nowFn()
	state, err := s.lockouts.RecordFailure(callCtx, key, now, s.cfg.FailedLoginThreshold, s.cfg.LockoutDuration)
	if err != nil {
		logger().ErrorContext(ctx, "failed to update lockout state",
			"operation", "login",
			"outcome", "failure",
			"error_code", "LOCKOUT_STATE_UNAVAILABLE",
			"error", err,
		)
		return domain.ErrInvalidCredentials
	}
	if state.LockedUntil != nil && state.LockedUntil.After(now) {
		logger().WarnContext(ctx, "account lockout triggered",
			"operation", "login",
			"outcome", "blocked",
			"locked_until", state.LockedUntil,
		)
		return domain.ErrAccountLocked
	}
	return domain.ErrInvalidCredentials
}

// burnPasswordCheck runs one hash verification against a throwaway hash so
// accounts that do not exist cost the same time as a wrong password.
func (s *Service) burnPasswordCheck(password string) {
	s.decoyOnce.Do(func() {
		hash, err := s.hasher.Hash("decoy-" + uuid.NewString())
		if err == nil {
			s.decoyHash = hash
		}
	})
	if s.decoyHash != "" {
		_, _ = s.hasher.Verify(password, s.decoyHash)
	}
}

func (s *Service) clearLockout(ctx context.Context, key string) {
	if s.lockouts == nil {
		return
	}
	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	_ = s.lockouts.Clear(callCtx, key)
}

func accessClaims(user domain.User, school *domain.School) ports.TokenClaims {
	claims := ports.TokenClaims{
		Kind:         ports.AccessToken,
		UserID:       user.UserID,
		Email:        user.Email,
		Role:         string(user.Role),
		TokenVersion: user.TokenVersion,
	}
	if school != nil {
		schoolID := school.SchoolID
		claims.SchoolID = &schoolID
		claims.SchoolCode = school.Code
	}
	return claims
}

func refreshClaims(user domain.User) ports.TokenClaims {
	return ports.TokenClaims{
		Kind:         ports.RefreshToken,
		UserID:       user.UserID,
		Email:        user.Email,
		TokenVersion: user.TokenVersion,
	}
}
