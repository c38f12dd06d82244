package application

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

// RefreshRegistry is the server-side state behind refresh tokens. Raw tokens
// are hashed on the way in and never persisted or logged.
type RefreshRegistry struct {
	repo    ports.RefreshTokenRepository
	timeout time.Duration
	nowFn   func() time.Time
}

func NewRefreshRegistry(repo ports.RefreshTokenRepository, timeout time.Duration, clock func() time.Time) *RefreshRegistry {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &RefreshRegistry{repo: repo, timeout: timeout, nowFn: clock}
}

// Issue records a new refresh session expiring ttl from now.
func (r *RefreshRegistry) Issue(ctx context.Context, userID uuid.UUID, rawToken string, ttl time.Duration, device domain.DeviceInfo, rememberMe bool) (domain.RefreshToken, error) {
	if strings.TrimSpace(rawToken) == "" {
		return domain.RefreshToken{}, domain.InvalidField("refresh_token", "refresh token is required")
	}
	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	now := r.nowFn()
	record, err := r.repo.Create(callCtx, r.createParams(userID, rawToken, ttl, device, rememberMe, now))
	if err != nil {
		return domain.RefreshToken{}, dependencyError("refresh_registry.issue", err)
	}
	return record, nil
}

// Lookup returns the usable record behind rawToken. Unknown, revoked and
// expired tokens all yield domain.ErrNotFound.
func (r *RefreshRegistry) Lookup(ctx context.Context, rawToken string) (domain.RefreshToken, error) {
	if strings.TrimSpace(rawToken) == "" {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	record, err := r.repo.GetActiveByHash(callCtx, hashToken(rawToken), r.nowFn())
	if err != nil {
		return domain.RefreshToken{}, dependencyError("refresh_registry.lookup", err)
	}
	return record, nil
}

// FindAny returns the record behind rawToken whatever its state.
func (r *RefreshRegistry) FindAny(ctx context.Context, rawToken string) (domain.RefreshToken, error) {
	if strings.TrimSpace(rawToken) == "" {
		return domain.RefreshToken{}, domain.ErrNotFound
	}
	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	record, err := r.repo.GetByHash(callCtx, hashToken(rawToken))
	if err != nil {
		return domain.RefreshToken{}, dependencyError("refresh_registry.find_any", err)
	}
	return record, nil
}

// Revoke is idempotent: unknown or already revoked tokens are not an error.
func (r *RefreshRegistry) Revoke(ctx context.Context, rawToken string) error {
	if strings.TrimSpace(rawToken) == "" {
		return nil
	}
	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.repo.RevokeByHash(callCtx, hashToken(rawToken), r.nowFn()); err != nil {
		return dependencyError("refresh_registry.revoke", err)
	}
	return nil
}

// RevokeAllForUser revokes every live session of userID in one statement.
func (r *RefreshRegistry) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.repo.RevokeAllByUser(callCtx, userID, r.nowFn())
	if err != nil {
		return 0, dependencyError("refresh_registry.revoke_all", err)
	}
	return n, nil
}

// Touch updates last_used_at. Failures are logged and swallowed.
func (r *RefreshRegistry) Touch(ctx context.Context, recordID uuid.UUID) {
	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.repo.Touch(callCtx, recordID, r.nowFn()); err != nil {
		logger().WarnContext(ctx, "refresh token touch failed",
			"operation", "refresh_registry.touch",
			"outcome", "warning",
			"refresh_token_id", recordID,
			"error", err,
		)
	}
}

// Rotate replaces current with a record for newRawToken. A current record that
// was revoked concurrently makes Rotate return domain.ErrNotFound.
func (r *RefreshRegistry) Rotate(ctx context.Context, current domain.RefreshToken, newRawToken string, ttl time.Duration, device domain.DeviceInfo) (domain.RefreshToken, error) {
	if strings.TrimSpace(newRawToken) == "" {
		return domain.RefreshToken{}, domain.InvalidField("refresh_token", "refresh token is required")
	}
	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	now := r.nowFn()
	next, err := r.repo.RotateTx(callCtx, current.ID, r.createParams(current.UserID, newRawToken, ttl, device, current.RememberMe, now))
	if err != nil {
		return domain.RefreshToken{}, dependencyError("refresh_registry.rotate", err)
	}
	return next, nil
}

// Sweep deletes rows that expired or were revoked before cutoff.
func (r *RefreshRegistry) Sweep(ctx context.Context, cutoff time.Time) (int64, error) {
	callCtx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	n, err := r.repo.DeleteStale(callCtx, cutoff)
	if err != nil {
		return 0, dependencyError("refresh_registry.sweep", err)
	}
	return n, nil
}

func (r *RefreshRegistry) createParams(userID uuid.UUID, rawToken string, ttl time.Duration, device domain.DeviceInfo, rememberMe bool, now time.Time) ports.RefreshTokenCreateParams {
	return ports.RefreshTokenCreateParams{
		UserID:     userID,
		TokenHash:  hashToken(rawToken),
		ExpiresAt:  now.Add(ttl),
		RememberMe: rememberMe,
		UserAgent:  truncate(device.UserAgent, 512),
		IPAddress:  truncate(device.IPAddress, 64),
		CreatedAt:  now,
	}
}

func truncate(value string, max int) string {
	value = strings.TrimSpace(value)
	if len(value) <= max {
		return value
	}
	return value[:max]
}
