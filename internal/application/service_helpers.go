package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

const serviceName = "school-auth-service"

func logger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "application",
		"layer", "application",
	)
}

// withTimeout bounds one store call. A non-positive d only adds cancellation.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// dependencyError keeps expected domain outcomes intact and folds everything
// else into ErrDependency, so an outage never reads as bad credentials.
func dependencyError(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		domain.ErrNotFound,
		domain.ErrConflict,
		domain.ErrInvalidInput,
		domain.ErrForbidden,
		domain.ErrRateLimited,
		domain.ErrInvalidCode,
		domain.ErrDependency,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %v", domain.ErrDependency, op, err)
}

// hashToken stores one-way token fingerprints instead of raw secrets.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(token)))
	return hex.EncodeToString(sum[:])
}

func (s *Service) observe(operation string, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.AuthEvent(operation, outcomeOf(err))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrDependency):
		return "error"
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrAccountLocked):
		return "throttled"
	default:
		return "rejected"
	}
}

// enforceRateLimit fails open when the limiter is unavailable; login lockout
// and unique constraints still hold without it.
func (s *Service) enforceRateLimit(ctx context.Context, key string, threshold int, window time.Duration) error {
	if s.limiter == nil || threshold <= 0 || window <= 0 || strings.TrimSpace(key) == "" {
		return nil
	}
	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	allowed, err := s.limiter.Allow(callCtx, key, threshold, window)
	if err != nil {
		logger().WarnContext(ctx, "rate-limit state unavailable",
			"operation", "rate_limit",
			"outcome", "warning",
			"key", key,
			"error", err,
		)
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

// notify hands a message to the notifier and only logs failures.
func (s *Service) notify(ctx context.Context, operation string, msg ports.EmailMessage) {
	if err := s.send(ctx, msg); err != nil {
		logger().WarnContext(ctx, "email notification failed",
			"operation", operation,
			"outcome", "warning",
			"email_kind", string(msg.Kind),
			"error", err,
		)
	}
}

func (s *Service) send(ctx context.Context, msg ports.EmailMessage) error {
	if s.notifier == nil {
		return errors.New("notifier not configured")
	}
	_, err := s.notifier.Send(ctx, msg)
	return err
}

func summarizeUser(user domain.User) UserSummary {
	return UserSummary{
		UserID:        user.UserID,
		Email:         user.Email,
		FullName:      user.FullName,
		Phone:         user.Phone,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		LastLogin:     user.LastLogin,
		CreatedAt:     user.CreatedAt,
	}
}

func summarizeSchool(school domain.School, membership *domain.SchoolMembership) SchoolSummary {
	out := SchoolSummary{
		SchoolID:   school.SchoolID,
		Code:       school.Code,
		Name:       school.Name,
		Email:      school.Email,
		Phone:      school.Phone,
		Status:     school.Status,
		VerifiedAt: school.VerifiedAt,
	}
	if membership != nil {
		out.MembershipRole = string(membership.Role)
	}
	return out
}

func summarizeSubscription(sub domain.SchoolSubscription) SubscriptionSummary {
	return SubscriptionSummary{
		PlanName:     sub.PlanName,
		Status:       sub.Status,
		StartDate:    sub.StartDate,
		EndDate:      sub.EndDate,
		TrialEndDate: sub.TrialEndDate,
		MaxStudents:  sub.MaxStudents,
		MaxTeachers:  sub.MaxTeachers,
	}
}

func requireText(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", domain.InvalidField(field, field+" is required")
	}
	return trimmed, nil
}
