package application

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

// RequestPasswordReset emails a reset code when the account exists and is
// active. The caller sees the same success either way.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (err error) {
	defer func() { s.observe("password_forgot", err) }()

	normalized, err := domain.NormalizeEmail("email", email)
	if err != nil {
		return err
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	user, err := s.users.GetByEmail(callCtx, normalized)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return dependencyError("password_forgot", err)
	}
	if !user.IsActive {
		return nil
	}

	throttled, err := s.codes.Throttled(ctx, normalized, domain.CodePasswordReset)
	if err != nil {
		return err
	}
	if throttled {
		logger().InfoContext(ctx, "password reset throttled",
			"operation", "password_forgot",
			"outcome", "throttled",
			"user_id", user.UserID,
		)
		return nil
	}

	userID := user.UserID
	issued, err := s.codes.Issue(ctx, IssueCodeParams{
		Email:    normalized,
		Type:     domain.CodePasswordReset,
		UserID:   &userID,
		Metadata: map[string]string{"full_name": user.FullName},
	})
	if err != nil {
		logger().WarnContext(ctx, "password reset code not issued",
			"operation", "password_forgot",
			"outcome", "warning",
			"user_id", user.UserID,
			"error", err,
		)
		return nil
	}

	s.notify(ctx, "password_forgot", ports.EmailMessage{
		Kind:      ports.EmailPasswordReset,
		Recipient: normalized,
		Data: map[string]string{
			"full_name":       user.FullName,
			"code":            issued.Code,
			"expires_minutes": strconv.Itoa(int(issued.Record.ExpiresAt.Sub(issued.Record.CreatedAt).Minutes())),
			"frontend_url":    s.cfg.FrontendURL,
		},
	})
	return nil
}

// ResetPassword consumes a reset code and replaces the password. Every
// existing session and token of the account stops working.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (err error) {
	defer func() { s.observe("password_reset", err) }()

	email, err := domain.NormalizeEmail("email", req.Email)
	if err != nil {
		return err
	}
	if err := domain.ValidatePassword(req.NewPassword); err != nil {
		return err
	}

	record, err := s.codes.Validate(ctx, email, req.Code, domain.CodePasswordReset)
	if err != nil {
		return err
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	user, err := s.users.GetByEmail(callCtx, email)
	cancel()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrInvalidCode
		}
		return dependencyError("password_reset.find_user", err)
	}
	if !user.IsActive || (record.UserID != nil && *record.UserID != user.UserID) {
		return domain.ErrInvalidCode
	}

	return s.replacePassword(ctx, user, req.NewPassword, "reset")
}

// ChangePassword replaces the password of an authenticated user after
// checking the current one.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, req ChangePasswordRequest) (err error) {
	defer func() { s.observe("password_change", err) }()

	if req.CurrentPassword == "" {
		return domain.InvalidField("current_password", "current_password is required")
	}
	if err := domain.ValidatePassword(req.NewPassword); err != nil {
		return err
	}
	if req.NewPassword == req.CurrentPassword {
		return domain.InvalidField("password", "new password must differ from the current one")
	}

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	user, err := s.users.GetByID(callCtx, userID)
	cancel()
	if err != nil {
		return dependencyError("password_change.find_user", err)
	}

	ok, err := s.hasher.Verify(req.CurrentPassword, user.PasswordHash)
	if err != nil || !ok {
		return domain.InvalidField("current_password", "current password is incorrect")
	}

	return s.replacePassword(ctx, user, req.NewPassword, "change")
}

func (s *Service) replacePassword(ctx context.Context, user domain.User, password, source string) error {
	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	now := s.nowFn()
	payload, _ := json.Marshal(map[string]any{
		"user_id":    user.UserID,
		"source":     source,
		"changed_at": now,
	})

	callCtx, cancel := withTimeout(ctx, s.cfg.StoreTimeout)
	_, err = s.users.UpdatePassword(callCtx, user.UserID, passwordHash, now, ports.OutboxEvent{
		EventID:      uuid.New(),
		EventType:    eventTypePasswordChanged,
		PartitionKey: user.UserID.String(),
		Payload:      payload,
		OccurredAt:   now,
	})
	cancel()
	if err != nil {
		return dependencyError("password_update", err)
	}

	if _, err := s.registry.RevokeAllForUser(ctx, user.UserID); err != nil {
		logger().WarnContext(ctx, "sessions not revoked after password update",
			"operation", "password_"+source,
			"outcome", "warning",
			"user_id", user.UserID,
			"error", err,
		)
	}

	s.notify(ctx, "password_"+source, ports.EmailMessage{
		Kind:      ports.EmailPasswordChanged,
		Recipient: user.Email,
		Data: map[string]string{
			"full_name":  user.FullName,
			"changed_at": now.Format("2006-01-02 15:04 MST"),
		},
	})
	return nil
}
