package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rollboy-tz/mult-schools-management-system/internal/application"
	"github.com/rollboy-tz/mult-schools-management-system/internal/domain"
	"github.com/rollboy-tz/mult-schools-management-system/internal/ports"
)

func TestPasswordResetFlow(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	if _, err := f.activeFounder(ctx); err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	login, err := f.login(ctx, false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := f.service.RequestPasswordReset(ctx, "ghost@alpha.sc"); err != nil {
		t.Fatalf("unknown email must look like success, got %v", err)
	}
	if f.notifier.count(ports.EmailPasswordReset) != 0 {
		t.Fatalf("no reset email expected for unknown account")
	}

	if err := f.service.RequestPasswordReset(ctx, "f@alpha.sc"); err != nil {
		t.Fatalf("request reset failed: %v", err)
	}
	code := f.notifier.lastCode(ports.EmailPasswordReset, "f@alpha.sc")
	if code == "" {
		t.Fatalf("expected reset code email")
	}

	weak := application.ResetPasswordRequest{Email: "f@alpha.sc", Code: code, NewPassword: "short"}
	if err := f.service.ResetPassword(ctx, weak); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected policy rejection, got %v", err)
	}

	req := application.ResetPasswordRequest{Email: "f@alpha.sc", Code: code, NewPassword: "N3wSecret9"}
	if err := f.service.ResetPassword(ctx, req); err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if err := f.service.ResetPassword(ctx, req); !errors.Is(err, domain.ErrInvalidCode) {
		t.Fatalf("reset code must be single use, got %v", err)
	}

	if _, err := f.service.RefreshAccessToken(ctx, login.RefreshToken, domain.DeviceInfo{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("sessions must end after reset, got %v", err)
	}
	if _, err := f.service.AuthenticateAccessToken(ctx, login.AccessToken); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("access token must stop working after reset, got %v", err)
	}
	if _, err := f.login(ctx, false); !errors.Is(err, domain.ErrInvalidCredentials) {
		t.Fatalf("old password should fail, got %v", err)
	}
	if _, err := f.service.Login(ctx, application.LoginRequest{Email: "f@alpha.sc", Password: "N3wSecret9"}); err != nil {
		t.Fatalf("new password login failed: %v", err)
	}
	if f.notifier.count(ports.EmailPasswordChanged) != 1 {
		t.Fatalf("expected password changed email")
	}
}

func TestPasswordResetRequestsAreThrottledSilently(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	if _, err := f.activeFounder(ctx); err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := f.service.RequestPasswordReset(ctx, "f@alpha.sc"); err != nil {
			t.Fatalf("request %d should look successful: %v", i, err)
		}
		f.clock.Advance(time.Second)
	}
	if got := f.notifier.count(ports.EmailPasswordReset); got != domain.ResendLimit {
		t.Fatalf("expected %d reset emails, got %d", domain.ResendLimit, got)
	}
}

func TestChangePassword(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	if _, err := f.activeFounder(ctx); err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	login, err := f.login(ctx, false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	userID := login.User.UserID

	err = f.service.ChangePassword(ctx, userID, application.ChangePasswordRequest{CurrentPassword: "Wrong1pass", NewPassword: "N3wSecret9"})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "current_password" {
		t.Fatalf("expected current_password validation error, got %v", err)
	}
	if err := f.service.ChangePassword(ctx, userID, application.ChangePasswordRequest{CurrentPassword: "Passw0rd1", NewPassword: "Passw0rd1"}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected rejection of unchanged password, got %v", err)
	}
	if err := f.service.ChangePassword(ctx, userID, application.ChangePasswordRequest{CurrentPassword: "Passw0rd1", NewPassword: "N3wSecret9"}); err != nil {
		t.Fatalf("change failed: %v", err)
	}
	if _, err := f.service.RefreshAccessToken(ctx, login.RefreshToken, domain.DeviceInfo{}); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("sessions must end after change, got %v", err)
	}
}

func TestSchoolProfile(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	if _, err := f.activeFounder(ctx); err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	login, err := f.login(ctx, false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	principal, err := f.service.AuthenticateAccessToken(ctx, login.AccessToken)
	if err != nil {
		t.Fatalf("authenticate failed: %v", err)
	}

	profile, err := f.service.GetSchoolProfile(ctx, principal)
	if err != nil {
		t.Fatalf("profile failed: %v", err)
	}
	if profile.Subscription == nil || profile.Subscription.PlanName != "trial" || profile.SettingsCount != 8 {
		t.Fatalf("unexpected profile %+v", profile)
	}
	if profile.Country != domain.DefaultCountry {
		t.Fatalf("expected default country, got %q", profile.Country)
	}

	name := "Alpha Academy"
	phone := "0755 111 222"
	updated, err := f.service.UpdateSchoolProfile(ctx, principal, application.UpdateSchoolProfileRequest{Name: &name, Phone: &phone})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.School.Name != name || updated.School.Phone != "+255755111222" {
		t.Fatalf("update not applied: %+v", updated.School)
	}

	if _, err := f.service.UpdateSchoolProfile(ctx, principal, application.UpdateSchoolProfileRequest{}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty patch, got %v", err)
	}

	teacher := principal
	teacher.Role = domain.RoleTeacher
	if _, err := f.service.UpdateSchoolProfile(ctx, teacher, application.UpdateSchoolProfileRequest{Name: &name}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden for teacher, got %v", err)
	}

	orphan := principal
	orphan.SchoolID = nil
	if _, err := f.service.GetSchoolProfile(ctx, orphan); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found without school, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()

	f := newFixture()
	ctx := context.Background()
	if _, err := f.activeFounder(ctx); err != nil {
		t.Fatalf("activation failed: %v", err)
	}
	login, err := f.login(ctx, false)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	f.service.Logout(ctx, login.RefreshToken)
	if _, err := f.login(ctx, true); err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	f.clock.Advance(26 * time.Hour)
	res, err := f.service.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if res.RefreshTokens != 1 {
		t.Fatalf("expected revoked session swept, got %d", res.RefreshTokens)
	}
	if res.VerificationCodes != 1 {
		t.Fatalf("expected founder code swept, got %d", res.VerificationCodes)
	}
	if live := f.refresh.forUser(login.User.UserID); len(live) != 1 || !live[0].RememberMe {
		t.Fatalf("remember-me session should survive the sweep, got %+v", live)
	}
}
